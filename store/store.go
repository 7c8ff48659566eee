// Package store defines the composite Store interface for all Beacon
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them, so a single backend serves the registry, the event log and
// the delivery ledger.
package store

import (
	"context"

	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/subscription"
)

// Store is the aggregate persistence interface.
//
// DeleteSubscription must also remove the subscription's delivery
// attempts, which is why one backend implements every subsystem.
type Store interface {
	subscription.Store
	event.Store
	delivery.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
