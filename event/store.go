package event

import (
	"context"

	"github.com/xraph/beacon/id"
)

// Store defines the persistence contract for domain events.
type Store interface {
	// CreateEvent persists an event. It returns beacon.ErrDuplicateEvent when
	// an event with the same ID already exists.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// ListEvents returns events, newest first.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}
