package subscription

import (
	"context"
	"errors"

	"github.com/xraph/beacon/id"
)

// ErrNotFound is returned by stores when a subscription does not exist. The
// root package re-exports it as ErrSubscriptionNotFound.
var ErrNotFound = errors.New("beacon: subscription not found")

// Store defines the persistence contract for subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription writes the owner-editable fields of sub. The stored
	// Secret and the health fields (IsActive, ConsecutiveFailures,
	// DisabledReason, DisabledAt) are left untouched. When the subscription
	// is active and its stored failure count is not below the new
	// AutoDisableThreshold, nothing is written and
	// ErrThresholdNotAboveFailures is returned; the comparison happens in the
	// same atomic step as the write.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription and its delivery attempts.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns subscriptions, oldest first.
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)

	// FindMatching returns every active subscription whose event types
	// contain eventType exactly. This is the dispatch hot path.
	FindMatching(ctx context.Context, eventType string) ([]*Subscription, error)

	// SetActive activates or deactivates a subscription. Activation clears
	// ConsecutiveFailures, DisabledReason and DisabledAt.
	SetActive(ctx context.Context, subID id.ID, active bool) error

	// RotateSecret replaces the signing secret.
	RotateSecret(ctx context.Context, subID id.ID, secret string) error

	// ResetFailures sets ConsecutiveFailures to zero.
	ResetFailures(ctx context.Context, subID id.ID) error

	// IncrementFailures atomically increments ConsecutiveFailures and
	// returns the updated subscription. When the subscription is active and
	// the new count reaches AutoDisableThreshold it is deactivated in the
	// same step with AutoDisableReason recorded. Concurrent callers each
	// observe a distinct count.
	IncrementFailures(ctx context.Context, subID id.ID) (*Subscription, error)
}
