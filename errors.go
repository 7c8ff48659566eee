package beacon

import (
	"errors"
	"fmt"

	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/subscription"
)

// Sentinel errors returned by Beacon operations.
var (
	// ErrNoStore is returned when a Beacon is created without a store.
	ErrNoStore = errors.New("beacon: store is required")

	// ErrSubscriptionNotFound is returned when a subscription cannot be found.
	ErrSubscriptionNotFound = subscription.ErrNotFound

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("beacon: event not found")

	// ErrDuplicateEvent is returned by stores when an event ID already exists.
	ErrDuplicateEvent = errors.New("beacon: duplicate event")

	// ErrInvalidEvent is returned when an event is malformed.
	ErrInvalidEvent = errors.New("beacon: invalid event")

	// ErrAttemptNotFound is returned when a delivery attempt cannot be found.
	ErrAttemptNotFound = errors.New("beacon: delivery attempt not found")

	// ErrAttemptNotClaimable is returned when an attempt is not pending or retrying.
	ErrAttemptNotClaimable = errors.New("beacon: delivery attempt not claimable")

	// ErrAttemptFinalized is returned when finishing an attempt that is not sending.
	ErrAttemptFinalized = errors.New("beacon: delivery attempt already finalized")

	// ErrRedeliveryNotAllowed is returned when a delivery chain cannot be redelivered.
	ErrRedeliveryNotAllowed = errors.New("beacon: redelivery not allowed")

	// ErrEventTypeNotFound is returned when an event type is not in the catalog.
	ErrEventTypeNotFound = errors.New("beacon: event type not found")

	// ErrEventTypeDeprecated is returned when dispatching a deprecated event type.
	ErrEventTypeDeprecated = errors.New("beacon: event type is deprecated")

	// ErrPayloadValidationFailed is returned when a payload fails JSON Schema validation.
	ErrPayloadValidationFailed = errors.New("beacon: payload validation failed")

	// ErrDispatchQueueFull is returned when the work queue rejects a job.
	ErrDispatchQueueFull = errors.New("beacon: dispatch queue full")

	// ErrEngineStopped is returned when dispatching after Stop.
	ErrEngineStopped = errors.New("beacon: engine stopped")

	// ErrStoreClosed is returned when a store operation is attempted after Close.
	ErrStoreClosed = errors.New("beacon: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("beacon: migration failed")
)

// DispatchQueueError reports that some deliveries of an event could not be
// queued. The attempts stay pending in the ledger; dispatching the same event
// again re-submits them without creating duplicates.
type DispatchQueueError struct {
	EventID  id.ID
	Rejected int
	Err      error
}

func (e *DispatchQueueError) Error() string {
	return fmt.Sprintf("beacon: dispatch event %s: %d deliveries not queued: %v", e.EventID, e.Rejected, e.Err)
}

func (e *DispatchQueueError) Unwrap() error { return e.Err }
