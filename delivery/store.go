package delivery

import (
	"context"
	"time"

	"github.com/xraph/beacon/id"
)

// Store defines the persistence contract for the delivery ledger.
type Store interface {
	// CreateAttempt persists a new attempt.
	CreateAttempt(ctx context.Context, att *Attempt) error

	// GetAttempt returns an attempt by ID.
	GetAttempt(ctx context.Context, attID id.ID) (*Attempt, error)

	// ClaimAttempt moves a pending or retrying attempt to sending and sets
	// ExecutedAt to at. It returns beacon.ErrAttemptNotClaimable when the
	// attempt is in any other status, so only one worker sends an attempt.
	ClaimAttempt(ctx context.Context, attID id.ID, at time.Time) (*Attempt, error)

	// FinishAttempt moves a sending attempt to a terminal status. It returns
	// beacon.ErrAttemptFinalized when the attempt is not sending.
	FinishAttempt(ctx context.Context, attID id.ID, res Result) error

	// CancelAttempt moves a pending or retrying attempt to failed with msg.
	// It returns beacon.ErrAttemptNotClaimable when the attempt already left
	// those states.
	CancelAttempt(ctx context.Context, attID id.ID, msg string) error

	// ListAttempts returns attempts matching opts, newest first.
	ListAttempts(ctx context.Context, opts ListOpts) ([]*Attempt, error)

	// ListChain returns every attempt of a delivery chain ordered by
	// AttemptNumber.
	ListChain(ctx context.Context, deliveryID id.ID) ([]*Attempt, error)

	// LatestForPair returns the highest-numbered attempt of the most recent
	// chain for (event, subscription), or beacon.ErrAttemptNotFound.
	LatestForPair(ctx context.Context, evtID, subID id.ID) (*Attempt, error)

	// ListDue returns pending or retrying attempts scheduled at or before
	// before, oldest first.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Attempt, error)

	// CountByStatus returns the number of attempts per status.
	CountByStatus(ctx context.Context) (Stats, error)
}
