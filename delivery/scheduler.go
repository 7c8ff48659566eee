package delivery

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/subscription"
)

// DefaultMaxRetryDelay caps computed backoff delays.
const DefaultMaxRetryDelay = 24 * time.Hour

// HealthNotifier receives the outcome of finished delivery chains.
type HealthNotifier interface {
	OnSuccess(ctx context.Context, subID id.ID) error
	OnPermanentFailure(ctx context.Context, subID id.ID) (bool, error)
}

// SchedulerStore is the ledger plus the subscription lookup used to check
// that a chain's subscription still exists before extending it.
type SchedulerStore interface {
	Store
	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
}

// Submitter arms delayed execution of an attempt.
type Submitter interface {
	SubmitAt(attID id.ID, due time.Time) error
}

// Backoff returns the delay before retry attempt n+1 after attempt n
// failed: BaseRetryDelay × BackoffMultiplier^(n-1), capped at limit.
func Backoff(p subscription.Policy, n int, limit time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	if limit <= 0 {
		limit = DefaultMaxRetryDelay
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseRetryDelay) * math.Pow(mult, float64(n-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(limit) {
		return limit
	}
	return time.Duration(d)
}

// Scheduler applies retry policy to executed attempts.
type Scheduler struct {
	store    SchedulerStore
	health   HealthNotifier
	submit   Submitter
	maxDelay time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler creates a retry scheduler.
func NewScheduler(store SchedulerStore, health HealthNotifier, submit Submitter, maxDelay time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxRetryDelay
	}
	return &Scheduler{
		store:    store,
		health:   health,
		submit:   submit,
		maxDelay: maxDelay,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle records out on att. On failure with retries left it creates the
// next attempt of the chain, arms its timer and returns it. On success or
// exhaustion it notifies the health monitor and returns nil.
func (s *Scheduler) Handle(ctx context.Context, sub *subscription.Subscription, att *Attempt, out Outcome) (*Attempt, error) {
	res := Result{
		ResponseCode: out.ResponseCode,
		ResponseBody: out.ResponseBody,
		Duration:     out.Duration,
		ErrorMessage: out.ErrorMessage(),
	}

	if out.Success {
		res.Status = StatusSuccess
		if err := s.store.FinishAttempt(ctx, att.ID, res); err != nil {
			return nil, err
		}
		if err := s.health.OnSuccess(ctx, sub.ID); err != nil {
			s.logger.ErrorContext(ctx, "reset failures failed",
				"subscription_id", sub.ID.String(), "error", err)
		}
		return nil, nil //nolint:nilnil // no follow-up attempt
	}

	res.Status = StatusFailed
	if err := s.store.FinishAttempt(ctx, att.ID, res); err != nil {
		return nil, err
	}

	if att.AttemptNumber < sub.MaxRetries+1 {
		next, err := s.createRetry(ctx, sub, att)
		switch {
		case err == nil:
			if err := s.submit.SubmitAt(next.ID, *next.NextRetryAt); err != nil {
				// The sweep picks the attempt up from the ledger.
				s.logger.WarnContext(ctx, "arm retry timer failed",
					"attempt_id", next.ID.String(), "error", err)
			}
			s.logger.DebugContext(ctx, "retry scheduled",
				"delivery_id", att.DeliveryID.String(),
				"attempt", next.AttemptNumber,
				"next_retry_at", *next.NextRetryAt,
			)
			return next, nil
		case errors.Is(err, subscription.ErrNotFound):
			s.logger.InfoContext(ctx, "retry skipped: subscription deleted",
				"delivery_id", att.DeliveryID.String(),
				"subscription_id", sub.ID.String(),
			)
			return nil, nil //nolint:nilnil // chain ends with its subscription
		default:
			// The chain ends here, so it counts toward the failure streak.
			s.logger.ErrorContext(ctx, "schedule retry failed",
				"delivery_id", att.DeliveryID.String(), "error", err)
		}
	}

	perm := &PermanentDeliveryError{
		DeliveryID: att.DeliveryID,
		Attempts:   att.AttemptNumber,
		Last:       out.Err,
	}
	s.logger.WarnContext(ctx, "delivery failed permanently",
		"delivery_id", att.DeliveryID.String(),
		"subscription_id", sub.ID.String(),
		"error", perm.Error(),
	)
	if _, err := s.health.OnPermanentFailure(ctx, sub.ID); err != nil {
		s.logger.ErrorContext(ctx, "record failure failed",
			"subscription_id", sub.ID.String(), "error", err)
	}
	return nil, nil //nolint:nilnil // chain finished
}

// createRetry appends the next attempt to att's chain unless the
// subscription has been deleted meanwhile.
func (s *Scheduler) createRetry(ctx context.Context, sub *subscription.Subscription, att *Attempt) (*Attempt, error) {
	if _, err := s.store.GetSubscription(ctx, sub.ID); err != nil {
		return nil, err
	}
	next := att.Next(s.now().Add(Backoff(sub.Policy, att.AttemptNumber, s.maxDelay)))
	if err := s.store.CreateAttempt(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}
