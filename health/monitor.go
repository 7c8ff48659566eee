// Package health tracks subscriber failure streaks and auto-disables
// subscriptions that keep failing.
package health

import (
	"context"
	"log/slog"

	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/subscription"
)

// Store is the subset of the subscription store the monitor needs. Both
// operations must be atomic with respect to concurrent callers.
type Store interface {
	ResetFailures(ctx context.Context, subID id.ID) error
	IncrementFailures(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
}

// Recorder receives health signals for metrics.
type Recorder interface {
	RecordAutoDisable(ctx context.Context, subID string)
}

// DisabledFunc is called after a permanent failure auto-disabled a
// subscription.
type DisabledFunc func(ctx context.Context, sub *subscription.Subscription)

// Monitor applies delivery outcomes to subscription health.
type Monitor struct {
	store      Store
	logger     *slog.Logger
	recorder   Recorder
	onDisabled DisabledFunc
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithOnDisabled registers a callback for auto-disable transitions.
func WithOnDisabled(fn DisabledFunc) Option {
	return func(m *Monitor) { m.onDisabled = fn }
}

// NewMonitor creates a health monitor.
func NewMonitor(store Store, opts ...Option) *Monitor {
	m := &Monitor{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// OnSuccess resets the failure streak of a subscription to zero.
func (m *Monitor) OnSuccess(ctx context.Context, subID id.ID) error {
	return m.store.ResetFailures(ctx, subID)
}

// OnPermanentFailure extends the failure streak and reports whether this
// call disabled the subscription.
func (m *Monitor) OnPermanentFailure(ctx context.Context, subID id.ID) (bool, error) {
	sub, err := m.store.IncrementFailures(ctx, subID)
	if err != nil {
		return false, err
	}

	// Only the call that crossed the threshold reports the transition. The
	// count can pass the threshold when it was lowered after failures
	// accrued; the reason carries the count of the disabling call.
	disabled := !sub.IsActive &&
		sub.ConsecutiveFailures >= sub.AutoDisableThreshold &&
		sub.DisabledReason == subscription.AutoDisableReason(sub.ConsecutiveFailures)
	if !disabled {
		return false, nil
	}

	m.logger.WarnContext(ctx, "subscription auto-disabled",
		"subscription_id", subID.String(),
		"consecutive_failures", sub.ConsecutiveFailures,
		"reason", sub.DisabledReason,
	)
	if m.recorder != nil {
		m.recorder.RecordAutoDisable(ctx, subID.String())
	}
	if m.onDisabled != nil {
		m.onDisabled(ctx, sub)
	}
	return true, nil
}
