package health_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/xraph/beacon/health"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
	"github.com/xraph/beacon/store/memory"
	"github.com/xraph/beacon/subscription"
)

func ctx() context.Context { return context.Background() }

func createSub(t *testing.T, s *memory.Store, threshold int) *subscription.Subscription {
	t.Helper()
	policy := subscription.DefaultPolicy()
	policy.AutoDisableThreshold = threshold
	sub := &subscription.Subscription{
		Entity:     entity.New(),
		Policy:     policy,
		ID:         id.NewSubscriptionID(),
		TargetURL:  "https://example.com/hook",
		Secret:     "whsec_test",
		EventTypes: []string{"a.b"},
		IsActive:   true,
	}
	if err := s.CreateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}
	return sub
}

func TestOnSuccessResets(t *testing.T) {
	s := memory.New()
	m := health.NewMonitor(s)
	sub := createSub(t, s, 10)

	for range 4 {
		if _, err := m.OnPermanentFailure(ctx(), sub.ID); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.OnSuccess(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.ConsecutiveFailures != 0 {
		t.Fatalf("expected reset, got %d", got.ConsecutiveFailures)
	}
	if !got.IsActive {
		t.Fatal("expected still active")
	}
}

func TestOnPermanentFailureDisablesAtThreshold(t *testing.T) {
	s := memory.New()

	var called atomic.Int32
	m := health.NewMonitor(s, health.WithOnDisabled(func(_ context.Context, sub *subscription.Subscription) {
		called.Add(1)
		if sub.IsActive {
			t.Error("callback received active subscription")
		}
	}))
	sub := createSub(t, s, 3)

	for i := 1; i <= 2; i++ {
		disabled, err := m.OnPermanentFailure(ctx(), sub.ID)
		if err != nil {
			t.Fatal(err)
		}
		if disabled {
			t.Fatalf("disabled after %d failures", i)
		}
	}

	disabled, err := m.OnPermanentFailure(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !disabled {
		t.Fatal("expected third failure to disable")
	}

	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.IsActive {
		t.Fatal("expected inactive")
	}
	if got.DisabledReason != "auto-disabled after 3 consecutive failures" {
		t.Fatalf("reason = %q", got.DisabledReason)
	}
	if got.DisabledAt == nil {
		t.Fatal("expected DisabledAt")
	}

	// Further failures keep counting but do not report a new transition.
	disabled, _ = m.OnPermanentFailure(ctx(), sub.ID)
	if disabled {
		t.Fatal("expected no second transition")
	}
	if called.Load() != 1 {
		t.Fatalf("expected one callback, got %d", called.Load())
	}
}

func TestOnPermanentFailureConcurrent(t *testing.T) {
	s := memory.New()
	m := health.NewMonitor(s)
	sub := createSub(t, s, 50)

	const n = 50
	var transitions atomic.Int32
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			disabled, err := m.OnPermanentFailure(ctx(), sub.ID)
			if err != nil {
				t.Error(err)
				return
			}
			if disabled {
				transitions.Add(1)
			}
		}()
	}
	wg.Wait()

	got, _ := s.GetSubscription(ctx(), sub.ID)
	if got.ConsecutiveFailures != n {
		t.Fatalf("lost updates: got %d, want %d", got.ConsecutiveFailures, n)
	}
	if got.IsActive {
		t.Fatal("expected inactive")
	}
	if transitions.Load() != 1 {
		t.Fatalf("expected exactly one transition, got %d", transitions.Load())
	}
}

func TestOnPermanentFailureReportsDisablePastThreshold(t *testing.T) {
	s := memory.New()

	var recorded atomic.Int32
	m := health.NewMonitor(s, health.WithRecorder(recorderFunc(func() { recorded.Add(1) })))

	// An active subscription whose streak already exceeds its threshold.
	policy := subscription.DefaultPolicy()
	policy.AutoDisableThreshold = 2
	sub := &subscription.Subscription{
		Entity:              entity.New(),
		Policy:              policy,
		ID:                  id.NewSubscriptionID(),
		TargetURL:           "https://example.com/hook",
		Secret:              "whsec_test",
		EventTypes:          []string{"a.b"},
		IsActive:            true,
		ConsecutiveFailures: 3,
	}
	if err := s.CreateSubscription(ctx(), sub); err != nil {
		t.Fatal(err)
	}

	disabled, err := m.OnPermanentFailure(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !disabled {
		t.Fatal("expected the disabling call to report the transition")
	}
	if recorded.Load() != 1 {
		t.Fatalf("expected one auto-disable metric, got %d", recorded.Load())
	}

	if disabled, _ := m.OnPermanentFailure(ctx(), sub.ID); disabled {
		t.Fatal("expected no second transition")
	}
}

type recorderFunc func()

func (f recorderFunc) RecordAutoDisable(context.Context, string) { f() }
