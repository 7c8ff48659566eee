package delivery_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/store/memory"
	"github.com/xraph/beacon/subscription"
)

func TestBackoff(t *testing.T) {
	p := subscription.Policy{BaseRetryDelay: time.Minute, BackoffMultiplier: 2}

	tests := []struct {
		name  string
		p     subscription.Policy
		n     int
		limit time.Duration
		want  time.Duration
	}{
		{"first retry", p, 1, 0, time.Minute},
		{"second retry", p, 2, 0, 2 * time.Minute},
		{"third retry", p, 3, 0, 4 * time.Minute},
		{"fifth retry", p, 5, 0, 16 * time.Minute},
		{"zero clamps to first", p, 0, 0, time.Minute},
		{"capped", p, 20, time.Hour, time.Hour},
		{"default cap", p, 40, 0, delivery.DefaultMaxRetryDelay},
		{"constant", subscription.Policy{BaseRetryDelay: time.Second, BackoffMultiplier: 1}, 7, 0, time.Second},
		{"overflow", subscription.Policy{BaseRetryDelay: time.Second, BackoffMultiplier: math.MaxFloat64}, 3, time.Minute, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := delivery.Backoff(tt.p, tt.n, tt.limit); got != tt.want {
				t.Fatalf("Backoff(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

type fakeHealth struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (f *fakeHealth) OnSuccess(context.Context, id.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
	return nil
}

func (f *fakeHealth) OnPermanentFailure(context.Context, id.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	return false, nil
}

func (f *fakeHealth) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.successes, f.failures
}

type fakeSubmitter struct {
	armed map[string]time.Time
}

func (f *fakeSubmitter) SubmitAt(attID id.ID, due time.Time) error {
	if f.armed == nil {
		f.armed = make(map[string]time.Time)
	}
	f.armed[attID.String()] = due
	return nil
}

func claimedAttempt(t *testing.T, s *memory.Store, att *delivery.Attempt) *delivery.Attempt {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateAttempt(ctx, att); err != nil {
		t.Fatal(err)
	}
	claimed, err := s.ClaimAttempt(ctx, att.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return claimed
}

func failedOutcome(code int) delivery.Outcome {
	return delivery.Outcome{
		ResponseCode: &code,
		ResponseBody: "unavailable",
		Duration:     10 * time.Millisecond,
		Err:          &delivery.TransientDeliveryError{StatusCode: code},
	}
}

func TestSchedulerSuccess(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	health := &fakeHealth{}
	sched := delivery.NewScheduler(s, health, &fakeSubmitter{}, 0, nil)

	sub := testSubscription("https://example.com")
	evt := testEvent()
	att := claimedAttempt(t, s, delivery.NewAttempt(sub.ID, evt.ID, evt.Type))

	code := 200
	next, err := sched.Handle(ctx, sub, att, delivery.Outcome{Success: true, ResponseCode: &code})
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Fatal("expected no follow-up attempt")
	}

	got, _ := s.GetAttempt(ctx, att.ID)
	if got.Status != delivery.StatusSuccess || *got.ResponseCode != 200 {
		t.Fatalf("attempt %+v", got)
	}
	if ok, fail := health.counts(); ok != 1 || fail != 0 {
		t.Fatalf("health calls: success=%d failure=%d", ok, fail)
	}
}

func TestSchedulerSchedulesRetry(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	health := &fakeHealth{}
	submit := &fakeSubmitter{}
	sched := delivery.NewScheduler(s, health, submit, 0, nil)

	sub := testSubscription("https://example.com")
	sub.MaxRetries = 2
	sub.BaseRetryDelay = time.Minute
	sub.BackoffMultiplier = 2
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	evt := testEvent()
	first := claimedAttempt(t, s, delivery.NewAttempt(sub.ID, evt.ID, evt.Type))

	before := time.Now()
	next, err := sched.Handle(ctx, sub, first, failedOutcome(503))
	if err != nil {
		t.Fatal(err)
	}
	if next == nil {
		t.Fatal("expected a retry attempt")
	}

	got, _ := s.GetAttempt(ctx, first.ID)
	if got.Status != delivery.StatusFailed || got.ResponseBody != "unavailable" || got.NextRetryAt != nil {
		t.Fatalf("first attempt %+v", got)
	}

	retry, err := s.GetAttempt(ctx, next.ID)
	if err != nil {
		t.Fatal(err)
	}
	if retry.Status != delivery.StatusRetrying || retry.AttemptNumber != 2 || retry.DeliveryID.String() != first.DeliveryID.String() {
		t.Fatalf("retry %+v", retry)
	}
	if retry.NextRetryAt == nil {
		t.Fatal("expected NextRetryAt on retrying attempt")
	}
	wait := retry.NextRetryAt.Sub(before)
	if wait < time.Minute || wait > time.Minute+5*time.Second {
		t.Fatalf("retry due in %v", wait)
	}
	if _, ok := submit.armed[retry.ID.String()]; !ok {
		t.Fatal("retry timer not armed")
	}
	if ok, fail := health.counts(); ok != 0 || fail != 0 {
		t.Fatal("health must not change before the chain finishes")
	}

	// Second failure doubles the delay.
	second, err := s.ClaimAttempt(ctx, retry.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	next, err = sched.Handle(ctx, sub, second, failedOutcome(503))
	if err != nil {
		t.Fatal(err)
	}
	third, _ := s.GetAttempt(ctx, next.ID)
	if d := third.NextRetryAt.Sub(time.Now()); d < time.Minute+50*time.Second {
		t.Fatalf("expected about two minutes, got %v", d)
	}
}

func TestSchedulerExhaustion(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	health := &fakeHealth{}
	sched := delivery.NewScheduler(s, health, &fakeSubmitter{}, 0, nil)

	sub := testSubscription("https://example.com")
	sub.MaxRetries = 0
	evt := testEvent()
	att := claimedAttempt(t, s, delivery.NewAttempt(sub.ID, evt.ID, evt.Type))

	next, err := sched.Handle(ctx, sub, att, failedOutcome(500))
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Fatal("expected no retry with MaxRetries 0")
	}

	chain, _ := s.ListChain(ctx, att.DeliveryID)
	if len(chain) != 1 || chain[0].Status != delivery.StatusFailed {
		t.Fatalf("chain %+v", chain)
	}
	if ok, fail := health.counts(); ok != 0 || fail != 1 {
		t.Fatalf("health calls: success=%d failure=%d", ok, fail)
	}
}

func TestSchedulerSkipsRetryForDeletedSubscription(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	health := &fakeHealth{}
	submit := &fakeSubmitter{}
	sched := delivery.NewScheduler(s, health, submit, 0, nil)

	// The subscription is gone by the time the outcome is recorded.
	sub := testSubscription("https://example.com")
	sub.MaxRetries = 3
	evt := testEvent()
	att := claimedAttempt(t, s, delivery.NewAttempt(sub.ID, evt.ID, evt.Type))

	next, err := sched.Handle(ctx, sub, att, failedOutcome(503))
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Fatalf("expected no retry for a deleted subscription, got %+v", next)
	}

	chain, _ := s.ListChain(ctx, att.DeliveryID)
	if len(chain) != 1 || chain[0].Status != delivery.StatusFailed {
		t.Fatalf("chain %+v", chain)
	}
	if len(submit.armed) != 0 {
		t.Fatal("no timer may be armed")
	}
	if ok, fail := health.counts(); ok != 0 || fail != 0 {
		t.Fatalf("health calls: success=%d failure=%d", ok, fail)
	}
}

// failingCreateStore rejects every attempt after the first of a chain.
type failingCreateStore struct {
	*memory.Store
}

func (f failingCreateStore) CreateAttempt(ctx context.Context, att *delivery.Attempt) error {
	if att.AttemptNumber > 1 {
		return errors.New("ledger unavailable")
	}
	return f.Store.CreateAttempt(ctx, att)
}

func TestSchedulerRetryCreateFailureEndsChain(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	s := failingCreateStore{Store: mem}
	health := &fakeHealth{}
	sched := delivery.NewScheduler(s, health, &fakeSubmitter{}, 0, nil)

	sub := testSubscription("https://example.com")
	sub.MaxRetries = 3
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	evt := testEvent()
	att := claimedAttempt(t, mem, delivery.NewAttempt(sub.ID, evt.ID, evt.Type))

	next, err := sched.Handle(ctx, sub, att, failedOutcome(500))
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Fatal("expected no retry when it cannot be stored")
	}

	got, _ := s.GetAttempt(ctx, att.ID)
	if got.Status != delivery.StatusFailed {
		t.Fatalf("attempt %+v", got)
	}
	if ok, fail := health.counts(); ok != 0 || fail != 1 {
		t.Fatalf("the ended chain must count as a failure: success=%d failure=%d", ok, fail)
	}
}

func TestSchedulerRejectsUnclaimedAttempt(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	sched := delivery.NewScheduler(s, &fakeHealth{}, &fakeSubmitter{}, 0, nil)

	sub := testSubscription("https://example.com")
	evt := testEvent()
	att := delivery.NewAttempt(sub.ID, evt.ID, evt.Type)
	if err := s.CreateAttempt(ctx, att); err != nil {
		t.Fatal(err)
	}

	if _, err := sched.Handle(ctx, sub, att, failedOutcome(500)); err == nil {
		t.Fatal("expected an error finishing an attempt that is not sending")
	}
}

func TestPermanentDeliveryErrorUnwraps(t *testing.T) {
	last := &delivery.TransientDeliveryError{StatusCode: 502}
	perm := &delivery.PermanentDeliveryError{DeliveryID: id.NewDeliveryID(), Attempts: 3, Last: last}

	var te *delivery.TransientDeliveryError
	if !errors.As(perm, &te) || te.StatusCode != 502 {
		t.Fatalf("expected wrapped transient error, got %v", perm)
	}
}
