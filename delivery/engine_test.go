package delivery_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/health"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/store/memory"
	"github.com/xraph/beacon/subscription"
)

func setupEngine(t *testing.T, handler http.Handler) (*memory.Store, *delivery.Engine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := memory.New()
	cfg := delivery.EngineConfig{
		Workers:         2,
		QueueSize:       16,
		SweepInterval:   50 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
		Executor:        delivery.ExecutorConfig{Timeout: 2 * time.Second},
	}

	engine := delivery.NewEngine(store, health.NewMonitor(store), cfg, nil)
	t.Cleanup(func() { _ = engine.Stop(context.Background()) })
	return store, engine, srv
}

func createTestData(t *testing.T, store *memory.Store, url string, maxRetries int) (*subscription.Subscription, *event.Event, *delivery.Attempt) {
	t.Helper()
	ctx := context.Background()

	sub := testSubscription(url)
	sub.MaxRetries = maxRetries
	sub.BaseRetryDelay = 10 * time.Millisecond
	sub.BackoffMultiplier = 1
	sub.AutoDisableThreshold = 2
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	evt := testEvent()
	if err := store.CreateEvent(ctx, evt); err != nil {
		t.Fatal(err)
	}

	att := delivery.NewAttempt(sub.ID, evt.ID, evt.Type)
	if err := store.CreateAttempt(ctx, att); err != nil {
		t.Fatal(err)
	}
	return sub, evt, att
}

// waitChain polls until the chain's last attempt is terminal.
func waitChain(t *testing.T, store *memory.Store, att *delivery.Attempt) []*delivery.Attempt {
	t.Helper()
	ctx := context.Background()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			chain, _ := store.ListChain(ctx, att.DeliveryID)
			t.Fatalf("timeout waiting for delivery chain, have %d attempts", len(chain))
		default:
		}

		chain, err := store.ListChain(ctx, att.DeliveryID)
		if err != nil {
			t.Fatal(err)
		}
		if n := len(chain); n > 0 && chain[n-1].Status.IsTerminal() {
			return chain
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineDeliversSuccessfully(t *testing.T) {
	var delivered atomic.Int32
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	_, _, att := createTestData(t, store, srv.URL, 3)
	engine.Start(context.Background())
	if err := engine.Submit(att.ID); err != nil {
		t.Fatal(err)
	}

	chain := waitChain(t, store, att)
	if len(chain) != 1 || chain[0].Status != delivery.StatusSuccess {
		t.Fatalf("unexpected chain %+v", chain)
	}
	if chain[0].ExecutedAt == nil || *chain[0].ResponseCode != http.StatusOK {
		t.Fatalf("attempt not recorded: %+v", chain[0])
	}
	if delivered.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", delivered.Load())
	}
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	sub, _, att := createTestData(t, store, srv.URL, 3)
	engine.Start(context.Background())
	if err := engine.Submit(att.ID); err != nil {
		t.Fatal(err)
	}

	chain := waitChain(t, store, att)
	if len(chain) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(chain))
	}
	for i, want := range []delivery.Status{delivery.StatusFailed, delivery.StatusFailed, delivery.StatusSuccess} {
		if chain[i].Status != want || chain[i].AttemptNumber != i+1 {
			t.Fatalf("attempt %d: status %s number %d", i, chain[i].Status, chain[i].AttemptNumber)
		}
	}

	got, _ := store.GetSubscription(context.Background(), sub.ID)
	if got.ConsecutiveFailures != 0 || !got.IsActive {
		t.Fatalf("retried failures must not count: %+v", got)
	}
}

func TestEngineExhaustsAndDisables(t *testing.T) {
	var calls atomic.Int32
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	sub, _, first := createTestData(t, store, srv.URL, 1)
	engine.Start(context.Background())
	if err := engine.Submit(first.ID); err != nil {
		t.Fatal(err)
	}
	chain := waitChain(t, store, first)
	if len(chain) != 2 || chain[1].Status != delivery.StatusFailed {
		t.Fatalf("expected 2 failed attempts, got %+v", chain)
	}

	got, _ := store.GetSubscription(context.Background(), sub.ID)
	if got.ConsecutiveFailures != 1 || !got.IsActive {
		t.Fatalf("after one exhausted chain: %+v", got)
	}

	// A second exhausted chain reaches the threshold of 2.
	evt := testEvent()
	if err := store.CreateEvent(context.Background(), evt); err != nil {
		t.Fatal(err)
	}
	second := delivery.NewAttempt(sub.ID, evt.ID, evt.Type)
	if err := store.CreateAttempt(context.Background(), second); err != nil {
		t.Fatal(err)
	}
	if err := engine.Submit(second.ID); err != nil {
		t.Fatal(err)
	}
	waitChain(t, store, second)

	got, _ = store.GetSubscription(context.Background(), sub.ID)
	if got.IsActive || got.DisabledReason != subscription.AutoDisableReason(2) {
		t.Fatalf("expected auto-disable: %+v", got)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected 4 requests, got %d", calls.Load())
	}
}

func TestEngineCancelsInactiveSubscription(t *testing.T) {
	var calls atomic.Int32
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	sub, _, att := createTestData(t, store, srv.URL, 3)
	if err := store.SetActive(context.Background(), sub.ID, false); err != nil {
		t.Fatal(err)
	}
	engine.Start(context.Background())
	if err := engine.Submit(att.ID); err != nil {
		t.Fatal(err)
	}

	chain := waitChain(t, store, att)
	if chain[0].Status != delivery.StatusFailed || chain[0].ErrorMessage != delivery.CancelledMessage {
		t.Fatalf("expected cancelled attempt, got %+v", chain[0])
	}
	if calls.Load() != 0 {
		t.Fatal("no request may be sent for an inactive subscription")
	}
}

func TestEngineCancelsAttemptOfDeletedSubscription(t *testing.T) {
	var calls atomic.Int32
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	ctx := context.Background()

	sub, _, first := createTestData(t, store, srv.URL, 3)
	if err := store.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	// A retry written after the delete cascade already ran.
	orphan := first.Next(time.Now().Add(-time.Second))
	if err := store.CreateAttempt(ctx, orphan); err != nil {
		t.Fatal(err)
	}

	engine.Start(ctx)
	if err := engine.Submit(orphan.ID); err != nil {
		t.Fatal(err)
	}

	chain := waitChain(t, store, orphan)
	last := chain[len(chain)-1]
	if last.Status != delivery.StatusFailed || last.ErrorMessage != delivery.CancelledMessage {
		t.Fatalf("expected cancelled attempt, got %+v", last)
	}
	if calls.Load() != 0 {
		t.Fatal("no request may be sent for a deleted subscription")
	}

	due, err := store.ListDue(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("cancelled attempt still due: %+v", due)
	}
}

// deleteAfterFailureStore deletes the subscription right after the first
// failed attempt is recorded, before the scheduler writes the retry.
type deleteAfterFailureStore struct {
	*memory.Store
	subID id.ID
	once  sync.Once
}

func (d *deleteAfterFailureStore) FinishAttempt(ctx context.Context, attID id.ID, res delivery.Result) error {
	if err := d.Store.FinishAttempt(ctx, attID, res); err != nil {
		return err
	}
	if res.Status == delivery.StatusFailed {
		d.once.Do(func() { _ = d.Store.DeleteSubscription(ctx, d.subID) })
	}
	return nil
}

func TestEngineDeleteDuringRetryLeavesNoDueAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	mem := memory.New()
	sub, _, att := createTestData(t, mem, srv.URL, 3)
	store := &deleteAfterFailureStore{Store: mem, subID: sub.ID}

	engine := delivery.NewEngine(store, health.NewMonitor(store), delivery.EngineConfig{
		Workers:       1,
		SweepInterval: 20 * time.Millisecond,
		Executor:      delivery.ExecutorConfig{Timeout: time.Second},
	}, nil)
	t.Cleanup(func() { _ = engine.Stop(context.Background()) })
	engine.Start(context.Background())
	if err := engine.Submit(att.ID); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Give a retry, had one been written, time to come due and run.
	time.Sleep(200 * time.Millisecond)

	due, err := mem.ListDue(context.Background(), time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no pending or retrying attempts, got %+v", due)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one request, got %d", calls.Load())
	}
}

func TestEngineSweepPicksUpOrphans(t *testing.T) {
	var delivered atomic.Int32
	store, engine, srv := setupEngine(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))

	// Never submitted: only the sweep can find it.
	_, _, att := createTestData(t, store, srv.URL, 0)
	engine.Start(context.Background())

	chain := waitChain(t, store, att)
	if chain[0].Status != delivery.StatusSuccess {
		t.Fatalf("expected success, got %s", chain[0].Status)
	}
	if delivered.Load() != 1 {
		t.Fatalf("expected exactly one request, got %d", delivered.Load())
	}
}

func TestEngineSweepSkipsFutureRetries(t *testing.T) {
	store := memory.New()
	engine := delivery.NewEngine(store, health.NewMonitor(store), delivery.EngineConfig{}, nil)

	_, _, att := createTestData(t, store, "https://example.com", 3)
	future := att.Next(time.Now().Add(time.Hour))
	if err := store.CreateAttempt(context.Background(), future); err != nil {
		t.Fatal(err)
	}

	n, err := engine.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || engine.QueueLen() != 1 {
		t.Fatalf("expected only the due attempt submitted, got %d", n)
	}
}

func TestEngineStopRejectsSubmit(t *testing.T) {
	store := memory.New()
	engine := delivery.NewEngine(store, health.NewMonitor(store), delivery.EngineConfig{}, nil)
	engine.Start(context.Background())

	if err := engine.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, _, att := createTestData(t, store, "https://example.com", 0)
	if err := engine.Submit(att.ID); err == nil {
		t.Fatal("expected submit after stop to fail")
	}
}
