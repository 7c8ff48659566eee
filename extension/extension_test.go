package extension_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/extension"
	"github.com/xraph/beacon/store/memory"
	"github.com/xraph/beacon/subscription"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitRequiresStore(t *testing.T) {
	ext := extension.New()
	if err := ext.Init(context.Background()); !errors.Is(err, beacon.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
	if err := ext.Start(context.Background()); !errors.Is(err, extension.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithPrefix("/hooks"),
		extension.WithLogger(quietLogger()),
		extension.WithBeaconOption(beacon.WithWorkers(2)),
	)
	if ext.Prefix() != "/hooks" {
		t.Errorf("prefix: got %q", ext.Prefix())
	}

	if err := ext.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if ext.Beacon() == nil {
		t.Fatal("expected engine after init")
	}
	if err := ext.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := ext.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	srv := httptest.NewServer(http.StripPrefix(ext.Prefix(), ext.Handler()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hooks/subscriptions", "application/json",
		strings.NewReader(`{"target_url":"https://example.com/hook","event_types":["deal.won"]}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create subscription: expected 201, got %d", resp.StatusCode)
	}

	if err := ext.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := ext.Health(ctx); !errors.Is(err, beacon.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed after stop, got %v", err)
	}
}

func TestHandlerBeforeInit(t *testing.T) {
	ext := extension.New()
	rec := httptest.NewRecorder()
	ext.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMetricFactoryRecordsDeliveries(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	hist := gu.NewMockHistogram()
	fanout := gu.NewMockCounter()
	factory := gu.NewMockMetrics()
	factory.HistogramFunc = func(name string, _ ...gu.MetricOption) gu.Histogram {
		if name == "beacon_delivery_duration_seconds" {
			return hist
		}
		return gu.NewMockHistogram()
	}
	factory.CounterFunc = func(name string, _ ...gu.MetricOption) gu.Counter {
		if name == "beacon_events_fanout_total" {
			return fanout
		}
		return gu.NewMockCounter()
	}

	ctx := context.Background()
	ext := extension.New(
		extension.WithStore(memory.New()),
		extension.WithLogger(quietLogger()),
		extension.WithMetricFactory(factory),
	)
	if err := ext.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if ext.Metrics() == nil {
		t.Fatal("expected factory-backed metrics")
	}
	if err := ext.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ext.Stop(ctx) }()

	b := ext.Beacon()
	if _, err := b.Subscriptions().Create(ctx, subscription.Input{
		TargetURL:  target.URL,
		EventTypes: []string{"deal.won"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Publish(ctx, "deal.won", map[string]string{"deal_id": "d1"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for hist.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hist.Count() != 1 || hits.Load() != 1 {
		t.Fatalf("expected one recorded delivery, got %d observations and %d requests", hist.Count(), hits.Load())
	}
	if fanout.Value() != 1 {
		t.Fatalf("fanout = %v, want 1", fanout.Value())
	}
}
