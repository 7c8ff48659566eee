package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	gu "github.com/xraph/go-utils/metrics"
)

// recordingFactory keeps the instruments it hands out by name.
func recordingFactory() (*gu.MockMetrics, map[string]*gu.MockCounter, map[string]*gu.MockGauge, map[string]*gu.MockHistogram) {
	counters := make(map[string]*gu.MockCounter)
	gauges := make(map[string]*gu.MockGauge)
	hists := make(map[string]*gu.MockHistogram)

	f := gu.NewMockMetrics()
	f.CounterFunc = func(name string, _ ...gu.MetricOption) gu.Counter {
		c := gu.NewMockCounter()
		counters[name] = c
		return c
	}
	f.GaugeFunc = func(name string, _ ...gu.MetricOption) gu.Gauge {
		g := gu.NewMockGauge()
		gauges[name] = g
		return g
	}
	f.HistogramFunc = func(name string, _ ...gu.MetricOption) gu.Histogram {
		h := gu.NewMockHistogram()
		hists[name] = h
		return h
	}
	return f, counters, gauges, hists
}

func TestFactoryMetricsRecord(t *testing.T) {
	f, counters, _, hists := recordingFactory()
	m := NewMetricsFromFactory(f)
	ctx := context.Background()

	m.RecordDispatch(ctx, "deal.won", 3)
	m.RecordDispatch(ctx, "deal.won", 0)
	m.RecordDelivery(ctx, "success", 200*time.Millisecond)
	m.RecordDelivery(ctx, "failed", time.Second)
	m.RecordAutoDisable(ctx, "sub_1")
	m.RecordQueueRejected(ctx, 4)
	m.RecordQueueRejected(ctx, 0)

	if got := counters["beacon_events_fanout_total"].Value(); got != 3 {
		t.Errorf("fanout = %v, want 3", got)
	}
	if got := hists["beacon_delivery_duration_seconds"].Count(); got != 2 {
		t.Errorf("latency observations = %d, want 2", got)
	}
	if got := counters["beacon_subscriptions_auto_disabled_total"].Value(); got != 1 {
		t.Errorf("auto-disabled = %v, want 1", got)
	}
	if got := counters["beacon_queue_rejected_total"].Value(); got != 4 {
		t.Errorf("queue rejected = %v, want 4", got)
	}
}

func TestFactoryMetricsRefresh(t *testing.T) {
	f, _, gauges, _ := recordingFactory()
	m := NewMetricsFromFactory(f)
	ctx := context.Background()

	// Nothing registered yet.
	if err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	statsErr := errors.New("store down")
	failing := false
	err := m.RegisterGauges(
		func() int64 { return 7 },
		func(context.Context) (map[string]int64, error) {
			if failing {
				return nil, statsErr
			}
			return map[string]int64{"pending": 2, "success": 5}, nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if got := gauges["beacon_queue_length"].Value(); got != 7 {
		t.Fatalf("queue length = %v, want 7", got)
	}

	failing = true
	if err := m.Refresh(ctx); !errors.Is(err, statsErr) {
		t.Fatalf("expected stats error, got %v", err)
	}
}

func TestNilMetricsRefresh(t *testing.T) {
	var m *Metrics
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
}
