package observability

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider)
	if err != nil {
		t.Fatal(err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRecordDelivery(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDelivery(ctx, "success", 500*time.Millisecond)
	m.RecordDelivery(ctx, "success", 1200*time.Millisecond)
	m.RecordDelivery(ctx, "failed", 300*time.Millisecond)

	got := collect(t, reader)

	attempts, ok := got["beacon.delivery.attempts"]
	if !ok {
		t.Fatal("beacon.delivery.attempts not found")
	}
	sum, ok := attempts.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", attempts.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(sum.DataPoints))
	}

	hist, ok := got["beacon.delivery.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("beacon.delivery.duration histogram not found")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Fatalf("expected 3 observations, got %d", count)
	}
}

func TestRecordAutoDisable(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAutoDisable(ctx, "sub_1")
	m.RecordAutoDisable(ctx, "sub_2")

	sum, ok := collect(t, reader)["beacon.subscriptions.auto_disabled"].Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatal("auto-disable counter not found")
	}
	if sum.DataPoints[0].Value != 2 {
		t.Fatalf("expected 2, got %d", sum.DataPoints[0].Value)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)

	err := m.RegisterGauges(
		func() int64 { return 7 },
		func(context.Context) (map[string]int64, error) {
			return map[string]int64{"pending": 3, "failed": 1}, nil
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	got := collect(t, reader)

	queue, ok := got["beacon.queue.length"].Data.(metricdata.Gauge[int64])
	if !ok || len(queue.DataPoints) != 1 || queue.DataPoints[0].Value != 7 {
		t.Fatalf("unexpected queue gauge %+v", got["beacon.queue.length"])
	}

	status, ok := got["beacon.attempts.status"].Data.(metricdata.Gauge[int64])
	if !ok || len(status.DataPoints) != 2 {
		t.Fatalf("unexpected status gauge %+v", got["beacon.attempts.status"])
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.RecordDispatch(ctx, "a.b", 1)
	m.RecordDelivery(ctx, "success", time.Second)
	m.RecordAutoDisable(ctx, "sub")
	m.RecordQueueRejected(ctx, 2)
	if err := m.RegisterGauges(nil, nil); err != nil {
		t.Fatal(err)
	}
}
