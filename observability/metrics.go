package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/xraph/beacon"

// Metrics holds Beacon's instruments, backed either by an OpenTelemetry
// meter provider (NewMetrics) or by a go-utils MetricFactory
// (NewMetricsFromFactory). A nil *Metrics records nothing.
type Metrics struct {
	factory *factoryInstruments

	meter metric.Meter

	eventsDispatched metric.Int64Counter
	deliveries       metric.Int64Counter
	latency          metric.Float64Histogram
	autoDisabled     metric.Int64Counter
	queueRejected    metric.Int64Counter
}

// NewMetrics creates Beacon instruments from provider. A nil provider uses
// the global meter provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	m := &Metrics{meter: meter}
	var err error

	m.eventsDispatched, err = meter.Int64Counter(
		"beacon.events.dispatched",
		metric.WithDescription("Number of events dispatched"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events counter: %w", err)
	}

	m.deliveries, err = meter.Int64Counter(
		"beacon.delivery.attempts",
		metric.WithDescription("Number of executed delivery attempts by outcome"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating attempts counter: %w", err)
	}

	m.latency, err = meter.Float64Histogram(
		"beacon.delivery.duration",
		metric.WithDescription("Duration of delivery HTTP requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	m.autoDisabled, err = meter.Int64Counter(
		"beacon.subscriptions.auto_disabled",
		metric.WithDescription("Number of subscriptions auto-disabled after repeated failures"),
		metric.WithUnit("{subscriptions}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating auto-disable counter: %w", err)
	}

	m.queueRejected, err = meter.Int64Counter(
		"beacon.queue.rejected",
		metric.WithDescription("Number of deliveries the work queue rejected at dispatch"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejection counter: %w", err)
	}

	return m, nil
}

// RecordDispatch records a dispatched event fanned out to n subscriptions.
func (m *Metrics) RecordDispatch(ctx context.Context, eventType string, n int) {
	if m == nil {
		return
	}
	if m.factory != nil {
		m.factory.recordDispatch(eventType, n)
		return
	}
	m.eventsDispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.Int("subscriptions", n),
	))
}

// RecordDelivery records one executed attempt.
func (m *Metrics) RecordDelivery(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	if m.factory != nil {
		m.factory.recordDelivery(status, d)
		return
	}
	attrs := metric.WithAttributes(attribute.String("delivery.status", status))
	m.deliveries.Add(ctx, 1, attrs)
	m.latency.Record(ctx, d.Seconds(), attrs)
}

// RecordAutoDisable records a subscription crossing its failure threshold.
func (m *Metrics) RecordAutoDisable(ctx context.Context, _ string) {
	if m == nil {
		return
	}
	if m.factory != nil {
		m.factory.autoDisabled.Inc()
		return
	}
	m.autoDisabled.Add(ctx, 1)
}

// RecordQueueRejected records deliveries the queue could not accept.
func (m *Metrics) RecordQueueRejected(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	if m.factory != nil {
		m.factory.queueRejected.Add(float64(n))
		return
	}
	m.queueRejected.Add(ctx, int64(n))
}

// RegisterGauges registers observable gauges for the ready queue depth and
// the ledger's attempt counts by status. Factory-backed gauges are pushed by
// Refresh instead of observed on collection.
func (m *Metrics) RegisterGauges(queueLen func() int64, stats func(ctx context.Context) (map[string]int64, error)) error {
	if m == nil {
		return nil
	}
	if m.factory != nil {
		m.factory.queueLenFn = queueLen
		m.factory.statsFn = stats
		return nil
	}

	_, err := m.meter.Int64ObservableGauge(
		"beacon.queue.length",
		metric.WithDescription("Number of attempts waiting in the work queue"),
		metric.WithUnit("{attempts}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(queueLen())
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("creating queue length gauge: %w", err)
	}

	_, err = m.meter.Int64ObservableGauge(
		"beacon.attempts.status",
		metric.WithDescription("Number of delivery attempts by status"),
		metric.WithUnit("{attempts}"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			counts, err := stats(ctx)
			if err != nil {
				return err
			}
			for status, n := range counts {
				o.Observe(n, metric.WithAttributes(attribute.String("delivery.status", status)))
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("creating status gauge: %w", err)
	}
	return nil
}

// Refresh pushes the registered gauge readings to a factory-backed Metrics.
// The engine calls it on every sweep. It is a no-op for the OpenTelemetry
// backend, whose gauges are observed on collection.
func (m *Metrics) Refresh(ctx context.Context) error {
	if m == nil || m.factory == nil {
		return nil
	}
	return m.factory.refresh(ctx)
}
