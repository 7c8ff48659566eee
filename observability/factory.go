package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"
)

type factoryInstruments struct {
	eventsDispatched gu.Counter
	fanout           gu.Counter
	deliveries       gu.Counter
	latency          gu.Histogram
	autoDisabled     gu.Counter
	queueRejected    gu.Counter
	queueLength      gu.Gauge
	attempts         gu.Gauge

	queueLenFn func() int64
	statsFn    func(ctx context.Context) (map[string]int64, error)
}

// NewMetricsFromFactory creates Beacon instruments from any go-utils
// MetricFactory. Pass app.Metrics() when Beacon runs inside a Forge app, or
// metrics.NewMetricsCollector for standalone use.
func NewMetricsFromFactory(factory gu.MetricFactory) *Metrics {
	return &Metrics{factory: &factoryInstruments{
		eventsDispatched: factory.Counter("beacon_events_dispatched_total",
			gu.WithDescription("Number of events dispatched")),
		fanout: factory.Counter("beacon_events_fanout_total",
			gu.WithDescription("Number of deliveries created by dispatch")),
		deliveries: factory.Counter("beacon_delivery_attempts_total",
			gu.WithDescription("Number of executed delivery attempts by outcome")),
		latency: factory.Histogram("beacon_delivery_duration_seconds",
			gu.WithDescription("Duration of delivery HTTP requests"), gu.WithUnit("seconds")),
		autoDisabled: factory.Counter("beacon_subscriptions_auto_disabled_total",
			gu.WithDescription("Number of subscriptions auto-disabled after repeated failures")),
		queueRejected: factory.Counter("beacon_queue_rejected_total",
			gu.WithDescription("Number of deliveries the work queue rejected at dispatch")),
		queueLength: factory.Gauge("beacon_queue_length",
			gu.WithDescription("Number of attempts waiting in the work queue")),
		attempts: factory.Gauge("beacon_attempts",
			gu.WithDescription("Number of delivery attempts by status")),
	}}
}

func (f *factoryInstruments) recordDispatch(eventType string, n int) {
	f.eventsDispatched.WithLabels(map[string]string{"event_type": eventType}).Inc()
	if n > 0 {
		f.fanout.Add(float64(n))
	}
}

func (f *factoryInstruments) recordDelivery(status string, d time.Duration) {
	f.deliveries.WithLabels(map[string]string{"status": status}).Inc()
	f.latency.Observe(d.Seconds())
}

func (f *factoryInstruments) refresh(ctx context.Context) error {
	if f.queueLenFn != nil {
		f.queueLength.Set(float64(f.queueLenFn()))
	}
	if f.statsFn == nil {
		return nil
	}
	counts, err := f.statsFn(ctx)
	if err != nil {
		return err
	}
	for status, n := range counts {
		f.attempts.WithLabels(map[string]string{"status": status}).Set(float64(n))
	}
	return nil
}
