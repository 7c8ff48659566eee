// Package observability provides OpenTelemetry metrics and tracing for
// Beacon.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/beacon"

// Tracer provides OpenTelemetry tracing for delivery attempts.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global tracer provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// NewTracerFromProvider creates a tracer from tp.
func NewTracerFromProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartDeliverySpan starts a span for one delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, attemptID, deliveryID, eventID, subscriptionID string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "beacon.delivery",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("beacon.attempt_id", attemptID),
			attribute.String("beacon.delivery_id", deliveryID),
			attribute.String("beacon.event_id", eventID),
			attribute.String("beacon.subscription_id", subscriptionID),
			attribute.Int("beacon.attempt_number", attempt),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes. statusCode
// is zero when no response was received.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode int, d time.Duration, errMsg string) {
	if statusCode != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
	}
	span.SetAttributes(attribute.Int64("beacon.duration_ms", d.Milliseconds()))
	if errMsg != "" {
		span.SetAttributes(attribute.String("beacon.error", errMsg))
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}

// StartDispatchSpan starts a span for dispatching one event.
func (t *Tracer) StartDispatchSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "beacon.dispatch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("beacon.event_id", eventID),
			attribute.String("beacon.event_type", eventType),
		),
	)
}
