package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/xraph/beacon/observability"
)

// metricsExporter bridges the engine's OpenTelemetry instruments to a
// Prometheus scrape endpoint.
type metricsExporter struct {
	provider *sdkmetric.MeterProvider
	metrics  *observability.Metrics
}

func newMetricsExporter() (*metricsExporter, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := observability.NewMetrics(provider)
	if err != nil {
		return nil, err
	}
	return &metricsExporter{provider: provider, metrics: m}, nil
}

func (e *metricsExporter) Handler() http.Handler {
	return promhttp.Handler()
}

func (e *metricsExporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
