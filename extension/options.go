package extension

import (
	"log/slog"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/store"
)

// ExtOption configures the Beacon extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.store = s
	}
}

// WithPrefix sets the URL prefix for the management routes.
func WithPrefix(prefix string) ExtOption {
	return func(e *Extension) {
		e.config.BasePath = prefix
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithLogger sets the logger shared by the engine and the API.
func WithLogger(logger *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithMetricFactory records engine metrics through factory. Pass the host
// app's app.Metrics() to publish them with the rest of a Forge app's metrics.
func WithMetricFactory(factory gu.MetricFactory) ExtOption {
	return func(e *Extension) {
		e.metricFactory = factory
	}
}

// WithBeaconOption appends a raw beacon.Option, applied after the config.
func WithBeaconOption(opt beacon.Option) ExtOption {
	return func(e *Extension) {
		e.opts = append(e.opts, opt)
	}
}

// WithDisableRoutes disables route registration.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrations disables the schema migration run by Init.
func WithDisableMigrations() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}
