package beacon

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/beacon/catalog"
	"github.com/xraph/beacon/health"
	"github.com/xraph/beacon/observability"
	"github.com/xraph/beacon/store"
	"github.com/xraph/beacon/subscription"
)

// Option configures a Beacon instance.
type Option func(*Beacon) error

// WithStore sets the persistence backend for the Beacon instance.
func WithStore(s store.Store) Option {
	return func(b *Beacon) error {
		b.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Beacon instance.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Beacon) error {
		b.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(b *Beacon) error {
		b.config = cfg
		return nil
	}
}

// WithWorkers sets the number of delivery worker goroutines.
func WithWorkers(n int) Option {
	return func(b *Beacon) error {
		b.config.Workers = n
		return nil
	}
}

// WithQueueSize sets the capacity of the delivery work queue.
func WithQueueSize(n int) Option {
	return func(b *Beacon) error {
		b.config.QueueSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Beacon) error {
		b.config.RequestTimeout = d
		return nil
	}
}

// WithSweepInterval sets how often the ledger is scanned for due attempts.
func WithSweepInterval(d time.Duration) Option {
	return func(b *Beacon) error {
		b.config.SweepInterval = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Beacon) error {
		b.config.ShutdownTimeout = d
		return nil
	}
}

// WithHTTPClient overrides the client used for deliveries. The client
// should not follow redirects.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Beacon) error {
		b.httpClient = c
		return nil
	}
}

// WithDefaultPolicy sets the retry and health policy for new subscriptions.
func WithDefaultPolicy(p subscription.Policy) Option {
	return func(b *Beacon) error {
		if err := p.Validate(); err != nil {
			return err
		}
		b.config.Defaults = p
		return nil
	}
}

// WithCatalog enables event type validation against c.
func WithCatalog(c *catalog.Catalog) Option {
	return func(b *Beacon) error {
		b.catalog = c
		return nil
	}
}

// WithStrictCatalog rejects events whose type is not registered.
func WithStrictCatalog(strict bool) Option {
	return func(b *Beacon) error {
		b.config.StrictCatalog = strict
		return nil
	}
}

// WithMetrics records dispatch and delivery metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Beacon) error {
		b.metrics = m
		return nil
	}
}

// WithTracer records delivery and dispatch spans.
func WithTracer(t *observability.Tracer) Option {
	return func(b *Beacon) error {
		b.tracer = t
		return nil
	}
}

// WithOnDisabled registers a callback invoked when a subscription is
// auto-disabled.
func WithOnDisabled(fn health.DisabledFunc) Option {
	return func(b *Beacon) error {
		b.onDisabled = fn
		return nil
	}
}
