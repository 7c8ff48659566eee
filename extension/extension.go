package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"
	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/api"
	"github.com/xraph/beacon/observability"
	"github.com/xraph/beacon/store"
)

// ErrNotInitialized is returned when the extension is used before Init.
var ErrNotInitialized = errors.New("beacon extension: not initialized")

// Extension mounts a Beacon engine and its management API.
type Extension struct {
	config Config
	store  store.Store
	opts   []beacon.Option
	logger *slog.Logger

	metricFactory gu.MetricFactory
	metrics       *observability.Metrics

	beacon *beacon.Beacon
}

// New creates a Beacon extension.
func New(opts ...ExtOption) *Extension {
	e := &Extension{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config.BasePath == "" {
		e.config.BasePath = "/webhooks"
	}
	return e
}

// Init migrates the store and builds the engine.
func (e *Extension) Init(ctx context.Context) error {
	if e.store == nil {
		return beacon.ErrNoStore
	}

	if !e.config.DisableMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("beacon extension: migrate: %w", err)
		}
	}

	opts := append(e.config.beaconOptions(),
		beacon.WithStore(e.store),
		beacon.WithLogger(e.logger),
	)
	if e.metricFactory != nil {
		e.metrics = observability.NewMetricsFromFactory(e.metricFactory)
		opts = append(opts, beacon.WithMetrics(e.metrics))
	}
	opts = append(opts, e.opts...)

	b, err := beacon.New(opts...)
	if err != nil {
		return fmt.Errorf("beacon extension: %w", err)
	}
	e.beacon = b

	e.logger.Info("beacon extension initialized",
		"base_path", e.config.BasePath,
		"workers", e.config.Workers,
	)
	return nil
}

// Beacon returns the engine, or nil before Init.
func (e *Extension) Beacon() *beacon.Beacon { return e.beacon }

// Metrics returns the factory-backed instruments, or nil when no metric
// factory was configured.
func (e *Extension) Metrics() *observability.Metrics { return e.metrics }

// Prefix returns the configured URL prefix.
func (e *Extension) Prefix() string { return e.config.BasePath }

// RegisterRoutes registers the management API on a Forge router under the
// configured prefix.
func (e *Extension) RegisterRoutes(router forge.Router, log forge.Logger) {
	if e.beacon == nil || e.config.DisableRoutes {
		return
	}
	g := router.Group(e.config.BasePath)
	api.NewForgeAPI(e.beacon, log).RegisterRoutes(g)
}

// Handler returns the management API as a plain http.Handler for mounting
// under Prefix on any router.
func (e *Extension) Handler() http.Handler {
	if e.beacon == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, ErrNotInitialized.Error(), http.StatusServiceUnavailable)
		})
	}
	return api.NewHandler(e.beacon, e.logger)
}

// Start begins the delivery engine.
func (e *Extension) Start(ctx context.Context) error {
	if e.beacon == nil {
		return ErrNotInitialized
	}
	e.beacon.Start(ctx)
	return nil
}

// Stop drains in-flight deliveries and closes the store.
func (e *Extension) Stop(ctx context.Context) error {
	if e.beacon == nil {
		return nil
	}
	err := e.beacon.Stop(ctx)
	if cerr := e.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Health checks store connectivity.
func (e *Extension) Health(ctx context.Context) error {
	if e.beacon == nil {
		return ErrNotInitialized
	}
	return e.beacon.Ping(ctx)
}
