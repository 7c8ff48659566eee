// Command beacond runs the Beacon webhook delivery engine as a standalone
// service with its management API and a Prometheus scrape endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/api"
	"github.com/xraph/beacon/catalog"
	"github.com/xraph/beacon/observability"
)

func main() {
	configPath := flag.String("config", os.Getenv("BEACOND_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("beacond exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	logger.Info("store ready", "driver", cfg.Store.Driver, "migrated", cfg.Store.Migrate)

	cat := catalog.New(logger)
	if cfg.CatalogFile != "" {
		n, err := cat.LoadFile(cfg.CatalogFile)
		if err != nil {
			_ = s.Close()
			return err
		}
		logger.Info("catalog loaded", "path", cfg.CatalogFile, "event_types", n)
	}

	exporter, err := newMetricsExporter()
	if err != nil {
		_ = s.Close()
		return err
	}

	b, err := beacon.New(
		beacon.WithStore(s),
		beacon.WithLogger(logger),
		beacon.WithConfig(cfg.Beacon),
		beacon.WithCatalog(cat),
		beacon.WithMetrics(exporter.metrics),
		beacon.WithTracer(observability.NewTracer()),
	)
	if err != nil {
		_ = s.Close()
		return err
	}
	b.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(cfg, b, exporter, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "api_prefix", cfg.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Beacon.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := b.Stop(shutdownCtx); err != nil {
		logger.Warn("engine shutdown", "error", err)
	}
	if err := exporter.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", "error", err)
	}
	return s.Close()
}

// newRouter mounts the management API and the metrics endpoint.
func newRouter(cfg Config, b *beacon.Beacon, exporter *metricsExporter, logger *slog.Logger) http.Handler {
	accessLog := httplog.NewLogger("beacond", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(accessLog))
	r.Use(middleware.Recoverer)

	r.Handle(cfg.MetricsPath, exporter.Handler())
	r.Mount(cfg.APIPrefix, api.NewHandler(b, logger))
	return r
}
