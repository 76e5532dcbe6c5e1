// Package app is the process scaffolding shared by the long-running
// binaries: environment loading, logger setup, signal handling, database
// bootstrap and the metrics listener.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/migrate"
)

const metricsShutdownTimeout = 5 * time.Second

// RunFunc is a binary's body. Returning context.Canceled after a signal is
// a clean exit.
type RunFunc func(ctx context.Context, cfg *config.Config, logg *logger.Logger) error

// Main loads configuration, runs fn until SIGINT or SIGTERM and exits
// non-zero when fn fails. Everything fn defers has run by the time Main
// exits.
func Main(service string, fn RunFunc) {
	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), "app.dotenv_missing")
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "app.config_invalid", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": service})

	logg.Info(ctx, "app.started")
	err = fn(ctx, cfg, logg)
	stop()
	if code := exitCode(err); code != 0 {
		logg.Error(ctx, "app.failed", err)
		os.Exit(code)
	}
	logg.Info(ctx, "app.stopped")
}

func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}

// OpenDatabase connects to Postgres and, in development with auto-migrate
// on, applies the embedded migrations.
func OpenDatabase(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*db.Client, error) {
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, err
	}
	if err := migrate.MaybeRunDev(ctx, cfg, logg, client); err != nil {
		return nil, multierr.Append(err, client.Close())
	}
	return client, nil
}

// ServeMetrics exposes gatherer on addr in the background. The returned
// func shuts the listener down.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logg *logger.Logger) func() {
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "app.metrics_listener_failed", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}
