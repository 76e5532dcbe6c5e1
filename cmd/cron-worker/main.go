package main

import (
	"context"
	"flag"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-checkout/internal/app"
	"github.com/angelmondragon/storefront-checkout/internal/cron"
	"github.com/angelmondragon/storefront-checkout/internal/orders"
	"github.com/angelmondragon/storefront-checkout/internal/payments"
	"github.com/angelmondragon/storefront-checkout/internal/reconciler"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

var once = flag.Bool("once", false, "run a single sweep and exit")

func main() {
	flag.Parse()
	app.Main("cron-worker", run)
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := app.OpenDatabase(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	paymentsRepo := payments.NewRepository(dbClient.DB())
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)
	ordersSvc, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, outboxSvc, paymentsRepo, logg)
	if err != nil {
		return err
	}
	reconcilerSvc, err := reconciler.NewService(reconciler.ServiceParams{
		Payments: paymentsRepo,
		Orders:   ordersSvc,
		Tx:       dbClient,
		Outbox:   outboxSvc,
		Locker:   redisClient,
		LockTTL:  cfg.Checkout.OrderLockTTL,
		Metrics:  metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer),
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	jobs, err := buildRegistry(cfg, logg, dbClient, paymentsRepo, outboxRepo, reconcilerSvc)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, cfg.App.Env, 0)
	if err != nil {
		return err
	}
	sweeper, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	if *once {
		return sweeper.RunOnce(ctx)
	}
	stopMetrics := app.ServeMetrics(ctx, cfg.Cron.MetricsAddr, prometheus.DefaultGatherer, logg)
	defer stopMetrics()
	return sweeper.Run(ctx)
}

func buildRegistry(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	paymentsRepo *payments.Repository,
	outboxRepo *outbox.Repository,
	reconcilerSvc *reconciler.Service,
) (*cron.Registry, error) {
	recovery, err := cron.NewPaymentRecoveryJob(cron.PaymentRecoveryJobParams{
		Logger:    logg,
		Intents:   paymentsRepo,
		Retrier:   reconcilerSvc,
		After:     cfg.Cron.RecoveryAfter,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	expiry, err := cron.NewIntentExpiryJob(cron.IntentExpiryJobParams{
		Logger:    logg,
		Intents:   paymentsRepo,
		Canceller: reconcilerSvc,
		After:     cfg.Cron.InFlightExpiry,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outboxRepo,
		Retention:        cfg.Cron.OutboxRetention,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(recovery, expiry, retention)
}
