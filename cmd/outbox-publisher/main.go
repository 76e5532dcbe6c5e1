package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-checkout/internal/app"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/registry"
	"github.com/angelmondragon/storefront-checkout/pkg/pubsub"
)

func main() {
	app.Main("outbox-publisher", run)
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return err
	}
	dbClient, err := app.OpenDatabase(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	// closing flushes queued publishes, so it runs before the database closes
	defer func() { err = multierr.Append(err, psClient.Close()) }()

	publisher, err := NewService(ServiceParams{
		Outbox:   cfg.Outbox,
		Logger:   logg,
		DB:       dbClient,
		Broker:   newPubSubBroker(psClient),
		Store:    outbox.NewRepository(dbClient.DB()),
		Registry: events,
		Metrics:  metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	stopMetrics := app.ServeMetrics(ctx, cfg.Outbox.MetricsAddr, prometheus.DefaultGatherer, logg)
	defer stopMetrics()
	return publisher.Run(ctx)
}
