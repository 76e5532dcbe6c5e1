package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-checkout/api/routes"
	"github.com/angelmondragon/storefront-checkout/internal/app"
	"github.com/angelmondragon/storefront-checkout/internal/checkout"
	"github.com/angelmondragon/storefront-checkout/internal/fxrates"
	"github.com/angelmondragon/storefront-checkout/internal/orders"
	"github.com/angelmondragon/storefront-checkout/internal/payments"
	"github.com/angelmondragon/storefront-checkout/internal/pricing"
	"github.com/angelmondragon/storefront-checkout/internal/products"
	"github.com/angelmondragon/storefront-checkout/internal/reconciler"
	"github.com/angelmondragon/storefront-checkout/internal/settlement"
	"github.com/angelmondragon/storefront-checkout/internal/shipping"
	paystackwebhook "github.com/angelmondragon/storefront-checkout/internal/webhooks/paystack"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/courier"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/fx"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/idempotency"
	"github.com/angelmondragon/storefront-checkout/pkg/paystack"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app.Main("api", run)
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

	deps, err := buildDependencies(cfg, logg, dbClient, redisClient)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	logg.Info(logg.WithField(ctx, "port", cfg.App.Port), "api.listening")

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	// in-flight requests, including SSE streams, get shutdownTimeout to finish
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func buildDependencies(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Dependencies, error) {
	checkoutMetrics := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)

	rateParams := fxrates.ServiceParams{
		Cache:        redisClient,
		Logger:       logg,
		TTL:          cfg.FX.CacheTTL,
		FetchTimeout: cfg.FX.Timeout,
	}
	if cfg.FX.Enabled() {
		fxClient, err := fx.NewClient(cfg.FX.BaseURL,
			fx.WithAPIKey(cfg.FX.APIKey),
			fx.WithHTTPClient(&http.Client{Timeout: cfg.FX.Timeout}),
		)
		if err != nil {
			return routes.Dependencies{}, err
		}
		rateParams.Fetcher = fxClient
	} else {
		logg.Warn(context.Background(), "fx provider not configured; checkouts run without conversion")
	}
	rates := fxrates.NewService(rateParams)

	courierClient, err := courier.NewClient(cfg.Courier.BaseURL, cfg.Courier.APIKey, courier.WithTimeout(cfg.Courier.Timeout))
	if err != nil {
		return routes.Dependencies{}, err
	}
	quoter, err := shipping.NewQuoter(shipping.QuoterParams{
		Rates: courierClient,
		Sender: courier.Address{
			Name:    cfg.Courier.OriginName,
			Email:   cfg.Courier.OriginEmail,
			Phone:   cfg.Courier.OriginPhone,
			Address: cfg.Courier.OriginAddress,
			City:    cfg.Courier.OriginCity,
			State:   cfg.Courier.OriginState,
			Country: cfg.Courier.OriginCountry,
		},
		CategoryID: cfg.Courier.CategoryID,
		Metrics:    checkoutMetrics,
		Logger:     logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	deriver, err := pricing.NewDeriver(products.NewRepository(dbClient.DB()), cfg.Checkout.SurchargeRate())
	if err != nil {
		return routes.Dependencies{}, err
	}

	paymentsRepo := payments.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ordersSvc, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, outboxSvc, paymentsRepo, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}
	reconcilerSvc, err := reconciler.NewService(reconciler.ServiceParams{
		Payments: paymentsRepo,
		Orders:   ordersSvc,
		Tx:       dbClient,
		Outbox:   outboxSvc,
		Locker:   redisClient,
		LockTTL:  cfg.Checkout.OrderLockTTL,
		Metrics:  checkoutMetrics,
		Logger:   logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	gateway, err := paystack.NewClient(cfg.Paystack)
	if err != nil {
		return routes.Dependencies{}, err
	}

	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Store:       checkout.NewRedisStore(redisClient, cfg.Checkout.SessionTTL, logg),
		Deriver:     deriver,
		Quoter:      quoter,
		Generations: shipping.NewGenerationGuard(redisClient, cfg.Checkout.SessionTTL),
		Rates:       rates,
		Converter: settlement.NewConverter(settlement.ConverterParams{
			BlockApproximate: cfg.Checkout.BlockApproximateSettlement,
			Metrics:          checkoutMetrics,
			Logger:           logg,
		}),
		Payments:   paymentsRepo,
		Tx:         dbClient,
		Outbox:     outboxSvc,
		Reconciler: reconcilerSvc,
		Gateway:    gateway,
		FXMaxAge:   cfg.FX.MaxAge,
		Metrics:    checkoutMetrics,
		Logger:     logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	webhookSvc, err := paystackwebhook.NewService(paystackwebhook.ServiceParams{
		Reconciler: reconcilerSvc,
		Logger:     logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	guard, err := idempotency.NewGuard(redisClient, cfg.Checkout.WebhookIdempotencyTTL)
	if err != nil {
		return routes.Dependencies{}, err
	}

	return routes.Dependencies{
		DB:           dbClient,
		Redis:        redisClient,
		Gatherer:     prometheus.DefaultGatherer,
		Checkout:     checkoutSvc,
		Orders:       ordersSvc,
		Reconciler:   reconcilerSvc,
		Webhooks:     webhookSvc,
		Signatures:   gateway,
		WebhookGuard: guard,
	}, nil
}
