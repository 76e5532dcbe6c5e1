package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-checkout/api/controllers"
	ordercontrollers "github.com/angelmondragon/storefront-checkout/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/storefront-checkout/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-checkout/api/middleware"
	checkoutsvc "github.com/angelmondragon/storefront-checkout/internal/checkout"
	"github.com/angelmondragon/storefront-checkout/internal/orders"
	"github.com/angelmondragon/storefront-checkout/internal/reconciler"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

// RedisStore is the slice of the Redis client the HTTP layer relies on.
type RedisStore interface {
	middleware.IdempotencyStore
	redis.Pinger
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// OrderReconciler places and retries orders for captured payments.
type OrderReconciler interface {
	Place(ctx context.Context, input orders.CreateOrderInput) (*reconciler.Result, error)
	Retry(ctx context.Context, reference string) (*reconciler.Result, error)
}

// Dependencies are the services behind the routes. Nil members make their
// routes answer with an internal error.
type Dependencies struct {
	DB           db.Pinger
	Redis        RedisStore
	Gatherer     prometheus.Gatherer
	Checkout     checkoutsvc.Service
	Orders       orders.Service
	Reconciler   OrderReconciler
	Webhooks     webhookcontrollers.PaystackWebhookService
	Signatures   webhookcontrollers.SignatureVerifier
	WebhookGuard webhookcontrollers.WebhookGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	// a nil interface disables the Redis-backed middleware
	var idemStore middleware.IdempotencyStore
	var rateStore middleware.RateLimiterStore
	var redisPinger controllers.Pinger
	if deps.Redis != nil {
		idemStore = deps.Redis
		rateStore = deps.Redis
		redisPinger = deps.Redis
	}
	var dbPinger controllers.Pinger
	if deps.DB != nil {
		dbPinger = deps.DB
	}
	idempotent := middleware.Idempotency(idemStore, logg)
	paymentPolicy := middleware.NewRateLimitPolicy(
		"payment_intent",
		cfg.RateLimit.PaymentWindow,
		cfg.RateLimit.PaymentIPLimit,
		cfg.RateLimit.PaymentEmailLimit,
	)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, dbPinger, redisPinger))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paystack", webhookcontrollers.PaystackWebhook(deps.Webhooks, deps.Signatures, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1/checkout/sessions", func(r chi.Router) {
		r.With(idempotent).Post("/", controllers.CheckoutCreateSession(deps.Checkout, logg))
		r.Route("/{sessionId}", func(r chi.Router) {
			r.Get("/", controllers.CheckoutGetSession(deps.Checkout, logg))
			if cfg.FeatureFlags.SessionSSE {
				r.Get("/events", controllers.CheckoutSessionEvents(deps.Checkout, logg))
			}
			r.Put("/cart", controllers.CheckoutSetCart(deps.Checkout, logg))
			r.Put("/currency", controllers.CheckoutSetCurrency(deps.Checkout, logg))
			r.Get("/pricing", controllers.CheckoutPricing(deps.Checkout, logg))
			r.Post("/rates", controllers.CheckoutRequestRates(deps.Checkout, logg))
			r.Post("/rates/select", controllers.CheckoutSelectRate(deps.Checkout, logg))
			r.With(middleware.RateLimit(paymentPolicy, rateStore, logg), idempotent).
				Post("/payment-intents", controllers.CheckoutCreatePaymentIntent(deps.Checkout, logg))
			r.Post("/payments/{reference}/confirm", controllers.CheckoutConfirmPayment(deps.Checkout, logg))
			r.Post("/payments/{reference}/cancel", controllers.CheckoutCancelPayment(deps.Checkout, logg))
			r.Post("/acknowledge", controllers.CheckoutAcknowledge(deps.Checkout, logg))
		})
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.With(idempotent).Post("/", ordercontrollers.Create(deps.Reconciler, logg))
		r.Get("/{reference}", ordercontrollers.Detail(deps.Orders, logg))
		r.With(idempotent).Post("/{reference}/retry", ordercontrollers.Retry(deps.Reconciler, logg))
	})

	return r
}
