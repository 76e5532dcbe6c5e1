package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubRedis struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
}

func newStubRedis() *stubRedis {
	return &stubRedis{data: map[string]string{}, counts: map[string]int64{}}
}

func (s *stubRedis) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *stubRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *stubRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (s *stubRedis) IdempotencyKey(scope, id string) string {
	return "sf:idempotency:" + scope + ":" + id
}

func (s *stubRedis) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *stubRedis) Ping(context.Context) error { return nil }

func (s *stubRedis) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.FeatureFlags.SessionSSE = true
	cfg.RateLimit.PaymentWindow = time.Minute
	cfg.RateLimit.PaymentIPLimit = 1
	return cfg
}

func request(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthRoutes(t *testing.T) {
	router := NewRouter(testConfig(), nil, Dependencies{DB: stubPinger{}, Redis: newStubRedis()})

	if rec := request(router, http.MethodGet, "/health/live", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected live 200, got %d", rec.Code)
	}
	if rec := request(router, http.MethodGet, "/health/ready", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected ready 200, got %d", rec.Code)
	}
}

func TestMetricsRouteServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.NewCheckoutMetrics(registry).IncApproximateSettlement()
	router := NewRouter(testConfig(), nil, Dependencies{Gatherer: registry})

	rec := request(router, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "checkout_settlement_approximate_total") {
		t.Fatalf("expected checkout metrics in output: %s", rec.Body.String())
	}
}

func TestOrderCreationRequiresIdempotencyKey(t *testing.T) {
	router := NewRouter(testConfig(), nil, Dependencies{Redis: newStubRedis()})

	rec := request(router, http.MethodPost, "/api/v1/orders", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key, got %d", rec.Code)
	}
	rec = request(router, http.MethodPost, "/api/v1/orders/SF-1/retry", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key on retry, got %d", rec.Code)
	}
}

func TestPaymentIntentRateLimited(t *testing.T) {
	router := NewRouter(testConfig(), nil, Dependencies{Redis: newStubRedis()})
	headers := map[string]string{"Idempotency-Key": "k1"}

	// the first call passes the limiter and fails on the missing service
	if rec := request(router, http.MethodPost, "/api/v1/checkout/sessions/s1/payment-intents", `{"email":"ada@example.com"}`, headers); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("first request should not be limited")
	}
	headers["Idempotency-Key"] = "k2"
	rec := request(router, http.MethodPost, "/api/v1/checkout/sessions/s1/payment-intents", `{"email":"ada@example.com"}`, headers)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestWebhookRouteRequiresService(t *testing.T) {
	router := NewRouter(testConfig(), nil, Dependencies{})
	rec := request(router, http.MethodPost, "/api/v1/webhooks/paystack", `{"event":"charge.success"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the webhook service is not wired, got %d", rec.Code)
	}
}

func TestSessionEventsBehindFeatureFlag(t *testing.T) {
	cfg := testConfig()
	cfg.FeatureFlags.SessionSSE = false
	router := NewRouter(cfg, nil, Dependencies{})
	if rec := request(router, http.MethodGet, "/api/v1/checkout/sessions/s1/events", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with the stream disabled, got %d", rec.Code)
	}
}
