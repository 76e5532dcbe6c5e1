package fxrates

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/fx"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string]string
	ttl  time.Duration
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string]string{}}
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	m.ttl = ttl
	return nil
}

func (m *memoryCache) FXKey(base string) string {
	return "fx:" + base
}

type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *countingFetcher) Rates(ctx context.Context, base enums.Currency) (*fx.Table, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return &fx.Table{
		ID:        "snap-1",
		Base:      base,
		Rates:     map[enums.Currency]decimal.Decimal{enums.CurrencyUSD: decimal.RequireFromString("0.00065")},
		FetchedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}, nil
}

func TestTableCachesAfterFetch(t *testing.T) {
	cache := newMemoryCache()
	fetcher := &countingFetcher{}
	svc := NewService(ServiceParams{Fetcher: fetcher, Cache: cache, TTL: time.Minute})

	for i := 0; i < 3; i++ {
		table, err := svc.Table(context.Background(), enums.CurrencyNGN)
		if err != nil {
			t.Fatalf("table: %v", err)
		}
		if table.ID != "snap-1" {
			t.Fatalf("unexpected snapshot %q", table.ID)
		}
		rate, ok := table.Rate(enums.CurrencyNGN, enums.CurrencyUSD)
		if !ok || !rate.Equal(decimal.RequireFromString("0.00065")) {
			t.Fatalf("unexpected rate %s ok=%v", rate, ok)
		}
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected one provider call, got %d", got)
	}
	if cache.ttl != time.Minute {
		t.Fatalf("expected ttl to be forwarded, got %v", cache.ttl)
	}
}

func TestTableCoalescesConcurrentFetches(t *testing.T) {
	fetcher := &countingFetcher{release: make(chan struct{})}
	svc := NewService(ServiceParams{Fetcher: fetcher})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Table(context.Background(), enums.CurrencyNGN)
			errs <- err
		}()
	}
	for fetcher.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected coalesced fetch, got %d calls", got)
	}
}

func TestTableCancelledCallerReturnsContextError(t *testing.T) {
	fetcher := &countingFetcher{release: make(chan struct{})}
	cache := newMemoryCache()
	svc := NewService(ServiceParams{Fetcher: fetcher, Cache: cache, TTL: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Table(ctx, enums.CurrencyNGN)
		done <- err
	}()
	for fetcher.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(fetcher.release)
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := cache.Get(context.Background(), cache.FXKey("NGN")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("abandoned fetch should still populate the cache")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTableProviderFailure(t *testing.T) {
	svc := NewService(ServiceParams{Fetcher: &countingFetcher{err: errors.New("provider down")}})
	if _, err := svc.Table(context.Background(), enums.CurrencyNGN); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestTableDisabled(t *testing.T) {
	svc := NewService(ServiceParams{})
	if svc.Enabled() {
		t.Fatal("service without fetcher must be disabled")
	}
	if _, err := svc.Table(context.Background(), enums.CurrencyNGN); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled got %v", err)
	}
}
