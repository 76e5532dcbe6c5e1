package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/internal/shipping"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/money"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

type fakeBackend struct {
	values    map[string]string
	ttls      map[string]time.Duration
	published map[string][]string
	setErr    error
	feed      chan string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		values:    map[string]string{},
		ttls:      map[string]time.Duration{},
		published: map[string][]string{},
		feed:      make(chan string, 4),
	}
}

func (f *fakeBackend) Get(_ context.Context, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeBackend) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeBackend) Publish(_ context.Context, channel string, message any) error {
	f.published[channel] = append(f.published[channel], message.(string))
	return nil
}

func (f *fakeBackend) Subscribe(_ context.Context, _ string) (<-chan string, func() error, error) {
	return f.feed, func() error { return nil }, nil
}

func (f *fakeBackend) SessionKey(id string) string     { return "session:" + id }
func (f *fakeBackend) SessionChannel(id string) string { return "session:" + id + ":events" }

func sampleSession() *Session {
	return &Session{
		ID:              "s1",
		DisplayCurrency: enums.CurrencyUSD,
		Selection: &shipping.Selection{
			QuoteID:         "gig:standard",
			DisplayCurrency: enums.CurrencyUSD,
			DisplayFee:      money.New(enums.CurrencyUSD, decimal.RequireFromString("2")),
			OriginalFee:     money.New(enums.CurrencyNGN, decimal.NewFromInt(3000)),
		},
	}
}

func TestRedisStoreRoundTripAndPublish(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	store := NewRedisStore(backend, time.Hour, nil)

	if err := store.Set(ctx, sampleSession()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if backend.ttls["session:s1"] != time.Hour {
		t.Fatalf("expected ttl to be applied, got %v", backend.ttls["session:s1"])
	}
	if len(backend.published["session:s1:events"]) != 1 {
		t.Fatalf("expected one published snapshot, got %v", backend.published)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Selection == nil || !got.Selection.OriginalFee.Amount.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("original fee lost in round trip: %+v", got.Selection)
	}
	if got.Selection.OriginalFee.Currency != enums.CurrencyNGN {
		t.Fatalf("original currency lost: %s", got.Selection.OriginalFee.Currency)
	}
}

func TestRedisStoreErrors(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	store := NewRedisStore(backend, 0, nil)

	if _, err := store.Get(ctx, "missing"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	backend.values["session:broken"] = "{"
	if _, err := store.Get(ctx, "broken"); !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	backend.setErr = errors.New("connection refused")
	if err := store.Set(ctx, sampleSession()); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestRedisStoreSubscribeSkipsGarbage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newFakeBackend()
	store := NewRedisStore(backend, time.Hour, nil)

	updates, closeFn, err := store.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer closeFn()

	backend.feed <- "not json"
	backend.feed <- `{"id":"s1","displayCurrency":"EUR"}`
	select {
	case got := <-updates:
		if got.DisplayCurrency != enums.CurrencyEUR {
			t.Fatalf("unexpected session %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session update")
	}
}

func TestMemoryStoreNotifiesSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore()

	updates, _, err := store.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	session := sampleSession()
	if err := store.Set(ctx, session); err != nil {
		t.Fatalf("set: %v", err)
	}
	got := <-updates
	if got.ID != "s1" || got == session {
		t.Fatalf("expected an independent copy of the session, got %+v", got)
	}

	cancel()
	for range updates {
	}
	if err := store.Set(context.Background(), session); err != nil {
		t.Fatalf("set after unsubscribe: %v", err)
	}
}
