// Package idempotency deduplicates at-least-once deliveries (gateway webhooks,
// broker redeliveries) by claiming each event id in Redis for a TTL.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

const claimScope = "evt:processed:"

var (
	ErrConsumerRequired = errors.New("consumer name is required")
	ErrEventIDRequired  = errors.New("event id is required")
)

// Guard claims event ids per consumer with SET NX. The first claimant wins
// until the TTL expires or the claim is released.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewGuard returns a guard whose claims last ttl. A zero ttl never expires.
func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// Claim reports whether the caller is the first to see eventID for consumer.
func (g *Guard) Claim(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
}

// Release drops a claim so a redelivery is processed again; used when
// handling failed after the claim was taken.
func (g *Guard) Release(ctx context.Context, consumer, eventID string) error {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(consumer, eventID string) (string, error) {
	consumer = strings.TrimSpace(consumer)
	eventID = strings.TrimSpace(eventID)
	switch {
	case consumer == "":
		return "", ErrConsumerRequired
	case eventID == "":
		return "", ErrEventIDRequired
	}
	return g.store.IdempotencyKey(claimScope+consumer, eventID), nil
}
