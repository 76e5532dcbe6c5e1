package shipping

import (
	"context"
	"errors"
	"strconv"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

// Counter is the slice of the redis client the guard needs.
type Counter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, error)
	QuoteGenerationKey(sessionID string) string
}

// GenerationGuard orders rate requests per session. Each request takes the next
// generation before calling the courier; a response is applied only while its
// generation is still the latest.
type GenerationGuard struct {
	counter Counter
	ttl     time.Duration
}

func NewGenerationGuard(counter Counter, ttl time.Duration) *GenerationGuard {
	return &GenerationGuard{counter: counter, ttl: ttl}
}

// Next reserves a new generation for sessionID.
func (g *GenerationGuard) Next(ctx context.Context, sessionID string) (int64, error) {
	gen, err := g.counter.IncrWithTTL(ctx, g.counter.QuoteGenerationKey(sessionID), g.ttl)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve rate request generation")
	}
	return gen, nil
}

// EnsureLatest returns CONFLICT when a newer request has been issued for the session.
func (g *GenerationGuard) EnsureLatest(ctx context.Context, sessionID string, gen int64) error {
	raw, err := g.counter.Get(ctx, g.counter.QuoteGenerationKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read rate request generation")
	}
	latest, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse rate request generation")
	}
	if latest != gen {
		return pkgerrors.New(pkgerrors.CodeConflict, "superseded by a newer rate request").
			WithDetails(map[string]any{"generation": gen, "latest": latest})
	}
	return nil
}
