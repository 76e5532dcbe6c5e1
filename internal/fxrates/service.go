package fxrates

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/fx"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

const defaultFetchTimeout = 5 * time.Second

// ErrDisabled is returned when no rate provider is configured.
var ErrDisabled = errors.New("fx conversion disabled")

// Fetcher loads a fresh rate table from the provider.
type Fetcher interface {
	Rates(ctx context.Context, base enums.Currency) (*fx.Table, error)
}

// Cache stores serialized rate tables.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FXKey(base string) string
}

// ServiceParams wires a Service.
type ServiceParams struct {
	Fetcher      Fetcher
	Cache        Cache
	Logger       *logger.Logger
	TTL          time.Duration
	FetchTimeout time.Duration
}

// Service serves cached rate tables and coalesces concurrent provider fetches.
type Service struct {
	fetcher      Fetcher
	cache        Cache
	logg         *logger.Logger
	ttl          time.Duration
	fetchTimeout time.Duration
	group        singleflight.Group
}

// NewService builds a Service. A nil Fetcher yields a Service that always
// reports ErrDisabled so callers run without conversion.
func NewService(params ServiceParams) *Service {
	timeout := params.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Service{
		fetcher:      params.Fetcher,
		cache:        params.Cache,
		logg:         params.Logger,
		ttl:          params.TTL,
		fetchTimeout: timeout,
	}
}

// Enabled reports whether a provider is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.fetcher != nil
}

// Table returns the rate table quoted against base. If ctx is cancelled while a
// fetch is outstanding the caller gets ctx.Err(); the shared fetch keeps running
// for other waiters and still populates the cache.
func (s *Service) Table(ctx context.Context, base enums.Currency) (*fx.Table, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	if !base.IsValid() {
		return nil, pkgerrors.Errorf(pkgerrors.CodeValidation, "unsupported base currency %q", base)
	}
	if table, ok := s.cached(ctx, base); ok {
		return table, nil
	}

	ch := s.group.DoChan(base.String(), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		table, err := s.fetcher.Rates(fetchCtx, base)
		if err != nil {
			return nil, err
		}
		s.store(fetchCtx, base, table)
		return table, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fx.Table), nil
	}
}

func (s *Service) cached(ctx context.Context, base enums.Currency) (*fx.Table, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, s.cache.FXKey(base.String()))
	if err != nil {
		if !errors.Is(err, redis.Nil) && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "fx.cache_read_failed")
		}
		return nil, false
	}
	var table fx.Table
	if err := json.Unmarshal([]byte(raw), &table); err != nil || table.Base != base {
		return nil, false
	}
	return &table, true
}

func (s *Service) store(ctx context.Context, base enums.Currency, table *fx.Table) {
	if s.cache == nil || s.ttl <= 0 || table == nil {
		return
	}
	payload, err := json.Marshal(table)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cache.FXKey(base.String()), string(payload), s.ttl); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "fx.cache_write_failed")
	}
}
