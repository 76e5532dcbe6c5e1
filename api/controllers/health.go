package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the backing stores in parallel. Any failure answers 503
// with the status of every dependency in the details.
func HealthReady(logg *logger.Logger, dbP, redisP Pinger) http.HandlerFunc {
	names := []string{"postgres", "redis"}
	pingers := []Pinger{dbP, redisP}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		results := make([]error, len(pingers))
		var g errgroup.Group
		for i, p := range pingers {
			if p == nil {
				continue
			}
			g.Go(func() error {
				results[i] = p.Ping(ctx)
				return nil
			})
		}
		_ = g.Wait()

		checks := make(map[string]string, len(names))
		var failed error
		for i, name := range names {
			switch {
			case pingers[i] == nil:
				checks[name] = "disabled"
			case results[i] != nil:
				checks[name] = "down"
				failed = errors.Join(failed, results[i])
			default:
				checks[name] = "ok"
			}
		}
		if failed != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, failed, "dependency unavailable").
				WithDetails(map[string]any{"checks": checks}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
