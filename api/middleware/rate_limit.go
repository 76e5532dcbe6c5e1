package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-checkout/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const rateKeyPrefix = "sf:rl"

type RateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// RateLimitPolicy is a fixed-window limit applied per client IP and per
// payer email. A zero limit switches that dimension off.
type RateLimitPolicy struct {
	name       string
	window     time.Duration
	ipLimit    int
	emailLimit int
}

func NewRateLimitPolicy(name string, window time.Duration, ipLimit, emailLimit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}
	return RateLimitPolicy{name: name, window: window, ipLimit: ipLimit, emailLimit: emailLimit}
}

// rateCounter is one dimension that hit or may hit its limit.
type rateCounter struct {
	scope    string
	identity string
	limit    int
}

func (p RateLimitPolicy) key(c rateCounter) string {
	return strings.Join([]string{rateKeyPrefix, c.scope, p.name, c.identity}, ":")
}

// counters lists the dimensions that apply to r. The email identity is a
// hash so raw addresses never reach Redis or the logs.
func (p RateLimitPolicy) counters(r *http.Request, body []byte) []rateCounter {
	var out []rateCounter
	if p.ipLimit > 0 {
		if ip := clientIP(r); ip != "" {
			out = append(out, rateCounter{scope: "ip", identity: ip, limit: p.ipLimit})
		}
	}
	if p.emailLimit > 0 {
		if email := payerEmail(body); email != "" {
			sum := sha256.Sum256([]byte(email))
			out = append(out, rateCounter{scope: "email", identity: hex.EncodeToString(sum[:]), limit: p.emailLimit})
		}
	}
	return out
}

// RateLimit counts each request against the policy before it reaches next.
// The body is buffered for the email lookup and handed on intact.
func RateLimit(policy RateLimitPolicy, store RateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || policy.window <= 0 || (policy.ipLimit <= 0 && policy.emailLimit <= 0) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var body []byte
			if policy.emailLimit > 0 {
				var err error
				if body, err = io.ReadAll(r.Body); err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			for _, c := range policy.counters(r, body) {
				count, err := store.IncrWithTTL(ctx, policy.key(c), policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiter unavailable"))
					return
				}
				if count > int64(c.limit) {
					rejectRateLimited(ctx, logg, w, policy, c, count)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy RateLimitPolicy, c rateCounter, count int64) {
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"policy":   policy.name,
			"scope":    c.scope,
			"identity": c.identity,
			"attempts": count,
			"limit":    c.limit,
		}), "rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(policy.window.Round(time.Second)/time.Second)))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

// clientIP prefers the first X-Forwarded-For hop; the API runs behind a
// load balancer that sets it.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func payerEmail(body []byte) string {
	var payload struct {
		Email string `json:"email"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(payload.Email))
}
