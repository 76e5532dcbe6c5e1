package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

const (
	defaultTimeout        = 5 * time.Second
	responseBodyReadLimit = 1024
)

// Client fetches rate tables from the exchange-rate provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	now        func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIKey sets the bearer token sent to the provider.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithClock overrides the clock stamped on fetched tables.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a provider client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("fx base url is required")
	}
	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type ratesResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// Rates fetches the current table quoted against base. Currencies the
// storefront does not support, and non-positive rates, are dropped.
func (c *Client) Rates(ctx context.Context, base enums.Currency) (*Table, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "fx client not configured")
	}
	if !base.IsValid() {
		return nil, pkgerrors.Errorf(pkgerrors.CodeValidation, "unsupported base currency %q", base)
	}

	endpoint := fmt.Sprintf("%s/rates?base=%s", c.baseURL, url.QueryEscape(base.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build fx request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute fx request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "fx request failed")
	}

	var payload ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode fx response")
	}
	if len(payload.Rates) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "fx response contained no rates")
	}

	rates := make(map[enums.Currency]decimal.Decimal, len(payload.Rates))
	for code, value := range payload.Rates {
		currency, err := enums.ParseCurrency(code)
		if err != nil || currency == base {
			continue
		}
		rate := decimal.NewFromFloat(value)
		if !rate.IsPositive() {
			continue
		}
		rates[currency] = rate
	}

	return &Table{
		ID:        uuid.NewString(),
		Base:      base,
		Rates:     rates,
		FetchedAt: c.now().UTC(),
	}, nil
}
