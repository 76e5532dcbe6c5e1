package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

const (
	defaultBaseURL        = "https://api.paystack.co"
	defaultTimeout        = 10 * time.Second
	responseBodyReadLimit = 1024

	// SignatureHeader carries the hex HMAC-SHA512 of the webhook body.
	SignatureHeader = "x-paystack-signature"

	StatusSuccess   = "success"
	StatusAbandoned = "abandoned"
	StatusFailed    = "failed"
	StatusReversed  = "reversed"
)

var errSecretKeyRequired = errors.New("paystack secret key is required")

// Client wraps the subset of the Paystack API the checkout needs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	publicKey  string
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

// NewClient validates credentials and builds the gateway client.
func NewClient(cfg config.PaystackConfig, opts ...Option) (*Client, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		secretKey:  secret,
		publicKey:  strings.TrimSpace(cfg.PublicKey),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// PublicKey is handed to the storefront so it can open the payment popup.
func (c *Client) PublicKey() string {
	if c == nil {
		return ""
	}
	return c.publicKey
}

// Transaction is the gateway's view of a charge. Amount is in minor units.
type Transaction struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	Reference string    `json:"reference"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Channel   string    `json:"channel"`
	PaidAt    time.Time `json:"paid_at"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// Succeeded reports whether the gateway captured funds.
func (t Transaction) Succeeded() bool {
	return strings.EqualFold(t.Status, StatusSuccess)
}

// Final reports whether the gateway has settled the charge one way or the
// other. Statuses such as ongoing, pending, processing and queued are not.
func (t Transaction) Final() bool {
	switch strings.ToLower(t.Status) {
	case StatusSuccess, StatusAbandoned, StatusFailed, StatusReversed:
		return true
	}
	return false
}

// Outcome maps a final gateway status onto PaymentOutcome. It is only
// meaningful when Final is true.
func (t Transaction) Outcome() enums.PaymentOutcome {
	switch strings.ToLower(t.Status) {
	case StatusSuccess:
		return enums.PaymentOutcomeSuccess
	case StatusAbandoned:
		return enums.PaymentOutcomeCancelled
	}
	return enums.PaymentOutcomeFailed
}

// Event is a webhook delivery. Raw keeps the data object as delivered.
type Event struct {
	Event string          `json:"event"`
	Data  Transaction     `json:"data"`
	Raw   json.RawMessage `json:"-"`
}

// ParseEvent decodes a webhook body.
func ParseEvent(payload []byte) (*Event, error) {
	var wire struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook body")
	}
	if strings.TrimSpace(wire.Event) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event type missing")
	}
	event := &Event{Event: wire.Event, Raw: wire.Data}
	if len(wire.Data) > 0 {
		if err := json.Unmarshal(wire.Data, &event.Data); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook data")
		}
	}
	return event, nil
}

// ID derives a stable idempotency id for the delivery.
func (e Event) ID() string {
	return fmt.Sprintf("%s:%d:%s", e.Event, e.Data.ID, e.Data.Reference)
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// VerifyTransaction asks the gateway for the authoritative state of reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "paystack client not configured")
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}

	endpoint := fmt.Sprintf("%s/transaction/verify/%s", c.baseURL, url.PathEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build verify request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute verify request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "verify request failed")
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode verify response")
	}
	if !env.Status {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "verify request rejected").
			WithDetails(map[string]any{"provider_message": env.Message})
	}

	var tx Transaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode transaction")
	}
	if tx.Reference == "" {
		tx.Reference = ref
	}
	return &tx, nil
}

// ValidSignature checks the webhook body against the secret key.
func (c *Client) ValidSignature(payload []byte, header string) bool {
	if c == nil {
		return false
	}
	return validSignature(payload, c.secretKey, header)
}

func validSignature(payload []byte, secret, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
}

// Sign produces the signature header value for payload. Used by tests and local tooling.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
