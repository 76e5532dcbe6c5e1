package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

const (
	defaultTimeout        = 20 * time.Second
	ratesPath             = "fetch_rates"
	responseBodyReadLimit = 1024
)

var errAPIKeyRequired = errors.New("courier api key is required")

// Client talks to the courier aggregator's rate endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
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

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 && c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds an aggregator client.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("courier base url is required")
	}
	client := &Client{
		apiKey:     key,
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Address is a pickup or drop-off party.
type Address struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// PackageItem is one manifest line; amounts are in the declared currency.
type PackageItem struct {
	Name         string
	Description  string
	UnitWeightKG decimal.Decimal
	UnitAmount   decimal.Decimal
	Quantity     int
}

// RatesRequest asks the aggregator to price delivering a package.
type RatesRequest struct {
	Sender        Address
	Receiver      Address
	CategoryID    string
	Items         []PackageItem
	TotalWeightKG decimal.Decimal
	TotalValue    decimal.Decimal
	Currency      enums.Currency
}

// Rate is a single courier offer. Raw keeps the provider's object verbatim.
type Rate struct {
	CourierID   string
	CourierName string
	ServiceCode string
	Fee         decimal.Decimal
	Currency    enums.Currency
	ETA         string
	Raw         json.RawMessage
}

// RatesResult holds every offer for one request plus the token the aggregator
// requires when a label is later booked.
type RatesResult struct {
	RequestToken string
	Rates        []Rate
	BoxUsed      json.RawMessage
}

type wireItem struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	UnitWeight  float64 `json:"unit_weight"`
	UnitAmount  float64 `json:"unit_amount"`
	Quantity    int     `json:"quantity"`
}

type wireRequest struct {
	Sender        Address    `json:"sender"`
	Receiver      Address    `json:"receiver"`
	CategoryID    string     `json:"category_id,omitempty"`
	PackageItems  []wireItem `json:"package_items"`
	TotalWeightKG float64    `json:"total_weight_kg"`
	TotalValue    float64    `json:"total_value"`
	Currency      string     `json:"currency"`
}

type wireResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		RequestToken string            `json:"request_token"`
		Couriers     []json.RawMessage `json:"couriers"`
		BoxUsed      json.RawMessage   `json:"box_used"`
	} `json:"data"`
}

type wireCourier struct {
	CourierID   string   `json:"courier_id"`
	CourierName string   `json:"courier_name"`
	ServiceCode string   `json:"service_code"`
	Total       *float64 `json:"total"`
	Currency    string   `json:"currency"`
	DeliveryETA string   `json:"delivery_eta"`
}

// Rates requests delivery quotes. Transport and provider failures are
// DEPENDENCY_ERRORs; an empty courier list is a successful, empty result.
func (c *Client) Rates(ctx context.Context, req RatesRequest) (*RatesResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "courier client not configured")
	}

	body := wireRequest{
		Sender:        req.Sender,
		Receiver:      req.Receiver,
		CategoryID:    req.CategoryID,
		PackageItems:  make([]wireItem, 0, len(req.Items)),
		TotalWeightKG: req.TotalWeightKG.InexactFloat64(),
		TotalValue:    req.TotalValue.InexactFloat64(),
		Currency:      req.Currency.String(),
	}
	for _, item := range req.Items {
		body.PackageItems = append(body.PackageItems, wireItem{
			Name:        item.Name,
			Description: item.Description,
			UnitWeight:  item.UnitWeightKG.InexactFloat64(),
			UnitAmount:  item.UnitAmount.InexactFloat64(),
			Quantity:    item.Quantity,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal rates request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+ratesPath, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build rates request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute rates request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "rates request failed")
	}

	var decoded wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode rates response")
	}
	if decoded.Status != "" && !strings.EqualFold(decoded.Status, "success") {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "courier rejected rate request").
			WithDetails(map[string]any{"provider_message": decoded.Message})
	}

	result := &RatesResult{
		RequestToken: decoded.Data.RequestToken,
		BoxUsed:      decoded.Data.BoxUsed,
		Rates:        make([]Rate, 0, len(decoded.Data.Couriers)),
	}
	for _, raw := range decoded.Data.Couriers {
		rate, ok := normalizeRate(raw)
		if !ok {
			continue
		}
		result.Rates = append(result.Rates, rate)
	}
	return result, nil
}

// normalizeRate drops offers without a usable fee or with a currency the
// storefront cannot display. A missing currency is the aggregator's native NGN.
func normalizeRate(raw json.RawMessage) (Rate, bool) {
	var wc wireCourier
	if err := json.Unmarshal(raw, &wc); err != nil {
		return Rate{}, false
	}
	if wc.Total == nil || math.IsNaN(*wc.Total) || math.IsInf(*wc.Total, 0) || *wc.Total < 0 {
		return Rate{}, false
	}
	currency := enums.CurrencyNGN
	if strings.TrimSpace(wc.Currency) != "" {
		parsed, err := enums.ParseCurrency(wc.Currency)
		if err != nil {
			return Rate{}, false
		}
		currency = parsed
	}
	return Rate{
		CourierID:   wc.CourierID,
		CourierName: wc.CourierName,
		ServiceCode: wc.ServiceCode,
		Fee:         decimal.NewFromFloat(*wc.Total),
		Currency:    currency,
		ETA:         wc.DeliveryETA,
		Raw:         append(json.RawMessage(nil), raw...),
	}, true
}
