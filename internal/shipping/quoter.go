package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/internal/pricing"
	"github.com/angelmondragon/storefront-checkout/pkg/courier"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/fx"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/money"
)

const (
	// NoOptionsNotice is shown when the courier has nothing for the address.
	NoOptionsNotice = "no delivery options for this address"
	// AddressHint is the user-facing message for provider failures.
	AddressHint = "could not fetch delivery options; please provide a more complete address"

	outcomeSuccess = "ok"
	outcomeEmpty   = "empty"
	outcomeFailed  = "failed"
	outcomeInvalid = "invalid"
)

var fallbackUnitWeightKG = decimal.NewFromFloat(0.5)

// RateSource returns raw courier offers.
type RateSource interface {
	Rates(ctx context.Context, req courier.RatesRequest) (*courier.RatesResult, error)
}

// Quote is one normalized delivery offer. NativeFee is what the courier charges;
// DisplayFee is for the customer's eyes only.
type Quote struct {
	ID          string          `json:"id"`
	CourierID   string          `json:"courierId"`
	CourierName string          `json:"courierName"`
	ServiceCode string          `json:"serviceCode"`
	ETA         string          `json:"eta,omitempty"`
	NativeFee   money.Money     `json:"nativeFee"`
	DisplayFee  money.Money     `json:"displayFee"`
	Converted   bool            `json:"converted"`
	NGNFee      *money.Money    `json:"ngnFee,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Batch is the full result of one rate request.
type Batch struct {
	RequestToken    string          `json:"requestToken"`
	Generation      int64           `json:"generation"`
	DisplayCurrency enums.Currency  `json:"displayCurrency"`
	FXSnapshotID    string          `json:"fxSnapshotId,omitempty"`
	Quotes          []Quote         `json:"quotes"`
	BoxUsed         json.RawMessage `json:"boxUsed,omitempty"`
	Notice          string          `json:"notice,omitempty"`
	RequestedAt     time.Time       `json:"requestedAt"`
}

// Selection is the delivery option the customer picked. The fee is frozen at
// selection time and never re-converted. Converted is false when DisplayFee is
// still in the courier's currency.
type Selection struct {
	QuoteID         string         `json:"quoteId"`
	CourierID       string         `json:"courierId"`
	CourierName     string         `json:"courierName"`
	ServiceCode     string         `json:"serviceCode"`
	RequestToken    string         `json:"requestToken"`
	DisplayCurrency enums.Currency `json:"displayCurrency"`
	DisplayFee      money.Money    `json:"displayFee"`
	OriginalFee     money.Money    `json:"originalFee"`
	Converted       bool           `json:"converted"`
	FXSnapshotID    string         `json:"fxSnapshotId,omitempty"`
	SelectedAt      time.Time      `json:"selectedAt"`
}

// QuoteRequest carries everything needed to price delivery for a cart.
type QuoteRequest struct {
	Destination     Destination
	Breakdown       *pricing.Breakdown
	DisplayCurrency enums.Currency
	FX              *fx.Table
	Generation      int64
}

type QuoterParams struct {
	Rates      RateSource
	Sender     courier.Address
	CategoryID string
	Metrics    *metrics.CheckoutMetrics
	Logger     *logger.Logger
	Now        func() time.Time
}

// Quoter turns a priced cart and destination into delivery quotes.
type Quoter struct {
	rates      RateSource
	sender     courier.Address
	categoryID string
	metrics    *metrics.CheckoutMetrics
	logg       *logger.Logger
	validate   *validator.Validate
	now        func() time.Time
}

func NewQuoter(params QuoterParams) (*Quoter, error) {
	if params.Rates == nil {
		return nil, errors.New("rate source is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Quoter{
		rates:      params.Rates,
		sender:     params.Sender,
		categoryID: params.CategoryID,
		metrics:    params.Metrics,
		logg:       params.Logger,
		validate:   newDestinationValidator(),
		now:        now,
	}, nil
}

// ValidateDestination trims and checks a destination without calling out.
func (q *Quoter) ValidateDestination(d Destination) (Destination, error) {
	return validateDestination(q.validate, d)
}

// RequestQuotes validates the destination, builds the package manifest and asks
// the courier for offers. It does not retry.
func (q *Quoter) RequestQuotes(ctx context.Context, req QuoteRequest) (*Batch, error) {
	dest, err := q.ValidateDestination(req.Destination)
	if err != nil {
		q.metrics.IncQuoteOutcome(outcomeInvalid)
		return nil, err
	}
	if req.Breakdown == nil || len(req.Breakdown.Lines) == 0 {
		q.metrics.IncQuoteOutcome(outcomeInvalid)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if !req.DisplayCurrency.IsValid() {
		q.metrics.IncQuoteOutcome(outcomeInvalid)
		return nil, pkgerrors.Errorf(pkgerrors.CodeValidation, "unsupported currency %q", req.DisplayCurrency)
	}

	result, err := q.rates.Rates(ctx, q.manifest(dest, req.Breakdown))
	if err != nil {
		q.metrics.IncQuoteOutcome(outcomeFailed)
		if q.logg != nil {
			q.logg.Error(ctx, "shipping.rates_failed", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, AddressHint).
			WithDetails(map[string]any{"message": AddressHint})
	}

	batch := &Batch{
		RequestToken:    result.RequestToken,
		Generation:      req.Generation,
		DisplayCurrency: req.DisplayCurrency,
		BoxUsed:         result.BoxUsed,
		Quotes:          make([]Quote, 0, len(result.Rates)),
		RequestedAt:     q.now().UTC(),
	}
	if req.FX != nil {
		batch.FXSnapshotID = req.FX.ID
	}

	degraded := false
	for _, rate := range result.Rates {
		quote := q.normalize(rate, req.DisplayCurrency, req.FX)
		if !quote.Converted {
			degraded = true
		}
		batch.Quotes = append(batch.Quotes, quote)
	}
	if degraded {
		q.metrics.IncFXDegraded("quote")
		if q.logg != nil {
			q.logg.Warn(ctx, "shipping.display_conversion_unavailable")
		}
	}

	if len(batch.Quotes) == 0 {
		batch.Notice = NoOptionsNotice
		q.metrics.IncQuoteOutcome(outcomeEmpty)
		return batch, nil
	}
	q.metrics.IncQuoteOutcome(outcomeSuccess)
	return batch, nil
}

func (q *Quoter) manifest(dest Destination, breakdown *pricing.Breakdown) courier.RatesRequest {
	req := courier.RatesRequest{
		Sender: q.sender,
		Receiver: courier.Address{
			Name:    dest.Name,
			Email:   dest.Email,
			Phone:   dest.Phone,
			Address: dest.Address,
			City:    dest.City,
			State:   dest.State,
			Country: dest.Country,
		},
		CategoryID:    q.categoryID,
		Items:         make([]courier.PackageItem, 0, len(breakdown.Lines)),
		TotalWeightKG: breakdown.TotalWeightKG,
		TotalValue:    breakdown.BaseTotal.Amount,
		Currency:      breakdown.Currency,
	}
	fallbackWeight := decimal.Zero
	for _, line := range breakdown.Lines {
		weight := line.UnitWeightKG
		if !weight.IsPositive() {
			weight = fallbackUnitWeightKG
		}
		fallbackWeight = fallbackWeight.Add(weight.Mul(decimal.NewFromInt(int64(line.Quantity))))
		req.Items = append(req.Items, courier.PackageItem{
			Name:         line.Name,
			Description:  itemDescription(line),
			UnitWeightKG: weight,
			UnitAmount:   line.UnitPrice.Amount.Add(line.SizeModSurcharge.Amount),
			Quantity:     line.Quantity,
		})
	}
	if !req.TotalWeightKG.IsPositive() {
		req.TotalWeightKG = money.Round3(fallbackWeight)
	}
	return req
}

func itemDescription(line pricing.PricedLine) string {
	if line.Description != "" {
		return line.Description
	}
	return fmt.Sprintf("%s (%s, %s)", line.Name, line.Color, line.Size)
}

func (q *Quoter) normalize(rate courier.Rate, display enums.Currency, table *fx.Table) Quote {
	native := money.New(rate.Currency, rate.Fee)
	quote := Quote{
		ID:          quoteID(rate),
		CourierID:   rate.CourierID,
		CourierName: rate.CourierName,
		ServiceCode: rate.ServiceCode,
		ETA:         rate.ETA,
		NativeFee:   native,
		DisplayFee:  native,
		Converted:   native.Currency == display,
		Payload:     rate.Raw,
	}
	if native.Currency != display && table != nil {
		if converted, ok := table.Convert(native, display); ok {
			quote.DisplayFee = converted
			quote.Converted = true
		}
	}
	if native.Currency == enums.SettlementCurrency {
		ngn := native
		quote.NGNFee = &ngn
	} else if table != nil {
		if ngn, ok := table.Convert(native, enums.SettlementCurrency); ok {
			quote.NGNFee = &ngn
		}
	}
	return quote
}

func quoteID(rate courier.Rate) string {
	return fmt.Sprintf("%s:%s", rate.CourierID, rate.ServiceCode)
}

// Select snapshots the quote identified by quoteID.
func Select(batch *Batch, quoteID string, now time.Time) (*Selection, error) {
	if batch == nil || len(batch.Quotes) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no delivery options to select from")
	}
	for _, quote := range batch.Quotes {
		if quote.ID != quoteID {
			continue
		}
		return &Selection{
			QuoteID:         quote.ID,
			CourierID:       quote.CourierID,
			CourierName:     quote.CourierName,
			ServiceCode:     quote.ServiceCode,
			RequestToken:    batch.RequestToken,
			DisplayCurrency: batch.DisplayCurrency,
			DisplayFee:      quote.DisplayFee,
			OriginalFee:     quote.NativeFee,
			Converted:       quote.Converted,
			FXSnapshotID:    batch.FXSnapshotID,
			SelectedAt:      now.UTC(),
		}, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery option not found").
		WithDetails(map[string]any{"quoteId": quoteID})
}
