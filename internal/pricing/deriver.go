package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/internal/products"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/money"
)

// NotApplicable fills unset color and size attributes.
const NotApplicable = "n/a"

// Catalog loads the products referenced by a cart.
type Catalog interface {
	ProductsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]products.Product, error)
}

// Line is one cart entry as captured by the storefront.
type Line struct {
	ProductID          uuid.UUID         `json:"productId"`
	Color              string            `json:"color"`
	Size               string            `json:"size"`
	Quantity           int               `json:"quantity"`
	HasSizeMod         bool              `json:"hasSizeMod"`
	CustomMeasurements map[string]string `json:"customMeasurements,omitempty"`
	WeightKG           *float64          `json:"weightKg,omitempty"`
	CachedPrice        *money.Money      `json:"cachedPrice,omitempty"`
}

// PricedLine is a cart line with every amount resolved in the display currency.
type PricedLine struct {
	Line
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	UnitPrice        money.Money       `json:"unitPrice"`
	PriceSource      enums.PriceSource `json:"priceSource"`
	SizeModSurcharge money.Money       `json:"sizeModSurcharge"`
	LineSubtotal     money.Money       `json:"lineSubtotal"`
	LineSurcharge    money.Money       `json:"lineSurcharge"`
	LineTotal        money.Money       `json:"lineTotal"`
	UnitWeightKG     decimal.Decimal   `json:"unitWeightKg"`
}

// Breakdown is the aggregate price of a cart in one currency.
type Breakdown struct {
	Currency      enums.Currency  `json:"currency"`
	Lines         []PricedLine    `json:"lines"`
	ItemsSubtotal money.Money     `json:"itemsSubtotal"`
	SizeModTotal  money.Money     `json:"sizeModTotal"`
	BaseTotal     money.Money     `json:"baseTotal"`
	TotalWeightKG decimal.Decimal `json:"totalWeightKg"`
	Exact         bool            `json:"exact"`
}

// Deriver prices carts from static per-currency catalog prices. It never converts
// between currencies.
type Deriver struct {
	catalog       Catalog
	surchargeRate decimal.Decimal
}

// NewDeriver validates collaborators and the size-modification surcharge rate.
func NewDeriver(catalog Catalog, surchargeRate decimal.Decimal) (*Deriver, error) {
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if surchargeRate.IsNegative() || surchargeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("surcharge rate %s must be in [0, 1)", surchargeRate)
	}
	return &Deriver{catalog: catalog, surchargeRate: surchargeRate}, nil
}

// Derive prices lines in currency.
func (d *Deriver) Derive(ctx context.Context, lines []Line, currency enums.Currency) (*Breakdown, error) {
	if !currency.IsValid() {
		return nil, pkgerrors.Errorf(pkgerrors.CodeValidation, "unsupported currency %q", currency)
	}
	ids := make([]uuid.UUID, 0, len(lines))
	for i, line := range lines {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.Errorf(pkgerrors.CodeValidation, "line %d: product id is required", i)
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.Errorf(pkgerrors.CodeValidation, "line %d: quantity must be positive", i).
				WithDetails(map[string]any{"productId": line.ProductID, "quantity": line.Quantity})
		}
		ids = append(ids, line.ProductID)
	}

	catalog := map[uuid.UUID]products.Product{}
	if len(ids) > 0 {
		loaded, err := d.catalog.ProductsByID(ctx, ids)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load products")
		}
		catalog = loaded
	}

	out := &Breakdown{
		Currency:      currency,
		Lines:         make([]PricedLine, 0, len(lines)),
		ItemsSubtotal: money.Zero(currency),
		SizeModTotal:  money.Zero(currency),
		TotalWeightKG: decimal.Zero,
		Exact:         true,
	}
	subtotal := decimal.Zero
	surcharges := decimal.Zero
	weight := decimal.Zero

	for _, line := range lines {
		product, ok := catalog[line.ProductID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"productId": line.ProductID})
		}
		if line.HasSizeMod && !product.SizeModEligible {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product does not accept size modifications").
				WithDetails(map[string]any{"productId": line.ProductID})
		}

		unit, source := resolveUnitPrice(product.Prices, line.CachedPrice, currency)
		perUnitSurcharge := decimal.Zero
		if line.HasSizeMod {
			perUnitSurcharge = money.Round2(unit.Mul(d.surchargeRate))
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		lineSubtotal := unit.Mul(qty)
		lineSurcharge := perUnitSurcharge.Mul(qty)
		unitWeight := resolveUnitWeight(line.WeightKG, product.WeightKG)

		subtotal = subtotal.Add(lineSubtotal)
		surcharges = surcharges.Add(lineSurcharge)
		weight = weight.Add(unitWeight.Mul(qty))
		if !source.Exact() {
			out.Exact = false
		}

		normalized := line
		normalized.Color = orNotApplicable(line.Color)
		normalized.Size = orNotApplicable(line.Size)
		out.Lines = append(out.Lines, PricedLine{
			Line:             normalized,
			Name:             product.Name,
			Description:      product.Description,
			UnitPrice:        money.New(currency, unit),
			PriceSource:      source,
			SizeModSurcharge: money.New(currency, perUnitSurcharge),
			LineSubtotal:     money.New(currency, money.Round2(lineSubtotal)),
			LineSurcharge:    money.New(currency, money.Round2(lineSurcharge)),
			LineTotal:        money.New(currency, money.Round2(lineSubtotal.Add(lineSurcharge))),
			UnitWeightKG:     unitWeight,
		})
	}

	out.ItemsSubtotal = money.New(currency, money.Round2(subtotal))
	out.SizeModTotal = money.New(currency, money.Round2(surcharges))
	out.BaseTotal = money.New(currency, money.Round2(subtotal.Add(surcharges)))
	out.TotalWeightKG = money.Round3(weight)
	return out, nil
}

// resolveUnitPrice walks the fallback chain: catalog price in currency, the price
// cached on the cart line, the first catalog price in priority order, then zero.
// Fallback amounts are used as-is; nothing is converted.
func resolveUnitPrice(prices products.PriceTable, cached *money.Money, currency enums.Currency) (decimal.Decimal, enums.PriceSource) {
	if amount, ok := prices.Lookup(currency); ok && !amount.IsNegative() {
		return amount, enums.PriceSourceCatalog
	}
	if cached != nil && !cached.Amount.IsNegative() {
		return cached.Amount, enums.PriceSourceCartCache
	}
	for _, candidate := range enums.CurrencyPriority() {
		if amount, ok := prices.Lookup(candidate); ok && !amount.IsNegative() {
			return amount, enums.PriceSourcePriorityFallback
		}
	}
	return decimal.Zero, enums.PriceSourceNone
}

func resolveUnitWeight(lineWeight *float64, catalogWeight *decimal.Decimal) decimal.Decimal {
	if lineWeight != nil {
		w := *lineWeight
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return decimal.Zero
		}
		return decimal.NewFromFloat(w)
	}
	if catalogWeight != nil && !catalogWeight.IsNegative() {
		return *catalogWeight
	}
	return decimal.Zero
}

func orNotApplicable(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return NotApplicable
}
