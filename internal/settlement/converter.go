package settlement

import (
	"context"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/fx"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/money"
)

// Settlement is an order total expressed in the gateway's currency.
// AmountMinor is what the gateway must charge and what reconciliation compares
// against.
type Settlement struct {
	Display      money.Money `json:"display"`
	Total        money.Money `json:"total"`
	AmountMinor  int64       `json:"amountMinor"`
	Approximate  bool        `json:"approximate"`
	FXSnapshotID string      `json:"fxSnapshotId,omitempty"`
}

type ConverterParams struct {
	// BlockApproximate rejects totals that cannot be converted instead of
	// charging the unconverted number in NGN.
	BlockApproximate bool
	Metrics          *metrics.CheckoutMetrics
	Logger           *logger.Logger
}

type Converter struct {
	blockApproximate bool
	metrics          *metrics.CheckoutMetrics
	logg             *logger.Logger
}

func NewConverter(params ConverterParams) *Converter {
	return &Converter{
		blockApproximate: params.BlockApproximate,
		metrics:          params.Metrics,
		logg:             params.Logger,
	}
}

// ToSettlement converts total into NGN with table. The display currency plays no
// part beyond being the source of the conversion.
func (c *Converter) ToSettlement(ctx context.Context, total money.Money, table *fx.Table) (Settlement, error) {
	if !total.Currency.IsValid() {
		return Settlement{}, pkgerrors.New(pkgerrors.CodeValidation, "total has no currency")
	}
	if total.Amount.IsNegative() {
		return Settlement{}, pkgerrors.New(pkgerrors.CodeValidation, "total must not be negative")
	}

	out := Settlement{Display: total.Round2()}
	if table != nil {
		out.FXSnapshotID = table.ID
	}

	switch converted, ok := table.Convert(total, enums.SettlementCurrency); {
	case total.Currency == enums.SettlementCurrency:
		out.Total = total.Round2()
	case ok:
		out.Total = converted
	default:
		if err := c.degrade(ctx, total); err != nil {
			return Settlement{}, err
		}
		out.Total = money.New(enums.SettlementCurrency, money.Round2(total.Amount))
		out.Approximate = true
	}

	out.AmountMinor = money.MinorUnits(out.Total.Amount)
	return out, nil
}

// Unconverted applies the approximate-settlement policy to a settlement whose
// total includes part, an amount the FX table could not convert and that was
// counted 1:1.
func (c *Converter) Unconverted(ctx context.Context, settled Settlement, part money.Money) (Settlement, error) {
	if settled.Approximate {
		return settled, nil
	}
	if err := c.degrade(ctx, part); err != nil {
		return Settlement{}, err
	}
	settled.Approximate = true
	return settled, nil
}

func (c *Converter) degrade(ctx context.Context, unconverted money.Money) error {
	c.metrics.IncFXDegraded("settlement")
	if c.blockApproximate {
		return pkgerrors.New(pkgerrors.CodeDependency, "exchange rate unavailable; payment is temporarily disabled").
			WithDetails(map[string]any{"currency": unconverted.Currency})
	}
	c.metrics.IncApproximateSettlement()
	if c.logg != nil {
		ctx = c.logg.WithFields(ctx, map[string]any{
			"unconverted_currency": unconverted.Currency,
			"unconverted_amount":   unconverted.Amount.StringFixed(2),
		})
		c.logg.Warn(ctx, "settlement.approximate")
	}
	return nil
}
