package money

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

var hundred = decimal.NewFromInt(100)

// Money pairs an amount with its currency. Amounts never cross currencies
// implicitly; use fx.Table to convert.
type Money struct {
	Currency enums.Currency  `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

func New(currency enums.Currency, amount decimal.Decimal) Money {
	return Money{Currency: currency, Amount: amount}
}

func Zero(currency enums.Currency) Money {
	return Money{Currency: currency, Amount: decimal.Zero}
}

// FromFloat builds Money from a provider-supplied float. Non-finite input is treated as zero.
func FromFloat(currency enums.Currency, amount float64) Money {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Zero(currency)
	}
	return Money{Currency: currency, Amount: decimal.NewFromFloat(amount)}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s + %s", m.Currency, other.Currency)
	}
	return Money{Currency: m.Currency, Amount: m.Amount.Add(other.Amount)}, nil
}

func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Currency: m.Currency, Amount: m.Amount.Mul(factor)}
}

func (m Money) MulInt(qty int) Money {
	return m.Mul(decimal.NewFromInt(int64(qty)))
}

// Round2 rounds the amount half away from zero to two decimal places.
func (m Money) Round2() Money {
	return Money{Currency: m.Currency, Amount: Round2(m.Amount)}
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency, m.Amount.StringFixed(2))
}

// MarshalJSON renders the amount as a fixed two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Currency enums.Currency `json:"currency"`
		Amount   string         `json:"amount"`
	}{Currency: m.Currency, Amount: m.Amount.StringFixed(2)})
}

// Round2 rounds half away from zero to 2 dp, matching money display.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Round3 rounds half away from zero to 3 dp, matching weight display.
func Round3(d decimal.Decimal) decimal.Decimal {
	return d.Round(3)
}

// MinorUnits converts a major-unit amount into integer minor units (kobo, cents),
// multiplying by 100 and rounding half away from zero.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -2)
}
