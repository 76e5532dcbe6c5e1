package fx

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/money"
)

// Table is an immutable snapshot of exchange rates quoted against Base:
// one unit of Base buys Rates[c] units of c.
type Table struct {
	ID        string                             `json:"id"`
	Base      enums.Currency                     `json:"base"`
	Rates     map[enums.Currency]decimal.Decimal `json:"rates"`
	FetchedAt time.Time                          `json:"fetchedAt"`
}

// Rate returns how many units of to one unit of from buys.
func (t *Table) Rate(from, to enums.Currency) (decimal.Decimal, bool) {
	if from == to {
		return decimal.NewFromInt(1), true
	}
	if t == nil {
		return decimal.Zero, false
	}
	fromRate, ok := t.baseRate(from)
	if !ok {
		return decimal.Zero, false
	}
	toRate, ok := t.baseRate(to)
	if !ok {
		return decimal.Zero, false
	}
	return toRate.Div(fromRate), true
}

// Convert moves amount into the target currency, rounded to 2 dp. The second
// return is false when the table cannot price the pair; amount is then returned
// unchanged so callers can decide how to degrade.
func (t *Table) Convert(amount money.Money, to enums.Currency) (money.Money, bool) {
	if amount.Currency == to {
		return amount, true
	}
	rate, ok := t.Rate(amount.Currency, to)
	if !ok {
		return amount, false
	}
	return money.New(to, money.Round2(amount.Amount.Mul(rate))), true
}

// Stale reports whether the snapshot is older than maxAge at now.
func (t *Table) Stale(now time.Time, maxAge time.Duration) bool {
	if t == nil {
		return true
	}
	if maxAge <= 0 {
		return false
	}
	return now.Sub(t.FetchedAt) > maxAge
}

func (t *Table) baseRate(c enums.Currency) (decimal.Decimal, bool) {
	if c == t.Base {
		return decimal.NewFromInt(1), true
	}
	rate, ok := t.Rates[c]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}
