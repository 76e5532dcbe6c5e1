package enums

import (
	"slices"
	"strings"
)

// Currency represents a supported ISO 4217 denomination.
type Currency string

const (
	CurrencyNGN Currency = "NGN"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

// SettlementCurrency is the only currency the payment gateway charges in.
const SettlementCurrency = CurrencyNGN

// validCurrencies doubles as the fallback priority when a product has no price
// in the requested currency.
var validCurrencies = []Currency{
	CurrencyNGN,
	CurrencyUSD,
	CurrencyEUR,
	CurrencyGBP,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	return slices.Contains(validCurrencies, c)
}

// CurrencyPriority returns the fixed lookup order used for price fallbacks.
func CurrencyPriority() []Currency {
	return slices.Clone(validCurrencies)
}

// ParseCurrency converts a raw string into a Currency. Matching is case-insensitive.
func ParseCurrency(value string) (Currency, error) {
	return parse("currency", strings.ToUpper(strings.TrimSpace(value)), validCurrencies)
}
