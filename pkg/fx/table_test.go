package fx

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/money"
)

func ngnTable() *Table {
	return &Table{
		ID:   "t1",
		Base: enums.CurrencyNGN,
		Rates: map[enums.Currency]decimal.Decimal{
			enums.CurrencyUSD: decimal.RequireFromString("0.000625"),
			enums.CurrencyGBP: decimal.RequireFromString("0.0005"),
		},
		FetchedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestConvertDirectInverseAndCross(t *testing.T) {
	table := ngnTable()

	tests := []struct {
		name string
		in   money.Money
		to   enums.Currency
		want string
	}{
		{"direct", money.New(enums.CurrencyNGN, decimal.NewFromInt(16000)), enums.CurrencyUSD, "10"},
		{"inverse", money.New(enums.CurrencyUSD, decimal.NewFromInt(10)), enums.CurrencyNGN, "16000"},
		{"cross", money.New(enums.CurrencyUSD, decimal.NewFromInt(8)), enums.CurrencyGBP, "6.4"},
		{"identity", money.New(enums.CurrencyEUR, decimal.NewFromInt(3)), enums.CurrencyEUR, "3"},
	}
	for _, tt := range tests {
		got, ok := table.Convert(tt.in, tt.to)
		if !ok {
			t.Fatalf("%s: expected conversion to succeed", tt.name)
		}
		if got.Currency != tt.to || !got.Amount.Equal(decimal.RequireFromString(tt.want)) {
			t.Fatalf("%s: got %s want %s %s", tt.name, got, tt.to, tt.want)
		}
	}
}

func TestConvertMissingRateReturnsInput(t *testing.T) {
	table := ngnTable()
	in := money.New(enums.CurrencyEUR, decimal.NewFromInt(5))
	got, ok := table.Convert(in, enums.CurrencyNGN)
	if ok {
		t.Fatal("expected missing EUR rate to fail")
	}
	if !got.Equal(in) {
		t.Fatalf("expected input back unchanged, got %s", got)
	}

	var nilTable *Table
	if _, ok := nilTable.Convert(in, enums.CurrencyUSD); ok {
		t.Fatal("nil table cannot convert")
	}
	if got, ok := nilTable.Convert(in, enums.CurrencyEUR); !ok || !got.Equal(in) {
		t.Fatal("identity conversion should not need a table")
	}
}

func TestStale(t *testing.T) {
	table := ngnTable()
	if table.Stale(table.FetchedAt.Add(5*time.Minute), 10*time.Minute) {
		t.Fatal("5m old table should be fresh")
	}
	if !table.Stale(table.FetchedAt.Add(11*time.Minute), 10*time.Minute) {
		t.Fatal("11m old table should be stale")
	}
	var nilTable *Table
	if !nilTable.Stale(time.Now(), time.Minute) {
		t.Fatal("nil table is always stale")
	}
}
