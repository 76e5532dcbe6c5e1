package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

func TestRoundingHalfUp(t *testing.T) {
	tests := []struct {
		in string
		r2 string
		r3 string
	}{
		{"2.345", "2.35", "2.345"},
		{"2.3449", "2.34", "2.345"},
		{"0.0005", "0", "0.001"},
		{"12.5", "12.5", "12.5"},
	}
	for _, tt := range tests {
		d := decimal.RequireFromString(tt.in)
		if got := Round2(d); !got.Equal(decimal.RequireFromString(tt.r2)) {
			t.Fatalf("Round2(%s) = %s want %s", tt.in, got, tt.r2)
		}
		if got := Round3(d); !got.Equal(decimal.RequireFromString(tt.r3)) {
			t.Fatalf("Round3(%s) = %s want %s", tt.in, got, tt.r3)
		}
	}
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"15000", 1500000},
		{"10500.00", 1050000},
		{"19.995", 2000},
		{"0.004", 0},
		{"0.005", 1},
	}
	for _, tt := range tests {
		if got := MinorUnits(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Fatalf("MinorUnits(%s) = %d want %d", tt.in, got, tt.want)
		}
	}
	if !FromMinorUnits(1050000).Equal(decimal.RequireFromString("10500")) {
		t.Fatal("FromMinorUnits round trip failed")
	}
}

func TestAddRejectsCurrencyMismatch(t *testing.T) {
	a := New(enums.CurrencyNGN, decimal.NewFromInt(10))
	b := New(enums.CurrencyUSD, decimal.NewFromInt(1))
	if _, err := a.Add(b); err == nil {
		t.Fatal("expected mismatch error")
	}
	sum, err := a.Add(New(enums.CurrencyNGN, decimal.NewFromInt(5)))
	if err != nil || !sum.Amount.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected sum %v err=%v", sum, err)
	}
}

func TestFromFloatNonFinite(t *testing.T) {
	if !FromFloat(enums.CurrencyUSD, math.NaN()).IsZero() {
		t.Fatal("NaN should be zero")
	}
	if !FromFloat(enums.CurrencyUSD, math.Inf(1)).IsZero() {
		t.Fatal("Inf should be zero")
	}
}

func TestMarshalJSONFixedPoint(t *testing.T) {
	raw, err := json.Marshal(New(enums.CurrencyNGN, decimal.NewFromInt(500)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"currency":"NGN","amount":"500.00"}` {
		t.Fatalf("unexpected json %s", raw)
	}
}
