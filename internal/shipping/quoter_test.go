package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/internal/pricing"
	"github.com/angelmondragon/storefront-checkout/pkg/courier"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/fx"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/money"
)

type stubRates struct {
	result *courier.RatesResult
	err    error
	calls  int
	last   courier.RatesRequest
}

func (s *stubRates) Rates(ctx context.Context, req courier.RatesRequest) (*courier.RatesResult, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func validDestination() Destination {
	return Destination{
		Name:    "Ada Obi",
		Email:   "ada@example.com",
		Phone:   "+234 (801) 234-5678",
		Address: "12 Admiralty Way",
		City:    "Lekki",
		State:   "Lagos",
		Country: "NG",
	}
}

func ngnBreakdown() *pricing.Breakdown {
	unit := money.New(enums.CurrencyNGN, decimal.NewFromInt(5000))
	return &pricing.Breakdown{
		Currency: enums.CurrencyNGN,
		Lines: []pricing.PricedLine{{
			Line:             pricing.Line{ProductID: uuid.New(), Quantity: 2, HasSizeMod: true, Color: "red", Size: "M"},
			Name:             "Ankara gown",
			UnitPrice:        unit,
			SizeModSurcharge: money.New(enums.CurrencyNGN, decimal.NewFromInt(250)),
		}},
		ItemsSubtotal: money.New(enums.CurrencyNGN, decimal.NewFromInt(10000)),
		SizeModTotal:  money.New(enums.CurrencyNGN, decimal.NewFromInt(500)),
		BaseTotal:     money.New(enums.CurrencyNGN, decimal.NewFromInt(10500)),
	}
}

func usdToNGN() *fx.Table {
	return &fx.Table{
		ID:    "snap-usd",
		Base:  enums.CurrencyUSD,
		Rates: map[enums.Currency]decimal.Decimal{enums.CurrencyNGN: decimal.NewFromInt(1500)},
	}
}

func newTestQuoter(t *testing.T, rates RateSource, m *metrics.CheckoutMetrics) *Quoter {
	t.Helper()
	q, err := NewQuoter(QuoterParams{Rates: rates, Metrics: m, Now: func() time.Time { return fixedNow }})
	if err != nil {
		t.Fatalf("new quoter: %v", err)
	}
	return q
}

func TestRequestQuotesConvertsForeignFeeAndKeepsOriginal(t *testing.T) {
	raw := json.RawMessage(`{"courier_id":"dhl","total":2000,"currency":"USD"}`)
	rates := &stubRates{result: &courier.RatesResult{
		RequestToken: "tok-1",
		Rates: []courier.Rate{{
			CourierID: "dhl", CourierName: "DHL", ServiceCode: "express",
			Fee: decimal.NewFromInt(2000), Currency: enums.CurrencyUSD, Raw: raw,
		}},
	}}
	q := newTestQuoter(t, rates, nil)

	batch, err := q.RequestQuotes(context.Background(), QuoteRequest{
		Destination:     validDestination(),
		Breakdown:       ngnBreakdown(),
		DisplayCurrency: enums.CurrencyNGN,
		FX:              usdToNGN(),
		Generation:      3,
	})
	if err != nil {
		t.Fatalf("request quotes: %v", err)
	}
	if len(batch.Quotes) != 1 {
		t.Fatalf("expected one quote got %d", len(batch.Quotes))
	}
	quote := batch.Quotes[0]
	if !quote.Converted || !quote.DisplayFee.Equal(money.New(enums.CurrencyNGN, decimal.NewFromInt(3000000))) {
		t.Fatalf("expected 3000000 NGN display fee got %s converted=%v", quote.DisplayFee, quote.Converted)
	}
	if !quote.NativeFee.Equal(money.New(enums.CurrencyUSD, decimal.NewFromInt(2000))) {
		t.Fatalf("native fee must be kept, got %s", quote.NativeFee)
	}
	if quote.NGNFee == nil || !quote.NGNFee.Amount.Equal(decimal.NewFromInt(3000000)) {
		t.Fatalf("expected NGN equivalent, got %v", quote.NGNFee)
	}
	if string(quote.Payload) != string(raw) {
		t.Fatalf("payload must be kept verbatim, got %s", quote.Payload)
	}
	if batch.FXSnapshotID != "snap-usd" || batch.Generation != 3 || batch.RequestToken != "tok-1" {
		t.Fatalf("unexpected batch metadata %+v", batch)
	}

	sel, err := Select(batch, quote.ID, fixedNow)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !sel.DisplayFee.Amount.Equal(decimal.NewFromInt(3000000)) || sel.OriginalFee.Currency != enums.CurrencyUSD || !sel.OriginalFee.Amount.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("unexpected selection %+v", sel)
	}
	if sel.RequestToken != "tok-1" || sel.FXSnapshotID != "snap-usd" || !sel.Converted {
		t.Fatalf("selection must carry token, snapshot and conversion, got %+v", sel)
	}
}

func TestRequestQuotesWithoutFXLeavesFeeUnconverted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCheckoutMetrics(reg)
	rates := &stubRates{result: &courier.RatesResult{Rates: []courier.Rate{{
		CourierID: "gig", ServiceCode: "std", Fee: decimal.NewFromInt(4500), Currency: enums.CurrencyNGN,
	}}}}
	q := newTestQuoter(t, rates, m)

	batch, err := q.RequestQuotes(context.Background(), QuoteRequest{
		Destination:     validDestination(),
		Breakdown:       ngnBreakdown(),
		DisplayCurrency: enums.CurrencyUSD,
	})
	if err != nil {
		t.Fatalf("request quotes: %v", err)
	}
	quote := batch.Quotes[0]
	if quote.Converted {
		t.Fatal("quote must be flagged unconverted")
	}
	if !quote.DisplayFee.Equal(quote.NativeFee) {
		t.Fatalf("display fee must equal native fee, got %s vs %s", quote.DisplayFee, quote.NativeFee)
	}
	if quote.NGNFee == nil || !quote.NGNFee.Amount.Equal(decimal.NewFromInt(4500)) {
		t.Fatalf("native NGN fee is its own equivalent, got %v", quote.NGNFee)
	}
	if got := counterValue(t, reg, "checkout_fx_degraded_total"); got != 1 {
		t.Fatalf("expected one degraded conversion, got %v", got)
	}
}

func TestRequestQuotesNGNEquivalentFailureIsSilent(t *testing.T) {
	rates := &stubRates{result: &courier.RatesResult{Rates: []courier.Rate{{
		CourierID: "ups", ServiceCode: "air", Fee: decimal.NewFromInt(30), Currency: enums.CurrencyGBP,
	}}}}
	q := newTestQuoter(t, rates, nil)
	table := &fx.Table{ID: "gbp", Base: enums.CurrencyGBP, Rates: map[enums.Currency]decimal.Decimal{enums.CurrencyUSD: decimal.RequireFromString("1.25")}}

	batch, err := q.RequestQuotes(context.Background(), QuoteRequest{
		Destination: validDestination(), Breakdown: ngnBreakdown(), DisplayCurrency: enums.CurrencyUSD, FX: table,
	})
	if err != nil {
		t.Fatalf("request quotes: %v", err)
	}
	if batch.Quotes[0].NGNFee != nil {
		t.Fatal("NGN equivalent should be empty when the table cannot price it")
	}
	if !batch.Quotes[0].DisplayFee.Equal(money.New(enums.CurrencyUSD, decimal.RequireFromString("37.5"))) {
		t.Fatalf("unexpected display fee %s", batch.Quotes[0].DisplayFee)
	}
}

func TestRequestQuotesManifest(t *testing.T) {
	rates := &stubRates{result: &courier.RatesResult{}}
	q, err := NewQuoter(QuoterParams{Rates: rates, CategoryID: "fashion", Sender: courier.Address{Name: "Store"}})
	if err != nil {
		t.Fatalf("new quoter: %v", err)
	}
	breakdown := ngnBreakdown()

	if _, err := q.RequestQuotes(context.Background(), QuoteRequest{Destination: validDestination(), Breakdown: breakdown, DisplayCurrency: enums.CurrencyNGN}); err != nil {
		t.Fatalf("request quotes: %v", err)
	}
	sent := rates.last
	if len(sent.Items) != 1 {
		t.Fatalf("expected one package item got %d", len(sent.Items))
	}
	item := sent.Items[0]
	if !item.UnitWeightKG.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected fallback unit weight 0.5 got %s", item.UnitWeightKG)
	}
	if !item.UnitAmount.Equal(decimal.NewFromInt(5250)) {
		t.Fatalf("expected unit amount including surcharge 5250 got %s", item.UnitAmount)
	}
	if !sent.TotalWeightKG.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected fallback total weight 1 got %s", sent.TotalWeightKG)
	}
	if !sent.TotalValue.Equal(decimal.NewFromInt(10500)) {
		t.Fatalf("expected declared value 10500 got %s", sent.TotalValue)
	}
	if sent.CategoryID != "fashion" || sent.Sender.Name != "Store" || sent.Receiver.City != "Lekki" {
		t.Fatalf("unexpected parties %+v", sent)
	}
}

func TestRequestQuotesEmptyResult(t *testing.T) {
	rates := &stubRates{result: &courier.RatesResult{RequestToken: "tok"}}
	batch, err := newTestQuoter(t, rates, nil).RequestQuotes(context.Background(), QuoteRequest{
		Destination: validDestination(), Breakdown: ngnBreakdown(), DisplayCurrency: enums.CurrencyNGN,
	})
	if err != nil {
		t.Fatalf("empty result is not an error: %v", err)
	}
	if len(batch.Quotes) != 0 || batch.Notice != NoOptionsNotice {
		t.Fatalf("expected empty batch with notice, got %+v", batch)
	}
	if _, err := Select(batch, "any", fixedNow); !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("selecting from empty batch should be a state conflict, got %v", err)
	}
}

func TestRequestQuotesProviderFailure(t *testing.T) {
	rates := &stubRates{err: errors.New("timeout")}
	_, err := newTestQuoter(t, rates, nil).RequestQuotes(context.Background(), QuoteRequest{
		Destination: validDestination(), Breakdown: ngnBreakdown(), DisplayCurrency: enums.CurrencyNGN,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error got %v", err)
	}
	details, _ := pkgerrors.As(err).Details().(map[string]any)
	if details["message"] != AddressHint {
		t.Fatalf("expected address hint in details, got %v", details)
	}
	if rates.calls != 1 {
		t.Fatalf("no automatic retry expected, got %d calls", rates.calls)
	}
}

func TestRequestQuotesValidatesBeforeCalling(t *testing.T) {
	cases := map[string]func(*Destination){
		"short phone":   func(d *Destination) { d.Phone = "(080) 12" },
		"bad email":     func(d *Destination) { d.Email = "ada@" },
		"blank city":    func(d *Destination) { d.City = "   " },
		"blank state":   func(d *Destination) { d.State = "" },
		"blank country": func(d *Destination) { d.Country = "" },
		"blank street":  func(d *Destination) { d.Address = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rates := &stubRates{result: &courier.RatesResult{}}
			dest := validDestination()
			mutate(&dest)
			_, err := newTestQuoter(t, rates, nil).RequestQuotes(context.Background(), QuoteRequest{
				Destination: dest, Breakdown: ngnBreakdown(), DisplayCurrency: enums.CurrencyNGN,
			})
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error got %v", err)
			}
			if rates.calls != 0 {
				t.Fatal("courier must not be called for an invalid destination")
			}
		})
	}
}

func TestSelectKeepsUnconvertedFlag(t *testing.T) {
	fee := money.New(enums.CurrencyUSD, decimal.NewFromInt(20))
	batch := &Batch{
		DisplayCurrency: enums.CurrencyNGN,
		Quotes:          []Quote{{ID: "dhl:express", NativeFee: fee, DisplayFee: fee}},
	}
	sel, err := Select(batch, "dhl:express", fixedNow)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Converted || sel.DisplayFee.Currency != enums.CurrencyUSD {
		t.Fatalf("unconverted fee must stay flagged, got %+v", sel)
	}
}

func TestSelectUnknownQuote(t *testing.T) {
	batch := &Batch{Quotes: []Quote{{ID: "a:b"}}}
	if _, err := Select(batch, "c:d", fixedNow); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += counterOf(m)
		}
	}
	return total
}

func counterOf(m *dto.Metric) float64 {
	if m.GetCounter() == nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
