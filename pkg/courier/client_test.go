package courier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("http://courier.test/v1/shipping/", "secret", WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func respond(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{}}
}

func TestRatesSendsManifestAndNormalizes(t *testing.T) {
	var captured map[string]any
	var capturedURL, capturedAuth string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedAuth = req.Header.Get("Authorization")
		raw, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(raw, &captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return respond(http.StatusOK, `{"status":"success","data":{"request_token":"tok-1","box_used":{"name":"small"},"couriers":[
			{"courier_id":"gig","courier_name":"GIG","service_code":"gig-std","total":2500.5,"currency":"NGN","delivery_eta":"2 days"},
			{"courier_id":"dhl","courier_name":"DHL","service_code":"dhl-x","total":12,"currency":"USD"},
			{"courier_id":"bad","courier_name":"NoFee","service_code":"x"},
			{"courier_id":"yen","courier_name":"Yen","service_code":"y","total":10,"currency":"JPY"},
			{"courier_id":"kwik","courier_name":"Kwik","service_code":"k","total":900}
		]}}`), nil
	})

	result, err := client.Rates(context.Background(), RatesRequest{
		Receiver: Address{Name: "Ada", Phone: "08012345678", Email: "ada@example.com", Address: "1 Marina", City: "Lagos", State: "Lagos", Country: "NG"},
		Items: []PackageItem{{
			Name: "Gown", UnitWeightKG: decimal.RequireFromString("0.5"), UnitAmount: decimal.RequireFromString("5250"), Quantity: 2,
		}},
		TotalWeightKG: decimal.NewFromInt(1),
		TotalValue:    decimal.NewFromInt(10500),
		Currency:      enums.CurrencyNGN,
	})
	if err != nil {
		t.Fatalf("rates: %v", err)
	}

	if capturedURL != "http://courier.test/v1/shipping/fetch_rates" {
		t.Fatalf("unexpected url %s", capturedURL)
	}
	if capturedAuth != "Bearer secret" {
		t.Fatalf("unexpected auth %q", capturedAuth)
	}
	items, _ := captured["package_items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["unit_amount"].(float64) != 5250 {
		t.Fatalf("unexpected manifest %v", captured["package_items"])
	}
	if captured["total_value"].(float64) != 10500 {
		t.Fatalf("unexpected declared value %v", captured["total_value"])
	}

	if result.RequestToken != "tok-1" {
		t.Fatalf("unexpected token %q", result.RequestToken)
	}
	if len(result.Rates) != 3 {
		t.Fatalf("expected 3 usable rates, got %d", len(result.Rates))
	}
	if result.Rates[1].Currency != enums.CurrencyUSD || !result.Rates[1].Fee.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("unexpected usd rate %+v", result.Rates[1])
	}
	if result.Rates[2].Currency != enums.CurrencyNGN {
		t.Fatalf("missing currency should default to NGN, got %s", result.Rates[2].Currency)
	}
	if !strings.Contains(string(result.Rates[0].Raw), `"delivery_eta":"2 days"`) {
		t.Fatalf("raw payload not retained: %s", result.Rates[0].Raw)
	}
}

func TestRatesEmptyListIsNotAnError(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return respond(http.StatusOK, `{"status":"success","data":{"request_token":"tok","couriers":[]}}`), nil
	})
	result, err := client.Rates(context.Background(), RatesRequest{Currency: enums.CurrencyNGN})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Rates) != 0 {
		t.Fatalf("expected no rates, got %d", len(result.Rates))
	}
}

func TestRatesFailuresAreDependencyErrors(t *testing.T) {
	tests := map[string]roundTripFunc{
		"transport": func(*http.Request) (*http.Response, error) { return nil, errors.New("dial tcp: timeout") },
		"status":    func(*http.Request) (*http.Response, error) { return respond(http.StatusBadRequest, `bad address`), nil },
		"provider":  func(*http.Request) (*http.Response, error) { return respond(http.StatusOK, `{"status":"failed","message":"invalid address"}`), nil },
		"decode":    func(*http.Request) (*http.Response, error) { return respond(http.StatusOK, `<html>`), nil },
	}
	for name, rt := range tests {
		client := newTestClient(t, rt)
		_, err := client.Rates(context.Background(), RatesRequest{Currency: enums.CurrencyNGN})
		if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			t.Fatalf("%s: expected dependency error, got %v", name, err)
		}
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("http://x", ""); err == nil {
		t.Fatal("expected api key error")
	}
	if _, err := NewClient("", "key"); err == nil {
		t.Fatal("expected base url error")
	}
}
