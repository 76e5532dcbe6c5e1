package enums

import "testing"

func TestParseCurrency(t *testing.T) {
	for _, raw := range []string{"NGN", "ngn", " usd ", "Eur", "GBP"} {
		if _, err := ParseCurrency(raw); err != nil {
			t.Fatalf("expected %q to parse: %v", raw, err)
		}
	}
	if _, err := ParseCurrency("BTC"); err == nil {
		t.Fatal("expected BTC to be rejected")
	}
}

func TestCurrencyPriorityIsStableCopy(t *testing.T) {
	first := CurrencyPriority()
	first[0] = CurrencyGBP
	second := CurrencyPriority()
	want := []Currency{CurrencyNGN, CurrencyUSD, CurrencyEUR, CurrencyGBP}
	for i := range want {
		if second[i] != want[i] {
			t.Fatalf("priority mutated: %v", second)
		}
	}
}

func TestReconcileTransitions(t *testing.T) {
	tests := []struct {
		from, to ReconcileState
		ok       bool
	}{
		{ReconcileNoPayment, ReconcilePaymentInFlight, true},
		{ReconcileNoPayment, ReconcileOrderCreated, false},
		{ReconcilePaymentInFlight, ReconcilePaymentSucceeded, true},
		{ReconcilePaymentInFlight, ReconcilePaymentCancelled, true},
		{ReconcilePaymentCancelled, ReconcilePaymentSucceeded, true},
		{ReconcilePaymentSucceeded, ReconcileOrderCreationPending, true},
		{ReconcilePaymentSucceeded, ReconcileOrderCreated, false},
		{ReconcileOrderCreationPending, ReconcileOrderCreated, true},
		{ReconcileOrderCreationPending, ReconcileOrderCreationFailedAfterPayment, true},
		{ReconcileOrderCreationFailedAfterPayment, ReconcileOrderCreationPending, true},
		{ReconcileOrderCreationFailedAfterPayment, ReconcilePaymentInFlight, false},
		{ReconcileOrderCreated, ReconcileOrderCreationPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Fatalf("%s -> %s: expected %v got %v", tt.from, tt.to, tt.ok, got)
		}
	}
	if !ReconcileOrderCreated.IsTerminal() {
		t.Fatal("order_created should be terminal")
	}
	if ReconcileOrderCreationFailedAfterPayment.IsTerminal() {
		t.Fatal("failed-after-payment must stay retryable")
	}
}

func TestPaymentCaptured(t *testing.T) {
	if ReconcilePaymentInFlight.PaymentCaptured() || ReconcilePaymentCancelled.PaymentCaptured() {
		t.Fatal("no capture before success")
	}
	if !ReconcileOrderCreationFailedAfterPayment.PaymentCaptured() {
		t.Fatal("failed-after-payment holds captured funds")
	}
}

func TestPaymentMethodFromChannel(t *testing.T) {
	if got := PaymentMethodFromChannel("ussd"); got != PaymentMethodUSSD {
		t.Fatalf("unexpected %s", got)
	}
	if got := PaymentMethodFromChannel("bank_transfer"); got != PaymentMethodBankTransfer {
		t.Fatalf("unexpected %s", got)
	}
	if got := PaymentMethodFromChannel("apple_pay"); got != PaymentMethodCard {
		t.Fatalf("unexpected %s", got)
	}
}

func TestOutboxValuesMatchDatabaseEnums(t *testing.T) {
	if _, err := ParseOutboxEventType("approximate_settlement_used"); err != nil {
		t.Fatalf("expected event type to parse: %v", err)
	}
	if _, err := ParseOutboxAggregateType("cart"); err == nil {
		t.Fatal("cart is not an outbox aggregate")
	}
	if !DeadLetterUnroutable.IsValid() || DeadLetterReason("timeout").IsValid() {
		t.Fatal("unexpected dead letter reason validity")
	}
}

func TestParseNamesTheKind(t *testing.T) {
	if got, err := ParsePaymentOutcome("success"); err != nil || got != PaymentOutcomeSuccess {
		t.Fatalf("expected success outcome, got %q %v", got, err)
	}
	_, err := ParseReconcileState("refunded")
	if err == nil || err.Error() != `invalid reconcile state "refunded"` {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := ParseOutboxEventType("ORDER_CREATED"); err == nil {
		t.Fatal("event types are case sensitive")
	}
}
