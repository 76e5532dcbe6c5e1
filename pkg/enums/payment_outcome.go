package enums

import "slices"

// PaymentOutcome is the gateway-reported result of a charge attempt.
type PaymentOutcome string

const (
	PaymentOutcomeSuccess   PaymentOutcome = "success"
	PaymentOutcomeCancelled PaymentOutcome = "cancelled"
	PaymentOutcomeFailed    PaymentOutcome = "failed"
)

var validPaymentOutcomes = []PaymentOutcome{
	PaymentOutcomeSuccess,
	PaymentOutcomeCancelled,
	PaymentOutcomeFailed,
}

// String implements fmt.Stringer.
func (p PaymentOutcome) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentOutcome.
func (p PaymentOutcome) IsValid() bool {
	return slices.Contains(validPaymentOutcomes, p)
}

// ParsePaymentOutcome converts raw input into a PaymentOutcome.
func ParsePaymentOutcome(value string) (PaymentOutcome, error) {
	return parse("payment outcome", value, validPaymentOutcomes)
}
