package enums

import "slices"

// PaymentMethod identifies how the customer paid.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodUSSD         PaymentMethod = "ussd"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCard,
	PaymentMethodBankTransfer,
	PaymentMethodUSSD,
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	return slices.Contains(validPaymentMethods, p)
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	return parse("payment method", value, validPaymentMethods)
}

// PaymentMethodFromChannel maps a gateway channel onto a PaymentMethod,
// defaulting to card for channels the storefront does not distinguish.
func PaymentMethodFromChannel(channel string) PaymentMethod {
	switch channel {
	case "bank", "bank_transfer", "dedicated_nuban":
		return PaymentMethodBankTransfer
	case "ussd":
		return PaymentMethodUSSD
	}
	return PaymentMethodCard
}
