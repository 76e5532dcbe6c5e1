package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// OrderCreatedEvent feeds the receipt and confirmation-email collaborators.
type OrderCreatedEvent struct {
	OrderID          uuid.UUID       `json:"order_id"`
	PaymentReference string          `json:"payment_reference"`
	Email            string          `json:"email"`
	CustomerName     string          `json:"customer_name"`
	Currency         enums.Currency  `json:"currency"`
	Total            decimal.Decimal `json:"total"`
	TotalInNaira     decimal.Decimal `json:"total_in_naira"`
	Approximate      bool            `json:"approximate"`
	ItemCount        int             `json:"item_count"`
}

// OrderCreationFailedEvent flags a captured payment that is still waiting for its order.
type OrderCreationFailedEvent struct {
	PaymentIntentID  uuid.UUID `json:"payment_intent_id"`
	PaymentReference string    `json:"payment_reference"`
	Email            string    `json:"email"`
	Reason           string    `json:"reason"`
}

// PaymentAmountMismatchEvent records a gateway charge that does not match the frozen intent.
type PaymentAmountMismatchEvent struct {
	PaymentIntentID  uuid.UUID      `json:"payment_intent_id"`
	PaymentReference string         `json:"payment_reference"`
	ExpectedMinor    int64          `json:"expected_minor"`
	ReceivedMinor    int64          `json:"received_minor"`
	ExpectedCurrency enums.Currency `json:"expected_currency"`
	ReceivedCurrency string         `json:"received_currency"`
}

// ApproximateSettlementUsedEvent records an intent frozen without an exchange rate.
type ApproximateSettlementUsedEvent struct {
	PaymentIntentID  uuid.UUID       `json:"payment_intent_id"`
	PaymentReference string          `json:"payment_reference"`
	DisplayCurrency  enums.Currency  `json:"display_currency"`
	DisplayTotal     decimal.Decimal `json:"display_total"`
	SettlementTotal  decimal.Decimal `json:"settlement_total"`
}
