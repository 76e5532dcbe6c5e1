package checkout

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/internal/pricing"
	"github.com/angelmondragon/storefront-checkout/internal/shipping"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/fx"
)

// Session is the server-held checkout state of one storefront visitor.
type Session struct {
	ID              string                `json:"id"`
	DisplayCurrency enums.Currency        `json:"displayCurrency"`
	Lines           []pricing.Line        `json:"lines"`
	FX              *fx.Table             `json:"fx,omitempty"`
	FXDegraded      bool                  `json:"fxDegraded"`
	Destination     *shipping.Destination `json:"destination,omitempty"`
	Quotes          *shipping.Batch       `json:"quotes,omitempty"`
	Selection       *shipping.Selection   `json:"selection,omitempty"`
	Payment         *PaymentState         `json:"payment,omitempty"`
	LastOrder       *OrderRef             `json:"lastOrder,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// PaymentState mirrors the payment intent currently attached to the session.
type PaymentState struct {
	Reference       string               `json:"reference"`
	Fingerprint     string               `json:"fingerprint"`
	Email           string               `json:"email"`
	State           enums.ReconcileState `json:"state"`
	AmountMinor     int64                `json:"amountMinor"`
	SettlementTotal decimal.Decimal      `json:"settlementTotal"`
	DisplayTotal    decimal.Decimal      `json:"displayTotal"`
	DisplayCurrency enums.Currency       `json:"displayCurrency"`
	Approximate     bool                 `json:"approximate"`
	OrderID         *uuid.UUID           `json:"orderId,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
}

// OrderRef is shown on the confirmation screen until the customer acknowledges it.
type OrderRef struct {
	OrderID          uuid.UUID `json:"orderId"`
	PaymentReference string    `json:"paymentReference"`
	Email            string    `json:"email"`
	Acknowledged     bool      `json:"acknowledged"`
}

func (s *Session) paymentInFlight() bool {
	return s.Payment != nil && s.Payment.State == enums.ReconcilePaymentInFlight
}

// paymentLocked reports whether the cart must stay frozen: a charge is either
// underway or captured and not yet turned into an acknowledged order.
func (s *Session) paymentLocked() bool {
	if s.Payment == nil {
		return false
	}
	return s.Payment.State == enums.ReconcilePaymentInFlight || s.Payment.State.PaymentCaptured()
}

func (s *Session) clearDelivery() {
	s.Quotes = nil
	s.Selection = nil
}
