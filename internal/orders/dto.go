package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/internal/shipping"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// Customer identifies who placed the order.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone"`
}

// LineItem is a priced cart line frozen into the order.
type LineItem struct {
	ProductID          uuid.UUID         `json:"productId" validate:"required"`
	Name               string            `json:"name" validate:"required"`
	Color              string            `json:"color"`
	Size               string            `json:"size"`
	Quantity           int               `json:"quantity" validate:"gt=0"`
	UnitPrice          decimal.Decimal   `json:"unitPrice"`
	SizeModSurcharge   decimal.Decimal   `json:"sizeModSurcharge"`
	LineTotal          decimal.Decimal   `json:"lineTotal"`
	PriceSource        enums.PriceSource `json:"priceSource"`
	CustomMeasurements map[string]string `json:"customMeasurements,omitempty"`
}

// ShippingSnapshot is where and how the order ships.
type ShippingSnapshot struct {
	Destination shipping.Destination `json:"destination"`
	Delivery    *shipping.Selection  `json:"delivery,omitempty"`
}

// CreateOrderInput is the full order payload. Amounts are in Currency except
// TotalInNaira.
type CreateOrderInput struct {
	PaymentReference string              `json:"paymentReference" validate:"required"`
	Customer         Customer            `json:"customer"`
	PaymentMethod    enums.PaymentMethod `json:"paymentMethod"`
	Currency         enums.Currency      `json:"currency"`
	Items            []LineItem          `json:"items" validate:"required,min=1,dive"`
	ItemsSubtotal    decimal.Decimal     `json:"itemsSubtotal"`
	SizeModTotal     decimal.Decimal     `json:"sizeModTotal"`
	DeliveryFee      decimal.Decimal     `json:"deliveryFee"`
	Total            decimal.Decimal     `json:"total"`
	TotalInNaira     decimal.Decimal     `json:"totalInNaira"`
	Approximate      bool                `json:"approximate"`
	Shipping         ShippingSnapshot    `json:"shipping" validate:"-"`
}

// CreatedOrder is the result of Create. Existing is true when the reference had
// already produced an order.
type CreatedOrder struct {
	OrderID          uuid.UUID `json:"orderId"`
	PaymentReference string    `json:"paymentReference"`
	Email            string    `json:"email"`
	Existing         bool      `json:"existing"`
}

// OrderDetail is the read model returned by lookups.
type OrderDetail struct {
	ID               uuid.UUID           `json:"id"`
	PaymentReference string              `json:"paymentReference"`
	Customer         Customer            `json:"customer"`
	PaymentMethod    enums.PaymentMethod `json:"paymentMethod"`
	Currency         enums.Currency      `json:"currency"`
	ItemsSubtotal    decimal.Decimal     `json:"itemsSubtotal"`
	SizeModTotal     decimal.Decimal     `json:"sizeModTotal"`
	DeliveryFee      decimal.Decimal     `json:"deliveryFee"`
	Total            decimal.Decimal     `json:"total"`
	TotalInNaira     decimal.Decimal     `json:"totalInNaira"`
	Approximate      bool                `json:"approximate"`
	Shipping         ShippingSnapshot    `json:"shipping"`
	Items            []LineItem          `json:"items"`
	CreatedAt        time.Time           `json:"createdAt"`
}
