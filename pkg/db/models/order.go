package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// Order is created exactly once per successful payment reference.
type Order struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentReference string              `gorm:"column:payment_reference;not null"`
	Email            string              `gorm:"column:email;not null"`
	CustomerName     string              `gorm:"column:customer_name;not null"`
	Phone            string              `gorm:"column:phone;not null"`
	PaymentMethod    enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	Currency         enums.Currency      `gorm:"column:currency;type:currency_code;not null"`
	ItemsSubtotal    decimal.Decimal     `gorm:"column:items_subtotal;type:numeric(14,2);not null"`
	SizeModTotal     decimal.Decimal     `gorm:"column:size_mod_total;type:numeric(14,2);not null"`
	DeliveryFee      decimal.Decimal     `gorm:"column:delivery_fee;type:numeric(14,2);not null"`
	Total            decimal.Decimal     `gorm:"column:total;type:numeric(14,2);not null"`
	TotalInNaira     decimal.Decimal     `gorm:"column:total_in_naira;type:numeric(14,2);not null"`
	Approximate      bool                `gorm:"column:approximate;not null;default:false"`
	Shipping         json.RawMessage     `gorm:"column:shipping;type:jsonb;not null"`
	LineItems        []OrderLineItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
