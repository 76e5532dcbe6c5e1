package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// OrderLineItem snapshots one priced cart line.
type OrderLineItem struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	ProductID          uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	Name               string            `gorm:"column:name;not null"`
	Color              string            `gorm:"column:color;not null;default:'n/a'"`
	Size               string            `gorm:"column:size;not null;default:'n/a'"`
	Quantity           int               `gorm:"column:quantity;not null"`
	UnitPrice          decimal.Decimal   `gorm:"column:unit_price;type:numeric(14,2);not null"`
	SizeModSurcharge   decimal.Decimal   `gorm:"column:size_mod_surcharge;type:numeric(14,2);not null"`
	LineTotal          decimal.Decimal   `gorm:"column:line_total;type:numeric(14,2);not null"`
	PriceSource        enums.PriceSource `gorm:"column:price_source;not null"`
	CustomMeasurements json.RawMessage   `gorm:"column:custom_measurements;type:jsonb"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (o *OrderLineItem) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
