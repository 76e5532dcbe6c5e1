package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// PaymentIntent freezes what the gateway must charge for a reference together
// with the order draft that will be created once the charge succeeds.
type PaymentIntent struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Reference          string               `gorm:"column:reference;not null"`
	SessionID          string               `gorm:"column:session_id;not null"`
	Email              string               `gorm:"column:email;not null"`
	DisplayCurrency    enums.Currency       `gorm:"column:display_currency;type:currency_code;not null"`
	DisplayTotal       decimal.Decimal      `gorm:"column:display_total;type:numeric(14,2);not null"`
	SettlementCurrency enums.Currency       `gorm:"column:settlement_currency;type:currency_code;not null"`
	SettlementTotal    decimal.Decimal      `gorm:"column:settlement_total;type:numeric(14,2);not null"`
	AmountMinor        int64                `gorm:"column:amount_minor;not null"`
	Approximate        bool                 `gorm:"column:approximate;not null;default:false"`
	FXSnapshotID       *string              `gorm:"column:fx_snapshot_id"`
	Fingerprint        string               `gorm:"column:fingerprint;not null"`
	State              enums.ReconcileState `gorm:"column:state;type:reconcile_state;not null;default:'payment_in_flight'"`
	Draft              json.RawMessage      `gorm:"column:draft;type:jsonb;not null"`
	OrderID            *uuid.UUID           `gorm:"column:order_id;type:uuid"`
	LastError          *string              `gorm:"column:last_error"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentIntent) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
