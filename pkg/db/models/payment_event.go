package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// PaymentEvent is the first gateway-confirmed outcome recorded for a reference.
type PaymentEvent struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Reference   string               `gorm:"column:reference;not null"`
	Outcome     enums.PaymentOutcome `gorm:"column:outcome;type:payment_outcome;not null"`
	AmountMinor int64                `gorm:"column:amount_minor;not null"`
	Currency    enums.Currency       `gorm:"column:currency;type:currency_code;not null"`
	Channel     *string              `gorm:"column:channel"`
	Source      string               `gorm:"column:source;not null"`
	Payload     json.RawMessage      `gorm:"column:payload;type:jsonb"`
	OccurredAt  time.Time            `gorm:"column:occurred_at;not null"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (p *PaymentEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
