package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a catalog listing. Prices are stored per currency in product_prices
// and are never derived from one another.
type Product struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SKU             string           `gorm:"column:sku;not null"`
	Name            string           `gorm:"column:name;not null"`
	Description     *string          `gorm:"column:description"`
	WeightKG        *decimal.Decimal `gorm:"column:weight_kg;type:numeric(10,3)"`
	SizeModEligible bool             `gorm:"column:size_mod_eligible;not null;default:false"`
	IsActive        bool             `gorm:"column:is_active;not null;default:true"`
	Prices          []ProductPrice   `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
