package orders

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
)

// Repository persists orders. WithTx rebinds it to a running transaction.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

// CreateOrder inserts the order row and, through the association, its line
// items.
func (r *gormRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// FindByPaymentReference loads an order with its line items in insertion
// order.
func (r *gormRepository) FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	byInsertion := func(db *gorm.DB) *gorm.DB {
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}})
	}
	order := &models.Order{}
	err := r.db.WithContext(ctx).
		Preload("LineItems", byInsertion).
		Where("payment_reference = ?", reference).
		Take(order).Error
	if err != nil {
		return nil, err
	}
	return order, nil
}
