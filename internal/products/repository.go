package products

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
)

var errNilProduct = errors.New("product is required")

// Repository is the catalog read path used by price derivation.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a product and its price table in one statement batch.
func (r *Repository) Create(ctx context.Context, product *models.Product) error {
	if product == nil {
		return errNilProduct
	}
	return r.db.WithContext(ctx).Create(product).Error
}

// ProductsByID returns the active products among ids with their prices
// preloaded. Unknown and retired ids are left out of the map.
func (r *Repository) ProductsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	wanted := dedupe(ids)
	found := make(map[uuid.UUID]Product, len(wanted))
	if len(wanted) == 0 {
		return found, nil
	}

	var rows []models.Product
	query := r.db.WithContext(ctx).
		Preload("Prices").
		Where("is_active = ?", true).
		Where("id IN ?", wanted)
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		found[row.ID] = fromModel(row)
	}
	return found, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
