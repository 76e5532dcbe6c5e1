package products

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

// PriceTable holds the static price of a product per currency.
type PriceTable map[enums.Currency]decimal.Decimal

// Lookup returns the price quoted in currency, if any.
func (p PriceTable) Lookup(currency enums.Currency) (decimal.Decimal, bool) {
	amount, ok := p[currency]
	return amount, ok
}

// Product is the pricing view of a catalog listing.
type Product struct {
	ID              uuid.UUID
	SKU             string
	Name            string
	Description     string
	Prices          PriceTable
	WeightKG        *decimal.Decimal
	SizeModEligible bool
}

func fromModel(m models.Product) Product {
	prices := make(PriceTable, len(m.Prices))
	for _, price := range m.Prices {
		if !price.Currency.IsValid() {
			continue
		}
		prices[price.Currency] = price.Amount
	}
	product := Product{
		ID:              m.ID,
		SKU:             m.SKU,
		Name:            m.Name,
		Prices:          prices,
		WeightKG:        m.WeightKG,
		SizeModEligible: m.SizeModEligible,
	}
	if m.Description != nil {
		product.Description = *m.Description
	}
	return product
}
