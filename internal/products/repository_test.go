package products

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-checkout/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

func TestProductsByIDLoadsPriceTable(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()

	weight := decimal.RequireFromString("1.250")
	dress := &models.Product{
		SKU:             "DRS-001",
		Name:            "Ankara Dress",
		WeightKG:        &weight,
		SizeModEligible: true,
		IsActive:        true,
		Prices: []models.ProductPrice{
			{Currency: enums.CurrencyNGN, Amount: decimal.NewFromInt(5000)},
			{Currency: enums.CurrencyUSD, Amount: decimal.RequireFromString("12.50")},
		},
	}
	require.NoError(t, repo.Create(ctx, dress))

	retired := &models.Product{SKU: "OLD-001", Name: "Retired", IsActive: true}
	require.NoError(t, repo.Create(ctx, retired))
	require.NoError(t, db.Model(retired).Update("is_active", false).Error)

	found, err := repo.ProductsByID(ctx, []uuid.UUID{dress.ID, dress.ID, retired.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, found, 1)

	product := found[dress.ID]
	assert.Equal(t, "Ankara Dress", product.Name)
	assert.True(t, product.SizeModEligible)
	require.NotNil(t, product.WeightKG)
	assert.True(t, product.WeightKG.Equal(weight))

	ngn, ok := product.Prices.Lookup(enums.CurrencyNGN)
	require.True(t, ok)
	assert.True(t, ngn.Equal(decimal.NewFromInt(5000)))
	usd, ok := product.Prices.Lookup(enums.CurrencyUSD)
	require.True(t, ok)
	assert.True(t, usd.Equal(decimal.RequireFromString("12.5")))
	_, ok = product.Prices.Lookup(enums.CurrencyGBP)
	assert.False(t, ok)
}

func TestProductsByIDEmptyInput(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	found, err := repo.ProductsByID(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}
