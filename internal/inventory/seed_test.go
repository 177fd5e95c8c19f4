package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"cnop-transactional-core/internal/entities"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	for _, asset := range Default() {
		assert.True(t, asset.Valid(), "default asset %s must satisfy price/active invariant", asset.AssetID)
		assert.False(t, asset.PriceUSD.IsZero())
	}
}

func TestInactiveZeroPriceAssetIsValid(t *testing.T) {
	asset := entities.Asset{AssetID: "DEAD", PriceUSD: decimal.Zero, IsActive: false}
	assert.True(t, asset.Valid())
}

func TestActiveZeroPriceAssetIsInvalid(t *testing.T) {
	asset := entities.Asset{AssetID: "DEAD", PriceUSD: decimal.Zero, IsActive: true}
	assert.False(t, asset.Valid())
}
