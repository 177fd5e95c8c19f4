// Package inventory stands in for the external asset-catalog
// collaborator spec.md §1 carves out of the transactional core: core
// code only ever reads the catalog through internal/dao.AssetDAO.
// This package provides the write side — upserting Asset rows into
// the inventory table — for local runs and tests where no separate
// catalog service is available.
package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/entities"
	"cnop-transactional-core/internal/store"
)

// Seeder upserts catalog rows directly into the inventory table. It
// never runs as part of a transaction-manager operation — the core's
// request path only reads through AssetDAO.
type Seeder struct {
	store *store.Adapter
}

// NewSeeder builds a Seeder over adapter.
func NewSeeder(adapter *store.Adapter) *Seeder {
	return &Seeder{store: adapter}
}

// Upsert writes or replaces a single catalog asset. Rejects an asset
// that violates the price/active invariant (entities.Asset.Valid) up
// front, since this is the only write path that can introduce one.
func (s *Seeder) Upsert(ctx context.Context, asset entities.Asset) error {
	if !asset.Valid() {
		return apperrors.New(apperrors.KindValidationError, fmt.Sprintf("asset %s: price_usd=0 requires is_active=false", asset.AssetID))
	}
	attrs, err := store.Encode(asset)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternalError, "encode asset", err)
	}
	return s.store.UpsertInventoryItem(ctx, store.InventoryItem{AssetID: asset.AssetID, Attrs: attrs})
}

// UpsertAll upserts every asset in assets, stopping at the first
// failure.
func (s *Seeder) UpsertAll(ctx context.Context, assets []entities.Asset) error {
	for _, asset := range assets {
		if err := s.Upsert(ctx, asset); err != nil {
			return err
		}
	}
	return nil
}

// Default returns the small fixed catalog used for local runs and
// integration tests absent a real inventory service.
func Default() []entities.Asset {
	return []entities.Asset{
		{AssetID: "BTC", Name: "Bitcoin", Category: "crypto", PriceUSD: decimal.NewFromInt(65000), IsActive: true},
		{AssetID: "ETH", Name: "Ethereum", Category: "crypto", PriceUSD: decimal.NewFromInt(3200), IsActive: true},
		{AssetID: "SOL", Name: "Solana", Category: "crypto", PriceUSD: decimal.NewFromInt(140), IsActive: true},
	}
}
