package dao

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/entities"
	"cnop-transactional-core/internal/store"
)

// AssetBalanceDAO owns a user's per-asset quantity holdings.
type AssetBalanceDAO struct {
	store *store.Adapter
}

// NewAssetBalanceDAO builds an AssetBalanceDAO over adapter.
func NewAssetBalanceDAO(adapter *store.Adapter) *AssetBalanceDAO {
	return &AssetBalanceDAO{store: adapter}
}

// Get fetches the holding for (username, assetID), or
// KindEntityNotFound if the user has never held that asset.
func (d *AssetBalanceDAO) Get(ctx context.Context, username, assetID string) (*entities.AssetBalance, error) {
	pk, sk := entities.AssetBalanceKey(username, assetID)
	item, err := d.store.Get(ctx, usersTable, store.Key{Pk: pk, Sk: sk})
	if err != nil {
		return nil, err
	}
	var ab entities.AssetBalance
	if err := item.Decode(&ab); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "decode asset balance", err)
	}
	return &ab, nil
}

// GetAll lists every asset holding for username.
func (d *AssetBalanceDAO) GetAll(ctx context.Context, username string) ([]entities.AssetBalance, error) {
	items, err := d.store.Query(ctx, usersTable, username, store.QueryOptions{SkPrefix: entities.SkAssetPrefix, Limit: 1000})
	if err != nil {
		return nil, err
	}
	out := make([]entities.AssetBalance, 0, len(items))
	for _, item := range items {
		var ab entities.AssetBalance
		if err := item.Decode(&ab); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternalError, "decode asset balance", err)
		}
		out = append(out, ab)
	}
	return out, nil
}

// ApplyDelta adds delta to a user's holding of assetID, creating the
// row on first acquisition and rejecting any write that would leave
// quantity negative (invariant I2's asset-side twin). Like
// BalanceDAO.ApplyDelta, the read-check-write happens inside one
// store.Mutate transaction.
func (d *AssetBalanceDAO) ApplyDelta(ctx context.Context, username, assetID string, delta decimal.Decimal) (*entities.AssetBalance, error) {
	pk, sk := entities.AssetBalanceKey(username, assetID)
	now := time.Now().UTC()
	var newQty decimal.Decimal
	item, err := d.store.Mutate(ctx, usersTable, store.Key{Pk: pk, Sk: sk}, func(existing *store.Item) (store.SetOps, error) {
		if existing == nil {
			if delta.IsNegative() {
				return nil, apperrors.New(apperrors.KindInsufficientAssetBalance, "no holding of asset "+assetID)
			}
			newQty = delta
			return store.SetOps{
				"username":   username,
				"asset_id":   assetID,
				"quantity":   newQty,
				"created_at": now,
				"updated_at": now,
			}, nil
		}
		var ab entities.AssetBalance
		if err := existing.Decode(&ab); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternalError, "decode asset balance", err)
		}
		newQty = ab.Quantity.Add(delta)
		if newQty.IsNegative() {
			return nil, apperrors.New(apperrors.KindInsufficientAssetBalance, "asset quantity cannot go negative")
		}
		return store.SetOps{"quantity": newQty, "updated_at": now}, nil
	})
	if err != nil {
		return nil, err
	}
	var ab entities.AssetBalance
	if err := item.Decode(&ab); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "decode asset balance", err)
	}
	return &ab, nil
}

// AssetTransactionDAO owns the append-only per-(user,asset) buy/sell
// ledger.
type AssetTransactionDAO struct {
	store *store.Adapter
}

// NewAssetTransactionDAO builds an AssetTransactionDAO over adapter.
func NewAssetTransactionDAO(adapter *store.Adapter) *AssetTransactionDAO {
	return &AssetTransactionDAO{store: adapter}
}

// Create appends a ledger row for an asset buy/sell.
func (d *AssetTransactionDAO) Create(ctx context.Context, txn entities.AssetTransaction) (*entities.AssetTransaction, error) {
	now := time.Now().UTC()
	txn.Sk = newLedgerSk(now)
	txn.CreatedAt = now

	attrs, err := store.Encode(txn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "encode asset transaction", err)
	}
	item := &store.Item{Pk: entities.AssetTransactionPk(txn.Username, txn.AssetID), Sk: txn.Sk, Attrs: attrs}
	if err := d.store.Put(ctx, usersTable, item, store.ConditionNotExists); err != nil {
		return nil, err
	}
	return &txn, nil
}

// AssetDAO is a read-only view over the inventory catalog (C12): the
// core treats pricing and listing data as owned by an external
// collaborator and never writes it as part of a transaction.
type AssetDAO struct {
	store *store.Adapter
}

// NewAssetDAO builds an AssetDAO over adapter.
func NewAssetDAO(adapter *store.Adapter) *AssetDAO {
	return &AssetDAO{store: adapter}
}

// Get fetches a single asset's catalog row.
func (d *AssetDAO) Get(ctx context.Context, assetID string) (*entities.Asset, error) {
	item, err := d.store.GetInventoryItem(ctx, assetID)
	if err != nil {
		return nil, err
	}
	asset, err := decodeAsset(item.Attrs)
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// GetAll returns the full catalog.
func (d *AssetDAO) GetAll(ctx context.Context) ([]entities.Asset, error) {
	items, err := d.store.ListInventoryItems(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entities.Asset, 0, len(items))
	for _, item := range items {
		asset, err := decodeAsset(item.Attrs)
		if err != nil {
			return nil, err
		}
		out = append(out, *asset)
	}
	return out, nil
}

func decodeAsset(attrs map[string]any) (*entities.Asset, error) {
	var asset entities.Asset
	item := store.Item{Attrs: attrs}
	if err := item.Decode(&asset); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "decode inventory item", err)
	}
	return &asset, nil
}
