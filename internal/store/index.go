package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"cnop-transactional-core/internal/apperrors"
)

// IndexEntry is a row of the user_orders_index projection table: a
// thin (username, asset_id) -> order_id pointer kept in sync with the
// orders table by whoever creates or cancels an order.
type IndexEntry struct {
	Username  string
	AssetID   string
	OrderID   string
	CreatedAt time.Time
}

// PutIndexEntry inserts a user_orders_index row. It is not
// conditional: the (username, order_id) primary key makes re-inserts
// idempotent no-ops via ON CONFLICT DO NOTHING.
func (a *Adapter) PutIndexEntry(ctx context.Context, e IndexEntry) error {
	_, err := a.db.Pool.Exec(ctx,
		`INSERT INTO user_orders_index (username, asset_id, order_id, created_at)
		 VALUES ($1,$2,$3,$4) ON CONFLICT (username, order_id) DO NOTHING`,
		e.Username, e.AssetID, e.OrderID, e.CreatedAt)
	return translateErr(err)
}

// QueryOrderIDsByUser returns order IDs for username, newest first,
// optionally filtered to a single asset, per spec §4.1's
// "UserOrdersIndex" secondary index.
func (a *Adapter) QueryOrderIDsByUser(ctx context.Context, username string, assetID *string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if assetID != nil {
		rows, err = a.db.Pool.Query(ctx,
			`SELECT order_id FROM user_orders_index WHERE username=$1 AND asset_id=$2 ORDER BY created_at DESC LIMIT $3`,
			username, *assetID, limit)
	} else {
		rows, err = a.db.Pool.Query(ctx,
			`SELECT order_id FROM user_orders_index WHERE username=$1 ORDER BY created_at DESC LIMIT $2`,
			username, limit)
	}
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, translateErr(err)
		}
		ids = append(ids, id)
	}
	return ids, translateErr(rows.Err())
}

// GetByAttr finds the single item under sk whose JSON attribute
// attrKey equals attrVal — the mechanism behind email lookup, where
// the base table is keyed by username rather than email.
func (a *Adapter) GetByAttr(ctx context.Context, table, sk, attrKey, attrVal string) (*Item, error) {
	row := a.db.Pool.QueryRow(ctx,
		`SELECT pk, sk, attrs, version, created_at, updated_at FROM `+table+`
		 WHERE sk=$1 AND attrs->>$2=$3 LIMIT 1`,
		sk, attrKey, attrVal)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.New(apperrors.KindEntityNotFound, "no item with "+attrKey+"="+attrVal)
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return item, nil
}

// InventoryItem is a row of the inventory table, the read-only asset
// catalog the core treats as an external collaborator's data (C12).
type InventoryItem struct {
	AssetID string
	Attrs   map[string]any
}

// GetInventoryItem fetches a single asset row.
func (a *Adapter) GetInventoryItem(ctx context.Context, assetID string) (*InventoryItem, error) {
	row := a.db.Pool.QueryRow(ctx, `SELECT asset_id, attrs FROM inventory WHERE asset_id=$1`, assetID)
	var item InventoryItem
	var attrsJSON []byte
	if err := row.Scan(&item.AssetID, &attrsJSON); err != nil {
		return nil, translateErr(err)
	}
	if err := json.Unmarshal(attrsJSON, &item.Attrs); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListInventoryItems returns every asset row in the catalog.
func (a *Adapter) ListInventoryItems(ctx context.Context) ([]*InventoryItem, error) {
	rows, err := a.db.Pool.Query(ctx, `SELECT asset_id, attrs FROM inventory`)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var items []*InventoryItem
	for rows.Next() {
		var item InventoryItem
		var attrsJSON []byte
		if err := rows.Scan(&item.AssetID, &attrsJSON); err != nil {
			return nil, translateErr(err)
		}
		if err := json.Unmarshal(attrsJSON, &item.Attrs); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, translateErr(rows.Err())
}

// UpsertInventoryItem writes or replaces an asset row. Used only by
// the seeding helper in internal/inventory — the core never mutates
// the catalog as part of a transaction.
func (a *Adapter) UpsertInventoryItem(ctx context.Context, item InventoryItem) error {
	attrsJSON, err := json.Marshal(item.Attrs)
	if err != nil {
		return err
	}
	_, err = a.db.Pool.Exec(ctx,
		`INSERT INTO inventory (asset_id, attrs, updated_at) VALUES ($1,$2,now())
		 ON CONFLICT (asset_id) DO UPDATE SET attrs=$2, updated_at=now()`,
		item.AssetID, attrsJSON)
	return translateErr(err)
}
