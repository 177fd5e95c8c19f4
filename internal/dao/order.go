package dao

import (
	"context"
	"time"

	"github.com/google/uuid"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/entities"
	"cnop-transactional-core/internal/store"
)

const ordersTable = "orders"

// OrderDAO owns Order rows and the UserOrdersIndex projection that
// lets a user list their own orders without a table scan.
type OrderDAO struct {
	store *store.Adapter
}

// NewOrderDAO builds an OrderDAO over adapter.
func NewOrderDAO(adapter *store.Adapter) *OrderDAO {
	return &OrderDAO{store: adapter}
}

// Create writes a new Order in PENDING status and its index entry.
// OrderID is generated here.
func (d *OrderDAO) Create(ctx context.Context, order entities.Order) (*entities.Order, error) {
	now := time.Now().UTC()
	order.OrderID = uuid.NewString()
	order.Status = entities.OrderStatusPending
	order.CreatedAt = now
	order.UpdatedAt = now

	attrs, err := store.Encode(order)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "encode order", err)
	}
	pk, sk := entities.OrderKey(order.OrderID)
	item := &store.Item{Pk: pk, Sk: sk, Attrs: attrs}
	if err := d.store.Put(ctx, ordersTable, item, store.ConditionNotExists); err != nil {
		return nil, err
	}
	if err := d.store.PutIndexEntry(ctx, store.IndexEntry{
		Username:  order.Username,
		AssetID:   order.AssetID,
		OrderID:   order.OrderID,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	return &order, nil
}

// Get fetches an Order by ID.
func (d *OrderDAO) Get(ctx context.Context, orderID string) (*entities.Order, error) {
	pk, sk := entities.OrderKey(orderID)
	item, err := d.store.Get(ctx, ordersTable, store.Key{Pk: pk, Sk: sk})
	if err != nil {
		return nil, err
	}
	var order entities.Order
	if err := item.Decode(&order); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "decode order", err)
	}
	return &order, nil
}

// UpdateStatus validates the requested transition against the order's
// current state (entities.Order.Transition) and persists it
// conditionally on the version last read, so a concurrent status
// change loses the race rather than silently overwriting.
func (d *OrderDAO) UpdateStatus(ctx context.Context, orderID string, next entities.OrderStatus, actor entities.Actor) (*entities.Order, error) {
	pk, sk := entities.OrderKey(orderID)
	item, err := d.store.Mutate(ctx, ordersTable, store.Key{Pk: pk, Sk: sk}, func(existing *store.Item) (store.SetOps, error) {
		if existing == nil {
			return nil, apperrors.New(apperrors.KindEntityNotFound, "no order "+orderID)
		}
		var order entities.Order
		if err := existing.Decode(&order); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternalError, "decode order", err)
		}
		if err := order.Transition(next, actor); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInvariantViolation, err.Error(), err)
		}
		return store.SetOps{"status": order.Status, "updated_at": order.UpdatedAt}, nil
	})
	if err != nil {
		return nil, err
	}
	var order entities.Order
	if err := item.Decode(&order); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "decode order", err)
	}
	return &order, nil
}

// ListByUser returns up to limit of a user's orders, newest first,
// optionally restricted to a single asset, via the UserOrdersIndex
// projection followed by a batch fetch of the referenced Order rows.
func (d *OrderDAO) ListByUser(ctx context.Context, username string, assetID *string, limit int) ([]entities.Order, error) {
	ids, err := d.store.QueryOrderIDsByUser(ctx, username, assetID, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]store.Key, len(ids))
	for i, id := range ids {
		pk, sk := entities.OrderKey(id)
		keys[i] = store.Key{Pk: pk, Sk: sk}
	}
	found, err := d.store.BatchGet(ctx, ordersTable, keys)
	if err != nil {
		return nil, err
	}
	out := make([]entities.Order, 0, len(ids))
	for _, id := range ids {
		pk, sk := entities.OrderKey(id)
		item, ok := found[store.Key{Pk: pk, Sk: sk}]
		if !ok {
			continue
		}
		var order entities.Order
		if err := item.Decode(&order); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternalError, "decode order", err)
		}
		out = append(out, order)
	}
	return out, nil
}
