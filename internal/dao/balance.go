package dao

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/entities"
	"cnop-transactional-core/internal/store"
)

// BalanceDAO owns a user's fiat Balance row and its append-only
// BalanceTransaction ledger.
type BalanceDAO struct {
	store *store.Adapter
}

// NewBalanceDAO builds a BalanceDAO over adapter.
func NewBalanceDAO(adapter *store.Adapter) *BalanceDAO {
	return &BalanceDAO{store: adapter}
}

// GetBalance fetches the Balance row for username.
func (d *BalanceDAO) GetBalance(ctx context.Context, username string) (*entities.Balance, error) {
	pk, sk := entities.BalanceKey(username)
	item, err := d.store.Get(ctx, usersTable, store.Key{Pk: pk, Sk: sk})
	if err != nil {
		return nil, err
	}
	var bal entities.Balance
	if err := item.Decode(&bal); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "decode balance", err)
	}
	return &bal, nil
}

// CreateTransaction appends a new BalanceTransaction ledger row and
// returns it with its generated TransactionID/Sk populated. The row
// is write-once: the timestamp+uuid sort key makes a collision with
// an existing row statistically impossible, so the condition simply
// guards against that impossibility rather than signalling a real
// business case.
func (d *BalanceDAO) CreateTransaction(ctx context.Context, username string, txn entities.BalanceTransaction) (*entities.BalanceTransaction, error) {
	now := time.Now().UTC()
	txn.Username = username
	txn.TransactionID = uuid.NewString()
	txn.Sk = newLedgerSk(now)
	txn.CreatedAt = now

	attrs, err := store.Encode(txn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "encode transaction", err)
	}
	item := &store.Item{Pk: entities.BalanceTransactionPk(username), Sk: txn.Sk, Attrs: attrs}
	if err := d.store.Put(ctx, usersTable, item, store.ConditionNotExists); err != nil {
		return nil, err
	}
	return &txn, nil
}

// MarkTransactionFailed flips a previously COMPLETED ledger row to
// FAILED — used by the compensating-action paths in internal/txmanager
// when a downstream step of a multi-step operation cannot be applied
// (spec §4.4's "log-only, mark-failed" policy).
func (d *BalanceDAO) MarkTransactionFailed(ctx context.Context, username, sk string) error {
	key := store.Key{Pk: entities.BalanceTransactionPk(username), Sk: sk}
	_, err := d.store.Update(ctx, usersTable, key, store.SetOps{"status": entities.TransactionStatusFailed}, store.ConditionExists)
	return err
}

// ApplyDelta adds delta (positive for deposit/sale proceeds, negative
// for withdrawal/purchase) to the Balance, rejecting the write if the
// result would go negative (invariant I2). The read-check-write
// happens inside one transaction via store.Mutate so a concurrent
// ApplyDelta can never observe a stale balance.
func (d *BalanceDAO) ApplyDelta(ctx context.Context, username string, delta decimal.Decimal) (*entities.Balance, error) {
	pk, sk := entities.BalanceKey(username)
	var newBalance decimal.Decimal
	item, err := d.store.Mutate(ctx, usersTable, store.Key{Pk: pk, Sk: sk}, func(existing *store.Item) (store.SetOps, error) {
		if existing == nil {
			return nil, apperrors.New(apperrors.KindEntityNotFound, "no balance for user "+username)
		}
		var bal entities.Balance
		if err := existing.Decode(&bal); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternalError, "decode balance", err)
		}
		newBalance = bal.CurrentBalance.Add(delta)
		if newBalance.IsNegative() {
			return nil, apperrors.New(apperrors.KindInsufficientBalance, "balance cannot go negative")
		}
		return store.SetOps{
			"current_balance": newBalance,
			"updated_at":       time.Now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	var bal entities.Balance
	if err := item.Decode(&bal); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "decode balance", err)
	}
	return &bal, nil
}

// ListTransactions returns up to limit ledger rows for username,
// newest first.
func (d *BalanceDAO) ListTransactions(ctx context.Context, username string, limit int) ([]entities.BalanceTransaction, error) {
	items, err := d.store.Query(ctx, usersTable, entities.BalanceTransactionPk(username), store.QueryOptions{
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]entities.BalanceTransaction, 0, len(items))
	for _, item := range items {
		var txn entities.BalanceTransaction
		if err := item.Decode(&txn); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternalError, "decode transaction", err)
		}
		out = append(out, txn)
	}
	return out, nil
}
