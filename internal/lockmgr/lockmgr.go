// Package lockmgr implements the distributed per-user lock (C4):
// acquire/release of the single UserLock row, backed by the same
// strongly consistent store as every other entity per spec §5,
// rather than a separate lock service. Semantics are carried over
// directly from original_source's lock_manager.py: a conditional put
// acquires, a conditional delete releases, and TTL expiry is the only
// way a stuck lock clears.
package lockmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/entities"
	"cnop-transactional-core/internal/store"
)

// TTL is the hold duration for each lock operation, matching
// original_source's LockTimeout enum (DEPOSIT/WITHDRAW=2s,
// BUY_ORDER/SELL_ORDER=5s, GET_BALANCE=1s).
var TTL = map[entities.LockOperation]time.Duration{
	entities.LockOperationDeposit:    2 * time.Second,
	entities.LockOperationWithdraw:   2 * time.Second,
	entities.LockOperationBuyOrder:   5 * time.Second,
	entities.LockOperationSellOrder:  5 * time.Second,
	entities.LockOperationGetBalance: 1 * time.Second,
}

const usersTable = "users"

// itemStore is the slice of store.Adapter the lock manager needs,
// narrowed so tests can substitute a fake without a live database.
type itemStore interface {
	Put(ctx context.Context, table string, item *store.Item, cond store.Condition) error
	Delete(ctx context.Context, table string, key store.Key, cond store.Condition) (bool, error)
}

// Manager acquires and releases per-user locks against the item
// store.
type Manager struct {
	store itemStore
	now   func() time.Time
}

// New builds a Manager over the given store adapter.
func New(adapter *store.Adapter) *Manager {
	return &Manager{store: adapter, now: func() time.Time { return time.Now().UTC() }}
}

// Acquire takes the lock for username/operation, returning a token
// the caller must present to Release. It succeeds if no row exists,
// or if the existing row has expired (the same single
// conditional-put form original_source's acquire_lock uses: the
// condition folds "absent" and "expired" into one allowed-to-write
// predicate evaluated against the row read under FOR UPDATE).
func (m *Manager) Acquire(ctx context.Context, username string, op entities.LockOperation) (token string, err error) {
	pk, sk := entities.UserLockKey(username)
	ttl, ok := TTL[op]
	if !ok {
		return "", apperrors.New(apperrors.KindValidationError, fmt.Sprintf("unknown lock operation %q", op))
	}

	now := m.now()
	token = uuid.NewString()
	lock := entities.UserLock{
		Username:  username,
		LockID:    token,
		Operation: op,
		RequestID: token,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	attrs, err := store.Encode(lock)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInternalError, "encode lock", err)
	}

	cond := func(existing *store.Item) bool {
		if existing == nil {
			return true
		}
		var held entities.UserLock
		if err := existing.Decode(&held); err != nil {
			return false
		}
		return held.Expired(now)
	}

	item := &store.Item{Pk: pk, Sk: sk, Attrs: attrs}
	if err := m.store.Put(ctx, usersTable, item, cond); err != nil {
		if apperrors.Is(err, apperrors.KindEntityAlreadyExists) {
			return "", apperrors.New(apperrors.KindLockAcquireFailed, fmt.Sprintf("lock held for user %s operation %s", username, op))
		}
		return "", err
	}
	return token, nil
}

// Release drops the lock for username iff it is currently held by
// token, returning whether it actually released anything. Releasing
// a lock you don't hold (already expired and reclaimed, or never
// acquired) is not an error — it is idempotent by design so deferred
// release code never needs special-casing.
func (m *Manager) Release(ctx context.Context, username, token string) (bool, error) {
	pk, sk := entities.UserLockKey(username)
	cond := func(existing *store.Item) bool {
		if existing == nil {
			return true
		}
		var held entities.UserLock
		if err := existing.Decode(&held); err != nil {
			return false
		}
		return held.LockID == token
	}
	released, err := m.store.Delete(ctx, usersTable, store.Key{Pk: pk, Sk: sk}, cond)
	if err != nil {
		if apperrors.Is(err, apperrors.KindInvariantViolation) {
			return false, nil
		}
		return false, err
	}
	return released, nil
}

// WithLock acquires the lock for (username, op), runs fn, and
// guarantees release — including when fn panics, in which case the
// panic is re-raised after the lock is released so a stuck lock never
// outlives the goroutine that took it.
func (m *Manager) WithLock(ctx context.Context, username string, op entities.LockOperation, fn func(ctx context.Context) error) (err error) {
	token, err := m.Acquire(ctx, username, op)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			m.Release(ctx, username, token)
			panic(r)
		}
	}()

	err = fn(ctx)
	if _, releaseErr := m.Release(ctx, username, token); releaseErr != nil && err == nil {
		err = releaseErr
	}
	return err
}
