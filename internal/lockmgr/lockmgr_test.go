package lockmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/store"
)

// fakeStore is an in-memory stand-in for store.Adapter's Put/Delete,
// enough to exercise the lock manager's conditional-put/delete logic
// without a live Postgres instance.
type fakeStore struct {
	mu    sync.Mutex
	items map[store.Key]*store.Item
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[store.Key]*store.Item{}}
}

func (f *fakeStore) Put(_ context.Context, _ string, item *store.Item, cond store.Condition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := store.Key{Pk: item.Pk, Sk: item.Sk}
	existing := f.items[key]
	if !cond(existing) {
		return apperrors.New(apperrors.KindEntityAlreadyExists, "conditional write failed")
	}
	cp := *item
	f.items[key] = &cp
	return nil
}

func (f *fakeStore) Delete(_ context.Context, _ string, key store.Key, cond store.Condition) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := f.items[key]
	if !cond(existing) {
		return false, apperrors.New(apperrors.KindInvariantViolation, "conditional delete failed")
	}
	if existing == nil {
		return false, nil
	}
	delete(f.items, key)
	return true, nil
}

func newManager() (*Manager, *fakeStore) {
	fs := newFakeStore()
	return &Manager{store: fs, now: func() time.Time { return time.Now().UTC() }}, fs
}

func TestAcquireThenAcquireFails(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	token, err := m.Acquire(ctx, "alice", "deposit")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = m.Acquire(ctx, "alice", "deposit")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindLockAcquireFailed))
}

func TestAcquireUnknownOperation(t *testing.T) {
	m, _ := newManager()
	_, err := m.Acquire(context.Background(), "alice", "teleport")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidationError))
}

func TestReleaseThenReacquireSucceeds(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	token, err := m.Acquire(ctx, "alice", "withdraw")
	require.NoError(t, err)

	ok, err := m.Release(ctx, "alice", token)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.Acquire(ctx, "alice", "withdraw")
	assert.NoError(t, err)
}

func TestReleaseWrongTokenIsNoop(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "alice", "withdraw")
	require.NoError(t, err)

	ok, err := m.Release(ctx, "alice", "not-the-real-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiredLockCanBeReacquired(t *testing.T) {
	m, _ := newManager()
	past := time.Now().UTC().Add(-time.Hour)
	m.now = func() time.Time { return past }
	ctx := context.Background()

	_, err := m.Acquire(ctx, "alice", "get_balance")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().UTC() }
	_, err = m.Acquire(ctx, "alice", "get_balance")
	assert.NoError(t, err)
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	m, fs := newManager()
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = m.WithLock(ctx, "alice", "buy_order", func(ctx context.Context) error {
			panic("boom")
		})
	})

	pk, sk := "USER#alice", "LOCK"
	_, stillHeld := fs.items[store.Key{Pk: pk, Sk: sk}]
	assert.False(t, stillHeld)
}

func TestWithLockReleasesOnSuccess(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	var ran bool
	err := m.WithLock(ctx, "alice", "sell_order", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	_, err = m.Acquire(ctx, "alice", "sell_order")
	assert.NoError(t, err)
}
