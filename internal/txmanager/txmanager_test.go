package txmanager

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/entities"
)

type fakeBalances struct {
	balance      decimal.Decimal
	transactions []entities.BalanceTransaction
	failApply    bool
	markedFailed []string
}

func (f *fakeBalances) GetBalance(ctx context.Context, username string) (*entities.Balance, error) {
	return &entities.Balance{Username: username, CurrentBalance: f.balance}, nil
}

func (f *fakeBalances) CreateTransaction(ctx context.Context, username string, txn entities.BalanceTransaction) (*entities.BalanceTransaction, error) {
	txn.Sk = "sk-" + decimal.NewFromInt(int64(len(f.transactions))).String()
	f.transactions = append(f.transactions, txn)
	return &txn, nil
}

func (f *fakeBalances) MarkTransactionFailed(ctx context.Context, username, sk string) error {
	f.markedFailed = append(f.markedFailed, sk)
	return nil
}

func (f *fakeBalances) ApplyDelta(ctx context.Context, username string, delta decimal.Decimal) (*entities.Balance, error) {
	if f.failApply {
		return nil, apperrors.New(apperrors.KindInternalError, "simulated balance failure")
	}
	next := f.balance.Add(delta)
	if next.IsNegative() {
		return nil, apperrors.New(apperrors.KindInsufficientBalance, "balance cannot go negative")
	}
	f.balance = next
	return &entities.Balance{Username: username, CurrentBalance: f.balance}, nil
}

type fakeAssetBalances struct {
	quantity  decimal.Decimal
	failApply bool
}

func (f *fakeAssetBalances) Get(ctx context.Context, username, assetID string) (*entities.AssetBalance, error) {
	return &entities.AssetBalance{Username: username, AssetID: assetID, Quantity: f.quantity}, nil
}

func (f *fakeAssetBalances) ApplyDelta(ctx context.Context, username, assetID string, delta decimal.Decimal) (*entities.AssetBalance, error) {
	if f.failApply {
		return nil, apperrors.New(apperrors.KindInternalError, "simulated asset balance failure")
	}
	next := f.quantity.Add(delta)
	if next.IsNegative() {
		return nil, apperrors.New(apperrors.KindInsufficientAssetBalance, "asset quantity cannot go negative")
	}
	f.quantity = next
	return &entities.AssetBalance{Username: username, AssetID: assetID, Quantity: f.quantity}, nil
}

type fakeAssetTransactions struct {
	created []entities.AssetTransaction
}

func (f *fakeAssetTransactions) Create(ctx context.Context, txn entities.AssetTransaction) (*entities.AssetTransaction, error) {
	f.created = append(f.created, txn)
	return &txn, nil
}

type fakeOrders struct {
	orders map[string]*entities.Order
	nextID int
}

func newFakeOrders() *fakeOrders { return &fakeOrders{orders: map[string]*entities.Order{}} }

func (f *fakeOrders) Create(ctx context.Context, order entities.Order) (*entities.Order, error) {
	f.nextID++
	order.OrderID = decimal.NewFromInt(int64(f.nextID)).String()
	order.Status = entities.OrderStatusPending
	cp := order
	f.orders[order.OrderID] = &cp
	return &cp, nil
}

func (f *fakeOrders) UpdateStatus(ctx context.Context, orderID string, next entities.OrderStatus, actor entities.Actor) (*entities.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, apperrors.New(apperrors.KindEntityNotFound, "no order")
	}
	if err := order.Transition(next, actor); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvariantViolation, err.Error(), err)
	}
	return order, nil
}

type fakeAssets struct {
	assets map[string]entities.Asset
}

func (f *fakeAssets) Get(ctx context.Context, assetID string) (*entities.Asset, error) {
	a, ok := f.assets[assetID]
	if !ok {
		return nil, apperrors.New(apperrors.KindEntityNotFound, "no asset")
	}
	return &a, nil
}

type passthroughLocker struct{}

func (passthroughLocker) WithLock(ctx context.Context, username string, op entities.LockOperation, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newManagerForTest(balances *fakeBalances, assetBalances *fakeAssetBalances, assetTxns *fakeAssetTransactions, orders *fakeOrders, assets *fakeAssets) *Manager {
	return New(balances, assetBalances, assetTxns, orders, assets, passthroughLocker{}, nil)
}

func TestDepositCreditsBalance(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(100)}
	m := newManagerForTest(balances, &fakeAssetBalances{}, &fakeAssetTransactions{}, newFakeOrders(), &fakeAssets{})

	result, err := m.Deposit(context.Background(), "alice", "req-1", decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, result.Balance.CurrentBalance.Equal(decimal.NewFromInt(150)))
	assert.Len(t, balances.transactions, 1)
	assert.Equal(t, entities.TransactionTypeDeposit, balances.transactions[0].Type)
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	m := newManagerForTest(&fakeBalances{}, &fakeAssetBalances{}, &fakeAssetTransactions{}, newFakeOrders(), &fakeAssets{})
	_, err := m.Deposit(context.Background(), "alice", "req-1", decimal.Zero)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidationError))
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(10)}
	m := newManagerForTest(balances, &fakeAssetBalances{}, &fakeAssetTransactions{}, newFakeOrders(), &fakeAssets{})

	_, err := m.Withdraw(context.Background(), "alice", "req-1", decimal.NewFromInt(50))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindInsufficientBalance))
	assert.Empty(t, balances.transactions)
}

func TestWithdrawDebitsBalance(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(100)}
	m := newManagerForTest(balances, &fakeAssetBalances{}, &fakeAssetTransactions{}, newFakeOrders(), &fakeAssets{})

	result, err := m.Withdraw(context.Background(), "alice", "req-1", decimal.NewFromInt(40))
	require.NoError(t, err)
	assert.True(t, result.Balance.CurrentBalance.Equal(decimal.NewFromInt(60)))
}

func TestDepositCompensatesLedgerOnBalanceUpdateFailure(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(100), failApply: true}
	m := newManagerForTest(balances, &fakeAssetBalances{}, &fakeAssetTransactions{}, newFakeOrders(), &fakeAssets{})

	_, err := m.Deposit(context.Background(), "alice", "req-1", decimal.NewFromInt(50))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindStoreUnavailable))
	require.Len(t, balances.transactions, 1)
	assert.Equal(t, []string{balances.transactions[0].Sk}, balances.markedFailed)
}

func TestWithdrawCompensatesLedgerOnBalanceUpdateFailure(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(100), failApply: true}
	m := newManagerForTest(balances, &fakeAssetBalances{}, &fakeAssetTransactions{}, newFakeOrders(), &fakeAssets{})

	_, err := m.Withdraw(context.Background(), "alice", "req-1", decimal.NewFromInt(40))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindStoreUnavailable))
	require.Len(t, balances.transactions, 1)
	assert.Equal(t, []string{balances.transactions[0].Sk}, balances.markedFailed)
}

func assetCatalog1BTCAt(price int64) *fakeAssets {
	return &fakeAssets{assets: map[string]entities.Asset{
		"BTC": {AssetID: "BTC", PriceUSD: decimal.NewFromInt(price), IsActive: true},
	}}
}

func TestBuyOrderInsufficientBalance(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(10)}
	m := newManagerForTest(balances, &fakeAssetBalances{}, &fakeAssetTransactions{}, newFakeOrders(), assetCatalog1BTCAt(100))

	_, err := m.BuyOrder(context.Background(), "alice", "req-1", "BTC", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindInsufficientBalance))
}

func TestBuyOrderSucceeds(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(1000)}
	assetBalances := &fakeAssetBalances{}
	assetTxns := &fakeAssetTransactions{}
	orders := newFakeOrders()
	m := newManagerForTest(balances, assetBalances, assetTxns, orders, assetCatalog1BTCAt(100))

	result, err := m.BuyOrder(context.Background(), "alice", "req-1", "BTC", decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.True(t, result.Balance.CurrentBalance.Equal(decimal.NewFromInt(800)))
	assert.True(t, assetBalances.quantity.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, entities.OrderStatusCompleted, result.Order.Status)
	assert.Len(t, assetTxns.created, 1)
}

func TestBuyOrderRefundsOnAssetCreditFailure(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(1000)}
	assetBalances := &fakeAssetBalances{failApply: true}
	orders := newFakeOrders()
	m := newManagerForTest(balances, assetBalances, &fakeAssetTransactions{}, orders, assetCatalog1BTCAt(100))

	_, err := m.BuyOrder(context.Background(), "alice", "req-1", "BTC", decimal.NewFromInt(2))
	require.Error(t, err)

	// cash debited then refunded nets back to the starting balance
	assert.True(t, balances.balance.Equal(decimal.NewFromInt(1000)))
	require.Len(t, orders.orders, 1)
	for _, o := range orders.orders {
		assert.Equal(t, entities.OrderStatusFailed, o.Status)
	}
}

func TestBuyOrderMarksFailedOnOrderPaymentFailure(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(1000), failApply: true}
	assetBalances := &fakeAssetBalances{}
	orders := newFakeOrders()
	m := newManagerForTest(balances, assetBalances, &fakeAssetTransactions{}, orders, assetCatalog1BTCAt(100))

	_, err := m.BuyOrder(context.Background(), "alice", "req-1", "BTC", decimal.NewFromInt(2))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindStoreUnavailable))

	// nothing was credited to the asset side, and the order-payment
	// ledger row is compensated rather than left dangling
	assert.True(t, assetBalances.quantity.IsZero())
	require.Len(t, balances.transactions, 1)
	assert.Equal(t, []string{balances.transactions[0].Sk}, balances.markedFailed)
	require.Len(t, orders.orders, 1)
	for _, o := range orders.orders {
		assert.Equal(t, entities.OrderStatusFailed, o.Status)
	}
}

func TestSellOrderInsufficientAssetBalance(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(100)}
	assetBalances := &fakeAssetBalances{quantity: decimal.NewFromInt(1)}
	m := newManagerForTest(balances, assetBalances, &fakeAssetTransactions{}, newFakeOrders(), assetCatalog1BTCAt(100))

	_, err := m.SellOrder(context.Background(), "alice", "req-1", "BTC", decimal.NewFromInt(5))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindInsufficientAssetBalance))
}

func TestSellOrderSucceeds(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(100)}
	assetBalances := &fakeAssetBalances{quantity: decimal.NewFromInt(5)}
	assetTxns := &fakeAssetTransactions{}
	m := newManagerForTest(balances, assetBalances, assetTxns, newFakeOrders(), assetCatalog1BTCAt(100))

	result, err := m.SellOrder(context.Background(), "alice", "req-1", "BTC", decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.True(t, result.Balance.CurrentBalance.Equal(decimal.NewFromInt(300)))
	assert.True(t, assetBalances.quantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, entities.OrderStatusCompleted, result.Order.Status)

	found := false
	for _, txn := range balances.transactions {
		if txn.Type == entities.TransactionTypeOrderSale {
			found = true
		}
	}
	assert.True(t, found, "expected an ORDER_SALE ledger row")
}

func TestSellOrderMarksFailedOnSaleCreditFailure(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(100), failApply: true}
	assetBalances := &fakeAssetBalances{quantity: decimal.NewFromInt(5)}
	orders := newFakeOrders()
	m := newManagerForTest(balances, assetBalances, &fakeAssetTransactions{}, orders, assetCatalog1BTCAt(100))

	_, err := m.SellOrder(context.Background(), "alice", "req-1", "BTC", decimal.NewFromInt(2))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindStoreUnavailable))

	// the asset debit is restored and the dangling ORDER_SALE ledger
	// row is compensated
	assert.True(t, assetBalances.quantity.Equal(decimal.NewFromInt(5)))
	require.Len(t, balances.transactions, 1)
	assert.Equal(t, []string{balances.transactions[0].Sk}, balances.markedFailed)
	require.Len(t, orders.orders, 1)
	for _, o := range orders.orders {
		assert.Equal(t, entities.OrderStatusFailed, o.Status)
	}
}

func TestGetBalanceGoesThroughLock(t *testing.T) {
	balances := &fakeBalances{balance: decimal.NewFromInt(42)}
	m := newManagerForTest(balances, &fakeAssetBalances{}, &fakeAssetTransactions{}, newFakeOrders(), &fakeAssets{})

	bal, err := m.GetBalance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, bal.CurrentBalance.Equal(decimal.NewFromInt(42)))
}
