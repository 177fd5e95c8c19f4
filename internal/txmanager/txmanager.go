// Package txmanager implements the Transaction Manager (C5): the
// single place that acquires a user's lock, re-validates preconditions
// under it, and drives the multi-step writes spec §4.4 describes for
// deposits, withdrawals, and buy/sell orders. Every method here is
// translated directly from original_source's transaction_manager.py —
// same step order, same compensating-action policy on partial failure.
package txmanager

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/entities"
	"cnop-transactional-core/internal/obslog"
)

// balanceStore is the slice of BalanceDAO the manager needs.
type balanceStore interface {
	GetBalance(ctx context.Context, username string) (*entities.Balance, error)
	CreateTransaction(ctx context.Context, username string, txn entities.BalanceTransaction) (*entities.BalanceTransaction, error)
	MarkTransactionFailed(ctx context.Context, username, sk string) error
	ApplyDelta(ctx context.Context, username string, delta decimal.Decimal) (*entities.Balance, error)
}

// assetBalanceStore is the slice of AssetBalanceDAO the manager needs.
type assetBalanceStore interface {
	Get(ctx context.Context, username, assetID string) (*entities.AssetBalance, error)
	ApplyDelta(ctx context.Context, username, assetID string, delta decimal.Decimal) (*entities.AssetBalance, error)
}

// assetTransactionStore is the slice of AssetTransactionDAO the
// manager needs.
type assetTransactionStore interface {
	Create(ctx context.Context, txn entities.AssetTransaction) (*entities.AssetTransaction, error)
}

// orderStore is the slice of OrderDAO the manager needs.
type orderStore interface {
	Create(ctx context.Context, order entities.Order) (*entities.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next entities.OrderStatus, actor entities.Actor) (*entities.Order, error)
}

// assetCatalog is the slice of AssetDAO the manager needs to price an
// order (C12's collaborator, read-only).
type assetCatalog interface {
	Get(ctx context.Context, assetID string) (*entities.Asset, error)
}

// locker is the slice of lockmgr.Manager the manager needs.
type locker interface {
	WithLock(ctx context.Context, username string, op entities.LockOperation, fn func(ctx context.Context) error) error
}

// Manager drives every mutating cash/asset operation.
type Manager struct {
	balances          balanceStore
	assetBalances     assetBalanceStore
	assetTransactions assetTransactionStore
	orders            orderStore
	assets            assetCatalog
	locks             locker
	log               obslog.ActionLogger
}

// New builds a Manager from its collaborators. log may be nil, in
// which case obslog.Noop() is used.
func New(balances balanceStore, assetBalances assetBalanceStore, assetTransactions assetTransactionStore, orders orderStore, assets assetCatalog, locks locker, log obslog.ActionLogger) *Manager {
	if log == nil {
		log = obslog.Noop()
	}
	return &Manager{
		balances:          balances,
		assetBalances:     assetBalances,
		assetTransactions: assetTransactions,
		orders:            orders,
		assets:            assets,
		locks:             locks,
		log:               log,
	}
}

// Result is the outcome of a mutating operation: the resulting
// balance and, for order operations, the order that was created.
type Result struct {
	Balance *entities.Balance
	Order   *entities.Order
}

// Deposit credits amount to username's cash balance.
func (m *Manager) Deposit(ctx context.Context, username, requestID string, amount decimal.Decimal) (*Result, error) {
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.KindValidationError, "deposit amount must be positive")
	}

	var result *Result
	err := m.locks.WithLock(ctx, username, entities.LockOperationDeposit, func(ctx context.Context) error {
		txn, err := m.balances.CreateTransaction(ctx, username, entities.BalanceTransaction{
			Type:        entities.TransactionTypeDeposit,
			Amount:      amount,
			Description: "deposit",
			Status:      entities.TransactionStatusCompleted,
		})
		if err != nil {
			return err
		}

		bal, err := m.balances.ApplyDelta(ctx, username, amount)
		if err != nil {
			// Balance update failed: compensate by marking the ledger
			// row FAILED rather than leaving it a dangling credit, then
			// surface StoreUnavailable (spec §4.4.1).
			if cErr := m.balances.MarkTransactionFailed(ctx, username, txn.Sk); cErr != nil {
				m.log.Log(obslog.Event{
					RequestID: requestID, Username: username, Operation: "deposit",
					Outcome: obslog.OutcomeFailure, Critical: true,
					Detail: fmt.Sprintf("ledger row %s could not be compensated after balance update failure: %v", txn.Sk, cErr),
				})
			}
			m.log.Log(obslog.Event{
				RequestID: requestID, Username: username, Operation: "deposit",
				Outcome: obslog.OutcomeFailure, Critical: true,
				Detail: fmt.Sprintf("ledger row %s created but balance update failed, compensated: %v", txn.Sk, err),
			})
			return apperrors.Wrap(apperrors.KindStoreUnavailable, "deposit failed", err)
		}
		result = &Result{Balance: bal}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Log(obslog.Event{RequestID: requestID, Username: username, Operation: "deposit", Outcome: obslog.OutcomeSuccess})
	return result, nil
}

// Withdraw debits amount from username's cash balance, rejecting the
// request if it would leave the balance negative (I2).
func (m *Manager) Withdraw(ctx context.Context, username, requestID string, amount decimal.Decimal) (*Result, error) {
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.KindValidationError, "withdraw amount must be positive")
	}

	var result *Result
	err := m.locks.WithLock(ctx, username, entities.LockOperationWithdraw, func(ctx context.Context) error {
		bal, err := m.balances.GetBalance(ctx, username)
		if err != nil {
			return err
		}
		if bal.CurrentBalance.LessThan(amount) {
			return apperrors.New(apperrors.KindInsufficientBalance, "insufficient balance for withdrawal")
		}

		txn, err := m.balances.CreateTransaction(ctx, username, entities.BalanceTransaction{
			Type:        entities.TransactionTypeWithdraw,
			Amount:      amount.Neg(),
			Description: "withdrawal",
			Status:      entities.TransactionStatusCompleted,
		})
		if err != nil {
			return err
		}

		updated, err := m.balances.ApplyDelta(ctx, username, amount.Neg())
		if err != nil {
			if cErr := m.balances.MarkTransactionFailed(ctx, username, txn.Sk); cErr != nil {
				m.log.Log(obslog.Event{
					RequestID: requestID, Username: username, Operation: "withdraw",
					Outcome: obslog.OutcomeFailure, Critical: true,
					Detail: fmt.Sprintf("ledger row %s could not be compensated after balance update failure: %v", txn.Sk, cErr),
				})
			}
			m.log.Log(obslog.Event{
				RequestID: requestID, Username: username, Operation: "withdraw",
				Outcome: obslog.OutcomeFailure, Critical: true,
				Detail: fmt.Sprintf("ledger row %s created but balance update failed, compensated: %v", txn.Sk, err),
			})
			return apperrors.Wrap(apperrors.KindStoreUnavailable, "withdraw failed", err)
		}
		result = &Result{Balance: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Log(obslog.Event{RequestID: requestID, Username: username, Operation: "withdraw", Outcome: obslog.OutcomeSuccess})
	return result, nil
}

// BuyOrder creates a BUY order for quantity of assetID at its current
// catalog price, debits the total cost from cash, and credits the
// asset holding. Step order mirrors
// create_buy_order_with_balance_update: (1) price and validate funds,
// (2) create order, (3) debit cash ledger+balance, (4) credit asset
// holding, (5) append the asset ledger row. A failure at step 4
// refunds the cash debit and marks the order FAILED; a failure at
// step 5 is logged but not rolled back, since the holding is already
// correct and only the audit trail is incomplete.
func (m *Manager) BuyOrder(ctx context.Context, username, requestID, assetID string, quantity decimal.Decimal) (*Result, error) {
	if !quantity.IsPositive() {
		return nil, apperrors.New(apperrors.KindValidationError, "order quantity must be positive")
	}

	var result *Result
	err := m.locks.WithLock(ctx, username, entities.LockOperationBuyOrder, func(ctx context.Context) error {
		asset, err := m.assets.Get(ctx, assetID)
		if err != nil {
			return err
		}
		if !asset.IsActive {
			return apperrors.New(apperrors.KindValidationError, "asset "+assetID+" is not active")
		}
		total := asset.PriceUSD.Mul(quantity).Round(entities.FiatScale)

		bal, err := m.balances.GetBalance(ctx, username)
		if err != nil {
			return err
		}
		if bal.CurrentBalance.LessThan(total) {
			return apperrors.New(apperrors.KindInsufficientBalance, "insufficient balance for order")
		}

		order, err := m.orders.Create(ctx, entities.Order{
			Username: username, OrderType: entities.OrderTypeBuy, AssetID: assetID,
			Quantity: quantity, Price: asset.PriceUSD, TotalAmount: total,
		})
		if err != nil {
			return err
		}

		payTxn, err := m.balances.CreateTransaction(ctx, username, entities.BalanceTransaction{
			Type: entities.TransactionTypeOrderPayment, Amount: total.Neg(),
			Description: "buy order " + order.OrderID, Status: entities.TransactionStatusCompleted,
			ReferenceID: &order.OrderID,
		})
		if err != nil {
			m.failOrder(ctx, requestID, username, order.OrderID, "buy_order: order-payment ledger write failed")
			return err
		}
		newBalance, err := m.balances.ApplyDelta(ctx, username, total.Neg())
		if err != nil {
			if cErr := m.balances.MarkTransactionFailed(ctx, username, payTxn.Sk); cErr != nil {
				m.log.Log(obslog.Event{
					RequestID: requestID, Username: username, Operation: "buy_order",
					Outcome: obslog.OutcomeFailure, Critical: true,
					Detail: fmt.Sprintf("order %s ledger row %s could not be compensated after balance debit failure: %v", order.OrderID, payTxn.Sk, cErr),
				})
			}
			m.failOrder(ctx, requestID, username, order.OrderID, "buy_order: order-payment balance debit failed")
			m.log.Log(obslog.Event{
				RequestID: requestID, Username: username, Operation: "buy_order",
				Outcome: obslog.OutcomeFailure, Critical: true,
				Detail: fmt.Sprintf("order %s ledger row %s created but balance debit failed, compensated: %v", order.OrderID, payTxn.Sk, err),
			})
			return apperrors.Wrap(apperrors.KindStoreUnavailable, "buy order failed", err)
		}

		if _, err := m.assetBalances.ApplyDelta(ctx, username, assetID, quantity); err != nil {
			m.compensateFailedOrder(ctx, requestID, username, order, total, "buy_order: asset credit failed, refunding")
			return err
		}

		if _, err := m.assetTransactions.Create(ctx, entities.AssetTransaction{
			Username: username, AssetID: assetID, Type: entities.AssetTransactionBuy,
			Quantity: quantity, Price: asset.PriceUSD, TotalAmount: total, OrderID: order.OrderID,
		}); err != nil {
			m.log.Log(obslog.Event{
				RequestID: requestID, Username: username, Operation: "buy_order",
				Outcome: obslog.OutcomeFailure, Critical: false,
				Detail: fmt.Sprintf("order %s asset ledger write failed: %v", order.OrderID, err),
			})
		}

		if _, err := m.orders.UpdateStatus(ctx, order.OrderID, entities.OrderStatusCompleted, entities.ActorSystem); err != nil {
			return err
		}
		order.Status = entities.OrderStatusCompleted
		result = &Result{Balance: newBalance, Order: order}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Log(obslog.Event{RequestID: requestID, Username: username, Operation: "buy_order", Outcome: obslog.OutcomeSuccess})
	return result, nil
}

// SellOrder creates a SELL order for quantity of assetID at its
// current catalog price, debits the asset holding, and credits cash
// proceeds (ledgered as ORDER_SALE per spec.md §9). Step order and
// compensation policy mirror BuyOrder with cash and asset sides
// swapped.
func (m *Manager) SellOrder(ctx context.Context, username, requestID, assetID string, quantity decimal.Decimal) (*Result, error) {
	if !quantity.IsPositive() {
		return nil, apperrors.New(apperrors.KindValidationError, "order quantity must be positive")
	}

	var result *Result
	err := m.locks.WithLock(ctx, username, entities.LockOperationSellOrder, func(ctx context.Context) error {
		asset, err := m.assets.Get(ctx, assetID)
		if err != nil {
			return err
		}
		if !asset.IsActive {
			return apperrors.New(apperrors.KindValidationError, "asset "+assetID+" is not active")
		}

		holding, err := m.assetBalances.Get(ctx, username, assetID)
		if err != nil {
			return err
		}
		if holding.Quantity.LessThan(quantity) {
			return apperrors.New(apperrors.KindInsufficientAssetBalance, "insufficient asset balance for order")
		}

		total := asset.PriceUSD.Mul(quantity).Round(entities.FiatScale)

		order, err := m.orders.Create(ctx, entities.Order{
			Username: username, OrderType: entities.OrderTypeSell, AssetID: assetID,
			Quantity: quantity, Price: asset.PriceUSD, TotalAmount: total,
		})
		if err != nil {
			return err
		}

		if _, err := m.assetBalances.ApplyDelta(ctx, username, assetID, quantity.Neg()); err != nil {
			if _, uErr := m.orders.UpdateStatus(ctx, order.OrderID, entities.OrderStatusFailed, entities.ActorSystem); uErr != nil {
				m.log.Log(obslog.Event{
					RequestID: requestID, Username: username, Operation: "sell_order",
					Outcome: obslog.OutcomeFailure, Critical: true,
					Detail: fmt.Sprintf("order %s could not be marked FAILED after asset debit failure: %v", order.OrderID, uErr),
				})
			}
			return err
		}

		saleTxn, err := m.balances.CreateTransaction(ctx, username, entities.BalanceTransaction{
			Type: entities.TransactionTypeOrderSale, Amount: total,
			Description: "sell order " + order.OrderID, Status: entities.TransactionStatusCompleted,
			ReferenceID: &order.OrderID,
		})
		if err != nil {
			m.compensateFailedAssetDebit(ctx, requestID, username, assetID, order, quantity, "sell_order: cash ledger write failed, refunding asset")
			return err
		}

		newBalance, err := m.balances.ApplyDelta(ctx, username, total)
		if err != nil {
			if cErr := m.balances.MarkTransactionFailed(ctx, username, saleTxn.Sk); cErr != nil {
				m.log.Log(obslog.Event{
					RequestID: requestID, Username: username, Operation: "sell_order",
					Outcome: obslog.OutcomeFailure, Critical: true,
					Detail: fmt.Sprintf("order %s ledger row %s could not be compensated after balance credit failure: %v", order.OrderID, saleTxn.Sk, cErr),
				})
			}
			m.compensateFailedAssetDebit(ctx, requestID, username, assetID, order, quantity, "sell_order: cash balance credit failed, refunding asset")
			m.log.Log(obslog.Event{
				RequestID: requestID, Username: username, Operation: "sell_order",
				Outcome: obslog.OutcomeFailure, Critical: true,
				Detail: fmt.Sprintf("order %s ledger row %s created but balance credit failed, compensated: %v", order.OrderID, saleTxn.Sk, err),
			})
			return apperrors.Wrap(apperrors.KindStoreUnavailable, "sell order failed", err)
		}

		if _, err := m.assetTransactions.Create(ctx, entities.AssetTransaction{
			Username: username, AssetID: assetID, Type: entities.AssetTransactionSell,
			Quantity: quantity, Price: asset.PriceUSD, TotalAmount: total, OrderID: order.OrderID,
		}); err != nil {
			m.log.Log(obslog.Event{
				RequestID: requestID, Username: username, Operation: "sell_order",
				Outcome: obslog.OutcomeFailure, Critical: false,
				Detail: fmt.Sprintf("order %s asset ledger write failed: %v", order.OrderID, err),
			})
		}

		if _, err := m.orders.UpdateStatus(ctx, order.OrderID, entities.OrderStatusCompleted, entities.ActorSystem); err != nil {
			return err
		}
		order.Status = entities.OrderStatusCompleted
		result = &Result{Balance: newBalance, Order: order}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Log(obslog.Event{RequestID: requestID, Username: username, Operation: "sell_order", Outcome: obslog.OutcomeSuccess})
	return result, nil
}

// compensateFailedOrder refunds a cash debit and marks order FAILED
// after a downstream step (the asset credit) could not be applied —
// spec.md §9's resolved compensation policy for BuyOrder.
func (m *Manager) compensateFailedOrder(ctx context.Context, requestID, username string, order *entities.Order, total decimal.Decimal, reason string) {
	if _, err := m.balances.CreateTransaction(ctx, username, entities.BalanceTransaction{
		Type: entities.TransactionTypeRefund, Amount: total,
		Description: "refund for failed order " + order.OrderID, Status: entities.TransactionStatusCompleted,
		ReferenceID: &order.OrderID,
	}); err != nil {
		m.log.Log(obslog.Event{RequestID: requestID, Username: username, Operation: "compensate_order", Outcome: obslog.OutcomeFailure, Critical: true, Detail: reason + ": refund ledger write failed: " + err.Error()})
		return
	}
	if _, err := m.balances.ApplyDelta(ctx, username, total); err != nil {
		m.log.Log(obslog.Event{RequestID: requestID, Username: username, Operation: "compensate_order", Outcome: obslog.OutcomeFailure, Critical: true, Detail: reason + ": refund balance update failed: " + err.Error()})
	}
	if _, err := m.orders.UpdateStatus(ctx, order.OrderID, entities.OrderStatusFailed, entities.ActorSystem); err != nil {
		m.log.Log(obslog.Event{RequestID: requestID, Username: username, Operation: "compensate_order", Outcome: obslog.OutcomeFailure, Critical: true, Detail: reason + ": could not mark order FAILED: " + err.Error()})
	}
}

// compensateFailedAssetDebit restores an asset debit and marks order
// FAILED after a downstream step (the cash ledger write or the cash
// balance credit) could not be applied — SellOrder's mirror of
// compensateFailedOrder.
func (m *Manager) compensateFailedAssetDebit(ctx context.Context, requestID, username, assetID string, order *entities.Order, quantity decimal.Decimal, reason string) {
	if _, err := m.assetBalances.ApplyDelta(ctx, username, assetID, quantity); err != nil {
		m.log.Log(obslog.Event{RequestID: requestID, Username: username, Operation: "compensate_order", Outcome: obslog.OutcomeFailure, Critical: true, Detail: reason + ": asset refund failed: " + err.Error()})
	}
	if _, err := m.orders.UpdateStatus(ctx, order.OrderID, entities.OrderStatusFailed, entities.ActorSystem); err != nil {
		m.log.Log(obslog.Event{RequestID: requestID, Username: username, Operation: "compensate_order", Outcome: obslog.OutcomeFailure, Critical: true, Detail: reason + ": could not mark order FAILED: " + err.Error()})
	}
}

// failOrder marks order FAILED with no compensating cash/asset
// movement — used when the order-payment step itself never moved
// money, so there is nothing to refund, only the order's terminal
// state to fix up (spec §4.4.3's step 3 failure policy).
func (m *Manager) failOrder(ctx context.Context, requestID, username, orderID, reason string) {
	if _, err := m.orders.UpdateStatus(ctx, orderID, entities.OrderStatusFailed, entities.ActorSystem); err != nil {
		m.log.Log(obslog.Event{RequestID: requestID, Username: username, Operation: "compensate_order", Outcome: obslog.OutcomeFailure, Critical: true, Detail: reason + ": could not mark order FAILED: " + err.Error()})
	}
}

// GetBalance acquires the (short) get_balance lock before reading, so
// a balance read never interleaves with a concurrent mutation's
// multi-step write.
func (m *Manager) GetBalance(ctx context.Context, username string) (*entities.Balance, error) {
	var bal *entities.Balance
	err := m.locks.WithLock(ctx, username, entities.LockOperationGetBalance, func(ctx context.Context) error {
		var err error
		bal, err = m.balances.GetBalance(ctx, username)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}
