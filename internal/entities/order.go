package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CryptoScale is the number of fractional digits crypto quantities
// round to.
const CryptoScale = 8

// orderTransitions encodes the state machine of SPEC_FULL.md §4.4.5 /
// spec.md §4.4.5: permitted next states per current state.
// PENDING also transitions directly to COMPLETED: spec §4.4.5 notes
// the market-order flow writes COMPLETED straight from PENDING,
// representing the collapsed PENDING->PROCESSING->COMPLETED path market
// orders take since they settle immediately.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled, OrderStatusFailed, OrderStatusCompleted},
	OrderStatusConfirmed:  {OrderStatusQueued, OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusQueued:     {OrderStatusTriggered, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusTriggered:  {OrderStatusProcessing, OrderStatusFailed},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusFailed},
}

// userCancellable is the set of states a user (rather than the
// system) may cancel from.
var userCancellable = map[OrderStatus]bool{
	OrderStatusPending:   true,
	OrderStatusConfirmed: true,
	OrderStatusQueued:    true,
}

// systemOnly is the set of states only the system actor may set.
var systemOnly = map[OrderStatus]bool{
	OrderStatusFailed:  true,
	OrderStatusExpired: true,
}

// Order records a user's intent to buy or sell an asset at a quantity
// and price. Market orders in this model complete immediately.
type Order struct {
	OrderID     string          `json:"order_id"`
	Username    string          `json:"username"`
	OrderType   OrderType       `json:"order_type"`
	Status      OrderStatus     `json:"status"`
	AssetID     string          `json:"asset_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Transition validates and applies a status change per the state
// machine in spec §4.4.5. It never mutates o on failure.
func (o *Order) Transition(next OrderStatus, actor Actor) error {
	if o.Status.Terminal() {
		return fmt.Errorf("order %s is terminal at %s, cannot transition to %s", o.OrderID, o.Status, next)
	}
	if systemOnly[next] && actor != ActorSystem {
		return fmt.Errorf("only the system actor may set status %s", next)
	}
	if next == OrderStatusCancelled && actor == ActorUser && !userCancellable[o.Status] {
		return fmt.Errorf("order %s in state %s is not user-cancellable", o.OrderID, o.Status)
	}
	allowed := orderTransitions[o.Status]
	for _, s := range allowed {
		if s == next {
			o.Status = next
			o.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid order transition %s -> %s", o.Status, next)
}

// AssetBalance is a per-(user, asset) quantity holding. It exists only
// for assets the user has held and must never go negative (I2).
type AssetBalance struct {
	Username  string          `json:"username"`
	AssetID   string          `json:"asset_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AssetTransaction is an append-only ledger entry for a buy/sell of an
// asset, referencing the Order that produced it.
type AssetTransaction struct {
	Username    string               `json:"username"`
	AssetID     string               `json:"asset_id"`
	Sk          string               `json:"sk"`
	Type        AssetTransactionType `json:"type"`
	Quantity    decimal.Decimal      `json:"quantity"`
	Price       decimal.Decimal      `json:"price"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	OrderID     string               `json:"order_id"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Asset is a row in the global, core-read-only inventory catalog.
type Asset struct {
	AssetID  string          `json:"asset_id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	PriceUSD decimal.Decimal `json:"price_usd"`
	Amount   decimal.Decimal `json:"amount"`
	IsActive bool            `json:"is_active"`
}

// Valid enforces "price_usd == 0 => is_active == false" (spec §3).
func (a Asset) Valid() bool {
	if a.PriceUSD.IsZero() && a.IsActive {
		return false
	}
	return true
}
