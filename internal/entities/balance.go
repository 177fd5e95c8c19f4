package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// FiatScale is the number of fractional digits fiat amounts round to.
const FiatScale = 2

// Balance is a user's fiat cash position. It is mutated only through
// BalanceTransaction application (spec §3); current_balance must never
// go negative at rest (invariant I2).
type Balance struct {
	Username       string          `json:"username"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Valid reports whether the balance satisfies the at-rest invariant.
func (b Balance) Valid() bool {
	return !b.CurrentBalance.IsNegative()
}

// BalanceTransaction is an append-only signed ledger entry on a user's
// cash account. Sk is an ISO-8601 timestamp followed by a short UUID
// suffix, appended to every row so same-instant writes never collide.
type BalanceTransaction struct {
	Username      string             `json:"username"`
	Sk            string             `json:"sk"`
	TransactionID string             `json:"transaction_id"`
	Type          TransactionType    `json:"type"`
	Amount        decimal.Decimal    `json:"amount"`
	Description   string             `json:"description"`
	Status        TransactionStatus  `json:"status"`
	ReferenceID   *string            `json:"reference_id,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}
