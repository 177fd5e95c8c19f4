package dao

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// newLedgerSk derives an append-only ledger row's sort key from the
// write timestamp followed by a short uuid suffix. The suffix is
// appended to every key, not only on a collision, so two rows written
// at the same instant still get distinct keys.
func newLedgerSk(now time.Time) string {
	return fmt.Sprintf("%s#%s", now.UTC().Format(time.RFC3339Nano), uuid.NewString()[:8])
}
