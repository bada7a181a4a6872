// Package ledger implements the append-only ledger and balance cache
// described in spec.md §4.6: every balance mutation goes through
// append(), which serializes per-(user, asset) via a PostgreSQL
// advisory lock and enforces the non-negativity and precision
// invariants.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType enumerates the kinds of ledger movement, per spec.md §3.
type EntryType string

const (
	Deposit    EntryType = "deposit"
	Withdrawal EntryType = "withdrawal"
	Trade      EntryType = "trade"
	Fee        EntryType = "fee"
	Lock       EntryType = "lock"
	Unlock     EntryType = "unlock"
)

// Entry is one immutable row of the ledger.
type Entry struct {
	ID           uuid.UUID
	User         uuid.UUID
	Asset        string
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Type         EntryType
	Reference    *uuid.UUID
	Description  *string
	CreatedAt    time.Time
}
