// Package ledger implements the risk engine: accounts, locks, and the
// append-only transaction log that is the single source of truth for every
// balance in the system.
//
// The ledger does not know about markets, positions, or LMSR — it only
// knows that accounts have available and frozen balances, and that frozen
// balances are itemized as Locks. Decimal amounts are stored at full
// precision; rounding is the market engine's responsibility.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"marketcore/pkg/types"
)

// Lock is a typed receipt for frozen credits owned by one account in one
// market. At most one Lock exists per (account, market, lock type); a Lock
// is created when frozen credits first acquire a new type and removed when
// its amount reaches zero.
type Lock struct {
	ID        int
	AccountID int
	MarketID  int
	Amount    decimal.Decimal
	Type      types.LockType
	CreatedAt time.Time
}

// Account holds two non-negative balances — Available (free to spend) and
// Frozen (the sum of all its locks) — plus the locks themselves. Accounts
// are created explicitly and never destroyed.
type Account struct {
	ID        int
	Available decimal.Decimal
	Frozen    decimal.Decimal
	Locks     []*Lock
	CreatedAt time.Time
}

// LockByID returns the account's lock with the given id, or nil.
func (a *Account) LockByID(id int) *Lock {
	for _, l := range a.Locks {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// LockByMarketAndType returns the account's lock for (marketID, lockType),
// or nil. At most one can exist per the data model's lock invariant.
func (a *Account) LockByMarketAndType(marketID int, lockType types.LockType) *Lock {
	for _, l := range a.Locks {
		if l.MarketID == marketID && l.Type == lockType {
			return l
		}
	}
	return nil
}

func (a *Account) removeLock(id int) {
	for i, l := range a.Locks {
		if l.ID == id {
			a.Locks = append(a.Locks[:i], a.Locks[i+1:]...)
			return
		}
	}
}

// Transaction is an append-only ledger entry recording one balance change.
// The transaction log is the audit trail; account balances are its folded
// result.
type Transaction struct {
	ID             int
	AccountID      int
	AvailableDelta decimal.Decimal
	FrozenDelta    decimal.Decimal
	Reason         types.Reason
	MarketID       int // 0 if not associated with a market
	TradeID        int // 0 if not associated with a trade
	LockID         int // 0 if not associated with a lock
	CreatedAt      time.Time
}
