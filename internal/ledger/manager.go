package ledger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketcore/internal/counters"
	"marketcore/pkg/types"
)

// Manager is the risk engine: it owns every account, every lock, and the
// transaction log, and is the only component permitted to mutate a
// balance. All methods are synchronous and individually atomic — each
// produces zero or one Transaction, except TransferAvailable and
// TransferFrozen, which produce one per side. Callers needing multi-step atomicity
// (the market engine) compose these primitives under their own critical
// section; Manager itself takes no lock of its own beyond what's needed to
// protect its internal maps, since it is only ever driven by the
// single-writer engine above it.
type Manager struct {
	mu           sync.Mutex
	logger       *slog.Logger
	counters     *counters.Service
	accounts     map[int]*Account
	transactions []*Transaction
}

// NewManager constructs an empty risk engine sharing the given counters
// service with the rest of the engine.
func NewManager(c *counters.Service, logger *slog.Logger) *Manager {
	return &Manager{
		logger:   logger.With("component", "ledger"),
		counters: c,
		accounts: make(map[int]*Account),
	}
}

// CreateAccount allocates a fresh, zero-balance account.
func (m *Manager) CreateAccount() *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := &Account{
		ID:        m.counters.Next(counters.Account),
		Available: decimal.Zero,
		Frozen:    decimal.Zero,
		CreatedAt: time.Now(),
	}
	m.accounts[acc.ID] = acc
	m.logger.Debug("account created", "account_id", acc.ID)
	return acc
}

// GetAccount returns the account by id, or an account_not_found error.
func (m *Manager) GetAccount(accountID int) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAccountLocked(accountID)
}

func (m *Manager) getAccountLocked(accountID int) (*Account, error) {
	acc, ok := m.accounts[accountID]
	if !ok {
		return nil, types.NewError(types.ErrAccountNotFound, "account", fmt.Sprint(accountID), "must exist")
	}
	return acc, nil
}

func (m *Manager) appendTx(tx *Transaction) *Transaction {
	tx.ID = m.counters.Next(counters.Transaction)
	tx.CreatedAt = time.Now()
	m.transactions = append(m.transactions, tx)
	return tx
}

// Mint adds credits to an account's available balance. This is the sole
// entry point for new credits into the system.
func (m *Manager) Mint(accountID int, amount decimal.Decimal) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !amount.IsPositive() {
		return nil, types.NewError(types.ErrInvalidAmount, "account", fmt.Sprint(accountID), "amount must be > 0")
	}
	acc, err := m.getAccountLocked(accountID)
	if err != nil {
		return nil, err
	}
	acc.Available = acc.Available.Add(amount)
	tx := m.appendTx(&Transaction{
		AccountID:      accountID,
		AvailableDelta: amount,
		FrozenDelta:    decimal.Zero,
		Reason:         types.ReasonMint,
	})
	m.logger.Debug("minted", "account_id", accountID, "amount", amount.String())
	return tx, nil
}

// Lock moves amount from available to frozen and creates a new Lock of the
// given type in marketID. Fails with insufficient_balance if available is
// too low.
func (m *Manager) Lock(accountID, marketID int, amount decimal.Decimal, lockType types.LockType, tradeID int) (*Lock, *Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !amount.IsPositive() {
		return nil, nil, types.NewError(types.ErrInvalidAmount, "account", fmt.Sprint(accountID), "amount must be > 0")
	}
	acc, err := m.getAccountLocked(accountID)
	if err != nil {
		return nil, nil, err
	}
	if acc.Available.LessThan(amount) {
		return nil, nil, types.NewError(types.ErrInsufficientBal, "account", fmt.Sprint(accountID),
			fmt.Sprintf("available %s < %s", acc.Available, amount))
	}
	lk := &Lock{
		ID:        m.counters.Next(counters.Lock),
		AccountID: accountID,
		MarketID:  marketID,
		Amount:    amount,
		Type:      lockType,
		CreatedAt: time.Now(),
	}
	acc.Available = acc.Available.Sub(amount)
	acc.Frozen = acc.Frozen.Add(amount)
	acc.Locks = append(acc.Locks, lk)
	tx := m.appendTx(&Transaction{
		AccountID:      accountID,
		AvailableDelta: amount.Neg(),
		FrozenDelta:    amount,
		Reason:         types.ReasonLock,
		MarketID:       marketID,
		TradeID:        tradeID,
		LockID:         lk.ID,
	})
	return lk, tx, nil
}

// IncreaseLock grows an existing lock by amount, moving more credits from
// available to frozen.
func (m *Manager) IncreaseLock(lockID int, amount decimal.Decimal, tradeID int) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !amount.IsPositive() {
		return nil, types.NewError(types.ErrInvalidAmount, "lock", fmt.Sprint(lockID), "amount must be > 0")
	}
	lk, acc, err := m.findLockLocked(lockID)
	if err != nil {
		return nil, err
	}
	if acc.Available.LessThan(amount) {
		return nil, types.NewError(types.ErrInsufficientBal, "account", fmt.Sprint(acc.ID),
			fmt.Sprintf("available %s < %s", acc.Available, amount))
	}
	lk.Amount = lk.Amount.Add(amount)
	acc.Available = acc.Available.Sub(amount)
	acc.Frozen = acc.Frozen.Add(amount)
	return m.appendTx(&Transaction{
		AccountID:      acc.ID,
		AvailableDelta: amount.Neg(),
		FrozenDelta:    amount,
		Reason:         types.ReasonIncreaseLock,
		MarketID:       lk.MarketID,
		TradeID:        tradeID,
		LockID:         lk.ID,
	}), nil
}

// decreaseLockLocked is the shared body of DecreaseLock and ReleaseLock.
// Called with m.mu already held.
func (m *Manager) decreaseLockLocked(lockID int, amount decimal.Decimal, reason types.Reason, tradeID int) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, types.NewError(types.ErrInvalidAmount, "lock", fmt.Sprint(lockID), "amount must be > 0")
	}
	lk, acc, err := m.findLockLocked(lockID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(lk.Amount) {
		return nil, types.NewError(types.ErrInvalidAmount, "lock", fmt.Sprint(lockID),
			fmt.Sprintf("decrease %s exceeds locked %s", amount, lk.Amount))
	}
	lk.Amount = lk.Amount.Sub(amount)
	acc.Frozen = acc.Frozen.Sub(amount)
	acc.Available = acc.Available.Add(amount)
	if lk.Amount.IsZero() {
		acc.removeLock(lk.ID)
	}
	return m.appendTx(&Transaction{
		AccountID:      acc.ID,
		AvailableDelta: amount,
		FrozenDelta:    amount.Neg(),
		Reason:         reason,
		MarketID:       lk.MarketID,
		TradeID:        tradeID,
		LockID:         lockID,
	}), nil
}

// DecreaseLock shrinks an existing lock by amount, moving credits back from
// frozen to available. If the lock reaches zero it is removed.
func (m *Manager) DecreaseLock(lockID int, amount decimal.Decimal, tradeID int) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decreaseLockLocked(lockID, amount, types.ReasonDecreaseLock, tradeID)
}

// ReleaseLock decreases a lock by its entire remaining amount, atomically:
// the amount read and the decrease it drives happen under one mutex
// acquisition, so a concurrent IncreaseLock on the same lock can never
// widen the window between reading lk.Amount and releasing it.
func (m *Manager) ReleaseLock(lockID int) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, _, err := m.findLockLocked(lockID)
	if err != nil {
		return nil, err
	}
	return m.decreaseLockLocked(lockID, lk.Amount, types.ReasonReleaseLock, 0)
}

// SettleLock removes a lock entirely, releasing its frozen amount and
// crediting payout (which may be less than, equal to, or greater than the
// locked amount) to available.
func (m *Manager) SettleLock(lockID int, payout decimal.Decimal) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if payout.IsNegative() {
		return nil, types.NewError(types.ErrInvalidAmount, "lock", fmt.Sprint(lockID), "payout must be >= 0")
	}
	lk, acc, err := m.findLockLocked(lockID)
	if err != nil {
		return nil, err
	}
	frozenReleased := lk.Amount
	acc.Frozen = acc.Frozen.Sub(frozenReleased)
	acc.Available = acc.Available.Add(payout)
	acc.removeLock(lockID)
	return m.appendTx(&Transaction{
		AccountID:      acc.ID,
		AvailableDelta: payout,
		FrozenDelta:    frozenReleased.Neg(),
		Reason:         types.ReasonSettlement,
		MarketID:       lk.MarketID,
		LockID:         lockID,
	}), nil
}

// TransferAvailable atomically debits from's available balance and credits
// to's, emitting one transaction per side tagged with the same reason.
func (m *Manager) TransferAvailable(fromID, toID int, amount decimal.Decimal) (*Transaction, *Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !amount.IsPositive() {
		return nil, nil, types.NewError(types.ErrInvalidAmount, "account", fmt.Sprint(fromID), "amount must be > 0")
	}
	from, err := m.getAccountLocked(fromID)
	if err != nil {
		return nil, nil, err
	}
	to, err := m.getAccountLocked(toID)
	if err != nil {
		return nil, nil, err
	}
	if from.Available.LessThan(amount) {
		return nil, nil, types.NewError(types.ErrInsufficientBal, "account", fmt.Sprint(fromID),
			fmt.Sprintf("available %s < %s", from.Available, amount))
	}
	from.Available = from.Available.Sub(amount)
	to.Available = to.Available.Add(amount)
	txFrom := m.appendTx(&Transaction{AccountID: fromID, AvailableDelta: amount.Neg(), FrozenDelta: decimal.Zero, Reason: types.ReasonTransfer})
	txTo := m.appendTx(&Transaction{AccountID: toID, AvailableDelta: amount, FrozenDelta: decimal.Zero, Reason: types.ReasonTransfer})
	return txFrom, txTo, nil
}

// TransferFrozen atomically moves amount from one lock to a (possibly new)
// lock on a different account, with no change to either side's available
// balance. Used to realize PnL from the AMM's position lock to a trader's
// conditional lock, or back. The destination lock is created or grown; the
// source lock shrinks or is removed.
func (m *Manager) TransferFrozen(fromLockID, toAccountID int, amount decimal.Decimal, toLockType types.LockType, tradeID int) (*Transaction, *Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !amount.IsPositive() {
		return nil, nil, types.NewError(types.ErrInvalidAmount, "lock", fmt.Sprint(fromLockID), "amount must be > 0")
	}
	fromLock, fromAcc, err := m.findLockLocked(fromLockID)
	if err != nil {
		return nil, nil, err
	}
	if amount.GreaterThan(fromLock.Amount) {
		return nil, nil, types.NewError(types.ErrInvalidAmount, "lock", fmt.Sprint(fromLockID),
			fmt.Sprintf("transfer %s exceeds locked %s", amount, fromLock.Amount))
	}
	toAcc, err := m.getAccountLocked(toAccountID)
	if err != nil {
		return nil, nil, err
	}

	fromLock.Amount = fromLock.Amount.Sub(amount)
	fromAcc.Frozen = fromAcc.Frozen.Sub(amount)
	if fromLock.Amount.IsZero() {
		fromAcc.removeLock(fromLock.ID)
	}
	txFrom := m.appendTx(&Transaction{
		AccountID:      fromAcc.ID,
		AvailableDelta: decimal.Zero,
		FrozenDelta:    amount.Neg(),
		Reason:         types.ReasonTransferLock,
		MarketID:       fromLock.MarketID,
		TradeID:        tradeID,
		LockID:         fromLock.ID,
	})

	destLock := toAcc.LockByMarketAndType(fromLock.MarketID, toLockType)
	if destLock == nil {
		destLock = &Lock{
			ID:        m.counters.Next(counters.Lock),
			AccountID: toAccountID,
			MarketID:  fromLock.MarketID,
			Amount:    decimal.Zero,
			Type:      toLockType,
			CreatedAt: time.Now(),
		}
		toAcc.Locks = append(toAcc.Locks, destLock)
	}
	destLock.Amount = destLock.Amount.Add(amount)
	toAcc.Frozen = toAcc.Frozen.Add(amount)
	txTo := m.appendTx(&Transaction{
		AccountID:      toAccountID,
		AvailableDelta: decimal.Zero,
		FrozenDelta:    amount,
		Reason:         types.ReasonTransferLock,
		MarketID:       fromLock.MarketID,
		TradeID:        tradeID,
		LockID:         destLock.ID,
	})
	return txFrom, txTo, nil
}

// LocksByMarket returns every lock tagged with marketID, across all
// accounts. Used by the market engine at resolve/void time.
func (m *Manager) LocksByMarket(marketID int) []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Lock
	for _, acc := range m.accounts {
		for _, l := range acc.Locks {
			if l.MarketID == marketID {
				out = append(out, l)
			}
		}
	}
	return out
}

// CheckAvailable reports whether accountID's available balance is at least
// amount.
func (m *Manager) CheckAvailable(accountID int, amount decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.getAccountLocked(accountID)
	if err != nil {
		return false, err
	}
	return acc.Available.GreaterThanOrEqual(amount), nil
}

// TotalMinted sums every mint transaction's available delta: the total
// credits ever introduced into the system.
func (m *Manager) TotalMinted() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, tx := range m.transactions {
		if tx.Reason == types.ReasonMint {
			total = total.Add(tx.AvailableDelta)
		}
	}
	return total
}

// FindLock locates a lock by id across all accounts.
func (m *Manager) FindLock(lockID int) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, _, err := m.findLockLocked(lockID)
	return lk, err
}

func (m *Manager) findLockLocked(lockID int) (*Lock, *Account, error) {
	for _, acc := range m.accounts {
		if lk := acc.LockByID(lockID); lk != nil {
			return lk, acc, nil
		}
	}
	return nil, nil, types.NewError(types.ErrLockNotFound, "lock", fmt.Sprint(lockID), "must exist")
}

// Transactions returns the full append-only transaction log, in order.
func (m *Manager) Transactions() []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Transaction, len(m.transactions))
	copy(out, m.transactions)
	return out
}

// Accounts returns every account, keyed by id. The returned map and its
// Account values must not be mutated by the caller.
func (m *Manager) Accounts() map[int]*Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]*Account, len(m.accounts))
	for k, v := range m.accounts {
		out[k] = v
	}
	return out
}

// RestoreAccount reinserts an account as-is, used only by snapshot load.
func (m *Manager) RestoreAccount(acc *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acc.ID] = acc
}

// RestoreTransactions replaces the transaction log wholesale, used only by
// snapshot load.
func (m *Manager) RestoreTransactions(txs []*Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = txs
}
