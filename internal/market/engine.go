package market

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketcore/internal/counters"
	"marketcore/internal/ledger"
	"marketcore/internal/lmsr"
	"marketcore/pkg/types"
)

// Engine owns every Market and delegates all credit motion to a
// *ledger.Manager. It is the only client of the ledger for balance
// mutations; nothing beneath it knows about markets or LMSR.
type Engine struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	ledger   *ledger.Manager
	counters *counters.Service
	markets  map[int]*Market
}

// NewEngine constructs a market engine on top of an existing ledger and
// shared counters service.
func NewEngine(lg *ledger.Manager, c *counters.Service, logger *slog.Logger) *Engine {
	return &Engine{
		logger:   logger.With("component", "market"),
		ledger:   lg,
		counters: c,
		markets:  make(map[int]*Market),
	}
}

func (e *Engine) getMarketLocked(marketID int) (*Market, error) {
	m, ok := e.markets[marketID]
	if !ok {
		return nil, types.NewError(types.ErrMarketNotFound, "market", fmt.Sprint(marketID), "must exist")
	}
	return m, nil
}

func requireOpen(m *Market) error {
	if m.Status != string(types.MarketOpen) {
		return types.NewError(types.ErrMarketClosed, "market", fmt.Sprint(m.ID), fmt.Sprintf("status %q != open", m.Status))
	}
	return nil
}

// GetMarket returns the market by id.
func (e *Engine) GetMarket(marketID int) (*Market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.getMarketLocked(marketID)
}

// ListMarkets returns every market, keyed by id. Callers must not mutate
// the returned values.
func (e *Engine) ListMarkets() map[int]*Market {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[int]*Market, len(e.markets))
	for k, v := range e.markets {
		out[k] = v
	}
	return out
}

// Prices returns the current LMSR prices for marketID, aligned to its
// outcome order.
func (e *Engine) Prices(marketID int) ([]decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, err := e.getMarketLocked(marketID)
	if err != nil {
		return nil, err
	}
	return lmsr.Prices(m.Q, m.B), nil
}

// Position returns accountID's token count per outcome in marketID.
func (e *Engine) Position(marketID, accountID int) (map[string]decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, err := e.getMarketLocked(marketID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(m.Outcomes))
	for _, o := range m.Outcomes {
		out[o] = m.position(accountID, o)
	}
	return out, nil
}

// CreateMarketParams bundles create_market's inputs. Exactly one of B or
// Funding must be set; from Funding, b = funding / ln(n).
type CreateMarketParams struct {
	Question         string
	Category         string
	CategoryID       string
	Metadata         map[string]string
	Outcomes         []string // defaults to ["yes","no"] if empty
	B                *decimal.Decimal
	Funding          *decimal.Decimal
	FundingAccountID *int
	Deadline         *time.Time
	PricePrecision   int
	AmountPrecision  int
}

// CreateMarket allocates the AMM account, computes and locks the subsidy,
// and registers a new open Market.
func (e *Engine) CreateMarket(p CreateMarketParams) (*Market, error) {
	outcomes := p.Outcomes
	if len(outcomes) == 0 {
		outcomes = []string{"yes", "no"}
	}
	if len(outcomes) < 2 {
		return nil, types.NewError(types.ErrInvalidState, "market", "", "outcomes must have at least 2 entries")
	}
	seen := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		if o == "" {
			return nil, types.NewError(types.ErrInvalidOutcome, "market", "", "outcome names must not be empty")
		}
		if seen[o] {
			return nil, types.NewError(types.ErrInvalidOutcome, "market", "", fmt.Sprintf("duplicate outcome %q", o))
		}
		seen[o] = true
	}
	if (p.B == nil) == (p.Funding == nil) {
		return nil, types.NewError(types.ErrInvalidState, "market", "", "exactly one of B or Funding must be set")
	}
	if p.PricePrecision <= 0 {
		return nil, types.NewError(types.ErrInvalidState, "market", "", "price_precision must be > 0")
	}
	if p.AmountPrecision <= 0 {
		return nil, types.NewError(types.ErrInvalidState, "market", "", "amount_precision must be > 0")
	}

	n := len(outcomes)
	var b decimal.Decimal
	if p.B != nil {
		b = *p.B
	} else {
		b = lmsr.BForMaxLoss(*p.Funding, n)
	}
	if !b.IsPositive() {
		return nil, types.NewError(types.ErrInvalidAmount, "market", "", "liquidity parameter b must be > 0")
	}

	subsidy := lmsr.MaxLoss(b, n)
	if p.FundingAccountID != nil {
		fundingAcc, err := e.ledger.GetAccount(*p.FundingAccountID)
		if err != nil {
			return nil, err
		}
		if fundingAcc.Available.LessThan(subsidy) {
			return nil, types.NewError(types.ErrInsufficientBal, "account", fmt.Sprint(*p.FundingAccountID),
				fmt.Sprintf("available %s < required subsidy %s", fundingAcc.Available, subsidy))
		}
	}

	amm := e.ledger.CreateAccount()

	e.mu.Lock()
	defer e.mu.Unlock()

	q := make([]decimal.Decimal, n)
	for i := range q {
		q[i] = decimal.Zero
	}
	positions := map[int]map[string]decimal.Decimal{}

	m := &Market{
		ID:              e.counters.Next(counters.Market),
		AMMAccountID:    amm.ID,
		Question:        p.Question,
		Category:        p.Category,
		CategoryID:      p.CategoryID,
		Metadata:        p.Metadata,
		Status:          string(types.MarketOpen),
		Outcomes:        outcomes,
		B:               b,
		Q:               q,
		PricePrecision:  p.PricePrecision,
		AmountPrecision: p.AmountPrecision,
		Positions:       positions,
		Deadline:        p.Deadline,
		CreatedAt:       time.Now(),
	}

	if p.FundingAccountID != nil {
		if _, _, err := e.ledger.TransferAvailable(*p.FundingAccountID, amm.ID, subsidy); err != nil {
			return nil, err
		}
	} else {
		if _, err := e.ledger.Mint(amm.ID, subsidy); err != nil {
			return nil, err
		}
	}
	if _, _, err := e.ledger.Lock(amm.ID, m.ID, subsidy, types.LockPosition, 0); err != nil {
		return nil, err
	}

	e.markets[m.ID] = m
	e.logger.Info("market created", "market_id", m.ID, "outcomes", outcomes, "b", b.String(), "subsidy", subsidy.String())
	return m, nil
}

// quantizeBuy computes the quantized token amount, exact cost, and ceiling
// average price for buying budget credits of outcome o, retrying once with
// one fewer amount-quantum if the ceiling-rounded trade value would exceed
// available.
func (e *Engine) quantizeBuy(m *Market, o int, budget, available decimal.Decimal) (tokens, avgPrice, tradeValue decimal.Decimal, err error) {
	quantum := decimal.New(1, -int32(m.AmountPrecision))

	compute := func(tk decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
		exactCost := lmsr.CostToBuy(m.Q, m.B, o, tk)
		avg := exactCost.Div(tk).RoundCeil(int32(m.PricePrecision))
		return avg, tk.Mul(avg)
	}

	tokensRaw := lmsr.AmountForCost(m.Q, m.B, o, budget)
	tokens = tokensRaw.RoundFloor(int32(m.AmountPrecision))
	if !tokens.IsPositive() {
		return decimal.Zero, decimal.Zero, decimal.Zero, types.NewError(types.ErrBudgetTooSmall, "market", fmt.Sprint(m.ID), "budget yields zero tokens at amount_precision")
	}

	avgPrice, tradeValue = compute(tokens)
	if tradeValue.GreaterThan(available) {
		tokens = tokens.Sub(quantum)
		if !tokens.IsPositive() {
			return decimal.Zero, decimal.Zero, decimal.Zero, types.NewError(types.ErrInsufficientBal, "market", fmt.Sprint(m.ID), "trade value exceeds available even at minimal tokens")
		}
		avgPrice, tradeValue = compute(tokens)
		if tradeValue.GreaterThan(available) {
			return decimal.Zero, decimal.Zero, decimal.Zero, types.NewError(types.ErrInsufficientBal, "market", fmt.Sprint(m.ID), fmt.Sprintf("trade value %s > available %s after retry", tradeValue, available))
		}
	}
	return tokens, avgPrice, tradeValue, nil
}

// Buy executes a budget-denominated purchase of outcome tokens. See
// quantizeBuy for the rounding/retry rule.
func (e *Engine) Buy(marketID, accountID int, outcome string, budget decimal.Decimal) (*Trade, error) {
	if !budget.IsPositive() {
		return nil, types.NewError(types.ErrInvalidAmount, "account", fmt.Sprint(accountID), "budget must be > 0")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.getMarketLocked(marketID)
	if err != nil {
		return nil, err
	}
	if err := requireOpen(m); err != nil {
		return nil, err
	}
	idx := m.outcomeIndex(outcome)
	if idx < 0 {
		return nil, types.NewError(types.ErrInvalidOutcome, "market", fmt.Sprint(marketID), fmt.Sprintf("outcome %q not in %v", outcome, m.Outcomes))
	}

	ok, err := e.ledger.CheckAvailable(accountID, budget)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NewError(types.ErrInsufficientBal, "account", fmt.Sprint(accountID), fmt.Sprintf("available < budget %s", budget))
	}

	acc, err := e.ledger.GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	tokens, avgPrice, tradeValue, err := e.quantizeBuy(m, idx, budget, acc.Available)
	if err != nil {
		return nil, err
	}

	tradeID := e.counters.Next(counters.Trade)
	lockType := types.OutcomePositionLock(outcome)
	existing := traderLock(acc, marketID, lockType)
	var lockID, txID int
	if existing == nil {
		lk, tx, err := e.ledger.Lock(accountID, marketID, tradeValue, lockType, tradeID)
		if err != nil {
			return nil, err
		}
		lockID, txID = lk.ID, tx.ID
	} else {
		tx, err := e.ledger.IncreaseLock(existing.ID, tradeValue, tradeID)
		if err != nil {
			return nil, err
		}
		lockID, txID = existing.ID, tx.ID
	}

	m.Q[idx] = m.Q[idx].Add(tokens)
	m.setPosition(accountID, outcome, m.position(accountID, outcome).Add(tokens))

	trade := &Trade{
		ID:       tradeID,
		MarketID: marketID,
		Outcome:  outcome,
		Amount:   tokens,
		AvgPrice: avgPrice,
		Buyer: TradeLeg{
			AccountID:      accountID,
			AvailableDelta: tradeValue.Neg(),
			FrozenDelta:    tradeValue,
			LockID:         lockID,
			TxID:           txID,
		},
		Seller: TradeLeg{
			AccountID:      m.AMMAccountID,
			AvailableDelta: decimal.Zero,
			FrozenDelta:    decimal.Zero,
		},
		Timestamp: time.Now(),
	}
	m.Trades = append(m.Trades, trade)
	e.logger.Info("buy executed", "market_id", marketID, "account_id", accountID, "outcome", outcome, "tokens", tokens.String(), "avg_price", avgPrice.String())
	return trade, nil
}

// traderLock returns acc's lock of the given type in marketID, or nil.
func traderLock(acc *ledger.Account, marketID int, lockType types.LockType) *ledger.Lock {
	return acc.LockByMarketAndType(marketID, lockType)
}

// Sell executes a proportional close of amount tokens of outcome, forming
// or netting conditional-profit/loss locks as needed.
func (e *Engine) Sell(marketID, accountID int, outcome string, amount decimal.Decimal) (*Trade, error) {
	if !amount.IsPositive() {
		return nil, types.NewError(types.ErrInvalidAmount, "account", fmt.Sprint(accountID), "amount must be > 0")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.getMarketLocked(marketID)
	if err != nil {
		return nil, err
	}
	if err := requireOpen(m); err != nil {
		return nil, err
	}
	idx := m.outcomeIndex(outcome)
	if idx < 0 {
		return nil, types.NewError(types.ErrInvalidOutcome, "market", fmt.Sprint(marketID), fmt.Sprintf("outcome %q not in %v", outcome, m.Outcomes))
	}

	assetPrec := m.assetPrecision()
	if !amount.Equal(amount.RoundFloor(int32(m.AmountPrecision))) {
		return nil, types.NewError(types.ErrInvalidAmount, "account", fmt.Sprint(accountID), "amount exceeds amount_precision")
	}
	held := m.position(accountID, outcome)
	if amount.GreaterThan(held) {
		return nil, types.NewError(types.ErrInvalidAmount, "account", fmt.Sprint(accountID), fmt.Sprintf("amount %s exceeds held %s", amount, held))
	}

	acc, err := e.ledger.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	lockType := types.OutcomePositionLock(outcome)
	posLock := traderLock(acc, marketID, lockType)
	if posLock == nil {
		return nil, types.NewError(types.ErrInvalidState, "lock", fmt.Sprintf("%d:%s", accountID, lockType), "position lock must exist when held > 0")
	}
	traderAvailBefore, traderFrozenBefore := acc.Available, acc.Frozen

	rawRevenue := lmsr.CostToBuy(m.Q, m.B, idx, amount.Neg()).Neg()
	avgPrice := rawRevenue.Div(amount).RoundFloor(int32(m.PricePrecision))
	if avgPrice.IsNegative() {
		avgPrice = decimal.Zero
	}
	tradeValue := amount.Mul(avgPrice)

	marginLocked := posLock.Amount
	var closeMargin decimal.Decimal
	if amount.Equal(held) {
		closeMargin = marginLocked
	} else {
		closeMargin = marginLocked.Mul(amount).Div(held).RoundFloor(assetPrec)
	}
	pnl := tradeValue.Sub(closeMargin)

	amm, err := e.ledger.GetAccount(m.AMMAccountID)
	if err != nil {
		return nil, err
	}
	ammPosLock := amm.LockByMarketAndType(marketID, types.LockPosition)
	if ammPosLock == nil {
		return nil, types.NewError(types.ErrInvalidState, "lock", fmt.Sprintf("%d:position", m.AMMAccountID), "AMM position lock must exist")
	}
	ammAvailBefore, ammFrozenBefore := amm.Available, amm.Frozen

	tradeID := e.counters.Next(counters.Trade)
	var lastTxID int
	if closeMargin.IsPositive() {
		tx, err := e.ledger.DecreaseLock(posLock.ID, closeMargin, tradeID)
		if err != nil {
			return nil, err
		}
		lastTxID = tx.ID
	}

	switch {
	case pnl.IsPositive():
		_, txTo, err := e.ledger.TransferFrozen(ammPosLock.ID, accountID, pnl, types.LockConditionalProfit, tradeID)
		if err != nil {
			return nil, err
		}
		lastTxID = txTo.ID
	case pnl.IsNegative():
		loss := pnl.Neg()
		if existing := traderLock(acc, marketID, types.LockConditionalLoss); existing != nil {
			tx, err := e.ledger.IncreaseLock(existing.ID, loss, tradeID)
			if err != nil {
				return nil, err
			}
			lastTxID = tx.ID
		} else {
			_, tx, err := e.ledger.Lock(accountID, marketID, loss, types.LockConditionalLoss, tradeID)
			if err != nil {
				return nil, err
			}
			lastTxID = tx.ID
		}
	}

	// Re-fetch the account: prior ledger calls may have created new locks.
	acc, err = e.ledger.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	cp := traderLock(acc, marketID, types.LockConditionalProfit)
	cl := traderLock(acc, marketID, types.LockConditionalLoss)
	if cp != nil && cl != nil {
		net := cp.Amount
		if cl.Amount.LessThan(net) {
			net = cl.Amount
		}
		if net.IsPositive() {
			if _, _, err := e.ledger.TransferFrozen(cp.ID, m.AMMAccountID, net, types.LockPosition, tradeID); err != nil {
				return nil, err
			}
			clTx, err := e.ledger.DecreaseLock(cl.ID, net, tradeID)
			if err != nil {
				return nil, err
			}
			lastTxID = clTx.ID
		}
	}

	m.Q[idx] = m.Q[idx].Sub(amount)
	m.setPosition(accountID, outcome, held.Sub(amount))

	// TradeLeg.*Delta reflects every balance change this Sell produced on
	// each account, not just the closeMargin/pnl legs computed above: the
	// CP/CL netting block can mutate both accounts' frozen balances again
	// after those values were derived, so diffing the accounts' actual
	// before/after state is the only way to report them correctly.
	traderAfter, err := e.ledger.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	ammAfter, err := e.ledger.GetAccount(m.AMMAccountID)
	if err != nil {
		return nil, err
	}

	trade := &Trade{
		ID:       tradeID,
		MarketID: marketID,
		Outcome:  outcome,
		Amount:   amount,
		AvgPrice: avgPrice,
		Seller: TradeLeg{
			AccountID:      accountID,
			AvailableDelta: traderAfter.Available.Sub(traderAvailBefore),
			FrozenDelta:    traderAfter.Frozen.Sub(traderFrozenBefore),
			LockID:         posLock.ID,
			TxID:           lastTxID,
		},
		Buyer: TradeLeg{
			AccountID:      m.AMMAccountID,
			AvailableDelta: ammAfter.Available.Sub(ammAvailBefore),
			FrozenDelta:    ammAfter.Frozen.Sub(ammFrozenBefore),
		},
		Timestamp: time.Now(),
	}
	m.Trades = append(m.Trades, trade)
	e.logger.Info("sell executed", "market_id", marketID, "account_id", accountID, "outcome", outcome, "amount", amount.String(), "pnl", pnl.String())
	return trade, nil
}

// Resolve settles every lock in the market against the winning outcome and
// closes it.
func (e *Engine) Resolve(marketID int, winningOutcome string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.getMarketLocked(marketID)
	if err != nil {
		return err
	}
	if err := requireOpen(m); err != nil {
		return err
	}
	if m.outcomeIndex(winningOutcome) < 0 {
		return types.NewError(types.ErrInvalidOutcome, "market", fmt.Sprint(marketID), fmt.Sprintf("outcome %q not in %v", winningOutcome, m.Outcomes))
	}

	locks := e.ledger.LocksByMarket(marketID)
	totalPool := decimal.Zero
	for _, l := range locks {
		totalPool = totalPool.Add(l.Amount)
	}

	traderPayouts := decimal.Zero
	for _, l := range locks {
		if l.AccountID == m.AMMAccountID {
			continue
		}
		var payout decimal.Decimal
		switch {
		case l.Type == types.LockConditionalProfit:
			payout = l.Amount
		case l.Type == types.LockConditionalLoss:
			payout = decimal.Zero
		default:
			if outcome, ok := l.Type.IsOutcomePosition(); ok {
				if outcome == winningOutcome {
					payout = m.position(l.AccountID, outcome)
				} else {
					payout = decimal.Zero
				}
			} else {
				continue
			}
		}
		if _, err := e.ledger.SettleLock(l.ID, payout); err != nil {
			return err
		}
		traderPayouts = traderPayouts.Add(payout)
	}

	ammLock := findLockInSlice(locks, m.AMMAccountID, types.LockPosition)
	if ammLock == nil {
		return types.NewError(types.ErrInvalidState, "lock", fmt.Sprintf("%d:position", m.AMMAccountID), "AMM position lock must exist at resolve")
	}
	ammPayout := totalPool.Sub(traderPayouts)
	if _, err := e.ledger.SettleLock(ammLock.ID, ammPayout); err != nil {
		return err
	}

	now := time.Now()
	m.Status = string(types.MarketResolved)
	m.Resolution = winningOutcome
	m.ResolvedAt = &now
	e.logger.Info("market resolved", "market_id", marketID, "winning_outcome", winningOutcome, "total_pool", totalPool.String(), "amm_payout", ammPayout.String())
	return nil
}

func findLockInSlice(locks []*ledger.Lock, accountID int, lockType types.LockType) *ledger.Lock {
	for _, l := range locks {
		if l.AccountID == accountID && l.Type == lockType {
			return l
		}
	}
	return nil
}

// Void releases every lock in the market with no clawbacks, reversing any
// realized conditional profit back to the AMM.
func (e *Engine) Void(marketID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.getMarketLocked(marketID)
	if err != nil {
		return err
	}
	if err := requireOpen(m); err != nil {
		return err
	}

	locks := e.ledger.LocksByMarket(marketID)
	for _, l := range locks {
		switch l.Type {
		case types.LockPosition, types.LockConditionalLoss:
			if _, err := e.ledger.ReleaseLock(l.ID); err != nil {
				return err
			}
		case types.LockConditionalProfit:
			// Only ever held by a trader (Sell's netting block nets CP back
			// into the AMM's position lock, never assigns CP to the AMM
			// itself), so voiding always means reversing a realized profit.
			amount := l.Amount
			if _, err := e.ledger.ReleaseLock(l.ID); err != nil {
				return err
			}
			if _, _, err := e.ledger.TransferAvailable(l.AccountID, m.AMMAccountID, amount); err != nil {
				return err
			}
		default:
			// position:<outcome> locks release the same way as "position".
			if _, err := e.ledger.ReleaseLock(l.ID); err != nil {
				return err
			}
		}
	}

	m.Status = string(types.MarketVoid)
	e.logger.Info("market voided", "market_id", marketID)
	return nil
}

// AddLiquidity rescales b upward by amount of additional funding, pulling
// credits from fundingAccountID if given (otherwise minting them), and
// grows the AMM's position lock to match.
func (e *Engine) AddLiquidity(marketID int, amount decimal.Decimal, fundingAccountID *int) error {
	if !amount.IsPositive() {
		return types.NewError(types.ErrInvalidAmount, "market", fmt.Sprint(marketID), "amount must be > 0")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.getMarketLocked(marketID)
	if err != nil {
		return err
	}
	if err := requireOpen(m); err != nil {
		return err
	}

	newB, newQ := lmsr.BForFunding(m.Q, m.B, amount)

	if fundingAccountID != nil {
		if _, _, err := e.ledger.TransferAvailable(*fundingAccountID, m.AMMAccountID, amount); err != nil {
			return err
		}
	} else {
		if _, err := e.ledger.Mint(m.AMMAccountID, amount); err != nil {
			return err
		}
	}

	amm, err := e.ledger.GetAccount(m.AMMAccountID)
	if err != nil {
		return err
	}
	ammLock := traderLock(amm, marketID, types.LockPosition)
	if ammLock == nil {
		return types.NewError(types.ErrInvalidState, "lock", fmt.Sprintf("%d:position", m.AMMAccountID), "AMM position lock must exist")
	}
	if _, err := e.ledger.IncreaseLock(ammLock.ID, amount, 0); err != nil {
		return err
	}

	m.B = newB
	m.Q = newQ
	e.logger.Info("liquidity added", "market_id", marketID, "amount", amount.String(), "new_b", newB.String())
	return nil
}

// RemoveLiquidity rescales b downward by amount, failing if the resulting
// b would be non-positive, and shrinks the AMM's position lock to match.
func (e *Engine) RemoveLiquidity(marketID int, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return types.NewError(types.ErrInvalidAmount, "market", fmt.Sprint(marketID), "amount must be > 0")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.getMarketLocked(marketID)
	if err != nil {
		return err
	}
	if err := requireOpen(m); err != nil {
		return err
	}

	newB, newQ := lmsr.BForFunding(m.Q, m.B, amount.Neg())
	if !newB.IsPositive() {
		return types.NewError(types.ErrInvalidState, "market", fmt.Sprint(marketID), fmt.Sprintf("removing %s would make b non-positive", amount))
	}

	amm, err := e.ledger.GetAccount(m.AMMAccountID)
	if err != nil {
		return err
	}
	ammLock := traderLock(amm, marketID, types.LockPosition)
	if ammLock == nil {
		return types.NewError(types.ErrInvalidState, "lock", fmt.Sprintf("%d:position", m.AMMAccountID), "AMM position lock must exist")
	}
	if _, err := e.ledger.DecreaseLock(ammLock.ID, amount, 0); err != nil {
		return err
	}

	m.B = newB
	m.Q = newQ
	e.logger.Info("liquidity removed", "market_id", marketID, "amount", amount.String(), "new_b", newB.String())
	return nil
}

// RestoreMarket reinserts a market as-is, used only by snapshot load.
func (e *Engine) RestoreMarket(m *Market) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markets[m.ID] = m
}
