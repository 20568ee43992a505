// Package market implements the market engine: LMSR market lifecycle, trade
// execution with per-outcome margin and conditional-profit/loss netting,
// resolution, void, and liquidity changes. It owns no balances directly —
// every credit motion is delegated to internal/ledger.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeLeg records one side's net effect of a trade: the balance deltas it
// produced plus, for the trader's leg, the lock and transaction that
// witness it. The AMM's leg never records a lock or transaction, even when
// a Sell moves credits in or out of the AMM's position lock.
type TradeLeg struct {
	AccountID      int
	AvailableDelta decimal.Decimal
	FrozenDelta    decimal.Decimal
	LockID         int // trader's position lock; 0 on the AMM's leg
	TxID           int // last transaction of the trader's leg; 0 on the AMM's leg
}

// Trade is an immutable record of one executed trade. One side is always
// the AMM.
type Trade struct {
	ID        int
	MarketID  int
	Outcome   string
	Amount    decimal.Decimal
	AvgPrice  decimal.Decimal
	Buyer     TradeLeg
	Seller    TradeLeg
	Timestamp time.Time
}

// Market is one LMSR instance: its outcome vector, liquidity parameter,
// per-account positions, and trade history.
type Market struct {
	ID             int
	AMMAccountID   int
	Question       string
	Category       string
	CategoryID     string
	Metadata       map[string]string
	Status         string // open | resolved | void — see pkg/types.MarketStatus
	Outcomes       []string
	Resolution     string // winning outcome once resolved; empty otherwise
	B              decimal.Decimal
	Q              []decimal.Decimal // cumulative quantity sold by the AMM, aligned to Outcomes
	PricePrecision int
	AmountPrecision int
	// Positions[accountID][outcome] = signed token count held by accountID.
	Positions map[int]map[string]decimal.Decimal
	Trades    []*Trade
	Deadline  *time.Time
	CreatedAt time.Time
	ResolvedAt *time.Time
}

// outcomeIndex returns outcome's position in m.Outcomes, or -1.
func (m *Market) outcomeIndex(outcome string) int {
	for i, o := range m.Outcomes {
		if o == outcome {
			return i
		}
	}
	return -1
}

// position returns accountID's signed token count for outcome, defaulting
// to zero.
func (m *Market) position(accountID int, outcome string) decimal.Decimal {
	if byOutcome, ok := m.Positions[accountID]; ok {
		return byOutcome[outcome]
	}
	return decimal0()
}

func (m *Market) setPosition(accountID int, outcome string, v decimal.Decimal) {
	byOutcome, ok := m.Positions[accountID]
	if !ok {
		byOutcome = make(map[string]decimal.Decimal)
		m.Positions[accountID] = byOutcome
	}
	byOutcome[outcome] = v
}

func decimal0() decimal.Decimal { return decimal.Zero }

// assetPrecision returns price_precision + amount_precision, the precision
// at which trade_value and close_margin are computed exactly without
// further rounding.
func (m *Market) assetPrecision() int32 {
	return int32(m.PricePrecision + m.AmountPrecision)
}
