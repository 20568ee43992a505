package store

import "time"

// CurrentVersion is the snapshot schema version this build writes. Forward
// migrations keyed by the version they migrate *from* are applied on load
// until a document reaches this version.
const CurrentVersion = 1

// document is the full on-disk snapshot shape: {version, counters,
// accounts[], transactions[], markets[]}. Decimals are serialized as
// strings to avoid float round-trip loss.
type document struct {
	Version      int               `json:"version"`
	Counters     map[string]int    `json:"counters"`
	Accounts     []accountDoc      `json:"accounts"`
	Transactions []transactionDoc  `json:"transactions"`
	Markets      []marketDoc       `json:"markets"`
}

type lockDoc struct {
	ID        int       `json:"id"`
	AccountID int       `json:"account_id"`
	MarketID  int       `json:"market_id"`
	Amount    string    `json:"amount"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type accountDoc struct {
	ID        int       `json:"id"`
	Available string    `json:"available_balance"`
	Frozen    string    `json:"frozen_balance"`
	Locks     []lockDoc `json:"locks"`
	CreatedAt time.Time `json:"created_at"`
}

type transactionDoc struct {
	ID             int       `json:"id"`
	AccountID      int       `json:"account_id"`
	AvailableDelta string    `json:"available_delta"`
	FrozenDelta    string    `json:"frozen_delta"`
	Reason         string    `json:"reason"`
	MarketID       int       `json:"market_id,omitempty"`
	TradeID        int       `json:"trade_id,omitempty"`
	LockID         int       `json:"lock_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type tradeLegDoc struct {
	AccountID      int    `json:"account_id"`
	AvailableDelta string `json:"available_delta"`
	FrozenDelta    string `json:"frozen_delta"`
	LockID         int    `json:"lock_id,omitempty"`
	TxID           int    `json:"tx_id,omitempty"`
}

type tradeDoc struct {
	ID        int         `json:"id"`
	MarketID  int         `json:"market_id"`
	Outcome   string      `json:"outcome"`
	Amount    string      `json:"amount"`
	AvgPrice  string      `json:"avg_price"`
	Buyer     tradeLegDoc `json:"buyer"`
	Seller    tradeLegDoc `json:"seller"`
	Timestamp time.Time   `json:"timestamp"`
}

type marketDoc struct {
	ID              int                          `json:"id"`
	AMMAccountID    int                          `json:"amm_account_id"`
	Question        string                       `json:"question"`
	Category        string                       `json:"category"`
	CategoryID      string                       `json:"category_id"`
	Metadata        map[string]string            `json:"metadata"`
	Status          string                       `json:"status"`
	Outcomes        []string                     `json:"outcomes"`
	Resolution      string                       `json:"resolution,omitempty"`
	B               string                       `json:"b"`
	Q               []string                     `json:"q"`
	PricePrecision  int                          `json:"price_precision"`
	AmountPrecision int                          `json:"amount_precision"`
	Positions       map[string]map[string]string `json:"positions"`
	Trades          []tradeDoc                   `json:"trades"`
	Deadline        *time.Time                   `json:"deadline,omitempty"`
	CreatedAt       time.Time                    `json:"created_at"`
	ResolvedAt      *time.Time                   `json:"resolved_at,omitempty"`
}
