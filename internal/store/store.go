// Package store provides crash-safe persistence of the full engine state
// (accounts, locks, transactions, markets, and id counters) as a single
// versioned JSON document.
//
// Writes are atomic: the document is serialized to "<path>.tmp" and then
// renamed over "<path>", which is assumed crash-consistent on POSIX
// filesystems. Loads apply a forward-only migration chain before binding
// the raw document to typed structs, so older snapshots keep working
// across schema changes.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"

	"marketcore/internal/counters"
	"marketcore/internal/ledger"
	"marketcore/internal/market"
	"marketcore/pkg/types"
)

// Store persists the engine's full state to a single JSON file in a
// designated directory. All operations are mutex-protected to prevent
// concurrent file corruption.
type Store struct {
	dir    string
	file   string
	mu     sync.Mutex
	logger *slog.Logger
}

// Open creates a store backed by dir, writing to dir/snapshot.json.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store.Open: create dir: %w", err)
	}
	return &Store{
		dir:    dir,
		file:   filepath.Join(dir, "snapshot.json"),
		logger: logger.With("component", "store"),
	}, nil
}

// Save serializes the full state of lg, me, and c to a temp file, then
// renames it over the snapshot path.
func (s *Store) Save(lg *ledger.Manager, me *market.Engine, c *counters.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := toDocument(lg, me, c)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store.Save: marshal: %w", err)
	}

	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("store.Save: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		return fmt.Errorf("store.Save: rename: %w", err)
	}
	s.logger.Debug("snapshot saved", "accounts", len(doc.Accounts), "markets", len(doc.Markets))
	return nil
}

// Load reads the snapshot file, if any, and restores its state into lg,
// me, and c in place. Returns (false, nil) if no snapshot exists yet.
func (s *Store) Load(lg *ledger.Manager, me *market.Engine, c *counters.Service) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("store.Load: read: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("store.Load: unmarshal raw: %w", err)
	}
	raw, err = applyMigrations(raw)
	if err != nil {
		return false, fmt.Errorf("store.Load: %w", err)
	}
	migrated, err := json.Marshal(raw)
	if err != nil {
		return false, fmt.Errorf("store.Load: re-marshal migrated: %w", err)
	}

	var doc document
	if err := json.Unmarshal(migrated, &doc); err != nil {
		return false, fmt.Errorf("store.Load: unmarshal document: %w", err)
	}

	if err := fromDocument(doc, lg, me, c); err != nil {
		return false, fmt.Errorf("store.Load: restore: %w", err)
	}
	s.logger.Debug("snapshot loaded", "accounts", len(doc.Accounts), "markets", len(doc.Markets))
	return true, nil
}

func decStr(d decimal.Decimal) string { return d.String() }

func parseDec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func toDocument(lg *ledger.Manager, me *market.Engine, c *counters.Service) *document {
	doc := &document{
		Version:  CurrentVersion,
		Counters: c.Snapshot(),
	}

	for _, acc := range lg.Accounts() {
		ad := accountDoc{
			ID:        acc.ID,
			Available: decStr(acc.Available),
			Frozen:    decStr(acc.Frozen),
			CreatedAt: acc.CreatedAt,
		}
		for _, l := range acc.Locks {
			ad.Locks = append(ad.Locks, lockDoc{
				ID:        l.ID,
				AccountID: l.AccountID,
				MarketID:  l.MarketID,
				Amount:    decStr(l.Amount),
				Type:      string(l.Type),
				CreatedAt: l.CreatedAt,
			})
		}
		doc.Accounts = append(doc.Accounts, ad)
	}

	for _, tx := range lg.Transactions() {
		doc.Transactions = append(doc.Transactions, transactionDoc{
			ID:             tx.ID,
			AccountID:      tx.AccountID,
			AvailableDelta: decStr(tx.AvailableDelta),
			FrozenDelta:    decStr(tx.FrozenDelta),
			Reason:         string(tx.Reason),
			MarketID:       tx.MarketID,
			TradeID:        tx.TradeID,
			LockID:         tx.LockID,
			CreatedAt:      tx.CreatedAt,
		})
	}

	for _, m := range me.ListMarkets() {
		md := marketDoc{
			ID:              m.ID,
			AMMAccountID:    m.AMMAccountID,
			Question:        m.Question,
			Category:        m.Category,
			CategoryID:      m.CategoryID,
			Metadata:        m.Metadata,
			Status:          m.Status,
			Outcomes:        m.Outcomes,
			Resolution:      m.Resolution,
			B:               decStr(m.B),
			PricePrecision:  m.PricePrecision,
			AmountPrecision: m.AmountPrecision,
			Positions:       make(map[string]map[string]string, len(m.Positions)),
			Deadline:        m.Deadline,
			CreatedAt:       m.CreatedAt,
			ResolvedAt:      m.ResolvedAt,
		}
		for _, q := range m.Q {
			md.Q = append(md.Q, decStr(q))
		}
		for accID, byOutcome := range m.Positions {
			out := make(map[string]string, len(byOutcome))
			for outcome, v := range byOutcome {
				out[outcome] = decStr(v)
			}
			md.Positions[fmt.Sprint(accID)] = out
		}
		for _, tr := range m.Trades {
			md.Trades = append(md.Trades, tradeDoc{
				ID:        tr.ID,
				MarketID:  tr.MarketID,
				Outcome:   tr.Outcome,
				Amount:    decStr(tr.Amount),
				AvgPrice:  decStr(tr.AvgPrice),
				Buyer:     legToDoc(tr.Buyer),
				Seller:    legToDoc(tr.Seller),
				Timestamp: tr.Timestamp,
			})
		}
		doc.Markets = append(doc.Markets, md)
	}

	return doc
}

func legToDoc(l market.TradeLeg) tradeLegDoc {
	return tradeLegDoc{
		AccountID:      l.AccountID,
		AvailableDelta: decStr(l.AvailableDelta),
		FrozenDelta:    decStr(l.FrozenDelta),
		LockID:         l.LockID,
		TxID:           l.TxID,
	}
}

func legFromDoc(d tradeLegDoc) (market.TradeLeg, error) {
	avail, err := parseDec(d.AvailableDelta)
	if err != nil {
		return market.TradeLeg{}, err
	}
	frozen, err := parseDec(d.FrozenDelta)
	if err != nil {
		return market.TradeLeg{}, err
	}
	return market.TradeLeg{
		AccountID:      d.AccountID,
		AvailableDelta: avail,
		FrozenDelta:    frozen,
		LockID:         d.LockID,
		TxID:           d.TxID,
	}, nil
}

func fromDocument(doc document, lg *ledger.Manager, me *market.Engine, c *counters.Service) error {
	c.Restore(doc.Counters)

	for _, ad := range doc.Accounts {
		avail, err := parseDec(ad.Available)
		if err != nil {
			return fmt.Errorf("account %d: %w", ad.ID, err)
		}
		frozen, err := parseDec(ad.Frozen)
		if err != nil {
			return fmt.Errorf("account %d: %w", ad.ID, err)
		}
		acc := &ledger.Account{
			ID:        ad.ID,
			Available: avail,
			Frozen:    frozen,
			CreatedAt: ad.CreatedAt,
		}
		for _, ld := range ad.Locks {
			amount, err := parseDec(ld.Amount)
			if err != nil {
				return fmt.Errorf("lock %d: %w", ld.ID, err)
			}
			acc.Locks = append(acc.Locks, &ledger.Lock{
				ID:        ld.ID,
				AccountID: ld.AccountID,
				MarketID:  ld.MarketID,
				Amount:    amount,
				Type:      types.LockType(ld.Type),
				CreatedAt: ld.CreatedAt,
			})
		}
		lg.RestoreAccount(acc)
	}

	var txs []*ledger.Transaction
	for _, td := range doc.Transactions {
		avail, err := parseDec(td.AvailableDelta)
		if err != nil {
			return fmt.Errorf("transaction %d: %w", td.ID, err)
		}
		frozen, err := parseDec(td.FrozenDelta)
		if err != nil {
			return fmt.Errorf("transaction %d: %w", td.ID, err)
		}
		txs = append(txs, &ledger.Transaction{
			ID:             td.ID,
			AccountID:      td.AccountID,
			AvailableDelta: avail,
			FrozenDelta:    frozen,
			Reason:         types.Reason(td.Reason),
			MarketID:       td.MarketID,
			TradeID:        td.TradeID,
			LockID:         td.LockID,
			CreatedAt:      td.CreatedAt,
		})
	}
	lg.RestoreTransactions(txs)

	for _, md := range doc.Markets {
		b, err := parseDec(md.B)
		if err != nil {
			return fmt.Errorf("market %d: %w", md.ID, err)
		}
		q := make([]decimal.Decimal, len(md.Q))
		for i, s := range md.Q {
			v, err := parseDec(s)
			if err != nil {
				return fmt.Errorf("market %d q[%d]: %w", md.ID, i, err)
			}
			q[i] = v
		}
		positions := make(map[int]map[string]decimal.Decimal, len(md.Positions))
		for accIDStr, byOutcome := range md.Positions {
			var accID int
			if _, err := fmt.Sscanf(accIDStr, "%d", &accID); err != nil {
				return fmt.Errorf("market %d: bad position account id %q: %w", md.ID, accIDStr, err)
			}
			out := make(map[string]decimal.Decimal, len(byOutcome))
			for outcome, s := range byOutcome {
				v, err := parseDec(s)
				if err != nil {
					return fmt.Errorf("market %d position: %w", md.ID, err)
				}
				out[outcome] = v
			}
			positions[accID] = out
		}

		m := &market.Market{
			ID:              md.ID,
			AMMAccountID:    md.AMMAccountID,
			Question:        md.Question,
			Category:        md.Category,
			CategoryID:      md.CategoryID,
			Metadata:        md.Metadata,
			Status:          md.Status,
			Outcomes:        md.Outcomes,
			Resolution:      md.Resolution,
			B:               b,
			Q:               q,
			PricePrecision:  md.PricePrecision,
			AmountPrecision: md.AmountPrecision,
			Positions:       positions,
			Deadline:        md.Deadline,
			CreatedAt:       md.CreatedAt,
			ResolvedAt:      md.ResolvedAt,
		}
		for _, trd := range md.Trades {
			amount, err := parseDec(trd.Amount)
			if err != nil {
				return fmt.Errorf("trade %d: %w", trd.ID, err)
			}
			avgPrice, err := parseDec(trd.AvgPrice)
			if err != nil {
				return fmt.Errorf("trade %d: %w", trd.ID, err)
			}
			buyer, err := legFromDoc(trd.Buyer)
			if err != nil {
				return fmt.Errorf("trade %d buyer leg: %w", trd.ID, err)
			}
			seller, err := legFromDoc(trd.Seller)
			if err != nil {
				return fmt.Errorf("trade %d seller leg: %w", trd.ID, err)
			}
			m.Trades = append(m.Trades, &market.Trade{
				ID:        trd.ID,
				MarketID:  trd.MarketID,
				Outcome:   trd.Outcome,
				Amount:    amount,
				AvgPrice:  avgPrice,
				Buyer:     buyer,
				Seller:    seller,
				Timestamp: trd.Timestamp,
			})
		}
		me.RestoreMarket(m)
	}

	return nil
}
