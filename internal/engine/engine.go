// Package engine is the single-writer facade over the whole market core.
//
// It wires together all subsystems:
//
//	counters  — monotonic per-kind id sequences, shared by ledger and market.
//	ledger    — the double-entry risk ledger: accounts, locks, transactions.
//	market    — LMSR market lifecycle: create, buy, sell, resolve, void, liquidity.
//	store     — atomic JSON snapshot persistence.
//
// Every mutating call acquires Core's single mutex for its whole
// acquire → execute → persist → release cycle, so the ledger, the market
// state, and the on-disk snapshot never observe a torn intermediate state
// relative to one another. There is no per-market concurrency: this is a
// small synchronous core, not a goroutine-per-market bot.
//
// Lifecycle: New() → Start() (load snapshot if present) → ... → Stop() (final save)
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"marketcore/internal/config"
	"marketcore/internal/counters"
	"marketcore/internal/ledger"
	"marketcore/internal/market"
	"marketcore/internal/store"
)

// Core is the mutex-guarded facade over the ledger, market engine, and
// snapshot store.
type Core struct {
	mu sync.Mutex

	cfg     config.Config
	ledger  *ledger.Manager
	markets *market.Engine
	store   *store.Store
	counts  *counters.Service
	logger  *slog.Logger
}

// New wires a fresh Core: counters, ledger manager, market engine, and a
// store rooted at cfg.Store.DataDir. It does not load any snapshot yet;
// call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Core, error) {
	c := counters.New()
	lg := ledger.NewManager(c, logger)
	me := market.NewEngine(lg, c, logger)

	st, err := store.Open(cfg.Store.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("engine.New: %w", err)
	}

	return &Core{
		cfg:     cfg,
		ledger:  lg,
		markets: me,
		store:   st,
		counts:  c,
		logger:  logger.With("component", "engine"),
	}, nil
}

// Start loads the most recent snapshot, if one exists, restoring all
// ledger and market state before the core accepts writes.
func (c *Core) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	found, err := c.store.Load(c.ledger, c.markets, c.counts)
	if err != nil {
		return fmt.Errorf("engine.Start: %w", err)
	}
	if found {
		c.logger.Info("restored snapshot", "accounts", len(c.ledger.Accounts()), "markets", len(c.markets.ListMarkets()))
	} else {
		c.logger.Info("no snapshot found, starting fresh")
	}
	return nil
}

// Stop persists a final snapshot before shutdown.
func (c *Core) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Save(c.ledger, c.markets, c.counts); err != nil {
		return fmt.Errorf("engine.Stop: %w", err)
	}
	c.logger.Info("final snapshot saved")
	return nil
}

// CfgDefaultB returns the configured default LMSR liquidity parameter.
func (c *Core) CfgDefaultB() string { return c.cfg.Market.DefaultB }

// CfgPricePrecision returns the configured default price precision.
func (c *Core) CfgPricePrecision() int { return c.cfg.Market.PricePrecision }

// CfgAmountPrecision returns the configured default amount precision.
func (c *Core) CfgAmountPrecision() int { return c.cfg.Market.AmountPrecision }

// persistLocked saves a snapshot if the config asks for one after every
// write. Called with c.mu already held.
func (c *Core) persistLocked() {
	if !c.cfg.Store.SaveOnEveryWrite {
		return
	}
	if err := c.store.Save(c.ledger, c.markets, c.counts); err != nil {
		c.logger.Error("snapshot save failed", "error", err)
	}
}

// CreateAccount opens a new zero-balance account.
func (c *Core) CreateAccount() *ledger.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc := c.ledger.CreateAccount()
	c.persistLocked()
	return acc
}

// GetAccount returns an account snapshot by id.
func (c *Core) GetAccount(accountID int) (*ledger.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.GetAccount(accountID)
}

// Mint credits amount to accountID's available balance out of thin air
// (test fixtures, faucet-style funding).
func (c *Core) Mint(accountID int, amount decimal.Decimal) (*ledger.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.ledger.Mint(accountID, amount)
	if err != nil {
		return nil, err
	}
	c.persistLocked()
	return tx, nil
}

// CreateMarket allocates a new LMSR market, funding its AMM subsidy.
func (c *Core) CreateMarket(p market.CreateMarketParams) (*market.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.markets.CreateMarket(p)
	if err != nil {
		return nil, err
	}
	c.persistLocked()
	return m, nil
}

// GetMarket returns a market by id.
func (c *Core) GetMarket(marketID int) (*market.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markets.GetMarket(marketID)
}

// Prices returns the current per-outcome softmax prices for marketID.
func (c *Core) Prices(marketID int) ([]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markets.Prices(marketID)
}

// Position returns accountID's per-outcome token holdings in marketID.
func (c *Core) Position(marketID, accountID int) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markets.Position(marketID, accountID)
}

// Buy spends budget credits of accountID to acquire outcome tokens in
// marketID from the AMM.
func (c *Core) Buy(marketID, accountID int, outcome string, budget decimal.Decimal) (*market.Trade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	trade, err := c.markets.Buy(marketID, accountID, outcome, budget)
	if err != nil {
		return nil, err
	}
	c.persistLocked()
	return trade, nil
}

// Sell closes amount of accountID's outcome position in marketID against
// the AMM.
func (c *Core) Sell(marketID, accountID int, outcome string, amount decimal.Decimal) (*market.Trade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	trade, err := c.markets.Sell(marketID, accountID, outcome, amount)
	if err != nil {
		return nil, err
	}
	c.persistLocked()
	return trade, nil
}

// Resolve settles marketID against winningOutcome, paying every lock its
// resolved value and returning the remainder to the AMM.
func (c *Core) Resolve(marketID int, winningOutcome string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.markets.Resolve(marketID, winningOutcome); err != nil {
		return err
	}
	c.persistLocked()
	return nil
}

// Void cancels marketID, releasing every lock and reversing any realized
// conditional profit back to the AMM.
func (c *Core) Void(marketID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.markets.Void(marketID); err != nil {
		return err
	}
	c.persistLocked()
	return nil
}

// AddLiquidity increases marketID's liquidity parameter b, preserving
// current prices, funded either from an account or by minting.
func (c *Core) AddLiquidity(marketID int, amount decimal.Decimal, fundingAccountID *int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.markets.AddLiquidity(marketID, amount, fundingAccountID); err != nil {
		return err
	}
	c.persistLocked()
	return nil
}

// RemoveLiquidity decreases marketID's liquidity parameter b, preserving
// current prices, and returns the freed subsidy to the AMM's available
// balance.
func (c *Core) RemoveLiquidity(marketID int, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.markets.RemoveLiquidity(marketID, amount); err != nil {
		return err
	}
	c.persistLocked()
	return nil
}

// Snapshot forces an immediate save regardless of the SaveOnEveryWrite
// setting.
func (c *Core) Snapshot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Save(c.ledger, c.markets, c.counts)
}
