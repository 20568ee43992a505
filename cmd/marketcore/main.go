// Market core — an LMSR prediction-market engine backed by a double-entry
// risk ledger.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts the core, waits for SIGINT/SIGTERM
//	internal/engine/engine.go — single-writer facade: wires counters, ledger, market engine, store
//	internal/ledger/manager.go — accounts, locks, transactions; the conservation invariant lives here
//	internal/market/engine.go  — market lifecycle: create, buy, sell, resolve, void, liquidity
//	internal/lmsr/lmsr.go      — pure LMSR math: cost, prices, cost_to_buy, amount_for_cost, b_for_funding
//	internal/store/store.go    — atomic JSON snapshot persistence with schema migration
//	internal/config/config.go  — YAML config with LMSR_* env overrides
//
// This binary is a thin demo shell around the core, not a CLI or HTTP
// front-end: it loads config, restores the last snapshot, creates one
// market, takes a scripted trade through it, and saves on exit. Real
// front-ends (HTTP handlers, a REPL, a gRPC service) are out of scope.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"marketcore/internal/config"
	"marketcore/internal/engine"
	"marketcore/internal/market"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("LMSR_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	core, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine core", "error", err)
		os.Exit(1)
	}
	if err := core.Start(); err != nil {
		logger.Error("failed to start engine core", "error", err)
		os.Exit(1)
	}

	runDemo(core, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if err := core.Stop(); err != nil {
		logger.Error("failed to save final snapshot", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// runDemo exercises the core end to end: fund an account, open a market,
// take one trade, and save a snapshot. It exists so the binary has something to
// do without a front-end wired up; real deployments replace this with
// whatever surface calls into the same *engine.Core methods.
func runDemo(core *engine.Core, logger *slog.Logger) {
	defaultB, err := decimal.NewFromString(core.CfgDefaultB())
	if err != nil {
		logger.Error("invalid configured default_b", "error", err)
		return
	}

	trader := core.CreateAccount()
	if _, err := core.Mint(trader.ID, decimal.NewFromInt(1000)); err != nil {
		logger.Error("mint failed", "error", err)
		return
	}

	m, err := core.CreateMarket(market.CreateMarketParams{
		Question:        "demo: will this market resolve yes?",
		Outcomes:        []string{"yes", "no"},
		B:               &defaultB,
		PricePrecision:  core.CfgPricePrecision(),
		AmountPrecision: core.CfgAmountPrecision(),
	})
	if err != nil {
		logger.Error("create market failed", "error", err)
		return
	}

	trade, err := core.Buy(m.ID, trader.ID, "yes", decimal.NewFromInt(50))
	if err != nil {
		logger.Error("buy failed", "error", err)
		return
	}
	logger.Info("demo trade executed", "market_id", m.ID, "tokens", trade.Amount.String(), "avg_price", trade.AvgPrice.String())

	if err := core.Snapshot(); err != nil {
		logger.Error("snapshot failed", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
