package store

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"marketcore/internal/counters"
	"marketcore/internal/ledger"
	"marketcore/internal/market"
)

func newTestTrio() (*ledger.Manager, *market.Engine, *counters.Service) {
	c := counters.New()
	lg := ledger.NewManager(c, slog.Default())
	me := market.NewEngine(lg, c, slog.Default())
	return lg, me, c
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	lg, me, c := newTestTrio()
	trader := lg.CreateAccount()
	if _, err := lg.Mint(trader.ID, decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	b := decimal.NewFromInt(100)
	m, err := me.CreateMarket(market.CreateMarketParams{
		Question:        "will it happen",
		Outcomes:        []string{"yes", "no"},
		B:               &b,
		PricePrecision:  4,
		AmountPrecision: 4,
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	if _, err := me.Buy(m.ID, trader.ID, "yes", decimal.NewFromInt(50)); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	s, err := Open(dir, slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(lg, me, c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	lg2, me2, c2 := newTestTrio()
	s2, err := Open(dir, slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	found, err := s2.Load(lg2, me2, c2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("Load reported no snapshot found")
	}

	traderAcc, err := lg2.GetAccount(trader.ID)
	if err != nil {
		t.Fatalf("GetAccount(trader) after load: %v", err)
	}
	wantAcc, _ := lg.GetAccount(trader.ID)
	if !traderAcc.Available.Equal(wantAcc.Available) {
		t.Errorf("trader available = %s, want %s", traderAcc.Available, wantAcc.Available)
	}
	if !traderAcc.Frozen.Equal(wantAcc.Frozen) {
		t.Errorf("trader frozen = %s, want %s", traderAcc.Frozen, wantAcc.Frozen)
	}

	restoredMarket, err := me2.GetMarket(m.ID)
	if err != nil {
		t.Fatalf("GetMarket after load: %v", err)
	}
	for i := range m.Q {
		if !restoredMarket.Q[i].Equal(m.Q[i]) {
			t.Errorf("q[%d] = %s, want %s", i, restoredMarket.Q[i], m.Q[i])
		}
	}
	if len(restoredMarket.Trades) != len(m.Trades) {
		t.Errorf("trades count = %d, want %d", len(restoredMarket.Trades), len(m.Trades))
	}
	if len(lg2.Transactions()) != len(lg.Transactions()) {
		t.Errorf("transaction count = %d, want %d", len(lg2.Transactions()), len(lg.Transactions()))
	}
	before, after := c.Snapshot(), c2.Snapshot()
	for _, kind := range []counters.Kind{counters.Account, counters.Lock, counters.Transaction, counters.Market, counters.Trade} {
		if before[string(kind)] != after[string(kind)] {
			t.Errorf("counter %q = %d after load, want %d (pre-save value)", kind, after[string(kind)], before[string(kind)])
		}
	}
}

func TestLoadMissingReturnsFalse(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir, slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	lg, me, c := newTestTrio()
	found, err := s.Load(lg, me, c)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Error("expected no snapshot to be found")
	}
}

func TestSaveOverwritesPriorSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	lg, me, c := newTestTrio()
	s, err := Open(dir, slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	acc1 := lg.CreateAccount()
	if err := s.Save(lg, me, c); err != nil {
		t.Fatalf("Save 1: %v", err)
	}

	acc2 := lg.CreateAccount()
	lg.Mint(acc2.ID, decimal.NewFromInt(5))
	if err := s.Save(lg, me, c); err != nil {
		t.Fatalf("Save 2: %v", err)
	}

	lg2, me2, c2 := newTestTrio()
	if _, err := s.Load(lg2, me2, c2); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := lg2.GetAccount(acc1.ID); err != nil {
		t.Errorf("account 1 missing after reload: %v", err)
	}
	restored2, err := lg2.GetAccount(acc2.ID)
	if err != nil {
		t.Fatalf("account 2 missing after reload: %v", err)
	}
	if !restored2.Available.Equal(decimal.NewFromInt(5)) {
		t.Errorf("account 2 available = %s, want 5", restored2.Available)
	}
}
