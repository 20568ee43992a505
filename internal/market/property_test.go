package market

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"marketcore/internal/lmsr"
	"marketcore/pkg/types"
)

// checkUniversalInvariants asserts five of the invariants spec.md §8 names
// for "arbitrary sequences of valid operations": per-account frozen/lock
// agreement, global conservation against minted supply, price normalization,
// CP/CL mutual exclusion, and position/lock agreement. It is called after
// every successfully executed operation in the property loop below, and
// after the partial sell in TestSellFormsConditionalProfitViaEngine.
func checkUniversalInvariants(t *testing.T, e *Engine, m *Market) {
	t.Helper()

	accounts := e.ledger.Accounts()
	systemTotal := decimal.Zero
	for _, acc := range accounts {
		systemTotal = systemTotal.Add(acc.Available).Add(acc.Frozen)

		lockSum := decimal.Zero
		for _, l := range acc.Locks {
			lockSum = lockSum.Add(l.Amount)
		}
		if !acc.Frozen.Equal(lockSum) {
			t.Fatalf("account %d: frozen %s != sum(locks) %s", acc.ID, acc.Frozen, lockSum)
		}

		hasCP := acc.LockByMarketAndType(m.ID, types.LockConditionalProfit) != nil
		hasCL := acc.LockByMarketAndType(m.ID, types.LockConditionalLoss) != nil
		if hasCP && hasCL {
			t.Fatalf("account %d: both CP and CL locks present for market %d", acc.ID, m.ID)
		}

		for _, outcome := range m.Outcomes {
			pos := m.Positions[acc.ID][outcome]
			lk := acc.LockByMarketAndType(m.ID, types.OutcomePositionLock(outcome))
			if pos.IsZero() && lk != nil {
				t.Fatalf("account %d: position[%s] is zero but position lock %d still present", acc.ID, outcome, lk.ID)
			}
		}
	}

	minted := e.ledger.TotalMinted()
	if !systemTotal.Equal(minted) {
		t.Fatalf("system total %s != total minted %s", systemTotal, minted)
	}

	if m.Status == string(types.MarketOpen) {
		prices := lmsr.Prices(m.Q, m.B)
		sum := decimal.Zero
		for _, p := range prices {
			sum = sum.Add(p)
		}
		tol := decimal.NewFromFloat(0.0001)
		if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(tol) {
			t.Fatalf("prices %v sum to %s, want ~1", prices, sum)
		}
	}
}

// randomOpSequence drives opCount random valid buy/sell operations across
// traders against m using rng, asserting checkUniversalInvariants after each
// one that actually executes. Operations that fail validation (e.g. a sell
// with no held position, or a buy below the minimum tradable amount) are
// skipped without being counted as a failure, since they produce no state
// change to check.
func randomOpSequence(t *testing.T, e *Engine, m *Market, traderIDs []int, rng *rand.Rand, opCount int) {
	t.Helper()

	for i := 0; i < opCount; i++ {
		trader := traderIDs[rng.Intn(len(traderIDs))]
		outcome := m.Outcomes[rng.Intn(len(m.Outcomes))]

		if rng.Intn(2) == 0 {
			budget := decimal.NewFromInt(int64(1 + rng.Intn(40)))
			if _, err := e.Buy(m.ID, trader, outcome, budget); err != nil {
				continue
			}
		} else {
			pos, err := e.Position(m.ID, trader)
			if err != nil {
				continue
			}
			held := pos[outcome]
			if !held.IsPositive() {
				continue
			}
			frac := decimal.NewFromInt(int64(1 + rng.Intn(100))).Div(decimal.NewFromInt(100))
			amount := held.Mul(frac).RoundFloor(int32(m.AmountPrecision))
			if !amount.IsPositive() {
				continue
			}
			if _, err := e.Sell(m.ID, trader, outcome, amount); err != nil {
				continue
			}
		}

		cur, err := e.GetMarket(m.ID)
		if err != nil {
			t.Fatalf("GetMarket: %v", err)
		}
		checkUniversalInvariants(t, e, cur)
	}
}

// TestPropertyRandomOperationSequencePreservesInvariants runs two
// differently seeded, deterministic random sequences of buys and sells
// across several traders and checks spec.md §8's universal invariants hold
// after every executed operation (see DESIGN.md for why these loops are
// hand-rolled over math/rand rather than a third-party property-testing
// library).
func TestPropertyRandomOperationSequencePreservesInvariants(t *testing.T) {
	for _, seed := range []int64{1, 42} {
		seed := seed
		t.Run(seedName(seed), func(t *testing.T) {
			t.Parallel()
			e, lg := newTestEngine()
			m := createTestMarket(t, e, decimal.NewFromInt(100))

			traderIDs := make([]int, 0, 4)
			for i := 0; i < 4; i++ {
				acc := lg.CreateAccount()
				if _, err := lg.Mint(acc.ID, decimal.NewFromInt(5000)); err != nil {
					t.Fatalf("Mint: %v", err)
				}
				traderIDs = append(traderIDs, acc.ID)
			}

			rng := rand.New(rand.NewSource(seed))
			randomOpSequence(t, e, m, traderIDs, rng, 100)

			final, err := e.GetMarket(m.ID)
			if err != nil {
				t.Fatalf("GetMarket: %v", err)
			}
			if err := e.Resolve(final.ID, final.Outcomes[0]); err != nil {
				t.Fatalf("Resolve: %v", err)
			}

			for _, acc := range lg.Accounts() {
				for _, l := range acc.Locks {
					if l.MarketID == final.ID {
						t.Fatalf("account %d retains lock %d referencing resolved market %d", acc.ID, l.ID, final.ID)
					}
				}
			}

			amm, err := lg.GetAccount(final.AMMAccountID)
			if err != nil {
				t.Fatalf("GetAccount(AMM): %v", err)
			}
			subsidy := final.B.Mul(decimal.NewFromFloat(0.6931471805599453)).Round(int32(final.PricePrecision))
			ammTotal := amm.Available.Add(amm.Frozen)
			loss := subsidy.Sub(ammTotal)
			maxLoss := lmsr.MaxLoss(final.B, len(final.Outcomes)).Add(decimal.NewFromFloat(0.001))
			if loss.GreaterThan(maxLoss) {
				t.Fatalf("AMM loss %s exceeds max_loss(b=%s, n=%d) = %s", loss, final.B, len(final.Outcomes), maxLoss)
			}
		})
	}
}

func seedName(seed int64) string {
	switch seed {
	case 1:
		return "seed_1"
	default:
		return "seed_42"
	}
}
