// Package lmsr implements the Logarithmic Market Scoring Rule cost function
// and its derivatives as pure, stateless functions.
//
// Outcomes are modeled as a closed, ordered set: Q is a fixed-length vector
// aligned to the market's outcome index rather than an open map, so a
// market with outcomes ["yes","no"] always has len(Q) == 2 and Q[0] is the
// "yes" quantity. Callers (internal/market) own the mapping from outcome
// name to index.
//
// exp and ln run in float64 on q-normalized inputs (subtract max(Q) so the
// largest exponent is 0) and convert back through decimal.NewFromFloat —
// safe because normalization keeps every exponent <= 0, so e^x never
// overflows float64 range.
package lmsr

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// maxOf returns the largest entry in q, or zero for an empty q.
func maxOf(q []decimal.Decimal) decimal.Decimal {
	if len(q) == 0 {
		return decimal.Zero
	}
	max := q[0]
	for _, v := range q[1:] {
		if v.GreaterThan(max) {
			max = v
		}
	}
	return max
}

// normalize returns a copy of q shifted so its maximum entry is zero. Prices
// are invariant under this shift; it exists purely to keep the float64
// exponentiation below from overflowing — every shifted entry is <= 0, so
// e^x lands in (0,1] instead of risking +Inf for large q.
func normalize(q []decimal.Decimal) []decimal.Decimal {
	if len(q) == 0 {
		return q
	}
	max := maxOf(q)
	if max.IsZero() {
		out := make([]decimal.Decimal, len(q))
		copy(out, q)
		return out
	}
	out := make([]decimal.Decimal, len(q))
	for i, v := range q {
		out[i] = v.Sub(max)
	}
	return out
}

func expOf(v, b decimal.Decimal) decimal.Decimal {
	f, _ := v.Div(b).Float64()
	return decimal.NewFromFloat(math.Exp(f))
}

func lnOf(v decimal.Decimal) decimal.Decimal {
	f, _ := v.Float64()
	return decimal.NewFromFloat(math.Log(f))
}

// lnKExpPlusC returns ln(k*e^x + c) without ever computing e^x for large
// positive x directly, since k and c are O(n) (n = outcome count) and a
// large buy budget drives x = budget/b arbitrarily high. For x >= 0 it
// factors out e^x: k*e^x + c = e^x*(k + c*e^-x), so the exponential that's
// evaluated (e^-x) shrinks instead of growing. For x < 0, e^x itself is
// already <= 1 and the direct form is safe.
func lnKExpPlusC(x, k, c float64) float64 {
	if x >= 0 {
		return x + math.Log(k+c*math.Exp(-x))
	}
	return math.Log(k*math.Exp(x) + c)
}

// expSum returns Σ e^(q_i/b) over the q-normalized vector.
func expSum(q []decimal.Decimal, b decimal.Decimal) decimal.Decimal {
	qn := normalize(q)
	sum := decimal.Zero
	for _, v := range qn {
		sum = sum.Add(expOf(v, b))
	}
	return sum
}

// Cost is the LMSR cost function C(q) = b*ln(Σ e^(q_i/b)). It is not
// meaningful on its own; trading costs are always Cost(after) - Cost(before).
//
// expSum operates on a q-normalized (max-shifted) copy to keep the float64
// exponentiation from overflowing, which computes b*ln(Σ e^(q_i/b)) - max(q)
// instead of the true cost; max(q) is added back here so callers comparing
// Cost across two q vectors with different maximums (e.g. a buy that
// overtakes the previous maximum) still get the correct difference.
func Cost(q []decimal.Decimal, b decimal.Decimal) decimal.Decimal {
	return maxOf(q).Add(b.Mul(lnOf(expSum(q, b))))
}

// Prices returns softmax(q/b): one probability per outcome, summing to 1
// within Decimal tolerance.
func Prices(q []decimal.Decimal, b decimal.Decimal) []decimal.Decimal {
	qn := normalize(q)
	exps := make([]decimal.Decimal, len(qn))
	total := decimal.Zero
	for i, v := range qn {
		exps[i] = expOf(v, b)
		total = total.Add(exps[i])
	}
	out := make([]decimal.Decimal, len(qn))
	for i, e := range exps {
		out[i] = e.Div(total)
	}
	return out
}

// CostToBuy returns the credits required to move outcome o's quantity by
// amount (positive to buy, negative to sell — a sell returns a negative
// number, i.e. a credit back to the seller).
func CostToBuy(q []decimal.Decimal, b decimal.Decimal, o int, amount decimal.Decimal) decimal.Decimal {
	after := make([]decimal.Decimal, len(q))
	copy(after, q)
	after[o] = after[o].Add(amount)
	return Cost(after, b).Sub(Cost(q, b))
}

// AmountForCost is the closed-form inverse of CostToBuy: given a credit
// budget, how many tokens of outcome o can be bought (or, for a negative
// budget, how many must be sold to receive that many credits).
//
//	tokens = b * ln( S*(e^(budget/b) - 1)/e_o + 1 )
//	       = b * ln( (S/e_o)*e^(budget/b) + (1 - S/e_o) )
//
// with S = Σ e^(q_i/b) and e_o = e^(q_o/b), both on q-normalized values. The
// second form is evaluated via lnKExpPlusC so a large budget (budget/b
// driven up by a big single buy) never computes e^(budget/b) directly.
func AmountForCost(q []decimal.Decimal, b decimal.Decimal, o int, budget decimal.Decimal) decimal.Decimal {
	qn := normalize(q)
	s := decimal.Zero
	for _, v := range qn {
		s = s.Add(expOf(v, b))
	}
	eo := expOf(qn[o], b)
	k, _ := s.Div(eo).Float64()
	c := 1 - k
	x, _ := budget.Div(b).Float64()
	return b.Mul(decimal.NewFromFloat(lnKExpPlusC(x, k, c)))
}

// logSum returns the true (un-normalized) ln(Σ e^(q_i/b)). expSum's sum
// runs over q-normalized (max-shifted) terms, so lnOf(expSum(...)) alone
// is short by exactly max(q)/b; Cost(q,b) == b*logSum(q,b) exactly (see
// Cost's doc comment), so dividing it back out recovers the true value
// without re-deriving the shift here.
func logSum(q []decimal.Decimal, b decimal.Decimal) decimal.Decimal {
	return Cost(q, b).Div(b)
}

// BForFunding rescales b by an additional funding delta while preserving
// current prices: new_b = b + funding/ln(Σ e^(q_i/b)); q is rescaled by
// new_b/b. Positive funding increases liquidity, negative decreases it.
func BForFunding(q []decimal.Decimal, b decimal.Decimal, funding decimal.Decimal) (newB decimal.Decimal, newQ []decimal.Decimal) {
	newB = b.Add(funding.Div(logSum(q, b)))
	ratio := newB.Div(b)
	newQ = make([]decimal.Decimal, len(q))
	for i, v := range q {
		newQ[i] = v.Mul(ratio)
	}
	return newB, newQ
}

// LiquidityCost is the dual of BForFunding: given a target new_b, returns
// the rescaled q and the funding delta required to reach it.
//
//	funding = (new_b - b) * ln(Σ e^(q_i/b))
func LiquidityCost(q []decimal.Decimal, b, newB decimal.Decimal) (newQ []decimal.Decimal, funding decimal.Decimal) {
	ratio := newB.Div(b)
	newQ = make([]decimal.Decimal, len(q))
	for i, v := range q {
		newQ[i] = v.Mul(ratio)
	}
	funding = newB.Sub(b).Mul(logSum(q, b))
	return newQ, funding
}

// CostToMovePrice returns the token amount (signed: positive buy, negative
// sell) and credit cost needed to move outcome o's price to targetPrice,
// holding every other outcome's raw q fixed.
func CostToMovePrice(q []decimal.Decimal, b decimal.Decimal, o int, targetPrice decimal.Decimal) (amount, cost decimal.Decimal, err error) {
	if targetPrice.LessThanOrEqual(decimal.Zero) || targetPrice.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("lmsr.CostToMovePrice: target price %s out of (0,1)", targetPrice)
	}
	qn := normalize(q)
	othersSum := decimal.Zero
	for i, v := range qn {
		if i == o {
			continue
		}
		othersSum = othersSum.Add(expOf(v, b))
	}
	// target = e^(q_new/b) / (e^(q_new/b) + othersSum)
	// => e^(q_new/b) = target*othersSum / (1-target)
	ratio := targetPrice.Mul(othersSum).Div(decimal.NewFromInt(1).Sub(targetPrice))
	qNewNormalized := b.Mul(lnOf(ratio))
	qNew := qNewNormalized.Add(maxOf(q))
	amount = qNew.Sub(q[o])
	cost = CostToBuy(q, b, o, amount)
	return amount, cost, nil
}

// MaxLoss is the required AMM subsidy for a market with n outcomes:
// b * ln(n), the theoretical maximum market-maker loss.
func MaxLoss(b decimal.Decimal, n int) decimal.Decimal {
	return b.Mul(decimal.NewFromFloat(math.Log(float64(n))))
}

// BForMaxLoss is the inverse of MaxLoss: the liquidity parameter b that
// caps the AMM's maximum loss at the given funding amount for a market
// with n outcomes: b = funding / ln(n).
func BForMaxLoss(funding decimal.Decimal, n int) decimal.Decimal {
	return funding.Div(decimal.NewFromFloat(math.Log(float64(n))))
}
