package submit

import "math/big"

// FeeState carries the dynamic-fee parameters for one logical submission.
// Both values are monotonically non-decreasing across retries, and the tip
// cap never exceeds the fee cap.
type FeeState struct {
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

// Bump multipliers, in percent. The first escalation is gentler than the
// following ones.
const (
	firstBumpPct = 125
	laterBumpPct = 130
)

// Bumped returns a new FeeState escalated for the retry after the given
// attempt number (1-based). The receiver is not mutated.
func (f FeeState) Bumped(attempt int) FeeState {
	pct := int64(laterBumpPct)
	if attempt <= 1 {
		pct = firstBumpPct
	}
	mul := big.NewInt(pct)
	div := big.NewInt(100)

	feeCap := new(big.Int).Mul(f.GasFeeCap, mul)
	feeCap.Div(feeCap, div)
	tipCap := new(big.Int).Mul(f.GasTipCap, mul)
	tipCap.Div(tipCap, div)

	// Integer division can stall tiny values; force progress.
	if feeCap.Cmp(f.GasFeeCap) <= 0 {
		feeCap = new(big.Int).Add(f.GasFeeCap, big.NewInt(1))
	}
	if tipCap.Cmp(f.GasTipCap) < 0 {
		tipCap = new(big.Int).Set(f.GasTipCap)
	}
	if tipCap.Cmp(feeCap) > 0 {
		tipCap = new(big.Int).Set(feeCap)
	}

	return FeeState{GasFeeCap: feeCap, GasTipCap: tipCap}
}
