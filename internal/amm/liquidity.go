package amm

import "math/big"

// All liquidity and amount math is integer-only. Amounts taken from the
// depositor round down; amounts the position may charge round up.

// LiquidityForAmounts returns the largest liquidity the deposit amounts can
// back over [sqrtLower, sqrtUpper] at the current price sqrtPrice, rounding
// down. All sqrt prices are Q64.96.
func LiquidityForAmounts(sqrtPrice, sqrtLower, sqrtUpper, amountA, amountB *big.Int) *big.Int {
	if sqrtLower.Cmp(sqrtUpper) > 0 {
		sqrtLower, sqrtUpper = sqrtUpper, sqrtLower
	}

	switch {
	case sqrtPrice.Cmp(sqrtLower) <= 0:
		return liquidityForAmountA(sqrtLower, sqrtUpper, amountA)
	case sqrtPrice.Cmp(sqrtUpper) < 0:
		la := liquidityForAmountA(sqrtPrice, sqrtUpper, amountA)
		lb := liquidityForAmountB(sqrtLower, sqrtPrice, amountB)
		if la.Cmp(lb) < 0 {
			return la
		}
		return lb
	default:
		return liquidityForAmountB(sqrtLower, sqrtUpper, amountB)
	}
}

// AmountsForLiquidity returns the token amounts a position of the given
// liquidity over [sqrtLower, sqrtUpper] can pull in at sqrtPrice, rounded up.
func AmountsForLiquidity(sqrtPrice, sqrtLower, sqrtUpper, liquidity *big.Int) (amountA, amountB *big.Int) {
	if sqrtLower.Cmp(sqrtUpper) > 0 {
		sqrtLower, sqrtUpper = sqrtUpper, sqrtLower
	}

	switch {
	case sqrtPrice.Cmp(sqrtLower) <= 0:
		return amountADelta(sqrtLower, sqrtUpper, liquidity), big.NewInt(0)
	case sqrtPrice.Cmp(sqrtUpper) < 0:
		return amountADelta(sqrtPrice, sqrtUpper, liquidity), amountBDelta(sqrtLower, sqrtPrice, liquidity)
	default:
		return big.NewInt(0), amountBDelta(sqrtLower, sqrtUpper, liquidity)
	}
}

// liquidityForAmountA: L = amount * (sqrtA * sqrtB / Q96) / (sqrtB - sqrtA).
func liquidityForAmountA(sqrtA, sqrtB, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(sqrtA, sqrtB)
	num.Div(num, q96)
	num.Mul(num, amount)
	den := new(big.Int).Sub(sqrtB, sqrtA)
	return num.Div(num, den)
}

// liquidityForAmountB: L = amount * Q96 / (sqrtB - sqrtA).
func liquidityForAmountB(sqrtA, sqrtB, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amount, q96)
	den := new(big.Int).Sub(sqrtB, sqrtA)
	return num.Div(num, den)
}

// amountADelta: ceil(L << 96 * (sqrtB - sqrtA) / (sqrtB * sqrtA)).
func amountADelta(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	num := new(big.Int).Lsh(liquidity, 96)
	num.Mul(num, new(big.Int).Sub(sqrtB, sqrtA))
	num = ceilDiv(num, sqrtB)
	return ceilDiv(num, sqrtA)
}

// amountBDelta: ceil(L * (sqrtB - sqrtA) / Q96).
func amountBDelta(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	num := new(big.Int).Mul(liquidity, new(big.Int).Sub(sqrtB, sqrtA))
	return ceilDiv(num, q96)
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).DivMod(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// minBig returns the smaller of a and b without mutating either.
func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
