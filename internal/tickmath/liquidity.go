package tickmath

import "math/big"

// LiquidityChunk is the AMM-native representation of one option leg's
// exposure: a half-open tick range and the liquidity occupying it.
type LiquidityChunk struct {
	TickLower int32
	TickUpper int32
	Liquidity *big.Int
}

// Amount0ForLiquidity returns the token0 amount held by liquidity between
// sqrtA and sqrtB (order-insensitive). amount0 = L * (sqrtB - sqrtA) * 2^96
// / (sqrtB * sqrtA).
func Amount0ForLiquidity(sqrtA, sqrtB, liquidity *big.Int, rounding Rounding) (*big.Int, error) {
	lo, hi := sortSqrt(sqrtA, sqrtB)
	if lo.Sign() <= 0 {
		return nil, ErrPriceOutOfBounds
	}
	numerator, err := mulDiv(new(big.Int).Lsh(liquidity, 96), new(big.Int).Sub(hi, lo), hi, rounding)
	if err != nil {
		return nil, err
	}
	quo, rem := new(big.Int).QuoRem(numerator, lo, new(big.Int))
	if rounding == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

// Amount1ForLiquidity returns the token1 amount held by liquidity between
// sqrtA and sqrtB. amount1 = L * (sqrtB - sqrtA) / 2^96.
func Amount1ForLiquidity(sqrtA, sqrtB, liquidity *big.Int, rounding Rounding) (*big.Int, error) {
	lo, hi := sortSqrt(sqrtA, sqrtB)
	return mulDiv(liquidity, new(big.Int).Sub(hi, lo), Q96, rounding)
}

// LiquidityForAmount0 returns the liquidity equivalent to amount0 of token0
// spread over [sqrtA, sqrtB]. Rounds down so positions never claim more
// liquidity than the tokens back.
func LiquidityForAmount0(sqrtA, sqrtB, amount0 *big.Int) (*big.Int, error) {
	lo, hi := sortSqrt(sqrtA, sqrtB)
	intermediate, err := mulDiv(lo, hi, Q96, RoundDown)
	if err != nil {
		return nil, err
	}
	return mulDiv(amount0, intermediate, new(big.Int).Sub(hi, lo), RoundDown)
}

// LiquidityForAmount1 returns the liquidity equivalent to amount1 of token1
// spread over [sqrtA, sqrtB]. Rounds down.
func LiquidityForAmount1(sqrtA, sqrtB, amount1 *big.Int) (*big.Int, error) {
	lo, hi := sortSqrt(sqrtA, sqrtB)
	return mulDiv(amount1, Q96, new(big.Int).Sub(hi, lo), RoundDown)
}

// AmountsForLiquidity splits a chunk's liquidity into its token0/token1
// composition at the supplied current tick: entirely token0 below the
// range, entirely token1 above, and a mix inside it.
func AmountsForLiquidity(currentTick int32, chunk LiquidityChunk, rounding Rounding) (amount0, amount1 *big.Int, err error) {
	sqrtLower, err := GetSqrtRatioAtTick(chunk.TickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := GetSqrtRatioAtTick(chunk.TickUpper)
	if err != nil {
		return nil, nil, err
	}

	amount0 = new(big.Int)
	amount1 = new(big.Int)

	switch {
	case currentTick < chunk.TickLower:
		amount0, err = Amount0ForLiquidity(sqrtLower, sqrtUpper, chunk.Liquidity, rounding)
	case currentTick >= chunk.TickUpper:
		amount1, err = Amount1ForLiquidity(sqrtLower, sqrtUpper, chunk.Liquidity, rounding)
	default:
		var sqrtCurrent *big.Int
		sqrtCurrent, err = GetSqrtRatioAtTick(currentTick)
		if err != nil {
			return nil, nil, err
		}
		amount0, err = Amount0ForLiquidity(sqrtCurrent, sqrtUpper, chunk.Liquidity, rounding)
		if err != nil {
			return nil, nil, err
		}
		amount1, err = Amount1ForLiquidity(sqrtLower, sqrtCurrent, chunk.Liquidity, rounding)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// Convert0To1 converts a token0 amount into token1 terms at the supplied
// sqrt price: amount1 = amount0 * sqrtP^2 / 2^192.
func Convert0To1(amount0, sqrtPriceX96 *big.Int, rounding Rounding) (*big.Int, error) {
	mid, err := mulDiv(amount0, sqrtPriceX96, Q96, rounding)
	if err != nil {
		return nil, err
	}
	return mulDiv(mid, sqrtPriceX96, Q96, rounding)
}

// Convert1To0 converts a token1 amount into token0 terms at the supplied
// sqrt price: amount0 = amount1 * 2^192 / sqrtP^2.
func Convert1To0(amount1, sqrtPriceX96 *big.Int, rounding Rounding) (*big.Int, error) {
	mid, err := mulDiv(amount1, Q96, sqrtPriceX96, rounding)
	if err != nil {
		return nil, err
	}
	return mulDiv(mid, Q96, sqrtPriceX96, rounding)
}

func sortSqrt(a, b *big.Int) (lo, hi *big.Int) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}
