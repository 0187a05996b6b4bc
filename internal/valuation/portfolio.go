// Package valuation marks open positions to a hypothetical price and
// accrues premium from the AMM's cumulative fee growth. It runs over the
// same decoded legs as the collateral calculator but is independent of it.
package valuation

import (
	"fmt"
	"math/big"

	"OptionLedger/internal/position"
	"OptionLedger/internal/risk"
	"OptionLedger/internal/tickmath"
)

// PortfolioValue marks every leg's liquidity chunk to the supplied tick
// and nets long against short contributions. A leg's value is intrinsic:
// the chunk's composition at the current price minus its composition when
// fully out of the money, so an untouched short leg values to exactly
// zero. Long and short legs of identical strike/width/type/ratio use
// identical chunks and identical rounding, so an exactly matched pair
// values to zero at any price.
func PortfolioValue(legs []position.Leg, currentTick int32, positionSize *big.Int) (value0, value1 *big.Int, err error) {
	value0 = new(big.Int)
	value1 = new(big.Int)

	for i, leg := range legs {
		legValue0, legValue1, err := legIntrinsicValue(leg, currentTick, positionSize)
		if err != nil {
			return nil, nil, fmt.Errorf("leg %d: %w", i, err)
		}
		if leg.Long {
			value0.Add(value0, legValue0)
			value1.Add(value1, legValue1)
		} else {
			value0.Sub(value0, legValue0)
			value1.Sub(value1, legValue1)
		}
	}
	return value0, value1, nil
}

// legIntrinsicValue is the chunk's current composition minus its OTM
// baseline: all token0 below the range for calls, all token1 above it for
// puts. Both sides round down with the same chunk, so the baseline cancels
// exactly when the leg is fully out of the money.
func legIntrinsicValue(leg position.Leg, currentTick int32, positionSize *big.Int) (*big.Int, *big.Int, error) {
	chunk, err := risk.ChunkForLeg(leg, positionSize)
	if err != nil {
		return nil, nil, err
	}
	amount0, amount1, err := tickmath.AmountsForLiquidity(currentTick, chunk, tickmath.RoundDown)
	if err != nil {
		return nil, nil, err
	}

	sqrtLower, err := tickmath.GetSqrtRatioAtTick(chunk.TickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtUpper, err := tickmath.GetSqrtRatioAtTick(chunk.TickUpper)
	if err != nil {
		return nil, nil, err
	}

	if leg.TokenType == position.TokenTypeCall {
		baseline0, err := tickmath.Amount0ForLiquidity(sqrtLower, sqrtUpper, chunk.Liquidity, tickmath.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		amount0.Sub(amount0, baseline0)
	} else {
		baseline1, err := tickmath.Amount1ForLiquidity(sqrtLower, sqrtUpper, chunk.Liquidity, tickmath.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		amount1.Sub(amount1, baseline1)
	}
	return amount0, amount1, nil
}

// NetValueInToken0 collapses a two-token portfolio value into token0
// terms at the supplied tick's price. Used by the read side to report a
// single-denomination mark; signs carry through the conversion.
func NetValueInToken0(value0, value1 *big.Int, currentTick int32) (*big.Int, error) {
	sqrtPrice, err := tickmath.GetSqrtRatioAtTick(currentTick)
	if err != nil {
		return nil, err
	}
	converted, err := tickmath.Convert1To0(value1, sqrtPrice, tickmath.RoundDown)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(value0, converted), nil
}
