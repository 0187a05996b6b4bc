// Package risk computes the collateral an account must hold against its
// open option positions: per-leg requirements first, then a cross-margin
// pass that recognizes hedged leg pairs and substitutes their bounded
// maximum loss for the naive sum.
package risk

import (
	"math/big"

	"OptionLedger/internal/position"
	"OptionLedger/internal/tickmath"
)

// Requirement is a collateral requirement split across the two pool tokens.
type Requirement struct {
	Token0 *big.Int
	Token1 *big.Int
}

// ZeroRequirement returns an all-zero requirement.
func ZeroRequirement() Requirement {
	return Requirement{Token0: new(big.Int), Token1: new(big.Int)}
}

// Add accumulates other into r.
func (r Requirement) Add(other Requirement) Requirement {
	r.Token0.Add(r.Token0, other.Token0)
	r.Token1.Add(r.Token1, other.Token1)
	return r
}

// LegResult is the outcome of evaluating a single leg: the token amounts
// its liquidity chunk holds at the current price, and the collateral each
// token must reserve against it.
type LegResult struct {
	Amount0  *big.Int
	Amount1  *big.Int
	Required Requirement
}

// ChunkForLeg converts a leg plus the base position size into its
// AMM-native liquidity chunk. Size is denominated in the leg's declared
// asset and multiplied by the leg's ratio.
func ChunkForLeg(leg position.Leg, positionSize *big.Int) (tickmath.LiquidityChunk, error) {
	lower, upper := leg.TickRange()
	sqrtLower, err := tickmath.GetSqrtRatioAtTick(lower)
	if err != nil {
		return tickmath.LiquidityChunk{}, err
	}
	sqrtUpper, err := tickmath.GetSqrtRatioAtTick(upper)
	if err != nil {
		return tickmath.LiquidityChunk{}, err
	}

	size := new(big.Int).Mul(positionSize, big.NewInt(int64(leg.Ratio)))

	var liquidity *big.Int
	if leg.Asset == 0 {
		liquidity, err = tickmath.LiquidityForAmount0(sqrtLower, sqrtUpper, size)
	} else {
		liquidity, err = tickmath.LiquidityForAmount1(sqrtLower, sqrtUpper, size)
	}
	if err != nil {
		return tickmath.LiquidityChunk{}, err
	}
	return tickmath.LiquidityChunk{TickLower: lower, TickUpper: upper, Liquidity: liquidity}, nil
}

// LegRequirement computes one leg's collateral requirement at the supplied
// current tick. Pure function of its inputs; positionSize must be positive
// (zero sizes are rejected upstream by the minting flow).
//
// Short legs reserve a configured percentage of notional while OTM, ramping
// to 100% across the tick range as the leg goes ITM — the worst case the
// writer could owe if price continues to the far edge of the range. Long
// legs reserve the configured fraction of that worst case, melting toward
// zero as the leg moves in the holder's favor.
func LegRequirement(leg position.Leg, currentTick int32, positionSize *big.Int, params Params) (LegResult, error) {
	chunk, err := ChunkForLeg(leg, positionSize)
	if err != nil {
		return LegResult{}, err
	}

	// Round up: the requirement side is always the paying side.
	amount0, amount1, err := tickmath.AmountsForLiquidity(currentTick, chunk, tickmath.RoundUp)
	if err != nil {
		return LegResult{}, err
	}

	rate := requirementRate(leg, currentTick, chunk, params)

	req := ZeroRequirement()
	req.Token0, err = tickmath.MulDiv(amount0, big.NewInt(rate), big.NewInt(RateScale), tickmath.RoundUp)
	if err != nil {
		return LegResult{}, err
	}
	req.Token1, err = tickmath.MulDiv(amount1, big.NewInt(rate), big.NewInt(RateScale), tickmath.RoundUp)
	if err != nil {
		return LegResult{}, err
	}

	return LegResult{Amount0: amount0, Amount1: amount1, Required: req}, nil
}

// requirementRate returns the collateral rate (basis points) for a leg at
// the given tick.
func requirementRate(leg position.Leg, currentTick int32, chunk tickmath.LiquidityChunk, params Params) int64 {
	otmRate := params.OTMRateAsset0
	if leg.Asset == 1 {
		otmRate = params.OTMRateAsset1
	}

	crossed := crossedFractionBps(leg, currentTick, chunk, params.ItmScaling)

	if leg.Long {
		// base = longFraction * otmRate, melting to zero as the leg
		// crosses into the money.
		base := params.LongRateFraction * otmRate / RateScale
		return base * (RateScale - crossed) / RateScale
	}
	// otmRate while OTM, 100% when the whole range has been crossed.
	return otmRate + (RateScale-otmRate)*crossed/RateScale
}

// crossedFractionBps returns how far (basis points, 0..RateScale) the
// current price has moved through the leg's range toward fully ITM.
// Calls go ITM as price rises through the range, puts as it falls.
func crossedFractionBps(leg position.Leg, currentTick int32, chunk tickmath.LiquidityChunk, model ScalingModel) int64 {
	span := int64(chunk.TickUpper - chunk.TickLower)

	var into int64
	switch leg.TokenType {
	case position.TokenTypeCall:
		into = int64(currentTick - chunk.TickLower)
	default: // put
		into = int64(chunk.TickUpper - currentTick)
	}

	if into <= 0 {
		return 0
	}
	if into >= span {
		return RateScale
	}

	if model == ScalingQuadratic {
		return RateScale * into * into / (span * span)
	}
	return RateScale * into / span
}

// primaryAmount returns the full notional of a chunk in the leg's primary
// collateral token: the token0 amount for call-shaped legs (entirely
// token0 when OTM), the token1 amount for put-shaped legs.
func primaryAmount(leg position.Leg, chunk tickmath.LiquidityChunk) (*big.Int, error) {
	sqrtLower, err := tickmath.GetSqrtRatioAtTick(chunk.TickLower)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := tickmath.GetSqrtRatioAtTick(chunk.TickUpper)
	if err != nil {
		return nil, err
	}
	if leg.TokenType == position.TokenTypeCall {
		return tickmath.Amount0ForLiquidity(sqrtLower, sqrtUpper, chunk.Liquidity, tickmath.RoundUp)
	}
	return tickmath.Amount1ForLiquidity(sqrtLower, sqrtUpper, chunk.Liquidity, tickmath.RoundUp)
}
