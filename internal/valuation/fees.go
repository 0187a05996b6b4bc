package valuation

import (
	"fmt"
	"math/big"

	"OptionLedger/internal/position"
	"OptionLedger/internal/risk"
)

// FeeGrowthSource is the AMM boundary contract: cumulative fee growth per
// unit of liquidity inside a tick range, in X128 fixed point. Implemented
// by the excluded pool collaborator; the engine never caches its values
// across calls.
type FeeGrowthSource interface {
	FeeGrowthInside(poolID uint64, tickLower, tickUpper int32) (inside0X128, inside1X128 *big.Int, err error)
}

// FeeCheckpoint is a leg's fee-growth snapshot, captured at mint time and
// stored on the account's position balance.
type FeeCheckpoint struct {
	Inside0X128 *big.Int
	Inside1X128 *big.Int
}

var q128 = new(big.Int).Lsh(big.NewInt(1), 128)

// Snapshot captures the current fee-growth checkpoints for every leg of a
// position, in leg order. Called once at mint.
func Snapshot(src FeeGrowthSource, poolID uint64, legs []position.Leg) ([]FeeCheckpoint, error) {
	checkpoints := make([]FeeCheckpoint, len(legs))
	for i, leg := range legs {
		lower, upper := leg.TickRange()
		inside0, inside1, err := src.FeeGrowthInside(poolID, lower, upper)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		checkpoints[i] = FeeCheckpoint{
			Inside0X128: new(big.Int).Set(inside0),
			Inside1X128: new(big.Int).Set(inside1),
		}
	}
	return checkpoints, nil
}

// AccumulatedFees returns the premium accrued since the position's mint
// checkpoints: the fee-growth delta per leg, scaled by the leg's liquidity
// (ratio included via the chunk). Short legs earn premium, long legs owe
// it, so the result nets across directions.
func AccumulatedFees(
	src FeeGrowthSource,
	poolID uint64,
	legs []position.Leg,
	checkpoints []FeeCheckpoint,
	positionSize *big.Int,
) (fees0, fees1 *big.Int, err error) {
	if len(checkpoints) != len(legs) {
		return nil, nil, fmt.Errorf("checkpoint count %d does not match leg count %d", len(checkpoints), len(legs))
	}

	fees0 = new(big.Int)
	fees1 = new(big.Int)

	for i, leg := range legs {
		chunk, err := risk.ChunkForLeg(leg, positionSize)
		if err != nil {
			return nil, nil, fmt.Errorf("leg %d: %w", i, err)
		}
		lower, upper := leg.TickRange()
		inside0, inside1, err := src.FeeGrowthInside(poolID, lower, upper)
		if err != nil {
			return nil, nil, fmt.Errorf("leg %d: %w", i, err)
		}

		leg0 := accrued(inside0, checkpoints[i].Inside0X128, chunk.Liquidity)
		leg1 := accrued(inside1, checkpoints[i].Inside1X128, chunk.Liquidity)

		if leg.Long {
			fees0.Sub(fees0, leg0)
			fees1.Sub(fees1, leg1)
		} else {
			fees0.Add(fees0, leg0)
			fees1.Add(fees1, leg1)
		}
	}
	return fees0, fees1, nil
}

// accrued converts an X128 fee-growth delta into a token amount for the
// given liquidity, rounding down (fees are received, never overpaid).
func accrued(current, checkpoint, liquidity *big.Int) *big.Int {
	delta := new(big.Int).Sub(current, checkpoint)
	if delta.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(delta, liquidity)
	return out.Div(out, q128)
}

// StaticFeeGrowth is a fixed-value FeeGrowthSource for tests and for
// deployments where the pool boundary is fed externally per call.
type StaticFeeGrowth struct {
	Inside0 *big.Int
	Inside1 *big.Int
}

func (s StaticFeeGrowth) FeeGrowthInside(uint64, int32, int32) (*big.Int, *big.Int, error) {
	inside0 := s.Inside0
	if inside0 == nil {
		inside0 = new(big.Int)
	}
	inside1 := s.Inside1
	if inside1 == nil {
		inside1 = new(big.Int)
	}
	return new(big.Int).Set(inside0), new(big.Int).Set(inside1), nil
}
