package risk

import (
	"errors"
	"fmt"
	"math/big"

	"OptionLedger/internal/position"
	"OptionLedger/internal/tickmath"
)

// ErrInvalidTokenIdParameter is returned when a declared risk-partner pair
// mixes collateral conventions inconsistently: different size assets,
// different ratios, or a same-type same-direction pair that hedges nothing.
var ErrInvalidTokenIdParameter = errors.New("risk: invalid token id parameter")

// pairShape classifies a declared partner pair into one of the canonical
// hedge structures the resolver knows a bounded max loss for.
type pairShape int

const (
	shapeSpread    pairShape = iota // same type, opposite direction, different strike
	shapeCalendar                   // same type, opposite direction, same strike, different width
	shapeBox                        // same type, opposite direction, identical range
	shapeStrangle                   // different type, both short
	shapeSynthetic                  // different type, opposite direction
	shapeLongPair                   // different type, both long: no reduction
)

// PortfolioRequirement reduces a decoded position to the collateral it
// must hold at the supplied tick. Legs whose declared risk partner is a
// different leg are resolved as a pair at the structure's bounded maximum
// loss; everything else falls back to per-leg summation. The declared
// partner index is authoritative: no partnering is ever inferred.
func PortfolioRequirement(legs []position.Leg, currentTick int32, positionSize *big.Int, params Params) (Requirement, error) {
	results := make([]LegResult, len(legs))
	for i, leg := range legs {
		res, err := LegRequirement(leg, currentTick, positionSize, params)
		if err != nil {
			return Requirement{}, fmt.Errorf("leg %d: %w", i, err)
		}
		results[i] = res
	}

	total := ZeroRequirement()
	for i, leg := range legs {
		partner := int(leg.RiskPartner)
		if partner == i {
			total = total.Add(results[i].Required)
			continue
		}
		if partner < i {
			// Pair already resolved when the lower index was visited.
			continue
		}

		pairReq, err := pairRequirement(legs[i], legs[partner], results[i], results[partner], currentTick, positionSize)
		if err != nil {
			return Requirement{}, fmt.Errorf("legs %d/%d: %w", i, partner, err)
		}
		total = total.Add(pairReq)
	}
	return total, nil
}

// pairRequirement returns the collateral for one declared partner pair.
// Whatever the recognized structure, the result is capped at the naive sum
// of the two legs' individual requirements, so cross-margining can only
// ever reduce.
func pairRequirement(a, b position.Leg, resA, resB LegResult, currentTick int32, positionSize *big.Int) (Requirement, error) {
	if a.Asset != b.Asset {
		return Requirement{}, fmt.Errorf("%w: partnered legs size different assets", ErrInvalidTokenIdParameter)
	}
	if a.Ratio != b.Ratio {
		return Requirement{}, fmt.Errorf("%w: partnered legs have different ratios", ErrInvalidTokenIdParameter)
	}

	shape, err := classifyPair(a, b)
	if err != nil {
		return Requirement{}, err
	}

	naive := ZeroRequirement().Add(resA.Required).Add(resB.Required)

	var reduced Requirement
	switch shape {
	case shapeBox:
		// Identical range, opposite direction: exactly hedged.
		reduced = ZeroRequirement()
	case shapeSpread, shapeCalendar:
		reduced, err = definedRiskRequirement(a, b, positionSize)
		if err != nil {
			return Requirement{}, err
		}
	case shapeStrangle:
		// Only one side can be in the money at a time; the worst case is
		// the worse wing alone, not the sum. The wings post in different
		// tokens, so pick the worse one at the current price.
		reduced, err = worseWingRequirement(resA, resB, currentTick)
		if err != nil {
			return Requirement{}, err
		}
	case shapeSynthetic:
		// The long leg's gains offset the short leg's losses tick for
		// tick; the short leg's own requirement bounds the pair.
		if a.Long {
			reduced = cloneRequirement(resB.Required)
		} else {
			reduced = cloneRequirement(resA.Required)
		}
	default: // shapeLongPair
		reduced = cloneRequirement(naive)
	}

	return Requirement{
		Token0: minBig(reduced.Token0, naive.Token0),
		Token1: minBig(reduced.Token1, naive.Token1),
	}, nil
}

func classifyPair(a, b position.Leg) (pairShape, error) {
	if a.TokenType == b.TokenType {
		if a.Long == b.Long {
			return 0, fmt.Errorf("%w: same-type partnered legs must have opposite direction", ErrInvalidTokenIdParameter)
		}
		switch {
		case a.Strike == b.Strike && a.Width == b.Width:
			return shapeBox, nil
		case a.Strike == b.Strike:
			return shapeCalendar, nil
		default:
			return shapeSpread, nil
		}
	}
	if !a.Long && !b.Long {
		return shapeStrangle, nil
	}
	if a.Long != b.Long {
		return shapeSynthetic, nil
	}
	return shapeLongPair, nil
}

// definedRiskRequirement computes the bounded max loss of a spread or
// calendar: the difference between the two chunks' full notionals in the
// pair's primary collateral token. A spread can never lose more than the
// notional gap between its strikes.
func definedRiskRequirement(a, b position.Leg, positionSize *big.Int) (Requirement, error) {
	chunkA, err := ChunkForLeg(a, positionSize)
	if err != nil {
		return Requirement{}, err
	}
	chunkB, err := ChunkForLeg(b, positionSize)
	if err != nil {
		return Requirement{}, err
	}

	notionalA, err := primaryAmount(a, chunkA)
	if err != nil {
		return Requirement{}, err
	}
	notionalB, err := primaryAmount(b, chunkB)
	if err != nil {
		return Requirement{}, err
	}

	gap := new(big.Int).Sub(notionalA, notionalB)
	gap.Abs(gap)

	req := ZeroRequirement()
	if a.TokenType == position.TokenTypeCall {
		req.Token0 = gap
	} else {
		req.Token1 = gap
	}
	return req, nil
}

// worseWingRequirement compares two requirements in token1 terms at the
// current sqrt price and returns a copy of the larger. Conversion rounds up
// so the comparison never undervalues the token0 side.
func worseWingRequirement(resA, resB LegResult, currentTick int32) (Requirement, error) {
	sqrtPrice, err := tickmath.GetSqrtRatioAtTick(currentTick)
	if err != nil {
		return Requirement{}, err
	}

	totalA, err := requirementInToken1(resA.Required, sqrtPrice)
	if err != nil {
		return Requirement{}, err
	}
	totalB, err := requirementInToken1(resB.Required, sqrtPrice)
	if err != nil {
		return Requirement{}, err
	}

	if totalA.Cmp(totalB) >= 0 {
		return cloneRequirement(resA.Required), nil
	}
	return cloneRequirement(resB.Required), nil
}

func requirementInToken1(r Requirement, sqrtPrice *big.Int) (*big.Int, error) {
	converted, err := tickmath.Convert0To1(r.Token0, sqrtPrice, tickmath.RoundUp)
	if err != nil {
		return nil, err
	}
	return converted.Add(converted, r.Token1), nil
}

func cloneRequirement(r Requirement) Requirement {
	return Requirement{
		Token0: new(big.Int).Set(r.Token0),
		Token1: new(big.Int).Set(r.Token1),
	}
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
