// Package tickmath converts between the AMM's log-price grid (ticks),
// Q64.96 square-root prices, liquidity amounts, and token amounts.
//
// All conversions take an explicit rounding direction: round up when the
// caller is paying, round down when the caller is receiving. Rounding bias
// is tested separately from the economic logic that consumes it.
package tickmath

import (
	"errors"
	"math/big"
)

// Tick bounds of the underlying AMM price grid. sqrt(1.0001^tick) stays
// representable in an unsigned 160-bit Q64.96 value inside these bounds.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var (
	// ErrPriceOutOfBounds is returned when a tick falls outside the
	// representable [MinTick, MaxTick] range.
	ErrPriceOutOfBounds = errors.New("tickmath: price out of bounds")

	// ErrOverflow is returned when an intermediate product exceeds the
	// numeric width reserved for it. Never silently saturated.
	ErrOverflow = errors.New("tickmath: overflow")
)

// Rounding selects the direction a conversion rounds in.
// Mirrors the fixed-point convention used across the ledger: the side
// paying rounds up, the side receiving rounds down.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

var (
	// Q96 = 2^96, the fixed-point one for sqrt prices.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

	// MaxUint256 = 2^256 - 1, the cap on every intermediate result.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// MinSqrtRatio and MaxSqrtRatio are the sqrt prices at MinTick and
	// MaxTick respectively.
	MinSqrtRatio = big.NewInt(4295128739)
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)
)

// sqrtRatioMultipliers[i] is sqrt(1.0001)^(-2^i) in Q128, used by the
// bit-decomposition in GetSqrtRatioAtTick.
var sqrtRatioMultipliers = mustHexInts(
	"0xfff97272373d413259a46990580e213a",
	"0xfff2e50f5f656932ef12357cf3c7fdcc",
	"0xffe5caca7e10e4e61c3624eaa0941cd0",
	"0xffcb9843d60f6159c9db58835c926644",
	"0xff973b41fa98c081472e6896dfb254c0",
	"0xff2ea16466c96a3843ec78b326b52861",
	"0xfe5dee046a99a2a811c461f1969c3053",
	"0xfcbe86c7900a88aedcffc83b479aa3a4",
	"0xf987a7253ac413176f2b074cf7815e54",
	"0xf3392b0822b70005940c7a398e4b70f3",
	"0xe7159475a2c29b7443b29c7fa6e889d9",
	"0xd097f3bdfd2022b8845ad8f792aa5825",
	"0xa9f746462d870fdf8a65dc1f90e061e5",
	"0x70d869a156d2a1b890bb3df62baf32f7",
	"0x31be135f97d08fd981231505542fcfa6",
	"0x9aa508b5b7a84e1c677de54f3e99bc9",
	"0x5d6af8dedb81196699c329225ee604",
	"0x2216e584f5fa1ea926041bedfe98",
	"0x48a170391f7dc42444e8fa2",
)

var sqrtRatioBitZero = mustHexInt("0xfffcb933bd6fad37aa2d162d1a594001")
var oneQ128 = mustHexInt("0x100000000000000000000000000000000")

func mustHexInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s[2:], 16)
	if !ok {
		panic("tickmath: bad constant " + s)
	}
	return v
}

func mustHexInts(ss ...string) []*big.Int {
	out := make([]*big.Int, len(ss))
	for i, s := range ss {
		out[i] = mustHexInt(s)
	}
	return out
}

// GetSqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96 value.
// The result is exact to the AMM's integer rounding policy: the Q128
// intermediate is shifted down by 32 bits rounding up, so converting the
// result back never understates the price.
func GetSqrtRatioAtTick(tick int32) (*big.Int, error) {
	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}
	if absTick > MaxTick {
		return nil, ErrPriceOutOfBounds
	}

	ratio := new(big.Int).Set(oneQ128)
	if absTick&1 != 0 {
		ratio.Set(sqrtRatioBitZero)
	}
	for i, mult := range sqrtRatioMultipliers {
		if absTick&(1<<(uint(i)+1)) != 0 {
			ratio.Mul(ratio, mult)
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(MaxUint256, ratio)
	}

	// Q128 -> Q96, rounding up.
	rem := new(big.Int).And(ratio, big.NewInt((1<<32)-1))
	ratio.Rsh(ratio, 32)
	if rem.Sign() != 0 {
		ratio.Add(ratio, big.NewInt(1))
	}
	return ratio, nil
}

// mulDiv computes a * b / denom with a full-width intermediate product and
// the requested rounding. Returns ErrOverflow when the result does not fit
// in 256 bits, ErrOverflow when denom is zero (a division by zero here is
// always an upstream accounting defect, not a user input).
func mulDiv(a, b, denom *big.Int, rounding Rounding) (*big.Int, error) {
	if denom.Sign() == 0 {
		return nil, ErrOverflow
	}
	prod := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(prod, denom, new(big.Int))
	if rounding == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	if quo.Cmp(MaxUint256) > 0 {
		return nil, ErrOverflow
	}
	return quo, nil
}

// MulDiv is the exported full-width multiply-divide used by the risk and
// valuation layers for requirement scaling.
func MulDiv(a, b, denom *big.Int, rounding Rounding) (*big.Int, error) {
	return mulDiv(a, b, denom, rounding)
}
