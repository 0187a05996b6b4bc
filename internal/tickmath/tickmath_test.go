package tickmath_test

import (
	"errors"
	"math/big"
	"testing"

	"OptionLedger/internal/tickmath"
)

func TestGetSqrtRatioAtTick_TickZeroIsQ96(t *testing.T) {
	ratio, err := tickmath.GetSqrtRatioAtTick(0)
	if err != nil {
		t.Fatalf("tick 0: %v", err)
	}
	if ratio.Cmp(tickmath.Q96) != 0 {
		t.Errorf("sqrt ratio at tick 0 = %s, want %s", ratio, tickmath.Q96)
	}
}

func TestGetSqrtRatioAtTick_Monotonic(t *testing.T) {
	ticks := []int32{-887272, -100000, -5000, -60, -1, 0, 1, 60, 5000, 100000, 887272}

	var prev *big.Int
	for _, tick := range ticks {
		ratio, err := tickmath.GetSqrtRatioAtTick(tick)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if prev != nil && ratio.Cmp(prev) <= 0 {
			t.Errorf("sqrt ratio not increasing at tick %d: %s <= %s", tick, ratio, prev)
		}
		prev = ratio
	}
}

func TestGetSqrtRatioAtTick_OutOfBounds(t *testing.T) {
	for _, tick := range []int32{887273, -887273} {
		if _, err := tickmath.GetSqrtRatioAtTick(tick); !errors.Is(err, tickmath.ErrPriceOutOfBounds) {
			t.Errorf("tick %d: got %v, want ErrPriceOutOfBounds", tick, err)
		}
	}
}

func TestGetSqrtRatioAtTick_Bounds(t *testing.T) {
	lo, err := tickmath.GetSqrtRatioAtTick(tickmath.MinTick)
	if err != nil {
		t.Fatalf("min tick: %v", err)
	}
	hi, err := tickmath.GetSqrtRatioAtTick(tickmath.MaxTick)
	if err != nil {
		t.Fatalf("max tick: %v", err)
	}
	if lo.Cmp(big.NewInt(0)) <= 0 {
		t.Error("min sqrt ratio must be positive")
	}
	if hi.Cmp(lo) <= 0 {
		t.Error("max sqrt ratio must exceed min")
	}
	if hi.BitLen() > 160 {
		t.Errorf("max sqrt ratio uses %d bits, must fit Q64.96 width", hi.BitLen())
	}
}

func TestAmount1ForLiquidity_Exact(t *testing.T) {
	// amount1 = L * (hi - lo) / 2^96: with a span of exactly Q96 the
	// division is exact.
	lo := new(big.Int).Set(tickmath.Q96)
	hi := new(big.Int).Add(tickmath.Q96, tickmath.Q96)

	got, err := tickmath.Amount1ForLiquidity(lo, hi, big.NewInt(1000), tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("amount1 = %s, want 1000", got)
	}
}

func TestAmount0ForLiquidity_Exact(t *testing.T) {
	// With lo = Q96 and hi = 2*Q96, amount0 = L * (hi-lo) * 2^96 / (hi*lo)
	// collapses to L/2.
	lo := new(big.Int).Set(tickmath.Q96)
	hi := new(big.Int).Add(tickmath.Q96, tickmath.Q96)

	got, err := tickmath.Amount0ForLiquidity(lo, hi, big.NewInt(1000), tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("amount0 = %s, want 500", got)
	}
}

func TestAmountForLiquidity_ArgumentOrderInsensitive(t *testing.T) {
	lo := new(big.Int).Set(tickmath.Q96)
	hi := new(big.Int).Add(tickmath.Q96, tickmath.Q96)
	liq := big.NewInt(123456)

	a, err := tickmath.Amount0ForLiquidity(lo, hi, liq, tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tickmath.Amount0ForLiquidity(hi, lo, liq, tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if a.Cmp(b) != 0 {
		t.Errorf("swapped args changed result: %s vs %s", a, b)
	}
}

func TestLiquidityForAmount1_RoundTrip(t *testing.T) {
	lo := new(big.Int).Set(tickmath.Q96)
	hi := new(big.Int).Add(tickmath.Q96, tickmath.Q96)

	liq, err := tickmath.LiquidityForAmount1(lo, hi, big.NewInt(777))
	if err != nil {
		t.Fatal(err)
	}
	back, err := tickmath.Amount1ForLiquidity(lo, hi, liq, tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if back.Cmp(big.NewInt(777)) != 0 {
		t.Errorf("round trip amount1 = %s, want 777", back)
	}
}

func TestAmountsForLiquidity_Composition(t *testing.T) {
	chunk := tickmath.LiquidityChunk{
		TickLower: -600,
		TickUpper: 600,
		Liquidity: big.NewInt(1_000_000_000),
	}

	// Below the range: all token0.
	a0, a1, err := tickmath.AmountsForLiquidity(-1000, chunk, tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if a0.Sign() <= 0 || a1.Sign() != 0 {
		t.Errorf("below range: amount0=%s amount1=%s, want token0 only", a0, a1)
	}

	// Above the range: all token1.
	a0, a1, err = tickmath.AmountsForLiquidity(1000, chunk, tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if a0.Sign() != 0 || a1.Sign() <= 0 {
		t.Errorf("above range: amount0=%s amount1=%s, want token1 only", a0, a1)
	}

	// Inside the range: both tokens.
	a0, a1, err = tickmath.AmountsForLiquidity(0, chunk, tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if a0.Sign() <= 0 || a1.Sign() <= 0 {
		t.Errorf("inside range: amount0=%s amount1=%s, want both positive", a0, a1)
	}
}

func TestAmountsForLiquidity_UpperBoundaryIsOutside(t *testing.T) {
	chunk := tickmath.LiquidityChunk{
		TickLower: -600,
		TickUpper: 600,
		Liquidity: big.NewInt(1_000_000_000),
	}

	// The range is half-open: at the upper tick the chunk holds token1 only.
	a0, _, err := tickmath.AmountsForLiquidity(600, chunk, tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if a0.Sign() != 0 {
		t.Errorf("at upper tick amount0 = %s, want 0", a0)
	}
}

func TestRounding_UpNeverBelowDown(t *testing.T) {
	chunk := tickmath.LiquidityChunk{
		TickLower: -887220,
		TickUpper: 887220,
		Liquidity: big.NewInt(987654321),
	}

	for _, tick := range []int32{-300000, -1, 0, 1, 300000} {
		up0, up1, err := tickmath.AmountsForLiquidity(tick, chunk, tickmath.RoundUp)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		down0, down1, err := tickmath.AmountsForLiquidity(tick, chunk, tickmath.RoundDown)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if up0.Cmp(down0) < 0 || up1.Cmp(down1) < 0 {
			t.Errorf("tick %d: round up (%s, %s) below round down (%s, %s)",
				tick, up0, up1, down0, down1)
		}
	}
}

func TestMulDiv_Rounding(t *testing.T) {
	down, err := tickmath.MulDiv(big.NewInt(10), big.NewInt(10), big.NewInt(3), tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	if down.Cmp(big.NewInt(33)) != 0 {
		t.Errorf("100/3 down = %s, want 33", down)
	}

	up, err := tickmath.MulDiv(big.NewInt(10), big.NewInt(10), big.NewInt(3), tickmath.RoundUp)
	if err != nil {
		t.Fatal(err)
	}
	if up.Cmp(big.NewInt(34)) != 0 {
		t.Errorf("100/3 up = %s, want 34", up)
	}
}

func TestMulDiv_ZeroDenominator(t *testing.T) {
	if _, err := tickmath.MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0), tickmath.RoundDown); !errors.Is(err, tickmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	if _, err := tickmath.MulDiv(tickmath.MaxUint256, big.NewInt(2), big.NewInt(1), tickmath.RoundDown); !errors.Is(err, tickmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestConvert_RoundTripWithinOne(t *testing.T) {
	sqrtP, err := tickmath.GetSqrtRatioAtTick(120)
	if err != nil {
		t.Fatal(err)
	}

	amount0 := big.NewInt(1_000_000)
	as1, err := tickmath.Convert0To1(amount0, sqrtP, tickmath.RoundDown)
	if err != nil {
		t.Fatal(err)
	}
	back, err := tickmath.Convert1To0(as1, sqrtP, tickmath.RoundUp)
	if err != nil {
		t.Fatal(err)
	}

	diff := new(big.Int).Sub(amount0, back)
	diff.Abs(diff)
	if diff.Cmp(big.NewInt(2)) > 0 {
		t.Errorf("convert round trip drift %s, want <= 2", diff)
	}
}
