package valuation_test

import (
	"math/big"
	"strings"
	"testing"

	"OptionLedger/internal/position"
	"OptionLedger/internal/risk"
	"OptionLedger/internal/valuation"
)

var testSize = big.NewInt(1_000_000)

func TestPortfolioValue_MatchedPairIsZero(t *testing.T) {
	legs := []position.Leg{
		{Ratio: 2, TokenType: position.TokenTypeCall, Strike: 1000, Width: 100},
		{Ratio: 2, Long: true, TokenType: position.TokenTypeCall, Strike: 1000, Width: 100},
	}

	for _, tick := range []int32{-5000, 0, 950, 1000, 1050, 5000} {
		v0, v1, err := valuation.PortfolioValue(legs, tick, testSize)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if v0.Sign() != 0 || v1.Sign() != 0 {
			t.Errorf("tick %d: matched pair value = (%s, %s), want zero", tick, v0, v1)
		}
	}
}

func TestPortfolioValue_FullyOTMShortIsZero(t *testing.T) {
	shortCall := []position.Leg{{Ratio: 1, TokenType: position.TokenTypeCall, Strike: 1000, Width: 100}}
	shortPut := []position.Leg{{Ratio: 1, TokenType: position.TokenTypePut, Strike: -1000, Width: 100}}

	// Call OTM below its range, put OTM above its range.
	for _, tick := range []int32{-5000, 0, 899} {
		v0, v1, err := valuation.PortfolioValue(shortCall, tick, testSize)
		if err != nil {
			t.Fatalf("call tick %d: %v", tick, err)
		}
		if v0.Sign() != 0 || v1.Sign() != 0 {
			t.Errorf("OTM short call at tick %d = (%s, %s), want zero", tick, v0, v1)
		}
	}
	for _, tick := range []int32{-899, 0, 5000} {
		v0, v1, err := valuation.PortfolioValue(shortPut, tick, testSize)
		if err != nil {
			t.Fatalf("put tick %d: %v", tick, err)
		}
		if v0.Sign() != 0 || v1.Sign() != 0 {
			t.Errorf("OTM short put at tick %d = (%s, %s), want zero", tick, v0, v1)
		}
	}
}

func TestPortfolioValue_DirectionSigns(t *testing.T) {
	long := []position.Leg{{Ratio: 1, Long: true, TokenType: position.TokenTypeCall, Strike: 1000, Width: 100}}
	short := []position.Leg{{Ratio: 1, TokenType: position.TokenTypeCall, Strike: 1000, Width: 100}}

	// Fully ITM call at tick 2000: the chunk converted from its token0
	// baseline into token1.
	l0, l1, err := valuation.PortfolioValue(long, 2000, testSize)
	if err != nil {
		t.Fatal(err)
	}
	s0, s1, err := valuation.PortfolioValue(short, 2000, testSize)
	if err != nil {
		t.Fatal(err)
	}

	if l0.Sign() >= 0 {
		t.Errorf("long ITM call value0 = %s, want negative", l0)
	}
	if l1.Sign() <= 0 {
		t.Errorf("long ITM call value1 = %s, want positive", l1)
	}
	if s1.Sign() >= 0 {
		t.Errorf("short ITM call value1 = %s, want negative", s1)
	}
	if new(big.Int).Neg(s0).Cmp(l0) != 0 || new(big.Int).Neg(s1).Cmp(l1) != 0 {
		t.Errorf("short value (%s, %s) is not the negation of long (%s, %s)", s0, s1, l0, l1)
	}
}

func TestSnapshot_OneCheckpointPerLeg(t *testing.T) {
	src := valuation.StaticFeeGrowth{Inside0: big.NewInt(7), Inside1: big.NewInt(11)}
	legs := []position.Leg{
		{Ratio: 1, TokenType: position.TokenTypeCall, Strike: 1000, Width: 100},
		{Ratio: 1, TokenType: position.TokenTypePut, Strike: -1000, Width: 100},
	}

	checkpoints, err := valuation.Snapshot(src, 1, legs)
	if err != nil {
		t.Fatal(err)
	}
	if len(checkpoints) != 2 {
		t.Fatalf("got %d checkpoints, want 2", len(checkpoints))
	}
	for i, cp := range checkpoints {
		if cp.Inside0X128.Cmp(big.NewInt(7)) != 0 || cp.Inside1X128.Cmp(big.NewInt(11)) != 0 {
			t.Errorf("checkpoint %d = (%s, %s), want (7, 11)", i, cp.Inside0X128, cp.Inside1X128)
		}
	}
}

func TestAccumulatedFees_ShortEarnsGrowthDelta(t *testing.T) {
	legs := []position.Leg{{Ratio: 1, TokenType: position.TokenTypeCall, Strike: 1000, Width: 100}}

	chunk, err := risk.ChunkForLeg(legs[0], testSize)
	if err != nil {
		t.Fatal(err)
	}

	// Growth of exactly 3 << 128 since the checkpoint accrues 3 units of
	// token0 per unit of liquidity.
	delta := new(big.Int).Lsh(big.NewInt(3), 128)
	src := valuation.StaticFeeGrowth{Inside0: delta}
	checkpoints := []valuation.FeeCheckpoint{{Inside0X128: new(big.Int), Inside1X128: new(big.Int)}}

	fees0, fees1, err := valuation.AccumulatedFees(src, 1, legs, checkpoints, testSize)
	if err != nil {
		t.Fatal(err)
	}

	want := new(big.Int).Mul(big.NewInt(3), chunk.Liquidity)
	if fees0.Cmp(want) != 0 {
		t.Errorf("fees0 = %s, want %s", fees0, want)
	}
	if fees1.Sign() != 0 {
		t.Errorf("fees1 = %s, want 0", fees1)
	}
}

func TestAccumulatedFees_LongOwes(t *testing.T) {
	legs := []position.Leg{{Ratio: 1, Long: true, TokenType: position.TokenTypeCall, Strike: 1000, Width: 100}}

	delta := new(big.Int).Lsh(big.NewInt(1), 128)
	src := valuation.StaticFeeGrowth{Inside0: delta}
	checkpoints := []valuation.FeeCheckpoint{{Inside0X128: new(big.Int), Inside1X128: new(big.Int)}}

	fees0, _, err := valuation.AccumulatedFees(src, 1, legs, checkpoints, testSize)
	if err != nil {
		t.Fatal(err)
	}
	if fees0.Sign() >= 0 {
		t.Errorf("long fees0 = %s, want negative", fees0)
	}
}

func TestAccumulatedFees_NoBackwardGrowth(t *testing.T) {
	legs := []position.Leg{{Ratio: 1, TokenType: position.TokenTypeCall, Strike: 1000, Width: 100}}

	// The checkpoint sits above the current growth; a negative delta
	// accrues nothing rather than clawing premium back.
	src := valuation.StaticFeeGrowth{}
	checkpoints := []valuation.FeeCheckpoint{{
		Inside0X128: new(big.Int).Lsh(big.NewInt(5), 128),
		Inside1X128: new(big.Int),
	}}

	fees0, fees1, err := valuation.AccumulatedFees(src, 1, legs, checkpoints, testSize)
	if err != nil {
		t.Fatal(err)
	}
	if fees0.Sign() != 0 || fees1.Sign() != 0 {
		t.Errorf("fees = (%s, %s), want (0, 0)", fees0, fees1)
	}
}

func TestAccumulatedFees_CheckpointMismatch(t *testing.T) {
	legs := []position.Leg{{Ratio: 1, TokenType: position.TokenTypeCall, Strike: 1000, Width: 100}}

	_, _, err := valuation.AccumulatedFees(valuation.StaticFeeGrowth{}, 1, legs, nil, testSize)
	if err == nil {
		t.Fatal("expected error for missing checkpoints")
	}
	if !strings.Contains(err.Error(), "checkpoint count") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNetValueInToken0(t *testing.T) {
	// At tick 0 the sqrt price is exactly 2^96, so the token1 leg of the
	// net value converts one to one and signs pass through.
	net, err := valuation.NetValueInToken0(big.NewInt(500), big.NewInt(-300), 0)
	if err != nil {
		t.Fatal(err)
	}
	if net.Cmp(big.NewInt(200)) != 0 {
		t.Errorf("net value = %s, want 200", net)
	}

	// Away from tick 0 the conversion tracks the price: at a higher tick a
	// unit of token1 is worth less than a unit of token0.
	netHigh, err := valuation.NetValueInToken0(big.NewInt(0), big.NewInt(1_000_000), 2000)
	if err != nil {
		t.Fatal(err)
	}
	if netHigh.Cmp(big.NewInt(1_000_000)) >= 0 {
		t.Errorf("converted token1 value %s not below nominal at a higher tick", netHigh)
	}
	if netHigh.Sign() <= 0 {
		t.Error("converted token1 value must stay positive")
	}
}
