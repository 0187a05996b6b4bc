package position_test

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"OptionLedger/internal/position"
)

const testSpacing = 10

func shortCall(strike, width int32) position.Leg {
	return position.Leg{
		Ratio:     1,
		TokenType: position.TokenTypeCall,
		Strike:    strike,
		Width:     width,
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		poolID uint64
		legs   []position.Leg
	}{
		{
			name:   "single short call",
			poolID: 1,
			legs:   []position.Leg{shortCall(100, 50)},
		},
		{
			name:   "negative strike",
			poolID: 42,
			legs: []position.Leg{{
				Ratio:     3,
				Long:      true,
				TokenType: position.TokenTypePut,
				Strike:    -205500,
				Width:     120,
			}},
		},
		{
			name:   "four legs with partners",
			poolID: 1<<63 + 7,
			legs: []position.Leg{
				{Ratio: 1, TokenType: position.TokenTypeCall, RiskPartner: 1, Strike: 100, Width: 10},
				{Ratio: 1, Long: true, TokenType: position.TokenTypeCall, RiskPartner: 0, Strike: 200, Width: 10},
				{Ratio: 2, TokenType: position.TokenTypePut, RiskPartner: 3, Strike: -100, Width: 20},
				{Ratio: 2, Long: true, TokenType: position.TokenTypePut, RiskPartner: 2, Strike: -200, Width: 20},
			},
		},
		{
			name:   "asset one max ratio",
			poolID: 9,
			legs: []position.Leg{{
				Asset:     1,
				Ratio:     127,
				TokenType: position.TokenTypePut,
				Strike:    0,
				Width:     4090,
			}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := position.Encode(tc.poolID, testSpacing, tc.legs)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			poolID, legs, err := position.Decode(id, testSpacing)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if poolID != tc.poolID {
				t.Errorf("pool id = %d, want %d", poolID, tc.poolID)
			}
			if len(legs) != len(tc.legs) {
				t.Fatalf("got %d legs, want %d", len(legs), len(tc.legs))
			}
			for i := range legs {
				if legs[i] != tc.legs[i] {
					t.Errorf("leg %d = %+v, want %+v", i, legs[i], tc.legs[i])
				}
			}
		})
	}
}

func TestEncode_RejectsBadLegCount(t *testing.T) {
	if _, err := position.Encode(1, testSpacing, nil); !errors.Is(err, position.ErrInvalidLegCount) {
		t.Errorf("zero legs: got %v, want ErrInvalidLegCount", err)
	}

	five := make([]position.Leg, 5)
	for i := range five {
		five[i] = shortCall(0, 10)
	}
	if _, err := position.Encode(1, testSpacing, five); !errors.Is(err, position.ErrInvalidLegCount) {
		t.Errorf("five legs: got %v, want ErrInvalidLegCount", err)
	}
}

func TestValidateLegs_ParameterErrors(t *testing.T) {
	cases := []struct {
		name string
		legs []position.Leg
	}{
		{"zero ratio", []position.Leg{{Ratio: 0, Strike: 0, Width: 10}}},
		{"ratio over seven bits", []position.Leg{{Ratio: 200, Strike: 0, Width: 10}}},
		{"asset out of range", []position.Leg{{Asset: 2, Ratio: 1, Strike: 0, Width: 10}}},
		{"zero width", []position.Leg{{Ratio: 1, Strike: 0, Width: 0}}},
		{"width off spacing", []position.Leg{{Ratio: 1, Strike: 0, Width: 15}}},
		{"strike off spacing", []position.Leg{{Ratio: 1, Strike: 5, Width: 10}}},
		{"range below min tick", []position.Leg{{Ratio: 1, Strike: -887270, Width: 100}}},
		{"range above max tick", []position.Leg{{Ratio: 1, Strike: 887270, Width: 100}}},
		{"partner out of range", []position.Leg{{Ratio: 1, RiskPartner: 1, Strike: 0, Width: 10}}},
		{"partner asymmetric", []position.Leg{
			{Ratio: 1, RiskPartner: 1, Strike: 0, Width: 10},
			{Ratio: 1, RiskPartner: 1, Strike: 100, Width: 10},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := position.ValidateLegs(tc.legs, testSpacing); !errors.Is(err, position.ErrInvalidLegParameter) {
				t.Errorf("got %v, want ErrInvalidLegParameter", err)
			}
		})
	}
}

func TestEncode_RejectsUnencodableRatio(t *testing.T) {
	// 200 does not fit the 7 ratio bits; accepting it would decode as 72.
	legs := []position.Leg{{Ratio: 200, TokenType: position.TokenTypeCall, Strike: 0, Width: 10}}
	if _, err := position.Encode(1, testSpacing, legs); !errors.Is(err, position.ErrInvalidLegParameter) {
		t.Errorf("got %v, want ErrInvalidLegParameter", err)
	}
}

func TestValidateLegs_BadSpacing(t *testing.T) {
	legs := []position.Leg{shortCall(0, 10)}
	if err := position.ValidateLegs(legs, 0); !errors.Is(err, position.ErrInvalidLegParameter) {
		t.Errorf("got %v, want ErrInvalidLegParameter", err)
	}
}

func TestDecode_RejectsGapInLegSlots(t *testing.T) {
	// A leg word in slot 1 with slot 0 empty breaks contiguous packing.
	word := uint64(1)<<1 | uint64(uint32(100))<<12 | uint64(50)<<36
	id := new(uint256.Int).SetUint64(word)
	id.Lsh(id, 112)
	id.Or(id, uint256.NewInt(1))

	if _, _, err := position.Decode(id, testSpacing); !errors.Is(err, position.ErrInvalidLegParameter) {
		t.Errorf("got %v, want ErrInvalidLegParameter", err)
	}
}

func TestTickRange(t *testing.T) {
	leg := shortCall(100, 30)
	lower, upper := leg.TickRange()
	if lower != 70 || upper != 130 {
		t.Errorf("range = [%d, %d), want [70, 130)", lower, upper)
	}
}
