// Package position packs multi-leg option positions into a single 256-bit
// identifier and validates them exhaustively on the way back out.
//
// Layout (least significant bit first):
//
//	bits   0..63   pool id
//	bits  64..111  leg 0
//	bits 112..159  leg 1
//	bits 160..207  leg 2
//	bits 208..255  leg 3
//
// Each 48-bit leg word:
//
//	bit    0       asset (which pool token denominates position size)
//	bits   1..7    ratio (1..127)
//	bit    8       long flag
//	bit    9       token type (0 = call-equivalent, 1 = put-equivalent)
//	bits  10..11   risk partner index
//	bits  12..35   strike (24-bit two's complement tick)
//	bits  36..47   width (tick-range half-span)
//
// A leg word of zero marks an unused slot; used slots must be packed
// contiguously from leg 0. Because ratio is mandatory-positive, a used
// leg can never collide with the unused-slot encoding.
package position

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"OptionLedger/internal/tickmath"
)

var (
	// ErrInvalidLegCount is returned for zero legs or more than four.
	ErrInvalidLegCount = errors.New("position: invalid leg count")

	// ErrInvalidLegParameter is returned when a leg's fields are
	// structurally invalid: misaligned strike/width, zero ratio, a risk
	// partner out of range or asymmetric, or a gap in leg packing.
	ErrInvalidLegParameter = errors.New("position: invalid leg parameter")
)

// MaxLegs is the number of leg slots in an identifier.
const MaxLegs = 4

const (
	legBits    = 48
	legShift   = 64
	ratioBits  = 7
	strikeBits = 24
	widthBits  = 12
)

// TokenType distinguishes the two liquidity shapes a leg can take.
type TokenType uint8

const (
	TokenTypeCall TokenType = 0 // token0-denominated liquidity, ITM above strike
	TokenTypePut  TokenType = 1 // token1-denominated liquidity, ITM below strike
)

func (t TokenType) String() string {
	if t == TokenTypePut {
		return "put"
	}
	return "call"
}

// Leg is one strike/width/direction component of a position.
type Leg struct {
	Asset       uint8     // 0 or 1: pool token denominating position size
	Ratio       uint8     // positive multiplier on the base position size
	Long        bool      // direction; a leg is long or short, never both
	TokenType   TokenType // put- vs call-equivalent liquidity shape
	RiskPartner uint8     // index of the hedging partner leg, self if none
	Strike      int32     // center tick of the leg's range
	Width       int32     // half-span of the range in ticks
}

// TickRange returns the half-open tick range [strike-width, strike+width)
// the leg's liquidity occupies.
func (l Leg) TickRange() (lower, upper int32) {
	return l.Strike - l.Width, l.Strike + l.Width
}

// Encode packs poolID and 1..4 legs into an identifier. The legs are
// validated first; Decode(Encode(...)) returns them unchanged and in order.
func Encode(poolID uint64, tickSpacing int32, legs []Leg) (*uint256.Int, error) {
	if err := ValidateLegs(legs, tickSpacing); err != nil {
		return nil, err
	}

	id := new(uint256.Int).SetUint64(poolID)
	for i, leg := range legs {
		word := packLeg(leg)
		slot := new(uint256.Int).SetUint64(word)
		slot.Lsh(slot, uint(legShift+i*legBits))
		id.Or(id, slot)
	}
	return id, nil
}

// Decode unpacks an identifier into its pool id and legs, validating the
// result exhaustively. Any violation is a hard decode failure; callers are
// never trusted to have packed a well-formed position.
func Decode(id *uint256.Int, tickSpacing int32) (uint64, []Leg, error) {
	poolID := new(uint256.Int).Set(id).Uint64()

	legs := make([]Leg, 0, MaxLegs)
	seenZero := false
	for i := 0; i < MaxLegs; i++ {
		word := extractLegWord(id, i)
		if word == 0 {
			seenZero = true
			continue
		}
		if seenZero {
			return 0, nil, fmt.Errorf("%w: leg %d follows an empty slot", ErrInvalidLegParameter, i)
		}
		legs = append(legs, unpackLeg(word))
	}

	if err := ValidateLegs(legs, tickSpacing); err != nil {
		return 0, nil, err
	}
	return poolID, legs, nil
}

// ValidateLegs checks every structural invariant a position must satisfy
// before any requirement or valuation math may run over it.
func ValidateLegs(legs []Leg, tickSpacing int32) error {
	if len(legs) == 0 || len(legs) > MaxLegs {
		return fmt.Errorf("%w: got %d legs", ErrInvalidLegCount, len(legs))
	}
	if tickSpacing <= 0 {
		return fmt.Errorf("%w: tick spacing %d", ErrInvalidLegParameter, tickSpacing)
	}

	for i, leg := range legs {
		if leg.Ratio == 0 {
			return fmt.Errorf("%w: leg %d has zero ratio", ErrInvalidLegParameter, i)
		}
		if leg.Ratio >= 1<<ratioBits {
			return fmt.Errorf("%w: leg %d ratio %d exceeds encodable range",
				ErrInvalidLegParameter, i, leg.Ratio)
		}
		if leg.Asset > 1 {
			return fmt.Errorf("%w: leg %d asset %d", ErrInvalidLegParameter, i, leg.Asset)
		}
		if leg.Width >= 1<<widthBits {
			return fmt.Errorf("%w: leg %d width %d exceeds encodable range",
				ErrInvalidLegParameter, i, leg.Width)
		}
		if leg.Width <= 0 || leg.Width%tickSpacing != 0 {
			return fmt.Errorf("%w: leg %d width %d not a positive multiple of spacing %d",
				ErrInvalidLegParameter, i, leg.Width, tickSpacing)
		}
		if leg.Strike%tickSpacing != 0 {
			return fmt.Errorf("%w: leg %d strike %d not aligned to spacing %d",
				ErrInvalidLegParameter, i, leg.Strike, tickSpacing)
		}
		lower, upper := leg.TickRange()
		if lower < tickmath.MinTick || upper > tickmath.MaxTick {
			return fmt.Errorf("%w: leg %d range [%d, %d) outside tick bounds",
				ErrInvalidLegParameter, i, lower, upper)
		}
		if int(leg.RiskPartner) >= len(legs) {
			return fmt.Errorf("%w: leg %d risk partner %d out of range",
				ErrInvalidLegParameter, i, leg.RiskPartner)
		}
		// Partner symmetry: A->B requires B->A. Self-partnering is the
		// no-partner encoding and always symmetric.
		if legs[leg.RiskPartner].RiskPartner != uint8(i) {
			return fmt.Errorf("%w: leg %d partner %d is not symmetric",
				ErrInvalidLegParameter, i, leg.RiskPartner)
		}
	}
	return nil
}

func packLeg(leg Leg) uint64 {
	word := uint64(leg.Asset & 1)
	word |= uint64(leg.Ratio&((1<<ratioBits)-1)) << 1
	if leg.Long {
		word |= 1 << 8
	}
	word |= uint64(leg.TokenType&1) << 9
	word |= uint64(leg.RiskPartner&3) << 10
	word |= (uint64(uint32(leg.Strike)) & ((1 << strikeBits) - 1)) << 12
	word |= (uint64(uint32(leg.Width)) & ((1 << widthBits) - 1)) << 36
	return word
}

func unpackLeg(word uint64) Leg {
	strike := uint32(word>>12) & ((1 << strikeBits) - 1)
	// Sign-extend the 24-bit strike.
	if strike&(1<<(strikeBits-1)) != 0 {
		strike |= ^uint32(1<<strikeBits - 1)
	}
	return Leg{
		Asset:       uint8(word & 1),
		Ratio:       uint8((word >> 1) & ((1 << ratioBits) - 1)),
		Long:        word&(1<<8) != 0,
		TokenType:   TokenType((word >> 9) & 1),
		RiskPartner: uint8((word >> 10) & 3),
		Strike:      int32(strike),
		Width:       int32((word >> 36) & ((1 << widthBits) - 1)),
	}
}

func extractLegWord(id *uint256.Int, slot int) uint64 {
	shifted := new(uint256.Int).Rsh(id, uint(legShift+slot*legBits))
	return shifted.Uint64() & ((1 << legBits) - 1)
}
