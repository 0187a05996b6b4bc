package state

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"OptionLedger/internal/position"
	"OptionLedger/internal/valuation"
)

// PositionBalance is one account's open balance against a position
// identifier: the size currently open, the underlying committed to the
// AMM at mint, and the per-leg fee-growth checkpoints captured at mint.
// Created on mint, destroyed when fully burned.
type PositionBalance struct {
	AccountID   uuid.UUID
	TokenID     *uint256.Int
	PoolID      uint64
	Legs        []position.Leg
	Size        *big.Int // base position size, always positive
	Moved0      *big.Int // underlying committed per token at mint
	Moved1      *big.Int
	Checkpoints []valuation.FeeCheckpoint
	MintedTick  int32
	Version     int64 // bumped on every mutation
}

// Key returns the map key for this balance.
func (p *PositionBalance) Key() [32]byte {
	return p.TokenID.Bytes32()
}
