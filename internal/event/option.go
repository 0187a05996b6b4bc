package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// MintOption opens a position: the engine decodes the identifier, computes
// the collateral requirement at CurrentTick, and commits the moved amounts
// to the AMM ledger — or rejects without touching anything.
type MintOption struct {
	RequestID    uuid.UUID
	AccountID    uuid.UUID
	Pool         uint64
	TokenID      *uint256.Int
	PositionSize *big.Int
	CurrentTick  int32
	Sequence     int64
	Timestamp    time.Time
}

func (m *MintOption) IdempotencyKey() string {
	return m.RequestID.String()
}

func (m *MintOption) EventType() EventType {
	return EventTypeMintOption
}

func (m *MintOption) PoolID() *uint64 {
	p := m.Pool
	return &p
}

func (m *MintOption) SourceSequence() int64 {
	return m.Sequence
}

// BurnOption closes a position: releases committed collateral and settles
// accrued premium through the share pool.
type BurnOption struct {
	RequestID   uuid.UUID
	AccountID   uuid.UUID
	Pool        uint64
	TokenID     *uint256.Int
	CurrentTick int32
	Sequence    int64
	Timestamp   time.Time
}

func (b *BurnOption) IdempotencyKey() string {
	return b.RequestID.String()
}

func (b *BurnOption) EventType() EventType {
	return EventTypeBurnOption
}

func (b *BurnOption) PoolID() *uint64 {
	p := b.Pool
	return &p
}

func (b *BurnOption) SourceSequence() int64 {
	return b.Sequence
}
