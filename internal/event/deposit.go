package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"OptionLedger/internal/ledger"
)

// DepositCollateral credits an account's collateral share balance with
// underlying held in custody. The custody transfer itself happens in the
// excluded transfer layer before this event is emitted.
type DepositCollateral struct {
	DepositID uuid.UUID
	AccountID uuid.UUID
	Token     ledger.Token
	Amount    *big.Int
	Sequence  int64
	Timestamp time.Time
}

func (d *DepositCollateral) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *DepositCollateral) EventType() EventType {
	return EventTypeDepositCollateral
}

func (d *DepositCollateral) PoolID() *uint64 {
	return nil // Global event
}

func (d *DepositCollateral) SourceSequence() int64 {
	return d.Sequence
}
