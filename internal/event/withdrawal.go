package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"OptionLedger/internal/ledger"
)

// WithdrawCollateral burns collateral shares and releases underlying back
// to custody. Carries the current tick so the engine can verify the
// remaining balance still covers the account's open requirements; the
// price is trusted caller input and never cached.
type WithdrawCollateral struct {
	WithdrawalID uuid.UUID
	AccountID    uuid.UUID
	Token        ledger.Token
	Amount       *big.Int
	CurrentTick  int32
	Sequence     int64
	Timestamp    time.Time
}

func (w *WithdrawCollateral) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *WithdrawCollateral) EventType() EventType {
	return EventTypeWithdrawCollateral
}

func (w *WithdrawCollateral) PoolID() *uint64 {
	return nil
}

func (w *WithdrawCollateral) SourceSequence() int64 {
	return w.Sequence
}
