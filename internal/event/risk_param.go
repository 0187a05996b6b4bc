package event

import (
	"fmt"
)

// RiskParamUpdate replaces a pool's collateral-rate configuration. When
// received, the engine swaps in the new rates; subsequent requirement
// computations use them immediately.
type RiskParamUpdate struct {
	Pool             uint64
	OTMRateAsset0    int64  // basis points
	OTMRateAsset1    int64  // basis points
	LongRateFraction int64  // basis points of the short-side rate
	ItmScalingModel  string // "linear" or "quadratic"
	EffectiveSeq     int64  // Sequence at which params take effect
	Sequence         int64  // Source sequence
	Timestamp        int64  // Epoch microseconds (versioned input)
}

func (r *RiskParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("risk_param:%d:%d", r.Pool, r.EffectiveSeq)
}

func (r *RiskParamUpdate) EventType() EventType {
	return EventTypeRiskParamUpdate
}

func (r *RiskParamUpdate) PoolID() *uint64 {
	p := r.Pool
	return &p
}

func (r *RiskParamUpdate) SourceSequence() int64 {
	return r.Sequence
}
