package ingestion_test

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ingestion"
	"OptionLedger/internal/ledger"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDepositCollateral(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
		"account_id":   "660e8400-e29b-41d4-a716-446655440001",
		"token":        0,
		"amount":       "1000000",
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "DepositCollateral")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := evt.(*event.DepositCollateral)
	if !ok {
		t.Fatalf("expected *event.DepositCollateral, got %T", evt)
	}

	if dep.Token != ledger.Token0 {
		t.Errorf("token: got %v, want Token0", dep.Token)
	}
	if dep.Amount.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("amount: got %s, want 1000000", dep.Amount)
	}
	if dep.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", dep.Sequence)
	}
	if dep.EventType() != event.EventTypeDepositCollateral {
		t.Errorf("event type: got %v, want DepositCollateral", dep.EventType())
	}
	if dep.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", dep.IdempotencyKey())
	}
}

func TestParseWithdrawCollateral(t *testing.T) {
	payload := map[string]interface{}{
		"withdrawal_id": "550e8400-e29b-41d4-a716-446655440000",
		"account_id":    "660e8400-e29b-41d4-a716-446655440001",
		"token":         1,
		"amount":        "250000",
		"current_tick":  int32(-120),
		"sequence":      int64(7),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "WithdrawCollateral")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wd, ok := evt.(*event.WithdrawCollateral)
	if !ok {
		t.Fatalf("expected *event.WithdrawCollateral, got %T", evt)
	}

	if wd.Token != ledger.Token1 {
		t.Errorf("token: got %v, want Token1", wd.Token)
	}
	if wd.Amount.Cmp(big.NewInt(250_000)) != 0 {
		t.Errorf("amount: got %s, want 250000", wd.Amount)
	}
	if wd.CurrentTick != -120 {
		t.Errorf("current_tick: got %d, want -120", wd.CurrentTick)
	}
}

func TestParseMintOption(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"account_id":    "660e8400-e29b-41d4-a716-446655440001",
		"pool_id":       uint64(12),
		"token_id":      "0x1a2b3c",
		"position_size": "5000",
		"current_tick":  int32(100),
		"sequence":      int64(3),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "MintOption")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mint, ok := evt.(*event.MintOption)
	if !ok {
		t.Fatalf("expected *event.MintOption, got %T", evt)
	}

	if mint.Pool != 12 {
		t.Errorf("pool: got %d, want 12", mint.Pool)
	}
	if mint.TokenID.Uint64() != 0x1a2b3c {
		t.Errorf("token_id: got %s", mint.TokenID.Hex())
	}
	if mint.PositionSize.Cmp(big.NewInt(5_000)) != 0 {
		t.Errorf("position_size: got %s, want 5000", mint.PositionSize)
	}
	if mint.CurrentTick != 100 {
		t.Errorf("current_tick: got %d, want 100", mint.CurrentTick)
	}
}

func TestParseBurnOption(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "550e8400-e29b-41d4-a716-446655440000",
		"account_id":   "660e8400-e29b-41d4-a716-446655440001",
		"pool_id":      uint64(12),
		"token_id":     "0xff00ff",
		"current_tick": int32(-55),
		"sequence":     int64(9),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "BurnOption")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	burn, ok := evt.(*event.BurnOption)
	if !ok {
		t.Fatalf("expected *event.BurnOption, got %T", evt)
	}

	if burn.TokenID.Uint64() != 0xff00ff {
		t.Errorf("token_id: got %s", burn.TokenID.Hex())
	}
	if burn.CurrentTick != -55 {
		t.Errorf("current_tick: got %d, want -55", burn.CurrentTick)
	}
}

func TestParseRiskParamUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"pool_id":            uint64(3),
		"otm_rate_asset0":    int64(2_000),
		"otm_rate_asset1":    int64(1_000),
		"long_rate_fraction": int64(5_000),
		"itm_scaling_model":  "quadratic",
		"effective_seq":      int64(500),
		"sequence":           int64(11),
		"timestamp_us":       int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "RiskParamUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	upd, ok := evt.(*event.RiskParamUpdate)
	if !ok {
		t.Fatalf("expected *event.RiskParamUpdate, got %T", evt)
	}

	if upd.OTMRateAsset0 != 2_000 {
		t.Errorf("otm_rate_asset0: got %d, want 2000", upd.OTMRateAsset0)
	}
	if upd.ItmScalingModel != "quadratic" {
		t.Errorf("itm_scaling_model: got %s, want quadratic", upd.ItmScalingModel)
	}
	if upd.PoolID() == nil || *upd.PoolID() != 3 {
		t.Errorf("pool id: got %v, want 3", upd.PoolID())
	}
}

func TestParseRejectsBadAmounts(t *testing.T) {
	cases := []struct {
		name   string
		amount string
	}{
		{"empty", ""},
		{"zero", "0"},
		{"negative", "-5"},
		{"not_a_number", "12abc"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := map[string]interface{}{
				"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
				"account_id":   "660e8400-e29b-41d4-a716-446655440001",
				"token":        0,
				"amount":       tc.amount,
				"sequence":     int64(1),
				"timestamp_us": int64(1700000000000000),
			}
			raw := rawFromJSON(t, payload)
			if _, err := ingestion.ParseRawEvent(raw, "DepositCollateral"); err == nil {
				t.Errorf("expected error for amount %q", tc.amount)
			}
		})
	}
}

func TestParseRejectsBadToken(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
		"account_id":   "660e8400-e29b-41d4-a716-446655440001",
		"token":        2,
		"amount":       "1000",
		"sequence":     int64(1),
		"timestamp_us": int64(1700000000000000),
	}
	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, "DepositCollateral"); err == nil {
		t.Error("expected error for token 2")
	}
}

func TestParseUnknownEventType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	if _, err := ingestion.ParseRawEvent(raw, "Nonsense"); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestMarshalEventReplayRoundTrip(t *testing.T) {
	// The event log stores MarshalEvent output and replay re-parses it, so
	// the pair must invert exactly.
	payload := map[string]interface{}{
		"request_id":    "550e8400-e29b-41d4-a716-446655440000",
		"account_id":    "660e8400-e29b-41d4-a716-446655440001",
		"pool_id":       uint64(12),
		"token_id":      "0x1a2b3c",
		"position_size": "5000",
		"current_tick":  int32(100),
		"sequence":      int64(3),
		"timestamp_us":  int64(1700000000000000),
	}
	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "MintOption")
	if err != nil {
		t.Fatal(err)
	}

	data, err := ingestion.MarshalEvent(evt)
	if err != nil {
		t.Fatal(err)
	}
	replayed, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: data}, "MintOption")
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}

	orig := evt.(*event.MintOption)
	back := replayed.(*event.MintOption)
	if back.RequestID != orig.RequestID || back.AccountID != orig.AccountID {
		t.Error("ids did not survive the round trip")
	}
	if back.TokenID.Cmp(orig.TokenID) != 0 {
		t.Errorf("token id = %s, want %s", back.TokenID.Hex(), orig.TokenID.Hex())
	}
	if back.PositionSize.Cmp(orig.PositionSize) != 0 {
		t.Errorf("position size = %s, want %s", back.PositionSize, orig.PositionSize)
	}
	if back.CurrentTick != orig.CurrentTick || back.Sequence != orig.Sequence {
		t.Error("tick or sequence did not survive the round trip")
	}
	if !back.Timestamp.Equal(orig.Timestamp) {
		t.Errorf("timestamp = %s, want %s", back.Timestamp, orig.Timestamp)
	}
}
