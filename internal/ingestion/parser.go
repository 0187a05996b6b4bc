package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts
// raw events before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "DepositCollateral":
		return parseDepositCollateral(raw.Data)
	case "WithdrawCollateral":
		return parseWithdrawCollateral(raw.Data)
	case "MintOption":
		return parseMintOption(raw.Data)
	case "BurnOption":
		return parseBurnOption(raw.Data)
	case "RiskParamUpdate":
		return parseRiskParamUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers. Underlying
// amounts travel as decimal strings; token ids as 0x-prefixed hex.

type depositJSON struct {
	DepositID   string `json:"deposit_id"`
	AccountID   string `json:"account_id"`
	Token       int    `json:"token"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDepositCollateral(data []byte) (*event.DepositCollateral, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositCollateral: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	token, err := parseToken(j.Token)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &event.DepositCollateral{
		DepositID: depositID,
		AccountID: accountID,
		Token:     token,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type withdrawalJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	AccountID    string `json:"account_id"`
	Token        int    `json:"token"`
	Amount       string `json:"amount"`
	CurrentTick  int32  `json:"current_tick"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseWithdrawCollateral(data []byte) (*event.WithdrawCollateral, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawCollateral: %w", err)
	}
	withdrawalID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	token, err := parseToken(j.Token)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	return &event.WithdrawCollateral{
		WithdrawalID: withdrawalID,
		AccountID:    accountID,
		Token:        token,
		Amount:       amount,
		CurrentTick:  j.CurrentTick,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type mintJSON struct {
	RequestID    string `json:"request_id"`
	AccountID    string `json:"account_id"`
	PoolID       uint64 `json:"pool_id"`
	TokenID      string `json:"token_id"` // 0x-prefixed hex, 256-bit
	PositionSize string `json:"position_size"`
	CurrentTick  int32  `json:"current_tick"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseMintOption(data []byte) (*event.MintOption, error) {
	var j mintJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MintOption: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	tokenID, err := uint256.FromHex(j.TokenID)
	if err != nil {
		return nil, fmt.Errorf("parse token_id: %w", err)
	}
	size, err := parseAmount(j.PositionSize)
	if err != nil {
		return nil, fmt.Errorf("parse position_size: %w", err)
	}
	return &event.MintOption{
		RequestID:    requestID,
		AccountID:    accountID,
		Pool:         j.PoolID,
		TokenID:      tokenID,
		PositionSize: size,
		CurrentTick:  j.CurrentTick,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type burnJSON struct {
	RequestID   string `json:"request_id"`
	AccountID   string `json:"account_id"`
	PoolID      uint64 `json:"pool_id"`
	TokenID     string `json:"token_id"`
	CurrentTick int32  `json:"current_tick"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseBurnOption(data []byte) (*event.BurnOption, error) {
	var j burnJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BurnOption: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return nil, fmt.Errorf("parse account_id: %w", err)
	}
	tokenID, err := uint256.FromHex(j.TokenID)
	if err != nil {
		return nil, fmt.Errorf("parse token_id: %w", err)
	}
	return &event.BurnOption{
		RequestID:   requestID,
		AccountID:   accountID,
		Pool:        j.PoolID,
		TokenID:     tokenID,
		CurrentTick: j.CurrentTick,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type riskParamJSON struct {
	PoolID           uint64 `json:"pool_id"`
	OTMRateAsset0    int64  `json:"otm_rate_asset0"`
	OTMRateAsset1    int64  `json:"otm_rate_asset1"`
	LongRateFraction int64  `json:"long_rate_fraction"`
	ItmScalingModel  string `json:"itm_scaling_model"`
	EffectiveSeq     int64  `json:"effective_seq"`
	Sequence         int64  `json:"sequence"`
	TimestampUs      int64  `json:"timestamp_us"`
}

func parseRiskParamUpdate(data []byte) (*event.RiskParamUpdate, error) {
	var j riskParamJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RiskParamUpdate: %w", err)
	}
	return &event.RiskParamUpdate{
		Pool:             j.PoolID,
		OTMRateAsset0:    j.OTMRateAsset0,
		OTMRateAsset1:    j.OTMRateAsset1,
		LongRateFraction: j.LongRateFraction,
		ItmScalingModel:  j.ItmScalingModel,
		EffectiveSeq:     j.EffectiveSeq,
		Sequence:         j.Sequence,
		Timestamp:        j.TimestampUs,
	}, nil
}

// MarshalEvent is the inverse of ParseRawEvent: it produces the wire JSON
// for a typed event so the event log stores a payload replay can re-parse.
func MarshalEvent(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.DepositCollateral:
		return json.Marshal(depositJSON{
			DepositID:   e.DepositID.String(),
			AccountID:   e.AccountID.String(),
			Token:       int(e.Token),
			Amount:      e.Amount.String(),
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.WithdrawCollateral:
		return json.Marshal(withdrawalJSON{
			WithdrawalID: e.WithdrawalID.String(),
			AccountID:    e.AccountID.String(),
			Token:        int(e.Token),
			Amount:       e.Amount.String(),
			CurrentTick:  e.CurrentTick,
			Sequence:     e.Sequence,
			TimestampUs:  e.Timestamp.UnixMicro(),
		})
	case *event.MintOption:
		return json.Marshal(mintJSON{
			RequestID:    e.RequestID.String(),
			AccountID:    e.AccountID.String(),
			PoolID:       e.Pool,
			TokenID:      e.TokenID.Hex(),
			PositionSize: e.PositionSize.String(),
			CurrentTick:  e.CurrentTick,
			Sequence:     e.Sequence,
			TimestampUs:  e.Timestamp.UnixMicro(),
		})
	case *event.BurnOption:
		return json.Marshal(burnJSON{
			RequestID:   e.RequestID.String(),
			AccountID:   e.AccountID.String(),
			PoolID:      e.Pool,
			TokenID:     e.TokenID.Hex(),
			CurrentTick: e.CurrentTick,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.RiskParamUpdate:
		return json.Marshal(riskParamJSON{
			PoolID:           e.Pool,
			OTMRateAsset0:    e.OTMRateAsset0,
			OTMRateAsset1:    e.OTMRateAsset1,
			LongRateFraction: e.LongRateFraction,
			ItmScalingModel:  e.ItmScalingModel,
			EffectiveSeq:     e.EffectiveSeq,
			Sequence:         e.Sequence,
			TimestampUs:      e.Timestamp,
		})
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func parseToken(v int) (ledger.Token, error) {
	switch v {
	case 0:
		return ledger.Token0, nil
	case 1:
		return ledger.Token1, nil
	default:
		return 0, fmt.Errorf("token must be 0 or 1, got %d", v)
	}
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", s)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %s", s)
	}
	return v, nil
}
