package query

import (
	"github.com/google/uuid"
)

// BalanceResponse represents an account's collateral state for API queries.
// Underlying amounts are decimal strings so 256-bit values survive JSON.
type BalanceResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Token     int16     `json:"token"`

	// Ledger balances (from journal entries)
	Collateral string `json:"collateral"` // deposited value not committed
	Committed  string `json:"committed"`  // moved into the AMM for open positions
	Premium    string `json:"premium"`    // net settled premium

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last projected event sequence
}

// UtilizationResponse is one collateral token's pool ledger state.
type UtilizationResponse struct {
	Token        int16  `json:"token"`
	TotalAssets  string `json:"total_assets"`
	Committed    string `json:"committed"`
	Utilization  string `json:"utilization"` // truncated to 4 decimal places
	AsOfSequence int64  `json:"as_of_sequence"`
}
