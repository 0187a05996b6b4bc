package query

import "github.com/google/uuid"

// PositionResponse represents an open option position for API queries.
// Amounts are decimal strings; the token id is 0x-prefixed hex.
type PositionResponse struct {
	AccountID    uuid.UUID `json:"account_id"`
	TokenID      string    `json:"token_id"`
	PoolID       uint64    `json:"pool_id"`
	Size         string    `json:"size"`
	Moved0       string    `json:"moved0"`
	Moved1       string    `json:"moved1"`
	MintedTick   int32     `json:"minted_tick"`
	Version      int64     `json:"version"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// RequirementResponse is an account's cross-margined collateral
// requirement at a caller-supplied tick.
type RequirementResponse struct {
	AccountID    uuid.UUID `json:"account_id"`
	CurrentTick  int32     `json:"current_tick"`
	Required0    string    `json:"required0"`
	Required1    string    `json:"required1"`
	Available0   string    `json:"available0"`
	Available1   string    `json:"available1"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// PortfolioValueResponse is an account's open positions marked to a
// caller-supplied tick, per token and collapsed into token0 terms.
type PortfolioValueResponse struct {
	AccountID    uuid.UUID `json:"account_id"`
	CurrentTick  int32     `json:"current_tick"`
	Value0       string    `json:"value0"`
	Value1       string    `json:"value1"`
	NetValue0    string    `json:"net_value0"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Token         int16  `json:"token"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedTokens []UnbalancedToken `json:"unbalanced_tokens,omitempty"`
}

// UnbalancedToken represents a collateral token with non-zero global
// balance sum.
type UnbalancedToken struct {
	Token     int16  `json:"token"`
	Imbalance string `json:"imbalance"`
}
