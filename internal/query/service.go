package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables. Queries are
// served over HTTP/JSON, reading from PostgreSQL projections. All responses
// include as_of_sequence for freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns an account's collateral state for one token:
// uncommitted collateral, the amount committed to the AMM, and the net
// settled premium.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	accountID uuid.UUID,
	token int16,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	tokenName := tokenName(token)

	collateralPath := fmt.Sprintf("user:%s:collateral:%s", accountID, tokenName)
	collateral, err := qs.getProjectedBalance(ctx, collateralPath)
	if err != nil {
		return nil, err
	}

	committedPath := fmt.Sprintf("user:%s:committed:%s", accountID, tokenName)
	committed, err := qs.getProjectedBalance(ctx, committedPath)
	if err != nil {
		return nil, err
	}

	premiumPath := fmt.Sprintf("user:%s:premium:%s", accountID, tokenName)
	premium, err := qs.getProjectedBalance(ctx, premiumPath)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		AccountID:    accountID,
		Token:        token,
		Collateral:   collateral,
		Committed:    committed,
		Premium:      premium,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetUtilization returns the pool ledger state for one collateral token.
func (qs *QueryService) GetUtilization(ctx context.Context, token int16) (*UtilizationResponse, error) {
	var resp UtilizationResponse
	resp.Token = token

	err := qs.db.QueryRowContext(ctx, `
		SELECT total_assets::TEXT, committed::TEXT, utilization::TEXT, last_sequence
		FROM projections.pool_utilization
		WHERE token = $1
	`, token).Scan(&resp.TotalAssets, &resp.Committed, &resp.Utilization, &resp.AsOfSequence)
	if err == sql.ErrNoRows {
		resp.TotalAssets = "0"
		resp.Committed = "0"
		resp.Utilization = "0"
		return &resp, nil
	}
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// GetJournalHistory returns journal entries for an account with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", accountID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, token, amount::TEXT, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Token, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain and global balance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}

	// Global balance must sum to zero across all accounts per token
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT token, SUM(balance)::TEXT as total
		FROM projections.balances
		GROUP BY token
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var token int16
		var total string
		if err := balanceRows.Scan(&token, &total); err != nil {
			return nil, err
		}
		report.UnbalancedTokens = append(report.UnbalancedTokens, UnbalancedToken{
			Token:     token,
			Imbalance: total,
		})
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedTokens) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (string, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::TEXT FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	return balance, err
}

func tokenName(token int16) string {
	if token == 1 {
		return "token1"
	}
	return "token0"
}
