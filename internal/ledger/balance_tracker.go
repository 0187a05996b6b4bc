package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory underlying-token balances per account
// key. It is the audit view of the ledger: every operation's journal batch
// flows through it, and the invariant validator cross-checks it against
// the collateral vaults.
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) balance(key AccountKey) *big.Int {
	b, ok := bt.balances[key]
	if !ok {
		b = new(big.Int)
		bt.balances[key] = b
	}
	return b
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	debit := bt.balance(j.DebitAccount)
	debit.Add(debit, j.Amount)
	credit := bt.balance(j.CreditAccount)
	credit.Sub(credit, j.Amount)
}

// ApplyBatch applies all journals in a batch. The batch must already have
// been validated; a batch that fails validation leaves balances untouched.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if b, ok := bt.balances[key]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// GetUserCollateral returns the idle collateral recorded for an account
func (bt *BalanceTracker) GetUserCollateral(accountID uuid.UUID, token Token) *big.Int {
	return bt.GetBalance(NewUserAccountKey(accountID, SubTypeCollateral, token))
}

// GetUserCommitted returns the AMM-committed amount recorded for an account
func (bt *BalanceTracker) GetUserCommitted(accountID uuid.UUID, token Token) *big.Int {
	return bt.GetBalance(NewUserAccountKey(accountID, SubTypeCommitted, token))
}

// GetPoolCommitted returns the pool-wide AMM-committed amount
func (bt *BalanceTracker) GetPoolCommitted(token Token) *big.Int {
	return bt.GetBalance(NewSystemAccountKey(SubTypeSystemPoolAMM, token))
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if b, ok := bt.balances[key]; ok && b.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), b)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per token (should be 0
// for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[Token]*big.Int {
	totals := map[Token]*big.Int{
		Token0: new(big.Int),
		Token1: new(big.Int),
	}

	for key, balance := range bt.balances {
		totals[key.Token].Add(totals[key.Token], balance)
	}

	return totals
}

// SetBalance overwrites a single balance during snapshot restore.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}
