package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants after every applied batch.
type InvariantValidator struct {
	tracker *BalanceTracker
	vaults  [2]*CollateralVault
}

func NewInvariantValidator(tracker *BalanceTracker, vault0, vault1 *CollateralVault) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
		vaults:  [2]*CollateralVault{vault0, vault1},
	}
}

// ValidateUtilizationBound verifies committed <= total deposited for every
// collateral token. A violation is an upstream accounting defect; the
// triggering operation must abort, never clamp.
func (v *InvariantValidator) ValidateUtilizationBound() error {
	for _, vault := range v.vaults {
		if vault.Committed().Cmp(vault.TotalAssets()) > 0 {
			return fmt.Errorf("%w: %s committed %s, deposited %s",
				ErrLedgerInvariant, vault.Token(), vault.Committed(), vault.TotalAssets())
		}
	}
	return nil
}

// ValidateCommittedMatchesJournal cross-checks each vault's committed
// figure against the journal-derived pool AMM account.
func (v *InvariantValidator) ValidateCommittedMatchesJournal() error {
	for _, vault := range v.vaults {
		journaled := v.tracker.GetPoolCommitted(vault.Token())
		if journaled.Cmp(vault.Committed()) != 0 {
			return fmt.Errorf("committed mismatch for %s: vault %s, journal %s",
				vault.Token(), vault.Committed(), journaled)
		}
	}
	return nil
}

// ValidateUserCollateralNonNegative checks an account's idle collateral
// never goes negative in the journal view.
func (v *InvariantValidator) ValidateUserCollateralNonNegative(accountID uuid.UUID) error {
	for _, token := range Tokens {
		key := NewUserAccountKey(accountID, SubTypeCollateral, token)
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the journal is zero-sum per token.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for token, total := range totals {
		if total.Cmp(new(big.Int)) != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %s", token, total)
		}
	}
	return nil
}
