package core

import (
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"OptionLedger/internal/ledger"
	"OptionLedger/internal/risk"
	"OptionLedger/internal/state"
	"OptionLedger/internal/valuation"
)

// Read-side accessors. These run on the core goroutine via the query
// scheduler, so they see a consistent state between events.

// Sequence returns the next sequence the core will assign.
func (c *DeterministicCore) Sequence() int64 {
	return c.sequence
}

// AccountCollateral returns the account's share balance and its current
// underlying value for one token.
func (c *DeterministicCore) AccountCollateral(accountID uuid.UUID, token ledger.Token) (shares, assets *big.Int) {
	vault := c.vaults[token]
	return vault.Shares(accountID), vault.AccountAssets(accountID)
}

// AccountRequirementAt computes the account's cross-margined collateral
// requirement across all open positions at the supplied tick.
func (c *DeterministicCore) AccountRequirementAt(accountID uuid.UUID, currentTick int32) (risk.Requirement, error) {
	return c.accountRequirement(accountID, currentTick)
}

// AccountPortfolioValue sums the mark value of the account's open
// positions at the supplied tick.
func (c *DeterministicCore) AccountPortfolioValue(accountID uuid.UUID, currentTick int32) (*big.Int, *big.Int, error) {
	value0 := new(big.Int)
	value1 := new(big.Int)
	for _, pos := range c.positionManager.AccountPositions(accountID) {
		v0, v1, err := valuation.PortfolioValue(pos.Legs, currentTick, pos.Size)
		if err != nil {
			return nil, nil, err
		}
		value0.Add(value0, v0)
		value1.Add(value1, v1)
	}
	return value0, value1, nil
}

// AccountPositions lists the account's open positions.
func (c *DeterministicCore) AccountPositions(accountID uuid.UUID) []*state.PositionBalance {
	return c.positionManager.AccountPositions(accountID)
}

// VaultTotals reports one token's pool ledger: total assets, committed
// amount, and truncated utilization.
func (c *DeterministicCore) VaultTotals(token ledger.Token) (totalAssets, committed *big.Int, utilization decimal.Decimal) {
	vault := c.vaults[token]
	return vault.TotalAssets(), vault.Committed(), vault.Utilization()
}

// PoolParams returns the active rate configuration for a pool.
func (c *DeterministicCore) PoolParams(poolID uint64) (risk.Params, bool) {
	cfg, ok := c.pools[poolID]
	if !ok {
		return risk.Params{}, false
	}
	return cfg.Params, true
}

// StateHash returns the current chain tip.
func (c *DeterministicCore) StateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
