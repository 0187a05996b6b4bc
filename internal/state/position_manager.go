package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"OptionLedger/internal/risk"
)

// PositionManager is the in-memory book of open position balances,
// keyed by (account, position id). Mutated only by the serialized engine.
type PositionManager struct {
	positions map[uuid.UUID]map[[32]byte]*PositionBalance
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions: make(map[uuid.UUID]map[[32]byte]*PositionBalance),
	}
}

// Get returns the open balance for (account, id), if any.
func (pm *PositionManager) Get(accountID uuid.UUID, id *uint256.Int) (*PositionBalance, bool) {
	book, ok := pm.positions[accountID]
	if !ok {
		return nil, false
	}
	pos, ok := book[id.Bytes32()]
	return pos, ok
}

// Open records a freshly minted position. Fails if the same identifier is
// already open for the account; size changes go through burn-and-remint.
func (pm *PositionManager) Open(pos *PositionBalance) error {
	book, ok := pm.positions[pos.AccountID]
	if !ok {
		book = make(map[[32]byte]*PositionBalance)
		pm.positions[pos.AccountID] = book
	}
	key := pos.Key()
	if _, exists := book[key]; exists {
		return fmt.Errorf("position already open for account %s", pos.AccountID)
	}
	book[key] = pos
	return nil
}

// Remove deletes a fully burned position.
func (pm *PositionManager) Remove(accountID uuid.UUID, id *uint256.Int) {
	if book, ok := pm.positions[accountID]; ok {
		delete(book, id.Bytes32())
		if len(book) == 0 {
			delete(pm.positions, accountID)
		}
	}
}

// AccountPositions returns the account's open balances in a deterministic
// order (sorted by identifier) so requirement walks and state hashing are
// reproducible.
func (pm *PositionManager) AccountPositions(accountID uuid.UUID) []*PositionBalance {
	book, ok := pm.positions[accountID]
	if !ok {
		return nil
	}
	out := make([]*PositionBalance, 0, len(book))
	for _, pos := range book {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key(), out[j].Key()
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}

// OpenPositionCount returns the number of open balances for an account.
func (pm *PositionManager) OpenPositionCount(accountID uuid.UUID) int {
	return len(pm.positions[accountID])
}

// AccountRequirement computes the account's total collateral requirement
// at the supplied tick across all open positions, each reduced by
// cross-margining. Positions may span pools, so the caller supplies the
// per-pool rate lookup. Pure read.
func (pm *PositionManager) AccountRequirement(accountID uuid.UUID, currentTick int32, paramsFor func(poolID uint64) risk.Params) (risk.Requirement, error) {
	total := risk.ZeroRequirement()
	for _, pos := range pm.AccountPositions(accountID) {
		req, err := risk.PortfolioRequirement(pos.Legs, currentTick, pos.Size, paramsFor(pos.PoolID))
		if err != nil {
			return risk.Requirement{}, fmt.Errorf("position %x: %w", pos.Key(), err)
		}
		total = total.Add(req)
	}
	return total, nil
}

// SetPosition inserts a balance during snapshot restore, overwriting any
// existing entry for the same identifier.
func (pm *PositionManager) SetPosition(pos *PositionBalance) {
	book, ok := pm.positions[pos.AccountID]
	if !ok {
		book = make(map[[32]byte]*PositionBalance)
		pm.positions[pos.AccountID] = book
	}
	book[pos.Key()] = pos
}

// AllPositions returns every open balance across accounts, ordered by
// account then identifier, for snapshotting.
func (pm *PositionManager) AllPositions() []*PositionBalance {
	var out []*PositionBalance
	for _, accountID := range pm.Accounts() {
		out = append(out, pm.AccountPositions(accountID)...)
	}
	return out
}

// Accounts returns every account with open positions, sorted, for
// deterministic snapshots.
func (pm *PositionManager) Accounts() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(pm.positions))
	for id := range pm.positions {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
