package state_test

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"OptionLedger/internal/position"
	"OptionLedger/internal/risk"
	"OptionLedger/internal/state"
)

func testBalance(accountID uuid.UUID, id uint64, strike int32) *state.PositionBalance {
	return &state.PositionBalance{
		AccountID: accountID,
		TokenID:   uint256.NewInt(id),
		PoolID:    1,
		Legs: []position.Leg{{
			Ratio:     1,
			TokenType: position.TokenTypeCall,
			Strike:    strike,
			Width:     100,
		}},
		Size:   big.NewInt(1_000_000),
		Moved0: new(big.Int),
		Moved1: new(big.Int),
	}
}

func TestOpenGetRemove(t *testing.T) {
	pm := state.NewPositionManager()
	accountID := uuid.New()
	pos := testBalance(accountID, 42, 1000)

	if err := pm.Open(pos); err != nil {
		t.Fatal(err)
	}
	if err := pm.Open(testBalance(accountID, 42, 1000)); err == nil {
		t.Error("expected error reopening the same identifier")
	}

	got, ok := pm.Get(accountID, uint256.NewInt(42))
	if !ok || got != pos {
		t.Fatal("open position not found")
	}
	if _, ok := pm.Get(uuid.New(), uint256.NewInt(42)); ok {
		t.Error("found position under the wrong account")
	}

	pm.Remove(accountID, uint256.NewInt(42))
	if _, ok := pm.Get(accountID, uint256.NewInt(42)); ok {
		t.Error("position survived removal")
	}
	if pm.OpenPositionCount(accountID) != 0 {
		t.Error("count nonzero after removal")
	}
}

func TestAccountPositionsDeterministicOrder(t *testing.T) {
	pm := state.NewPositionManager()
	accountID := uuid.New()

	// Insertion order must not matter.
	for _, id := range []uint64{300, 100, 200} {
		if err := pm.Open(testBalance(accountID, id, 1000)); err != nil {
			t.Fatal(err)
		}
	}

	got := pm.AccountPositions(accountID)
	if len(got) != 3 {
		t.Fatalf("got %d positions, want 3", len(got))
	}
	for i, want := range []uint64{100, 200, 300} {
		if got[i].TokenID.Uint64() != want {
			t.Errorf("position %d has id %d, want %d", i, got[i].TokenID.Uint64(), want)
		}
	}
}

func TestAccountRequirementSumsPositions(t *testing.T) {
	pm := state.NewPositionManager()
	accountID := uuid.New()
	params := risk.DefaultParams()
	paramsFor := func(uint64) risk.Params { return params }

	empty, err := pm.AccountRequirement(accountID, 0, paramsFor)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Token0.Sign() != 0 || empty.Token1.Sign() != 0 {
		t.Error("empty account must have zero requirement")
	}

	if err := pm.Open(testBalance(accountID, 1, 1000)); err != nil {
		t.Fatal(err)
	}
	one, err := pm.AccountRequirement(accountID, 0, paramsFor)
	if err != nil {
		t.Fatal(err)
	}

	if err := pm.Open(testBalance(accountID, 2, 1000)); err != nil {
		t.Fatal(err)
	}
	two, err := pm.AccountRequirement(accountID, 0, paramsFor)
	if err != nil {
		t.Fatal(err)
	}

	want := new(big.Int).Mul(one.Token0, big.NewInt(2))
	if two.Token0.Cmp(want) != 0 {
		t.Errorf("two identical positions require %s, want %s", two.Token0, want)
	}
}

func TestAllPositionsAndSetPosition(t *testing.T) {
	pm := state.NewPositionManager()
	a := uuid.New()
	b := uuid.New()

	if err := pm.Open(testBalance(a, 10, 1000)); err != nil {
		t.Fatal(err)
	}
	if err := pm.Open(testBalance(b, 20, 1000)); err != nil {
		t.Fatal(err)
	}

	all := pm.AllPositions()
	if len(all) != 2 {
		t.Fatalf("got %d positions, want 2", len(all))
	}

	// Restore into a fresh manager and verify the book matches.
	restored := state.NewPositionManager()
	for _, pos := range all {
		restored.SetPosition(pos)
	}
	if _, ok := restored.Get(a, uint256.NewInt(10)); !ok {
		t.Error("restored manager missing first position")
	}
	if _, ok := restored.Get(b, uint256.NewInt(20)); !ok {
		t.Error("restored manager missing second position")
	}

	// SetPosition overwrites rather than erroring.
	replacement := testBalance(a, 10, 2000)
	restored.SetPosition(replacement)
	got, _ := restored.Get(a, uint256.NewInt(10))
	if got != replacement {
		t.Error("SetPosition did not overwrite the existing entry")
	}
}
