package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientShares is returned when a withdrawal or premium
	// debit exceeds the account's share balance.
	ErrInsufficientShares = errors.New("ledger: insufficient shares")

	// ErrLedgerInvariant is the fatal consistency violation: more
	// underlying committed to the AMM than was ever deposited. It always
	// indicates an accounting defect upstream and aborts the triggering
	// operation rather than clamping.
	ErrLedgerInvariant = errors.New("ledger: committed exceeds total deposited")
)

// UtilizationPlaces is the precision utilization ratios are truncated to.
const UtilizationPlaces = 4

// CollateralVault is the share-accounted pool for one collateral token:
// deposits buy shares at the current share price, and the share price
// grows as premium is folded into total assets. Process-wide state,
// mutated only through the serialized engine.
type CollateralVault struct {
	token         Token
	totalShares   *big.Int
	totalAssets   *big.Int // idle + committed underlying
	committed     *big.Int // underlying currently in the AMM
	feesCollected *big.Int
	shares        map[uuid.UUID]*big.Int
}

func NewCollateralVault(token Token) *CollateralVault {
	return &CollateralVault{
		token:         token,
		totalShares:   new(big.Int),
		totalAssets:   new(big.Int),
		committed:     new(big.Int),
		feesCollected: new(big.Int),
		shares:        make(map[uuid.UUID]*big.Int),
	}
}

func (v *CollateralVault) Token() Token { return v.token }

// Shares returns a copy of the account's share balance. Zero is a valid
// terminal state; the entry is never implicitly destroyed.
func (v *CollateralVault) Shares(accountID uuid.UUID) *big.Int {
	if s, ok := v.shares[accountID]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

func (v *CollateralVault) TotalShares() *big.Int   { return new(big.Int).Set(v.totalShares) }
func (v *CollateralVault) TotalAssets() *big.Int   { return new(big.Int).Set(v.totalAssets) }
func (v *CollateralVault) Committed() *big.Int     { return new(big.Int).Set(v.committed) }
func (v *CollateralVault) FeesCollected() *big.Int { return new(big.Int).Set(v.feesCollected) }

// AssetsForShares converts shares to underlying at the current share
// price, rounding down (the holder is receiving).
func (v *CollateralVault) AssetsForShares(shares *big.Int) *big.Int {
	if v.totalShares.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(shares, v.totalAssets)
	return out.Div(out, v.totalShares)
}

// SharesForAssets converts underlying to shares at the current share
// price, rounding down (the pool is paying out shares).
func (v *CollateralVault) SharesForAssets(assets *big.Int) *big.Int {
	if v.totalShares.Sign() == 0 || v.totalAssets.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	out := new(big.Int).Mul(assets, v.totalShares)
	return out.Div(out, v.totalAssets)
}

// AccountAssets returns the underlying value of an account's shares.
func (v *CollateralVault) AccountAssets(accountID uuid.UUID) *big.Int {
	return v.AssetsForShares(v.Shares(accountID))
}

// Deposit mints shares for the deposited underlying. Returns the shares
// minted.
func (v *CollateralVault) Deposit(accountID uuid.UUID, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive")
	}
	minted := v.SharesForAssets(assets)
	if minted.Sign() == 0 {
		return nil, fmt.Errorf("deposit of %s %s mints zero shares", assets, v.token)
	}

	s, ok := v.shares[accountID]
	if !ok {
		s = new(big.Int)
		v.shares[accountID] = s
	}
	s.Add(s, minted)
	v.totalShares.Add(v.totalShares, minted)
	v.totalAssets.Add(v.totalAssets, assets)
	return minted, nil
}

// Withdraw burns the shares covering the requested underlying. Returns
// the shares burned. The caller is responsible for first checking that
// the remaining balance still covers the account's open requirements.
func (v *CollateralVault) Withdraw(accountID uuid.UUID, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive")
	}
	// Round the share burn up so the pool never pays out more underlying
	// than the burned shares are worth.
	burned := v.SharesForAssets(assets)
	if v.AssetsForShares(burned).Cmp(assets) < 0 {
		burned.Add(burned, big.NewInt(1))
	}

	s, ok := v.shares[accountID]
	if !ok || s.Cmp(burned) < 0 {
		return nil, fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientShares, accountID, v.Shares(accountID), burned)
	}
	if new(big.Int).Sub(v.totalAssets, assets).Cmp(v.committed) < 0 {
		return nil, fmt.Errorf("%w: withdrawal of %s would leave assets below committed %s", ErrLedgerInvariant, assets, v.committed)
	}

	s.Sub(s, burned)
	v.totalShares.Sub(v.totalShares, burned)
	v.totalAssets.Sub(v.totalAssets, assets)
	return burned, nil
}

// CreditPremium mints shares to the account for premium earned at burn
// time and folds the underlying into total assets.
func (v *CollateralVault) CreditPremium(accountID uuid.UUID, assets *big.Int) (*big.Int, error) {
	if assets.Sign() == 0 {
		return new(big.Int), nil
	}
	minted, err := v.Deposit(accountID, assets)
	if err != nil {
		return nil, err
	}
	v.feesCollected.Add(v.feesCollected, assets)
	return minted, nil
}

// DebitPremium burns shares from the account for premium owed at burn.
func (v *CollateralVault) DebitPremium(accountID uuid.UUID, assets *big.Int) (*big.Int, error) {
	if assets.Sign() == 0 {
		return new(big.Int), nil
	}
	return v.Withdraw(accountID, assets)
}

// CanDebitPremium reports whether debiting the account's owed premium
// would succeed, with committed first adjusted by committedDelta from
// the same operation. Mirrors the checks Withdraw performs so the
// engine can validate a whole burn before mutating anything.
func (v *CollateralVault) CanDebitPremium(accountID uuid.UUID, assets, committedDelta *big.Int) error {
	if assets.Sign() == 0 {
		return nil
	}
	burned := v.SharesForAssets(assets)
	if v.AssetsForShares(burned).Cmp(assets) < 0 {
		burned.Add(burned, big.NewInt(1))
	}
	if s := v.Shares(accountID); s.Cmp(burned) < 0 {
		return fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientShares, accountID, s, burned)
	}
	committedAfter := new(big.Int).Add(v.committed, committedDelta)
	if new(big.Int).Sub(v.totalAssets, assets).Cmp(committedAfter) < 0 {
		return fmt.Errorf("%w: premium debit of %s would leave assets below committed %s",
			ErrLedgerInvariant, assets, committedAfter)
	}
	return nil
}

// CanMove reports whether moving delta underlying into (positive) or out
// of (negative) the AMM would keep the ledger invariant. Used by the
// engine to validate a whole operation before mutating anything.
func (v *CollateralVault) CanMove(delta *big.Int) error {
	next := new(big.Int).Add(v.committed, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: move of %s would make committed negative", ErrLedgerInvariant, delta)
	}
	if next.Cmp(v.totalAssets) > 0 {
		return fmt.Errorf("%w: committed %s, total deposited %s", ErrLedgerInvariant, next, v.totalAssets)
	}
	return nil
}

// RecordMove moves delta underlying into or out of the AMM on behalf of
// option legs. Fatal if the invariant committed <= totalAssets would
// break.
func (v *CollateralVault) RecordMove(delta *big.Int) error {
	if err := v.CanMove(delta); err != nil {
		return err
	}
	v.committed.Add(v.committed, delta)
	return nil
}

// Utilization returns committed / totalAssets truncated (never rounded
// up) to UtilizationPlaces decimal places.
func (v *CollateralVault) Utilization() decimal.Decimal {
	if v.totalAssets.Sign() == 0 {
		return decimal.Zero
	}
	committed := decimal.NewFromBigInt(v.committed, 0)
	total := decimal.NewFromBigInt(v.totalAssets, 0)
	return committed.DivRound(total, UtilizationPlaces+2).Truncate(UtilizationPlaces)
}

// VaultState is the serializable snapshot of one vault.
type VaultState struct {
	Token         Token
	TotalShares   *big.Int
	TotalAssets   *big.Int
	Committed     *big.Int
	FeesCollected *big.Int
	Shares        map[uuid.UUID]*big.Int
}

// State captures the vault for snapshotting.
func (v *CollateralVault) State() VaultState {
	shares := make(map[uuid.UUID]*big.Int, len(v.shares))
	for id, s := range v.shares {
		shares[id] = new(big.Int).Set(s)
	}
	return VaultState{
		Token:         v.token,
		TotalShares:   new(big.Int).Set(v.totalShares),
		TotalAssets:   new(big.Int).Set(v.totalAssets),
		Committed:     new(big.Int).Set(v.committed),
		FeesCollected: new(big.Int).Set(v.feesCollected),
		Shares:        shares,
	}
}

// RestoreState overwrites the vault from a snapshot.
func (v *CollateralVault) RestoreState(st VaultState) {
	v.totalShares = new(big.Int).Set(st.TotalShares)
	v.totalAssets = new(big.Int).Set(st.TotalAssets)
	v.committed = new(big.Int).Set(st.Committed)
	v.feesCollected = new(big.Int).Set(st.FeesCollected)
	v.shares = make(map[uuid.UUID]*big.Int, len(st.Shares))
	for id, s := range st.Shares {
		v.shares[id] = new(big.Int).Set(s)
	}
}

// ShareAccounts returns the account ids with a share entry, for snapshots.
func (v *CollateralVault) ShareAccounts() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(v.shares))
	for id := range v.shares {
		out = append(out, id)
	}
	return out
}
