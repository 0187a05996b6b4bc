package ledger_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"OptionLedger/internal/ledger"
)

// ---------------------------------------------------------------------------
// Account keys
// ---------------------------------------------------------------------------

func TestAccountPath(t *testing.T) {
	accountID := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	cases := []struct {
		key  ledger.AccountKey
		want string
	}{
		{ledger.NewUserAccountKey(accountID, ledger.SubTypeCollateral, ledger.Token0),
			"user:11111111-2222-3333-4444-555555555555:collateral:token0"},
		{ledger.NewUserAccountKey(accountID, ledger.SubTypeCommitted, ledger.Token1),
			"user:11111111-2222-3333-4444-555555555555:committed:token1"},
		{ledger.NewUserAccountKey(accountID, ledger.SubTypePremium, ledger.Token0),
			"user:11111111-2222-3333-4444-555555555555:premium:token0"},
		{ledger.NewSystemAccountKey(ledger.SubTypeSystemPoolIdle, ledger.Token0), "system:pool_idle:token0"},
		{ledger.NewSystemAccountKey(ledger.SubTypeSystemPoolAMM, ledger.Token1), "system:pool_amm:token1"},
		{ledger.NewSystemAccountKey(ledger.SubTypeSystemFees, ledger.Token0), "system:fees:token0"},
		{ledger.NewExternalAccountKey(ledger.Token1), "external:custody:token1"},
	}

	for _, tc := range cases {
		if got := tc.key.AccountPath(); got != tc.want {
			t.Errorf("AccountPath() = %q, want %q", got, tc.want)
		}
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	accountID := uuid.New()

	keys := []ledger.AccountKey{
		ledger.NewUserAccountKey(accountID, ledger.SubTypeCollateral, ledger.Token0),
		ledger.NewUserAccountKey(accountID, ledger.SubTypeCommitted, ledger.Token1),
		ledger.NewUserAccountKey(accountID, ledger.SubTypePremium, ledger.Token1),
		ledger.NewSystemAccountKey(ledger.SubTypeSystemPoolIdle, ledger.Token0),
		ledger.NewSystemAccountKey(ledger.SubTypeSystemPoolAMM, ledger.Token1),
		ledger.NewSystemAccountKey(ledger.SubTypeSystemFees, ledger.Token1),
		ledger.NewExternalAccountKey(ledger.Token0),
	}

	for _, key := range keys {
		path := key.AccountPath()
		if got := ledger.ParseAccountPath(path); got != key {
			t.Errorf("ParseAccountPath(%q) = %+v, want %+v", path, got, key)
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	zero := ledger.AccountKey{}
	for _, path := range []string{"", "user", "user:not-a-uuid:collateral:token0", "martian:fees:token0"} {
		if got := ledger.ParseAccountPath(path); got != zero {
			t.Errorf("ParseAccountPath(%q) = %+v, want zero key", path, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Batch validation
// ---------------------------------------------------------------------------

func depositBatch(t *testing.T, jg *ledger.JournalGenerator, accountID uuid.UUID, token ledger.Token, amount int64) *ledger.Batch {
	t.Helper()
	b := jg.GenerateDeposit(accountID, token, big.NewInt(amount), uuid.NewString(), 1000)
	if err := b.Validate(); err != nil {
		t.Fatalf("deposit batch invalid: %v", err)
	}
	return b
}

func TestBatchValidate(t *testing.T) {
	accountID := uuid.New()
	jg := ledger.NewJournalGenerator(1)
	good := depositBatch(t, jg, accountID, ledger.Token0, 100)

	t.Run("empty batch", func(t *testing.T) {
		empty := &ledger.Batch{BatchID: uuid.New()}
		if err := empty.Validate(); err == nil {
			t.Error("expected error for empty batch")
		}
	})

	t.Run("non-positive amount", func(t *testing.T) {
		bad := *good
		bad.Journals = append([]ledger.Journal(nil), good.Journals...)
		bad.Journals[0].Amount = big.NewInt(0)
		if err := bad.Validate(); err == nil {
			t.Error("expected error for zero amount")
		}
	})

	t.Run("mismatched batch id", func(t *testing.T) {
		bad := *good
		bad.BatchID = uuid.New()
		if err := bad.Validate(); err == nil {
			t.Error("expected error for mismatched batch id")
		}
	})

	t.Run("self transfer", func(t *testing.T) {
		bad := *good
		bad.Journals = append([]ledger.Journal(nil), good.Journals...)
		bad.Journals[0].CreditAccount = bad.Journals[0].DebitAccount
		if err := bad.Validate(); err == nil {
			t.Error("expected error for same debit and credit account")
		}
	})

	t.Run("token mismatch", func(t *testing.T) {
		bad := *good
		bad.Journals = append([]ledger.Journal(nil), good.Journals...)
		bad.Journals[0].Token = ledger.Token1
		if err := bad.Validate(); err == nil {
			t.Error("expected error for account/token mismatch")
		}
	})
}

// ---------------------------------------------------------------------------
// Journal generator
// ---------------------------------------------------------------------------

func TestGeneratorSequence(t *testing.T) {
	jg := ledger.NewJournalGenerator(7)
	accountID := uuid.New()

	b1 := depositBatch(t, jg, accountID, ledger.Token0, 100)
	if b1.Sequence != 7 {
		t.Errorf("first batch sequence = %d, want 7", b1.Sequence)
	}

	b2 := jg.GenerateEmpty(uuid.NewString(), 1000)
	if b2.Sequence != 8 {
		t.Errorf("empty batch sequence = %d, want 8", b2.Sequence)
	}
	if len(b2.Journals) != 0 {
		t.Errorf("empty batch carries %d journals", len(b2.Journals))
	}

	if jg.Sequence() != 9 {
		t.Errorf("next sequence = %d, want 9", jg.Sequence())
	}

	jg.SetSequence(42)
	b3 := depositBatch(t, jg, accountID, ledger.Token0, 1)
	if b3.Sequence != 42 {
		t.Errorf("batch after SetSequence = %d, want 42", b3.Sequence)
	}
}

func TestGenerateMint_SignedDeltas(t *testing.T) {
	jg := ledger.NewJournalGenerator(1)
	accountID := uuid.New()

	// Committing token0 and releasing token1 produces two entries each,
	// mirrored between the user and pool sides.
	b := jg.GenerateMint(accountID, big.NewInt(100), big.NewInt(-40), uuid.NewString(), 1000)
	if err := b.Validate(); err != nil {
		t.Fatalf("mint batch invalid: %v", err)
	}
	if len(b.Journals) != 4 {
		t.Fatalf("got %d journals, want 4", len(b.Journals))
	}

	committed := ledger.NewUserAccountKey(accountID, ledger.SubTypeCommitted, ledger.Token0)
	if b.Journals[0].DebitAccount != committed {
		t.Errorf("positive delta must debit the committed account, got %s", b.Journals[0].DebitAccount.AccountPath())
	}
	collateral := ledger.NewUserAccountKey(accountID, ledger.SubTypeCollateral, ledger.Token1)
	if b.Journals[2].DebitAccount != collateral {
		t.Errorf("negative delta must debit the collateral account, got %s", b.Journals[2].DebitAccount.AccountPath())
	}

	// Zero deltas generate nothing.
	empty := jg.GenerateMint(accountID, big.NewInt(0), nil, uuid.NewString(), 1000)
	if len(empty.Journals) != 0 {
		t.Errorf("zero-delta mint produced %d journals", len(empty.Journals))
	}
}

func TestGenerateBurn_PremiumDirections(t *testing.T) {
	jg := ledger.NewJournalGenerator(1)
	accountID := uuid.New()

	b := jg.GenerateBurn(accountID,
		big.NewInt(-100), nil, // release token0 commitment
		big.NewInt(25), big.NewInt(-10), // earn token0 premium, owe token1
		uuid.NewString(), 1000)
	if err := b.Validate(); err != nil {
		t.Fatalf("burn batch invalid: %v", err)
	}
	if len(b.Journals) != 4 {
		t.Fatalf("got %d journals, want 4", len(b.Journals))
	}

	credit := b.Journals[2]
	if credit.JournalType != ledger.JournalTypePremiumCredit {
		t.Errorf("journal 2 type = %s, want premium_credit", credit.JournalType)
	}
	if credit.DebitAccount != ledger.NewUserAccountKey(accountID, ledger.SubTypePremium, ledger.Token0) {
		t.Errorf("earned premium must debit the user premium account")
	}

	debit := b.Journals[3]
	if debit.JournalType != ledger.JournalTypePremiumDebit {
		t.Errorf("journal 3 type = %s, want premium_debit", debit.JournalType)
	}
	if debit.Amount.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("owed premium amount = %s, want 10", debit.Amount)
	}
	if debit.DebitAccount != ledger.NewSystemAccountKey(ledger.SubTypeSystemFees, ledger.Token1) {
		t.Errorf("owed premium must debit the fee account")
	}
}

// ---------------------------------------------------------------------------
// Balance tracker
// ---------------------------------------------------------------------------

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1)
	accountID := uuid.New()

	if err := bt.ApplyBatch(depositBatch(t, jg, accountID, ledger.Token0, 500)); err != nil {
		t.Fatal(err)
	}

	if got := bt.GetUserCollateral(accountID, ledger.Token0); got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("user collateral = %s, want 500", got)
	}
	custody := bt.GetBalance(ledger.NewExternalAccountKey(ledger.Token0))
	if custody.Cmp(big.NewInt(-500)) != 0 {
		t.Errorf("custody balance = %s, want -500", custody)
	}

	for token, total := range bt.ComputeGlobalBalance() {
		if total.Sign() != 0 {
			t.Errorf("global %s balance = %s, want 0", token, total)
		}
	}
}

func TestBalanceTracker_RejectsInvalidBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1)
	accountID := uuid.New()

	bad := depositBatch(t, jg, accountID, ledger.Token0, 100)
	bad.Journals[0].Amount = big.NewInt(-1)

	if err := bt.ApplyBatch(bad); err == nil {
		t.Fatal("expected validation failure")
	}
	if got := bt.GetUserCollateral(accountID, ledger.Token0); got.Sign() != 0 {
		t.Errorf("balance mutated by rejected batch: %s", got)
	}
}

func TestBalanceTracker_SnapshotAndSetBalance(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	key := ledger.NewSystemAccountKey(ledger.SubTypeSystemFees, ledger.Token1)

	bt.SetBalance(key, big.NewInt(77))
	snap := bt.Snapshot()
	if snap[key].Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("snapshot balance = %s, want 77", snap[key])
	}

	// The snapshot is a copy: mutating it must not leak into the tracker.
	snap[key].SetInt64(0)
	if got := bt.GetBalance(key); got.Cmp(big.NewInt(77)) != 0 {
		t.Errorf("tracker balance changed through snapshot: %s", got)
	}
}

// ---------------------------------------------------------------------------
// Collateral vault
// ---------------------------------------------------------------------------

func TestVault_DepositWithdraw(t *testing.T) {
	v := ledger.NewCollateralVault(ledger.Token0)
	accountID := uuid.New()

	minted, err := v.Deposit(accountID, big.NewInt(1000))
	if err != nil {
		t.Fatal(err)
	}
	// First deposit mints shares one to one.
	if minted.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("minted %s shares, want 1000", minted)
	}
	if v.AccountAssets(accountID).Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("account assets = %s, want 1000", v.AccountAssets(accountID))
	}

	burned, err := v.Withdraw(accountID, big.NewInt(400))
	if err != nil {
		t.Fatal(err)
	}
	if burned.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("burned %s shares, want 400", burned)
	}
	if v.TotalAssets().Cmp(big.NewInt(600)) != 0 {
		t.Errorf("total assets = %s, want 600", v.TotalAssets())
	}

	if _, err := v.Deposit(accountID, big.NewInt(0)); err == nil {
		t.Error("expected error for zero deposit")
	}
	if _, err := v.Withdraw(accountID, big.NewInt(-5)); err == nil {
		t.Error("expected error for negative withdrawal")
	}
}

func TestVault_WithdrawRoundsShareBurnUp(t *testing.T) {
	v := ledger.NewCollateralVault(ledger.Token0)
	accountID := uuid.New()

	// Skew the share price above one so the burn rounds.
	v.RestoreState(ledger.VaultState{
		Token:         ledger.Token0,
		TotalShares:   big.NewInt(3),
		TotalAssets:   big.NewInt(4),
		Committed:     new(big.Int),
		FeesCollected: new(big.Int),
		Shares:        map[uuid.UUID]*big.Int{accountID: big.NewInt(3)},
	})

	// 2 assets at price 4/3 is 1.5 shares; burning 1 would underpay, so
	// the burn rounds up to 2.
	burned, err := v.Withdraw(accountID, big.NewInt(2))
	if err != nil {
		t.Fatal(err)
	}
	if burned.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("burned %s shares, want 2", burned)
	}
}

func TestVault_WithdrawInsufficientShares(t *testing.T) {
	v := ledger.NewCollateralVault(ledger.Token0)
	accountID := uuid.New()
	if _, err := v.Deposit(accountID, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	if _, err := v.Withdraw(uuid.New(), big.NewInt(10)); !errors.Is(err, ledger.ErrInsufficientShares) {
		t.Errorf("stranger withdrawal: got %v, want ErrInsufficientShares", err)
	}
}

func TestVault_WithdrawBlockedByCommitted(t *testing.T) {
	v := ledger.NewCollateralVault(ledger.Token0)
	accountID := uuid.New()
	if _, err := v.Deposit(accountID, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := v.RecordMove(big.NewInt(60)); err != nil {
		t.Fatal(err)
	}

	if _, err := v.Withdraw(accountID, big.NewInt(50)); !errors.Is(err, ledger.ErrLedgerInvariant) {
		t.Errorf("got %v, want ErrLedgerInvariant", err)
	}
	// The failed withdrawal must not have touched state.
	if v.TotalAssets().Cmp(big.NewInt(100)) != 0 {
		t.Errorf("total assets = %s, want 100", v.TotalAssets())
	}
}

func TestVault_CanDebitPremium(t *testing.T) {
	v := ledger.NewCollateralVault(ledger.Token0)
	debtor := uuid.New()
	other := uuid.New()
	if _, err := v.Deposit(debtor, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Deposit(other, big.NewInt(900)); err != nil {
		t.Fatal(err)
	}
	// Other accounts' positions keep most of the pool committed.
	if err := v.RecordMove(big.NewInt(950)); err != nil {
		t.Fatal(err)
	}

	// The debtor's own balance covers the debit, but the pool cannot pay
	// it out without dipping into committed assets.
	if err := v.CanDebitPremium(debtor, big.NewInt(80), new(big.Int)); !errors.Is(err, ledger.ErrLedgerInvariant) {
		t.Errorf("got %v, want ErrLedgerInvariant", err)
	}
	// With the burn's own release folded in, the same debit fits.
	if err := v.CanDebitPremium(debtor, big.NewInt(80), big.NewInt(-100)); err != nil {
		t.Errorf("debit after release: %v", err)
	}
	if err := v.CanDebitPremium(debtor, big.NewInt(200), big.NewInt(-950)); !errors.Is(err, ledger.ErrInsufficientShares) {
		t.Errorf("got %v, want ErrInsufficientShares", err)
	}
}

func TestVault_CanMove(t *testing.T) {
	v := ledger.NewCollateralVault(ledger.Token1)
	accountID := uuid.New()
	if _, err := v.Deposit(accountID, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	if err := v.CanMove(big.NewInt(101)); !errors.Is(err, ledger.ErrLedgerInvariant) {
		t.Errorf("over-commit: got %v, want ErrLedgerInvariant", err)
	}
	if err := v.CanMove(big.NewInt(-1)); !errors.Is(err, ledger.ErrLedgerInvariant) {
		t.Errorf("negative committed: got %v, want ErrLedgerInvariant", err)
	}
	if err := v.RecordMove(big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := v.RecordMove(big.NewInt(-100)); err != nil {
		t.Fatal(err)
	}
	if v.Committed().Sign() != 0 {
		t.Errorf("committed = %s, want 0", v.Committed())
	}
}

func TestVault_Premium(t *testing.T) {
	v := ledger.NewCollateralVault(ledger.Token0)
	accountID := uuid.New()
	if _, err := v.Deposit(accountID, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	minted, err := v.CreditPremium(accountID, big.NewInt(30))
	if err != nil {
		t.Fatal(err)
	}
	if minted.Sign() <= 0 {
		t.Error("premium credit minted no shares")
	}
	if v.FeesCollected().Cmp(big.NewInt(30)) != 0 {
		t.Errorf("fees collected = %s, want 30", v.FeesCollected())
	}
	if v.TotalAssets().Cmp(big.NewInt(130)) != 0 {
		t.Errorf("total assets = %s, want 130", v.TotalAssets())
	}

	if _, err := v.DebitPremium(accountID, big.NewInt(130)); err != nil {
		t.Fatal(err)
	}
	if v.TotalAssets().Sign() != 0 {
		t.Errorf("total assets = %s, want 0", v.TotalAssets())
	}

	// Zero premium is a no-op, not an error.
	if _, err := v.CreditPremium(accountID, big.NewInt(0)); err != nil {
		t.Errorf("zero credit: %v", err)
	}
	if _, err := v.DebitPremium(accountID, big.NewInt(0)); err != nil {
		t.Errorf("zero debit: %v", err)
	}
}

func TestVault_UtilizationTruncates(t *testing.T) {
	v := ledger.NewCollateralVault(ledger.Token0)
	accountID := uuid.New()

	if got := v.Utilization(); !got.Equal(decimal.Zero) {
		t.Errorf("empty vault utilization = %s, want 0", got)
	}

	if _, err := v.Deposit(accountID, big.NewInt(3)); err != nil {
		t.Fatal(err)
	}
	if err := v.RecordMove(big.NewInt(1)); err != nil {
		t.Fatal(err)
	}

	// 1/3 truncated, never rounded, to four places.
	want := decimal.RequireFromString("0.3333")
	if got := v.Utilization(); !got.Equal(want) {
		t.Errorf("utilization = %s, want %s", got, want)
	}
}

func TestVault_StateRoundTrip(t *testing.T) {
	v := ledger.NewCollateralVault(ledger.Token1)
	a, b := uuid.New(), uuid.New()
	if _, err := v.Deposit(a, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Deposit(b, big.NewInt(50)); err != nil {
		t.Fatal(err)
	}
	if err := v.RecordMove(big.NewInt(40)); err != nil {
		t.Fatal(err)
	}
	if _, err := v.CreditPremium(a, big.NewInt(6)); err != nil {
		t.Fatal(err)
	}

	restored := ledger.NewCollateralVault(ledger.Token1)
	restored.RestoreState(v.State())

	if restored.TotalShares().Cmp(v.TotalShares()) != 0 ||
		restored.TotalAssets().Cmp(v.TotalAssets()) != 0 ||
		restored.Committed().Cmp(v.Committed()) != 0 ||
		restored.FeesCollected().Cmp(v.FeesCollected()) != 0 {
		t.Error("restored vault totals differ")
	}
	if restored.Shares(a).Cmp(v.Shares(a)) != 0 || restored.Shares(b).Cmp(v.Shares(b)) != 0 {
		t.Error("restored share balances differ")
	}
}

// ---------------------------------------------------------------------------
// Invariant validator
// ---------------------------------------------------------------------------

func TestInvariantValidator(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	vault0 := ledger.NewCollateralVault(ledger.Token0)
	vault1 := ledger.NewCollateralVault(ledger.Token1)
	validator := ledger.NewInvariantValidator(bt, vault0, vault1)
	jg := ledger.NewJournalGenerator(1)
	accountID := uuid.New()

	if err := bt.ApplyBatch(depositBatch(t, jg, accountID, ledger.Token0, 1000)); err != nil {
		t.Fatal(err)
	}
	if _, err := vault0.Deposit(accountID, big.NewInt(1000)); err != nil {
		t.Fatal(err)
	}

	mint := jg.GenerateMint(accountID, big.NewInt(300), nil, uuid.NewString(), 1000)
	if err := bt.ApplyBatch(mint); err != nil {
		t.Fatal(err)
	}
	if err := vault0.RecordMove(big.NewInt(300)); err != nil {
		t.Fatal(err)
	}

	if err := validator.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
	if err := validator.ValidateCommittedMatchesJournal(); err != nil {
		t.Errorf("committed cross-check: %v", err)
	}
	if err := validator.ValidateUtilizationBound(); err != nil {
		t.Errorf("utilization bound: %v", err)
	}
	if err := validator.ValidateUserCollateralNonNegative(accountID); err != nil {
		t.Errorf("user collateral: %v", err)
	}

	// Desync the vault from the journal: the cross-check must notice.
	if err := vault0.RecordMove(big.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if err := validator.ValidateCommittedMatchesJournal(); err == nil {
		t.Error("expected committed mismatch")
	}
}
