package ledger

import (
	"math/big"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for the engine's
// operations. The generator never mutates balances itself; the engine
// validates the whole operation, then applies the batch atomically.
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence}
}

// Sequence returns the next sequence the generator will stamp.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}
}

func (jg *JournalGenerator) entry(b *Batch, debit, credit AccountKey, token Token, amount *big.Int, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Token:         token,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// SetSequence resets the generator cursor during snapshot restore so the
// next batch lines up with the engine's sequence.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// GenerateEmpty produces a journal-free batch for state-only events that
// still advance the sequence and land in the event log.
func (jg *JournalGenerator) GenerateEmpty(eventRef string, timestamp int64) *Batch {
	b := jg.newBatch(eventRef, timestamp)
	jg.sequence++
	return b
}

// GenerateDeposit records custody -> user collateral and custody ->
// pool idle for a confirmed deposit.
func (jg *JournalGenerator) GenerateDeposit(accountID uuid.UUID, token Token, amount *big.Int, eventRef string, timestamp int64) *Batch {
	b := jg.newBatch(eventRef, timestamp)
	jg.entry(b,
		NewUserAccountKey(accountID, SubTypeCollateral, token),
		NewExternalAccountKey(token),
		token, amount, JournalTypeDeposit)
	jg.sequence++
	return b
}

// GenerateWithdrawal records user collateral -> custody.
func (jg *JournalGenerator) GenerateWithdrawal(accountID uuid.UUID, token Token, amount *big.Int, eventRef string, timestamp int64) *Batch {
	b := jg.newBatch(eventRef, timestamp)
	jg.entry(b,
		NewExternalAccountKey(token),
		NewUserAccountKey(accountID, SubTypeCollateral, token),
		token, amount, JournalTypeWithdrawal)
	jg.sequence++
	return b
}

// commitEntries records a signed move of collateral between the idle and
// AMM-committed buckets: positive deltas commit (mint direction), negative
// deltas release (burn direction).
func (jg *JournalGenerator) commitEntries(b *Batch, accountID uuid.UUID, token Token, delta *big.Int, jt JournalType) {
	if delta == nil || delta.Sign() == 0 {
		return
	}
	amount := new(big.Int).Abs(delta)
	userCommitted := NewUserAccountKey(accountID, SubTypeCommitted, token)
	userCollateral := NewUserAccountKey(accountID, SubTypeCollateral, token)
	poolAMM := NewSystemAccountKey(SubTypeSystemPoolAMM, token)
	poolIdle := NewSystemAccountKey(SubTypeSystemPoolIdle, token)

	if delta.Sign() > 0 {
		jg.entry(b, userCommitted, userCollateral, token, amount, jt)
		jg.entry(b, poolAMM, poolIdle, token, amount, jt)
	} else {
		jg.entry(b, userCollateral, userCommitted, token, amount, jt)
		jg.entry(b, poolIdle, poolAMM, token, amount, jt)
	}
}

// GenerateMint records the net collateral a minted position moves into
// (positive) or out of (negative) the AMM, per token.
func (jg *JournalGenerator) GenerateMint(accountID uuid.UUID, delta0, delta1 *big.Int, eventRef string, timestamp int64) *Batch {
	b := jg.newBatch(eventRef, timestamp)
	jg.commitEntries(b, accountID, Token0, delta0, JournalTypeMintCommit)
	jg.commitEntries(b, accountID, Token1, delta1, JournalTypeMintCommit)
	jg.sequence++
	return b
}

// GenerateBurn reverses a mint's committed deltas and settles premium:
// positive premium credits the user from the fee account, negative
// premium debits the user into it.
func (jg *JournalGenerator) GenerateBurn(accountID uuid.UUID, released0, released1, premium0, premium1 *big.Int, eventRef string, timestamp int64) *Batch {
	b := jg.newBatch(eventRef, timestamp)
	jg.commitEntries(b, accountID, Token0, released0, JournalTypeBurnRelease)
	jg.commitEntries(b, accountID, Token1, released1, JournalTypeBurnRelease)

	premium := [2]*big.Int{premium0, premium1}
	for _, token := range Tokens {
		p := premium[token]
		if p == nil || p.Sign() == 0 {
			continue
		}
		if p.Sign() > 0 {
			jg.entry(b,
				NewUserAccountKey(accountID, SubTypePremium, token),
				NewSystemAccountKey(SubTypeSystemFees, token),
				token, p, JournalTypePremiumCredit)
		} else {
			jg.entry(b,
				NewSystemAccountKey(SubTypeSystemFees, token),
				NewUserAccountKey(accountID, SubTypePremium, token),
				token, new(big.Int).Neg(p), JournalTypePremiumDebit)
		}
	}
	jg.sequence++
	return b
}
