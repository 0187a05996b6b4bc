package core

import (
	"math/big"
	"sort"

	"OptionLedger/internal/ledger"
)

// computeStateDigest creates canonical bytes for the state hash: the
// post-apply balances of every account the batch touched, in account-path
// order, followed by both vaults' aggregate totals. Amounts are encoded
// as length-prefixed big-endian magnitudes with a sign byte so digests
// stay stable across word sizes.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+128)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendBig(digest, balance)
	}

	for _, vault := range c.vaults {
		digest = append(digest, byte(vault.Token()))
		digest = appendBig(digest, vault.TotalAssets())
		digest = appendBig(digest, vault.TotalShares())
		digest = appendBig(digest, vault.Committed())
	}

	return digest
}

func appendBig(buf []byte, v *big.Int) []byte {
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	} else if v.Sign() > 0 {
		sign = 2
	}
	mag := v.Bytes()
	buf = append(buf, sign, byte(len(mag)))
	return append(buf, mag...)
}
