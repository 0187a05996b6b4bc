package core

import (
	"math/big"

	"OptionLedger/internal/ledger"
	"OptionLedger/internal/state"
)

// SnapshotState holds the serializable in-memory state for restore.
// It mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]*big.Int
	Vaults          []ledger.VaultState
	Positions       []*state.PositionBalance
	Pools           []PoolConfig
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        c.sequence - 1, // last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Positions:       c.positionManager.AllPositions(),
		SequenceState:   c.sequenceValidator.ExportState(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
	for _, v := range c.vaults {
		snap.Vaults = append(snap.Vaults, v.State())
	}
	for _, cfg := range c.pools {
		snap.Pools = append(snap.Pools, cfg)
	}
	return snap
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// On warm restart the latest snapshot is loaded first, then events past it
// are replayed from the log.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // next sequence to assign
	c.journalGen.SetSequence(c.sequence)
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	for _, vs := range snap.Vaults {
		for _, v := range c.vaults {
			if v.Token() == vs.Token {
				v.RestoreState(vs)
			}
		}
	}

	for _, pos := range snap.Positions {
		c.positionManager.SetPosition(pos)
	}

	for _, cfg := range snap.Pools {
		c.pools[cfg.PoolID] = cfg
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache so recently
// processed events skip the cold-path DB lookup after a restart.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}
