package core

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"OptionLedger/internal/event"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/position"
	"OptionLedger/internal/risk"
	"OptionLedger/internal/state"
	"OptionLedger/internal/tickmath"
	"OptionLedger/internal/valuation"
)

var (
	// ErrUnknownPool is returned for operations against an unregistered pool.
	ErrUnknownPool = errors.New("core: unknown pool")

	// ErrPositionNotFound is returned when burning a position the account
	// does not hold.
	ErrPositionNotFound = errors.New("core: position not found")
)

// PoolConfig describes one registered AMM pool: its tick spacing and its
// collateral-rate policy.
type PoolConfig struct {
	PoolID      uint64
	TickSpacing int32
	Params      risk.Params
}

// DeterministicCore is the single-threaded risk engine. Every mint/burn/
// deposit/withdraw request is processed to completion — decode, per-leg
// requirement, cross-margining, ledger update — as one atomic unit before
// the next request may proceed. Callers sequence requests per account;
// nothing here is safe under concurrent writers.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	vaults            [2]*ledger.CollateralVault
	positionManager   *state.PositionManager
	pools             map[uint64]PoolConfig
	feeGrowth         valuation.FeeGrowthSource
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is the per-operation record fanned out to the persistence
// and projection workers. Event is the applied input; the event log stores
// its wire encoding so replay can re-parse it.
type CoreOutput struct {
	Event       event.Event
	Envelope    *event.EventEnvelope
	Batch       *ledger.Batch
	StateDelta  []byte
	VaultTotals []VaultTotals
}

// VaultTotals is one collateral token's pool aggregates after the
// operation, for the utilization projection.
type VaultTotals struct {
	Token       int16
	TotalAssets string
	Committed   string
	Utilization string
}

func NewDeterministicCore(
	startSequence int64,
	feeGrowth valuation.FeeGrowthSource,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	vault0 := ledger.NewCollateralVault(ledger.Token0)
	vault1 := ledger.NewCollateralVault(ledger.Token1)

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(startSequence),
		validator:         ledger.NewInvariantValidator(balanceTracker, vault0, vault1),
		vaults:            [2]*ledger.CollateralVault{vault0, vault1},
		positionManager:   state.NewPositionManager(),
		pools:             make(map[uint64]PoolConfig),
		feeGrowth:         feeGrowth,
		idempotency:       NewIdempotencyChecker(defaultIdempotencyCapacity, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

const defaultIdempotencyCapacity = 1_000_000

// RegisterPool makes a pool known to the engine. Called at startup from
// configuration and by RiskParamUpdate events thereafter.
func (c *DeterministicCore) RegisterPool(cfg PoolConfig) error {
	if cfg.TickSpacing <= 0 {
		return fmt.Errorf("pool %d: tick spacing must be positive", cfg.PoolID)
	}
	if err := cfg.Params.Validate(); err != nil {
		return fmt.Errorf("pool %d: %w", cfg.PoolID, err)
	}
	c.pools[cfg.PoolID] = cfg
	return nil
}

func (c *DeterministicCore) poolConfig(poolID uint64) (PoolConfig, error) {
	cfg, ok := c.pools[poolID]
	if !ok {
		return PoolConfig{}, fmt.Errorf("%w: %d", ErrUnknownPool, poolID)
	}
	return cfg, nil
}

func (c *DeterministicCore) paramsFor(poolID uint64) risk.Params {
	if cfg, ok := c.pools[poolID]; ok {
		return cfg.Params
	}
	return risk.DefaultParams()
}

// ProcessEvent is the main processing pipeline.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Two-tier idempotency check.
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Per-partition source sequence validation.
	partition := c.getPartition(evt)
	if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
		c.reject(eventType, "out_of_order")
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		c.reject(eventType, "duplicate")
		return nil
	}

	// Dispatch. Handlers validate the whole operation before mutating any
	// state: a returned error means balances, positions, and vaults are
	// exactly as they were before the call (all-or-nothing).
	batch, err := c.dispatchEvent(evt)
	if err != nil {
		c.reject(eventType, rejectReason(err))
		return err
	}

	// Apply the journal batch to the audit balances. The generator only
	// emits balanced positive entries, so a failure here is a defect.
	if batch != nil && len(batch.Journals) > 0 {
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch at seq %d: %v", c.sequence, err))
		}
	}

	// Post-checks: the ledger invariant is validated on every mutation
	// path before anything is applied, so a violation here is a defect.
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	stateDigest := c.computeStateDigest(batch)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		PoolID:         evt.PoolID(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{Event: evt, Envelope: envelope, Batch: batch, StateDelta: stateDigest}
	for _, vault := range c.vaults {
		output.VaultTotals = append(output.VaultTotals, VaultTotals{
			Token:       int16(vault.Token()),
			TotalAssets: vault.TotalAssets().String(),
			Committed:   vault.Committed().String(),
			Utilization: vault.Utilization().String(),
		})
	}
	c.sequence++

	// Persistence: blocking send — the core stalls until the persistence
	// worker drains, so no applied operation is ever lost.
	c.persistChan <- output

	// Projections: non-blocking send with drop. Projection workers
	// rebuild from the event log when they fall behind.
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.Inc()
		}
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		if batch != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
		switch e := evt.(type) {
		case *event.MintOption:
			pool := strconv.FormatUint(e.Pool, 10)
			c.metrics.MintsApplied.WithLabelValues(pool).Inc()
			c.metrics.PositionsOpen.WithLabelValues(pool).Inc()
		case *event.BurnOption:
			pool := strconv.FormatUint(e.Pool, 10)
			c.metrics.BurnsApplied.WithLabelValues(pool).Inc()
			c.metrics.PositionsOpen.WithLabelValues(pool).Dec()
		}
		for _, vault := range c.vaults {
			util, _ := vault.Utilization().Float64()
			c.metrics.PoolUtilization.WithLabelValues(vault.Token().String()).Set(util)
			assets, _ := new(big.Float).SetInt(vault.TotalAssets()).Float64()
			c.metrics.VaultTotalAssets.WithLabelValues(vault.Token().String()).Set(assets)
		}
	}

	return nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (*ledger.Batch, error) {
	switch e := evt.(type) {
	case *event.DepositCollateral:
		return c.handleDeposit(e)
	case *event.WithdrawCollateral:
		return c.handleWithdrawal(e)
	case *event.MintOption:
		return c.handleMint(e)
	case *event.BurnOption:
		return c.handleBurn(e)
	case *event.RiskParamUpdate:
		return c.handleRiskParamUpdate(e)
	default:
		return nil, fmt.Errorf("unhandled event type %T", evt)
	}
}

func (c *DeterministicCore) handleDeposit(evt *event.DepositCollateral) (*ledger.Batch, error) {
	vault := c.vaults[evt.Token]

	if _, err := vault.Deposit(evt.AccountID, evt.Amount); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}

	return c.journalGen.GenerateDeposit(evt.AccountID, evt.Token, evt.Amount, evt.IdempotencyKey(), evt.Timestamp.UnixMicro()), nil
}

func (c *DeterministicCore) handleWithdrawal(evt *event.WithdrawCollateral) (*ledger.Batch, error) {
	vault := c.vaults[evt.Token]

	// The remaining balance must still cover the account's open
	// requirements at the supplied tick.
	required, err := c.accountRequirement(evt.AccountID, evt.CurrentTick)
	if err != nil {
		return nil, fmt.Errorf("withdrawal requirement: %w", err)
	}
	remaining := new(big.Int).Sub(vault.AccountAssets(evt.AccountID), evt.Amount)
	if remaining.Cmp(requiredForToken(required, evt.Token)) < 0 {
		return nil, fmt.Errorf("%w: withdrawal leaves %s %s, requirement %s",
			risk.ErrNotEnoughCollateral, remaining, evt.Token, requiredForToken(required, evt.Token))
	}

	if _, err := vault.Withdraw(evt.AccountID, evt.Amount); err != nil {
		return nil, fmt.Errorf("withdrawal: %w", err)
	}

	return c.journalGen.GenerateWithdrawal(evt.AccountID, evt.Token, evt.Amount, evt.IdempotencyKey(), evt.Timestamp.UnixMicro()), nil
}

func (c *DeterministicCore) handleMint(evt *event.MintOption) (*ledger.Batch, error) {
	if evt.PositionSize == nil || evt.PositionSize.Sign() <= 0 {
		return nil, fmt.Errorf("%w: position size must be positive", position.ErrInvalidLegParameter)
	}

	cfg, err := c.poolConfig(evt.Pool)
	if err != nil {
		return nil, err
	}

	poolID, legs, err := position.Decode(evt.TokenID, cfg.TickSpacing)
	if err != nil {
		return nil, err
	}
	if poolID != evt.Pool {
		return nil, fmt.Errorf("%w: token id targets pool %d, request names %d",
			position.ErrInvalidLegParameter, poolID, evt.Pool)
	}

	if _, exists := c.positionManager.Get(evt.AccountID, evt.TokenID); exists {
		return nil, fmt.Errorf("position already open for token id %s", evt.TokenID.Hex())
	}

	// Requirement for the new position plus everything already open.
	newReq, err := risk.PortfolioRequirement(legs, evt.CurrentTick, evt.PositionSize, cfg.Params)
	if err != nil {
		return nil, err
	}
	openReq, err := c.accountRequirement(evt.AccountID, evt.CurrentTick)
	if err != nil {
		return nil, err
	}
	total := risk.ZeroRequirement().Add(newReq).Add(openReq)

	for _, token := range ledger.Tokens {
		available := c.vaults[token].AccountAssets(evt.AccountID)
		needed := requiredForToken(total, token)
		if available.Cmp(needed) < 0 {
			return nil, fmt.Errorf("%w: %s available %s, required %s",
				risk.ErrNotEnoughCollateral, token, available, needed)
		}
	}

	// Net collateral the position moves into the AMM at the current tick.
	delta0, delta1, err := movedAmounts(legs, evt.CurrentTick, evt.PositionSize)
	if err != nil {
		return nil, err
	}

	// Validate both vault moves before applying either.
	if err := c.vaults[ledger.Token0].CanMove(delta0); err != nil {
		return nil, err
	}
	if err := c.vaults[ledger.Token1].CanMove(delta1); err != nil {
		return nil, err
	}

	checkpoints, err := valuation.Snapshot(c.feeGrowth, evt.Pool, legs)
	if err != nil {
		return nil, fmt.Errorf("fee growth snapshot: %w", err)
	}

	// Validation complete — apply.
	if err := c.vaults[ledger.Token0].RecordMove(delta0); err != nil {
		panic(fmt.Sprintf("FATAL: validated move failed: %v", err))
	}
	if err := c.vaults[ledger.Token1].RecordMove(delta1); err != nil {
		panic(fmt.Sprintf("FATAL: validated move failed: %v", err))
	}

	pos := &state.PositionBalance{
		AccountID:   evt.AccountID,
		TokenID:     new(uint256.Int).Set(evt.TokenID),
		PoolID:      evt.Pool,
		Legs:        legs,
		Size:        new(big.Int).Set(evt.PositionSize),
		Moved0:      delta0,
		Moved1:      delta1,
		Checkpoints: checkpoints,
		MintedTick:  evt.CurrentTick,
	}
	if err := c.positionManager.Open(pos); err != nil {
		panic(fmt.Sprintf("FATAL: open after existence check: %v", err))
	}

	return c.journalGen.GenerateMint(evt.AccountID, delta0, delta1, evt.IdempotencyKey(), evt.Timestamp.UnixMicro()), nil
}

func (c *DeterministicCore) handleBurn(evt *event.BurnOption) (*ledger.Batch, error) {
	pos, ok := c.positionManager.Get(evt.AccountID, evt.TokenID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, evt.TokenID.Hex())
	}

	premium0, premium1, err := valuation.AccumulatedFees(c.feeGrowth, pos.PoolID, pos.Legs, pos.Checkpoints, pos.Size)
	if err != nil {
		return nil, fmt.Errorf("premium accrual: %w", err)
	}

	released0 := new(big.Int).Neg(pos.Moved0)
	released1 := new(big.Int).Neg(pos.Moved1)

	// Validate every mutation before applying any.
	if err := c.vaults[ledger.Token0].CanMove(released0); err != nil {
		return nil, err
	}
	if err := c.vaults[ledger.Token1].CanMove(released1); err != nil {
		return nil, err
	}
	premium := [2]*big.Int{premium0, premium1}
	released := [2]*big.Int{released0, released1}
	for _, token := range ledger.Tokens {
		if premium[token].Sign() < 0 {
			owed := new(big.Int).Neg(premium[token])
			if c.vaults[token].AccountAssets(evt.AccountID).Cmp(owed) < 0 {
				return nil, fmt.Errorf("%w: premium owed %s %s exceeds balance",
					risk.ErrNotEnoughCollateral, owed, token)
			}
			// The debit lands after this burn's release, so validate it
			// against the vault state the release will leave behind.
			if err := c.vaults[token].CanDebitPremium(evt.AccountID, owed, released[token]); err != nil {
				return nil, err
			}
		}
	}

	// Apply.
	if err := c.vaults[ledger.Token0].RecordMove(released0); err != nil {
		panic(fmt.Sprintf("FATAL: validated move failed: %v", err))
	}
	if err := c.vaults[ledger.Token1].RecordMove(released1); err != nil {
		panic(fmt.Sprintf("FATAL: validated move failed: %v", err))
	}
	for _, token := range ledger.Tokens {
		p := premium[token]
		switch {
		case p.Sign() > 0:
			if _, err := c.vaults[token].CreditPremium(evt.AccountID, p); err != nil {
				panic(fmt.Sprintf("FATAL: premium credit failed: %v", err))
			}
		case p.Sign() < 0:
			if _, err := c.vaults[token].DebitPremium(evt.AccountID, new(big.Int).Neg(p)); err != nil {
				panic(fmt.Sprintf("FATAL: validated premium debit failed: %v", err))
			}
		}
	}
	c.positionManager.Remove(evt.AccountID, evt.TokenID)

	return c.journalGen.GenerateBurn(evt.AccountID, released0, released1, premium0, premium1, evt.IdempotencyKey(), evt.Timestamp.UnixMicro()), nil
}

func (c *DeterministicCore) handleRiskParamUpdate(evt *event.RiskParamUpdate) (*ledger.Batch, error) {
	cfg, err := c.poolConfig(evt.Pool)
	if err != nil {
		return nil, err
	}

	scaling, err := risk.ParseScalingModel(evt.ItmScalingModel)
	if err != nil {
		return nil, err
	}
	params := risk.Params{
		OTMRateAsset0:    evt.OTMRateAsset0,
		OTMRateAsset1:    evt.OTMRateAsset1,
		LongRateFraction: evt.LongRateFraction,
		ItmScaling:       scaling,
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("risk param update for pool %d: %w", evt.Pool, err)
	}

	cfg.Params = params
	c.pools[evt.Pool] = cfg

	// State-only event: no journals, but an envelope still lands in the log.
	return c.journalGen.GenerateEmpty(evt.IdempotencyKey(), evt.Timestamp), nil
}

// movedAmounts nets the collateral all legs move into the AMM at the
// current tick: short legs deposit their chunk, long legs withdraw an
// equivalent chunk.
func movedAmounts(legs []position.Leg, currentTick int32, positionSize *big.Int) (*big.Int, *big.Int, error) {
	delta0 := new(big.Int)
	delta1 := new(big.Int)
	for i, leg := range legs {
		chunk, err := risk.ChunkForLeg(leg, positionSize)
		if err != nil {
			return nil, nil, fmt.Errorf("leg %d: %w", i, err)
		}
		amount0, amount1, err := tickmath.AmountsForLiquidity(currentTick, chunk, tickmath.RoundUp)
		if err != nil {
			return nil, nil, fmt.Errorf("leg %d: %w", i, err)
		}
		if leg.Long {
			delta0.Sub(delta0, amount0)
			delta1.Sub(delta1, amount1)
		} else {
			delta0.Add(delta0, amount0)
			delta1.Add(delta1, amount1)
		}
	}
	return delta0, delta1, nil
}

// accountRequirement is the cross-margined requirement over everything
// the account has open, with per-pool rates.
func (c *DeterministicCore) accountRequirement(accountID uuid.UUID, currentTick int32) (risk.Requirement, error) {
	return c.positionManager.AccountRequirement(accountID, currentTick, c.paramsFor)
}

func requiredForToken(req risk.Requirement, token ledger.Token) *big.Int {
	if token == ledger.Token1 {
		return req.Token1
	}
	return req.Token0
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
		if reason == "not_enough_collateral" {
			c.metrics.CollateralShortfalls.WithLabelValues(eventType).Inc()
		}
	}
}

// rejectReason maps an error to its metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, risk.ErrNotEnoughCollateral):
		return "not_enough_collateral"
	case errors.Is(err, position.ErrInvalidLegCount), errors.Is(err, position.ErrInvalidLegParameter):
		return "invalid_position"
	case errors.Is(err, risk.ErrInvalidTokenIdParameter):
		return "invalid_token_id"
	case errors.Is(err, ledger.ErrLedgerInvariant):
		return "ledger_invariant"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, ErrUnknownPool):
		return "unknown_pool"
	default:
		return "error"
	}
}

// getPartition determines the partition key for sequence validation:
// requests are sequenced per account, risk updates per pool.
func (c *DeterministicCore) getPartition(evt event.Event) string {
	switch e := evt.(type) {
	case *event.DepositCollateral:
		return "account:" + e.AccountID.String()
	case *event.WithdrawCollateral:
		return "account:" + e.AccountID.String()
	case *event.MintOption:
		return "account:" + e.AccountID.String()
	case *event.BurnOption:
		return "account:" + e.AccountID.String()
	case *event.RiskParamUpdate:
		return fmt.Sprintf("pool:%d", e.Pool)
	default:
		return "global"
	}
}

// getEventTimestamp extracts the versioned timestamp from an event. The
// core never calls time.Now() for event data; all timestamps are inputs.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.DepositCollateral:
		return e.Timestamp
	case *event.WithdrawCollateral:
		return e.Timestamp
	case *event.MintOption:
		return e.Timestamp
	case *event.BurnOption:
		return e.Timestamp
	case *event.RiskParamUpdate:
		return time.UnixMicro(e.Timestamp)
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T", evt))
	}
}

// postCheckInvariants validates invariants after an operation applied.
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	if err := c.validator.ValidateUtilizationBound(); err != nil {
		return err
	}
	if err := c.validator.ValidateCommittedMatchesJournal(); err != nil {
		return err
	}

	switch e := evt.(type) {
	case *event.WithdrawCollateral:
		if err := c.validator.ValidateUserCollateralNonNegative(e.AccountID); err != nil {
			return err
		}
	}

	// Periodic global zero-sum check.
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return err
		}
	}

	return nil
}
