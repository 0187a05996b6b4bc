package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"OptionLedger/internal/config"
	"OptionLedger/internal/core"
	"OptionLedger/internal/event"
	"OptionLedger/internal/ingestion"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/persistence"
	"OptionLedger/internal/position"
	"OptionLedger/internal/projection"
	"OptionLedger/internal/query"
	"OptionLedger/internal/risk"
	"OptionLedger/internal/server"
	"OptionLedger/internal/state"
	"OptionLedger/internal/valuation"
)

func main() {
	logger := observability.NewLogger("main")
	logger.Info().Msg("OptionLedger starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}
	logger.Info().Msg("migrations applied")

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: load snapshot + replay ---
	startSequence := int64(0)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("load snapshot")
	}
	if snap != nil {
		startSequence = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Msg("snapshot loaded")
	} else {
		logger.Info().Msg("no snapshot, cold start from sequence 0")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure), the projection channel drops.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	// Bridge channels for the persistence/projection workers (avoids an
	// import cycle between core and those packages).
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// The AMM boundary plugs in here. Fee-growth checkpoints come from this
	// source at mint; the zero source settles zero premium until a live
	// pool observer is wired.
	feeGrowth := valuation.StaticFeeGrowth{}

	deterministicCore := core.NewDeterministicCore(
		startSequence,
		feeGrowth,
		persistCoreChan,
		projectionCoreChan,
		dbChecker,
		metrics,
	)

	// Configured pools first; a snapshot restore below overrides them with
	// any rate updates applied since the config was written.
	for _, p := range cfg.Pools {
		poolCfg, err := corePoolConfig(p)
		if err != nil {
			logger.Fatal().Err(err).Uint64("pool", p.PoolID).Msg("pool config")
		}
		if err := deterministicCore.RegisterPool(poolCfg); err != nil {
			logger.Fatal().Err(err).Uint64("pool", p.PoolID).Msg("register pool")
		}
	}

	if snap != nil {
		coreSnap, err := coreSnapshotFromData(snap)
		if err != nil {
			logger.Fatal().Err(err).Msg("decode snapshot")
		}
		deterministicCore.RestoreFromSnapshot(coreSnap)

		if len(snap.IdempotencyKeys) > 0 {
			logger.Info().Int("keys", len(snap.IdempotencyKeys)).Msg("warming idempotency LRU")
			deterministicCore.WarmLRU(snap.IdempotencyKeys)
		}
	}

	replayCount, err := replayEventsFromLog(ctx, snapMgr, deterministicCore, startSequence, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("event replay")
	}
	if replayCount > 0 {
		logger.Info().Int64("events", replayCount).Int64("sequence", deterministicCore.Sequence()).Msg("replay complete")
	}

	// When nothing was replayed, the restored state must hash to exactly
	// what the snapshot recorded.
	if snap != nil && replayCount == 0 {
		var expected [32]byte
		copy(expected[:], snap.StateHash)
		if actual := deterministicCore.StateHash(); actual != expected {
			logger.Fatal().
				Hex("expected", expected[:]).
				Hex("actual", actual[:]).
				Msg("state hash mismatch after restore")
		}
		logger.Info().Msg("state hash verified after restore")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	logger.Info().Msg("nats connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure nats streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure outbound stream")
	}

	rawEventChan := make(chan ingestion.RawEvent, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	publishChan := make(chan ingestion.PublishableEvent, 4096)
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)

	// --- Query scheduler ---
	// Read queries that need live core state run as closures on the core
	// goroutine, interleaved between events.
	scheduler := &coreScheduler{queue: make(chan func(), cfg.QueryChanSize)}

	queryService := query.NewQueryService(db)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, queryService, deterministicCore, scheduler, healthChecker, metrics)

	// --- Goroutines ---
	errChan := make(chan error, 10)

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushInterval, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	go func() {
		errChan <- outboundPublisher.Run(ctx)
	}()

	go bridgeCoreOutputs(ctx, persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan, logger)

	go runCoreLoop(ctx, rawEventChan, scheduler.queue, deterministicCore, logger)

	go func() {
		errChan <- httpServer.Run(ctx)
	}()

	go runPeriodicSnapshots(ctx, deterministicCore, snapMgr, cfg, metrics, logger)

	go reportChannelDepths(ctx, metrics, persistCoreChan, projectionCoreChan, rawEventChan)

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", deterministicCore.Sequence()).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("OptionLedger ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	cancel()
	natsSubscriber.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	close(persistWorkerChan)
	close(projectionWorkerChan)
	close(publishChan)

	if err := takeSnapshot(shutdownCtx, deterministicCore, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot")
	} else {
		logger.Info().Msg("final snapshot saved")
	}

	logger.Info().Msg("OptionLedger shutdown complete")
}

// coreScheduler runs closures on the core goroutine. Schedule blocks the
// caller until the closure has run, so reads observe a consistent state
// between events.
type coreScheduler struct {
	queue chan func()
}

func (s *coreScheduler) Schedule(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	job := func() {
		fn()
		close(done)
	}
	select {
	case s.queue <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCoreLoop is the single goroutine allowed to touch core state. It
// interleaves typed events from NATS with scheduled query closures.
func runCoreLoop(
	ctx context.Context,
	rawChan <-chan ingestion.RawEvent,
	queryQueue <-chan func(),
	deterministicCore *core.DeterministicCore,
	logger zerolog.Logger,
) {
	// Subject-prefix -> event-type lookup (subjects end in ".>").
	subjectToType := make(map[string]string)
	for _, sc := range ingestion.DefaultSubjects() {
		prefix := sc.Subject
		if len(prefix) > 2 && prefix[len(prefix)-2:] == ".>" {
			prefix = prefix[:len(prefix)-2]
		}
		subjectToType[prefix] = sc.EventType
	}

	// Messages are acked after the typed-channel send, not after core
	// processing: AckWait must not expire while the core is busy, and
	// channel blocking propagates backpressure to JetStream.
	typedEventChan := make(chan event.Event, 4096)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-rawChan:
				if !ok {
					close(typedEventChan)
					return
				}

				eventType := resolveEventType(raw.Subject, subjectToType)
				if eventType == "" {
					logger.Warn().Str("subject", raw.Subject).Msg("unknown nats subject")
					raw.AckFunc() // ack so it is not redelivered forever
					continue
				}

				evt, err := ingestion.ParseRawEvent(raw, eventType)
				if err != nil {
					logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse event")
					raw.AckFunc()
					continue
				}

				select {
				case typedEventChan <- evt:
					raw.AckFunc()
				case <-ctx.Done():
					raw.NakFunc()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-queryQueue:
			job()
		case evt, ok := <-typedEventChan:
			if !ok {
				return
			}
			if err := deterministicCore.ProcessEvent(evt); err != nil {
				// Rejections (collateral, ordering, duplicates) are normal
				// operation; the event is already acked.
				logger.Warn().
					Err(err).
					Str("type", evt.EventType().String()).
					Str("key", evt.IdempotencyKey()).
					Msg("event rejected")
			}
		}
	}
}

// resolveEventType finds the event type for a NATS subject by longest
// matching prefix.
func resolveEventType(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range prefixMap {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			if len(prefix) > len(bestMatch) {
				bestMatch = prefix
				bestType = evtType
			}
		}
	}
	return bestType
}

// bridgeCoreOutputs converts core.CoreOutput to the persistence and
// projection wire formats.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
	logger zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}

			payload, err := ingestion.MarshalEvent(output.Event)
			if err != nil {
				logger.Error().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("marshal event payload")
			}

			pOutput := persistence.CoreOutput{
				EventRow: persistence.EventRow{
					Sequence:       output.Envelope.Sequence,
					EventType:      output.Envelope.EventType.String(),
					IdempotencyKey: output.Envelope.IdempotencyKey,
					PoolID:         output.Envelope.PoolID,
					Payload:        payload,
					StateHash:      output.Envelope.StateHash[:],
					PrevHash:       output.Envelope.PrevHash[:],
					Timestamp:      output.Envelope.Timestamp,
					SourceSequence: output.Envelope.SourceSequence,
				},
			}
			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalRows = append(pOutput.JournalRows, persistence.JournalRow{
						JournalID:     j.JournalID.String(),
						BatchID:       j.BatchID.String(),
						EventRef:      j.EventRef,
						Sequence:      j.Sequence,
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						Token:         int16(j.Token),
						Amount:        j.Amount.String(),
						JournalType:   int32(j.JournalType),
						Timestamp:     j.Timestamp,
					})
				}
			}

			persistOut <- pOutput

			select {
			case publishOut <- ingestion.PublishableEvent{
				Sequence:       output.Envelope.Sequence,
				EventType:      output.Envelope.EventType.String(),
				IdempotencyKey: output.Envelope.IdempotencyKey,
				PoolID:         output.Envelope.PoolID,
				Payload:        json.RawMessage(payload),
				StateHash:      output.Envelope.StateHash[:],
				Timestamp:      output.Envelope.Timestamp,
			}:
			default:
				// Drop when the publish channel is full.
			}

		case output, ok := <-projectionIn:
			if !ok {
				return
			}

			pOutput := projection.ProjectionOutput{
				Sequence:  output.Envelope.Sequence,
				EventType: output.Envelope.EventType.String(),
				PoolID:    output.Envelope.PoolID,
				Timestamp: output.Envelope.Timestamp.UnixMicro(),
			}
			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalEntries = append(pOutput.JournalEntries, projection.JournalEntry{
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						Token:         int16(j.Token),
						Amount:        j.Amount.String(),
						JournalType:   int32(j.JournalType),
					})
				}
			}
			for _, totals := range output.VaultTotals {
				pOutput.VaultTotals = append(pOutput.VaultTotals, projection.VaultTotals{
					Token:       totals.Token,
					TotalAssets: totals.TotalAssets,
					Committed:   totals.Committed,
					Utilization: totals.Utilization,
				})
			}

			select {
			case projectionOut <- pOutput:
			default:
				// Drop when the projection channel is full; projections
				// rebuild from the event log.
			}
		}
	}
}

// replayEventsFromLog replays persisted events from fromSequence to the
// log head.
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	deterministicCore *core.DeterministicCore,
	fromSequence int64,
	logger zerolog.Logger,
) (int64, error) {
	const batchSize = 1000
	var totalReplayed int64

	for {
		events, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return totalReplayed, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(events) == 0 {
			break
		}

		for _, evtRow := range events {
			raw := ingestion.RawEvent{
				Subject: evtRow.EventType,
				Data:    evtRow.Payload,
			}
			typedEvt, err := ingestion.ParseRawEvent(raw, evtRow.EventType)
			if err != nil {
				logger.Warn().Err(err).Int64("sequence", evtRow.Sequence).Str("type", evtRow.EventType).Msg("skip unparseable event")
				continue
			}

			if err := deterministicCore.ProcessEvent(typedEvt); err != nil {
				// Duplicates and ordering rejections are expected in replay.
				logger.Debug().Err(err).Int64("sequence", evtRow.Sequence).Msg("replay skip")
			}
			totalReplayed++
		}

		fromSequence = events[len(events)-1].Sequence + 1
	}

	return totalReplayed, nil
}

// runPeriodicSnapshots saves a snapshot whenever enough new events have
// accumulated since the last one.
func runPeriodicSnapshots(
	ctx context.Context,
	deterministicCore *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	cfg *config.Config,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	every := time.Duration(cfg.SnapshotEverySeconds) * time.Second
	if every <= 0 {
		every = 10 * time.Second
	}
	minEvents := cfg.SnapshotMinEvents
	if minEvents <= 0 {
		minEvents = 1
	}

	lastSnapshotSeq := deterministicCore.Sequence()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := deterministicCore.Sequence()
			if currentSeq-lastSnapshotSeq >= minEvents {
				if err := takeSnapshot(ctx, deterministicCore, snapMgr, metrics); err != nil {
					logger.Warn().Err(err).Msg("periodic snapshot")
				} else {
					lastSnapshotSeq = currentSeq
					logger.Info().Int64("sequence", currentSeq).Msg("periodic snapshot saved")
				}
			}
		}
	}
}

// takeSnapshot captures the core's in-memory state and persists it.
func takeSnapshot(
	ctx context.Context,
	deterministicCore *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	coreSnap := deterministicCore.CreateSnapshotState()
	snapData := coreSnapshotToData(coreSnap)

	if err := snapMgr.SaveSnapshot(ctx, snapData); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	// Created from live state, so verified by construction.
	if err := snapMgr.MarkVerified(ctx, snapData.Sequence); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(snapData.Sequence))
	}
	return nil
}

// coreSnapshotToData converts typed core state into the serializable
// snapshot form. All amounts become decimal strings.
func coreSnapshotToData(coreSnap *core.SnapshotState) *persistence.SnapshotData {
	snapData := &persistence.SnapshotData{
		Sequence:        coreSnap.Sequence,
		StateHash:       coreSnap.StateHash[:],
		Balances:        make(map[string]string, len(coreSnap.Balances)),
		SequenceState:   coreSnap.SequenceState,
		IdempotencyKeys: coreSnap.IdempotencyKeys,
		CreatedAt:       time.Now(),
	}

	for key, balance := range coreSnap.Balances {
		snapData.Balances[key.AccountPath()] = balance.String()
	}

	for _, vs := range coreSnap.Vaults {
		shares := make(map[string]string, len(vs.Shares))
		for id, s := range vs.Shares {
			shares[id.String()] = s.String()
		}
		snapData.Vaults = append(snapData.Vaults, persistence.VaultSnapshot{
			Token:         int16(vs.Token),
			TotalShares:   vs.TotalShares.String(),
			TotalAssets:   vs.TotalAssets.String(),
			Committed:     vs.Committed.String(),
			FeesCollected: vs.FeesCollected.String(),
			Shares:        shares,
		})
	}

	for _, pos := range coreSnap.Positions {
		checkpoints := make([]string, 0, len(pos.Checkpoints)*2)
		for _, cp := range pos.Checkpoints {
			checkpoints = append(checkpoints, cp.Inside0X128.String(), cp.Inside1X128.String())
		}
		snapData.Positions = append(snapData.Positions, persistence.PositionSnapshot{
			AccountID:   pos.AccountID.String(),
			TokenID:     pos.TokenID.Hex(),
			PoolID:      pos.PoolID,
			Size:        pos.Size.String(),
			Moved0:      pos.Moved0.String(),
			Moved1:      pos.Moved1.String(),
			Checkpoints: checkpoints,
			MintedTick:  pos.MintedTick,
			Version:     pos.Version,
		})
	}

	for _, pool := range coreSnap.Pools {
		snapData.PoolParams = append(snapData.PoolParams, persistence.PoolParamsSnap{
			PoolID:           pool.PoolID,
			TickSpacing:      pool.TickSpacing,
			OTMRateAsset0:    pool.Params.OTMRateAsset0,
			OTMRateAsset1:    pool.Params.OTMRateAsset1,
			LongRateFraction: pool.Params.LongRateFraction,
			ItmScalingModel:  pool.Params.ItmScaling.String(),
		})
	}

	return snapData
}

// coreSnapshotFromData is the inverse of coreSnapshotToData. Position legs
// are not stored; they re-derive from the token id and the pool's tick
// spacing.
func coreSnapshotFromData(snap *persistence.SnapshotData) (*core.SnapshotState, error) {
	coreSnap := &core.SnapshotState{
		Sequence:        snap.Sequence,
		Balances:        make(map[ledger.AccountKey]*big.Int, len(snap.Balances)),
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
	}
	copy(coreSnap.StateHash[:], snap.StateHash)

	for path, balance := range snap.Balances {
		v, ok := new(big.Int).SetString(balance, 10)
		if !ok {
			return nil, fmt.Errorf("balance %s: bad amount %q", path, balance)
		}
		coreSnap.Balances[ledger.ParseAccountPath(path)] = v
	}

	for _, vs := range snap.Vaults {
		vaultState := ledger.VaultState{
			Token:  ledger.Token(vs.Token),
			Shares: make(map[uuid.UUID]*big.Int, len(vs.Shares)),
		}
		var err error
		if vaultState.TotalShares, err = parseBig(vs.TotalShares); err != nil {
			return nil, fmt.Errorf("vault %d total shares: %w", vs.Token, err)
		}
		if vaultState.TotalAssets, err = parseBig(vs.TotalAssets); err != nil {
			return nil, fmt.Errorf("vault %d total assets: %w", vs.Token, err)
		}
		if vaultState.Committed, err = parseBig(vs.Committed); err != nil {
			return nil, fmt.Errorf("vault %d committed: %w", vs.Token, err)
		}
		if vaultState.FeesCollected, err = parseBig(vs.FeesCollected); err != nil {
			return nil, fmt.Errorf("vault %d fees: %w", vs.Token, err)
		}
		for idStr, sharesStr := range vs.Shares {
			id, err := uuid.Parse(idStr)
			if err != nil {
				return nil, fmt.Errorf("vault %d account %s: %w", vs.Token, idStr, err)
			}
			s, err := parseBig(sharesStr)
			if err != nil {
				return nil, fmt.Errorf("vault %d shares for %s: %w", vs.Token, idStr, err)
			}
			vaultState.Shares[id] = s
		}
		coreSnap.Vaults = append(coreSnap.Vaults, vaultState)
	}

	tickSpacing := make(map[uint64]int32, len(snap.PoolParams))
	for _, pp := range snap.PoolParams {
		scaling, err := risk.ParseScalingModel(pp.ItmScalingModel)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", pp.PoolID, err)
		}
		tickSpacing[pp.PoolID] = pp.TickSpacing
		coreSnap.Pools = append(coreSnap.Pools, core.PoolConfig{
			PoolID:      pp.PoolID,
			TickSpacing: pp.TickSpacing,
			Params: risk.Params{
				OTMRateAsset0:    pp.OTMRateAsset0,
				OTMRateAsset1:    pp.OTMRateAsset1,
				LongRateFraction: pp.LongRateFraction,
				ItmScaling:       scaling,
			},
		})
	}

	for _, ps := range snap.Positions {
		accountID, err := uuid.Parse(ps.AccountID)
		if err != nil {
			return nil, fmt.Errorf("position account %s: %w", ps.AccountID, err)
		}
		tokenID, err := uint256.FromHex(ps.TokenID)
		if err != nil {
			return nil, fmt.Errorf("position token id %s: %w", ps.TokenID, err)
		}
		spacing, ok := tickSpacing[ps.PoolID]
		if !ok {
			return nil, fmt.Errorf("position %s references unknown pool %d", ps.TokenID, ps.PoolID)
		}
		_, legs, err := position.Decode(tokenID, spacing)
		if err != nil {
			return nil, fmt.Errorf("decode position %s: %w", ps.TokenID, err)
		}

		pos := &state.PositionBalance{
			AccountID:  accountID,
			TokenID:    tokenID,
			PoolID:     ps.PoolID,
			Legs:       legs,
			MintedTick: ps.MintedTick,
			Version:    ps.Version,
		}
		if pos.Size, err = parseBig(ps.Size); err != nil {
			return nil, fmt.Errorf("position %s size: %w", ps.TokenID, err)
		}
		if pos.Moved0, err = parseBig(ps.Moved0); err != nil {
			return nil, fmt.Errorf("position %s moved0: %w", ps.TokenID, err)
		}
		if pos.Moved1, err = parseBig(ps.Moved1); err != nil {
			return nil, fmt.Errorf("position %s moved1: %w", ps.TokenID, err)
		}
		if len(ps.Checkpoints)%2 != 0 {
			return nil, fmt.Errorf("position %s has odd checkpoint count", ps.TokenID)
		}
		for i := 0; i+1 < len(ps.Checkpoints); i += 2 {
			inside0, err := parseBig(ps.Checkpoints[i])
			if err != nil {
				return nil, fmt.Errorf("position %s checkpoint: %w", ps.TokenID, err)
			}
			inside1, err := parseBig(ps.Checkpoints[i+1])
			if err != nil {
				return nil, fmt.Errorf("position %s checkpoint: %w", ps.TokenID, err)
			}
			pos.Checkpoints = append(pos.Checkpoints, valuation.FeeCheckpoint{
				Inside0X128: inside0,
				Inside1X128: inside1,
			})
		}
		coreSnap.Positions = append(coreSnap.Positions, pos)
	}

	return coreSnap, nil
}

// corePoolConfig converts a configured pool into the engine's form.
func corePoolConfig(p config.PoolConfig) (core.PoolConfig, error) {
	params, err := p.RiskParams()
	if err != nil {
		return core.PoolConfig{}, err
	}
	return core.PoolConfig{
		PoolID:      p.PoolID,
		TickSpacing: p.TickSpacing,
		Params:      params,
	}, nil
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad amount %q", s)
	}
	return v, nil
}

// reportChannelDepths samples channel occupancy for the backpressure gauges.
func reportChannelDepths(
	ctx context.Context,
	metrics *observability.Metrics,
	persistChan chan core.CoreOutput,
	projectionChan chan core.CoreOutput,
	rawChan chan ingestion.RawEvent,
) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
			metrics.SetChannelMetrics("ingest_raw", len(rawChan), cap(rawChan))
		}
	}
}
