package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"OptionLedger/internal/core"
	"OptionLedger/internal/ledger"
	"OptionLedger/internal/observability"
	"OptionLedger/internal/query"
	"OptionLedger/internal/risk"
	"OptionLedger/internal/valuation"
)

// CoreScheduler runs a closure on the deterministic core's goroutine,
// blocking the caller until it completes. Live queries (requirement,
// portfolio value) must see a consistent state between events, so they
// are scheduled rather than reading core state concurrently.
type CoreScheduler interface {
	Schedule(ctx context.Context, fn func()) error
}

// HTTPServer serves the query API, health probes, and Prometheus metrics.
type HTTPServer struct {
	httpServer    *http.Server
	addr          string
	queryService  *query.QueryService
	engine        *core.DeterministicCore
	scheduler     CoreScheduler
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
}

func NewHTTPServer(
	addr string,
	queryService *query.QueryService,
	engine *core.DeterministicCore,
	scheduler CoreScheduler,
	healthChecker *observability.HealthChecker,
	metrics *observability.Metrics,
) *HTTPServer {
	s := &HTTPServer{
		addr:          addr,
		queryService:  queryService,
		engine:        engine,
		scheduler:     scheduler,
		healthChecker: healthChecker,
		metrics:       metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthChecker.LivenessHandler)
	mux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/accounts/", s.handleAccount)
	mux.HandleFunc("/v1/pool/utilization", s.handleUtilization)
	mux.HandleFunc("/v1/admin/integrity", s.handleIntegrity)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *HTTPServer) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		log.Printf("INFO: HTTP server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// handleAccount routes /v1/accounts/{id}/{balance|positions|requirement|value|journal}.
func (s *HTTPServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, "account", http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/accounts/"), "/")
	if len(parts) != 2 {
		s.writeError(w, "account", http.StatusNotFound, "not found")
		return
	}

	accountID, err := uuid.Parse(parts[0])
	if err != nil {
		s.writeError(w, "account", http.StatusBadRequest, "invalid account id")
		return
	}

	switch parts[1] {
	case "balance":
		s.handleBalance(w, r, accountID)
	case "positions":
		s.handlePositions(w, r, accountID)
	case "requirement":
		s.handleRequirement(w, r, accountID)
	case "value":
		s.handlePortfolioValue(w, r, accountID)
	case "journal":
		s.handleJournal(w, r, accountID)
	default:
		s.writeError(w, "account", http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) handleBalance(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	start := time.Now()
	token, err := tokenParam(r)
	if err != nil {
		s.writeError(w, "balance", http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.queryService.GetBalance(r.Context(), accountID, token)
	if err != nil {
		s.writeError(w, "balance", http.StatusInternalServerError, "query failed")
		return
	}

	s.writeJSON(w, "balance", resp, start)
}

func (s *HTTPServer) handlePositions(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	start := time.Now()

	var positions []query.PositionResponse
	err := s.scheduler.Schedule(r.Context(), func() {
		seq := s.engine.Sequence()
		for _, pos := range s.engine.AccountPositions(accountID) {
			positions = append(positions, query.PositionResponse{
				AccountID:    accountID,
				TokenID:      pos.TokenID.Hex(),
				PoolID:       pos.PoolID,
				Size:         pos.Size.String(),
				Moved0:       pos.Moved0.String(),
				Moved1:       pos.Moved1.String(),
				MintedTick:   pos.MintedTick,
				Version:      pos.Version,
				AsOfSequence: seq,
			})
		}
	})
	if err != nil {
		s.writeError(w, "positions", http.StatusServiceUnavailable, "core unavailable")
		return
	}

	s.writeJSON(w, "positions", positions, start)
}

// handleRequirement computes the live cross-margined requirement at the
// caller-supplied tick. The tick is a query input, never cached state.
func (s *HTTPServer) handleRequirement(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	start := time.Now()

	tickStr := r.URL.Query().Get("tick")
	if tickStr == "" {
		s.writeError(w, "requirement", http.StatusBadRequest, "tick query parameter is required")
		return
	}
	tick, err := strconv.ParseInt(tickStr, 10, 32)
	if err != nil {
		s.writeError(w, "requirement", http.StatusBadRequest, "tick must be an integer")
		return
	}

	var (
		resp     query.RequirementResponse
		queryErr error
	)
	err = s.scheduler.Schedule(r.Context(), func() {
		var req risk.Requirement
		req, queryErr = s.engine.AccountRequirementAt(accountID, int32(tick))
		if queryErr != nil {
			return
		}
		_, avail0 := s.engine.AccountCollateral(accountID, ledger.Token0)
		_, avail1 := s.engine.AccountCollateral(accountID, ledger.Token1)
		resp = query.RequirementResponse{
			AccountID:    accountID,
			CurrentTick:  int32(tick),
			Required0:    req.Token0.String(),
			Required1:    req.Token1.String(),
			Available0:   avail0.String(),
			Available1:   avail1.String(),
			AsOfSequence: s.engine.Sequence(),
		}
	})
	if err != nil {
		s.writeError(w, "requirement", http.StatusServiceUnavailable, "core unavailable")
		return
	}
	if queryErr != nil {
		s.writeError(w, "requirement", http.StatusUnprocessableEntity, queryErr.Error())
		return
	}

	s.writeJSON(w, "requirement", resp, start)
}

// handlePortfolioValue marks the account's open positions to the
// caller-supplied tick and also reports the net value in token0 terms.
func (s *HTTPServer) handlePortfolioValue(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	start := time.Now()

	tickStr := r.URL.Query().Get("tick")
	if tickStr == "" {
		s.writeError(w, "value", http.StatusBadRequest, "tick query parameter is required")
		return
	}
	tick, err := strconv.ParseInt(tickStr, 10, 32)
	if err != nil {
		s.writeError(w, "value", http.StatusBadRequest, "tick must be an integer")
		return
	}

	var (
		resp     query.PortfolioValueResponse
		queryErr error
	)
	err = s.scheduler.Schedule(r.Context(), func() {
		var v0, v1 *big.Int
		v0, v1, queryErr = s.engine.AccountPortfolioValue(accountID, int32(tick))
		if queryErr != nil {
			return
		}
		var net0 *big.Int
		net0, queryErr = valuation.NetValueInToken0(v0, v1, int32(tick))
		if queryErr != nil {
			return
		}
		resp = query.PortfolioValueResponse{
			AccountID:    accountID,
			CurrentTick:  int32(tick),
			Value0:       v0.String(),
			Value1:       v1.String(),
			NetValue0:    net0.String(),
			AsOfSequence: s.engine.Sequence(),
		}
	})
	if err != nil {
		s.writeError(w, "value", http.StatusServiceUnavailable, "core unavailable")
		return
	}
	if queryErr != nil {
		s.writeError(w, "value", http.StatusUnprocessableEntity, queryErr.Error())
		return
	}

	s.writeJSON(w, "value", resp, start)
}

func (s *HTTPServer) handleJournal(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) {
	start := time.Now()

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 1000 {
			s.writeError(w, "journal", http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		limit = parsed
	}

	var afterSeq *int64
	if a := r.URL.Query().Get("after"); a != "" {
		parsed, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			s.writeError(w, "journal", http.StatusBadRequest, "after must be an integer")
			return
		}
		afterSeq = &parsed
	}

	entries, err := s.queryService.GetJournalHistory(r.Context(), accountID, limit, afterSeq)
	if err != nil {
		s.writeError(w, "journal", http.StatusInternalServerError, "query failed")
		return
	}

	s.writeJSON(w, "journal", entries, start)
}

func (s *HTTPServer) handleUtilization(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	token, err := tokenParam(r)
	if err != nil {
		s.writeError(w, "utilization", http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.queryService.GetUtilization(r.Context(), token)
	if err != nil {
		s.writeError(w, "utilization", http.StatusInternalServerError, "query failed")
		return
	}

	s.writeJSON(w, "utilization", resp, start)
}

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	report, err := s.queryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, "integrity", http.StatusInternalServerError, "verification failed")
		return
	}

	s.writeJSON(w, "integrity", report, start)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, endpoint string, v interface{}, start time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response failed: %v", err)
	}
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, endpoint string, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
		s.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
}

func tokenParam(r *http.Request) (int16, error) {
	t := r.URL.Query().Get("token")
	if t == "" {
		return 0, errors.New("token query parameter is required")
	}
	v, err := strconv.Atoi(t)
	if err != nil || (v != 0 && v != 1) {
		return 0, fmt.Errorf("token must be 0 or 1")
	}
	return int16(v), nil
}
