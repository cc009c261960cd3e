package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tandemlabs/tandem-ai/internal/db"
	"github.com/tandemlabs/tandem-ai/internal/models"
	"github.com/tandemlabs/tandem-ai/internal/orchestrator"
	"github.com/tandemlabs/tandem-ai/pkg/types"
)

// maxRunsPageSize caps one run-history page.
const maxRunsPageSize = 200

// handleAnalyze runs one scenario through the orchestrator.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req types.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "name and description are required")
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = s.cfg.Orchestrator.DefaultMode
	}
	switch mode {
	case orchestrator.ModeAuto, orchestrator.ModeEngineA, orchestrator.ModeEngineB:
	default:
		writeError(w, http.StatusBadRequest, "INVALID_MODE",
			fmt.Sprintf("unknown mode %q, must be one of: auto, engine_a, engine_b", mode))
		return
	}

	scenario := &models.Scenario{
		ID:          req.ScenarioID,
		Name:        req.Name,
		Domain:      req.Domain,
		Description: req.Description,
		Inputs:      req.Inputs,
	}
	if scenario.ID == "" {
		scenario.ID = uuid.New().String()
	}

	// The orchestrator degrades instead of failing; an error here is an
	// invariant violation, not a remote failure.
	result, err := s.orch.ProcessScenario(r.Context(), scenario, mode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ANALYSIS_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toAnalyzeResponse(result))
}

// handleRuns lists persisted runs with optional filters.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	q, err := parseRunQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	recs, err := s.store.ListRuns(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "RUN_LIST_FAILED", err.Error())
		return
	}
	total, err := s.store.CountRuns(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "RUN_LIST_FAILED", err.Error())
		return
	}

	runs := make([]types.RunSummary, 0, len(recs))
	for _, rec := range recs {
		runs = append(runs, toRunSummary(rec))
	}

	writeJSON(w, http.StatusOK, types.RunListResponse{
		Runs:   runs,
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}

// handleRunByID serves one persisted run: GET returns the full record
// with its degradation events, DELETE removes it.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", "no such run")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.store.GetRun(r.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", fmt.Sprintf("no run with id %q", id))
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "RUN_GET_FAILED", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toRunDetail(rec))

	case http.MethodDelete:
		if err := s.store.DeleteRun(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "RUN_DELETE_FAILED", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET or DELETE")
	}
}

// handleStats reports orchestrator, arbiter, and pool counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	st := s.orch.Stats(r.Context())
	resp := types.StatsResponse{
		ScenariosProcessed: st.ScenariosProcessed,
		ScenariosByMode:    st.ScenariosByMode,
		EngineACalls:       st.EngineACalls,
		EngineBCalls:       st.EngineBCalls,
		DegradedRuns:       st.DegradedRuns,
		FactsOnlyRuns:      st.FactsOnlyRuns,
		InFlight:           st.InFlight,
		Arbitrations: types.ArbiterStats{
			Total:        st.Arbiter.Total,
			ByOutcome:    st.Arbiter.ByOutcome,
			AvgLatencyMS: st.Arbiter.AvgLatencyMs,
		},
		Pool: types.PoolStats{
			TotalRequests: st.Dispatch.TotalRequests,
			TotalTokens:   st.Dispatch.TotalTokens,
			PoolResets:    st.Dispatch.PoolResets,
		},
	}
	if s.store != nil {
		if n, err := s.store.CountRuns(r.Context(), db.RunQuery{}); err == nil {
			resp.PersistedRuns = n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleConfig reports the sanitized runtime configuration. API keys
// never leave the process.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	writeJSON(w, http.StatusOK, types.ConfigResponse{
		DefaultMode:        s.cfg.Orchestrator.DefaultMode,
		MaxConcurrent:      s.cfg.Orchestrator.MaxConcurrentScenarios,
		PoolEndpoints:      s.cfg.Pool.Endpoints,
		PoolModel:          s.cfg.Pool.Model,
		EngineAEnabled:     s.cfg.EngineA.Enabled,
		EngineAModel:       s.cfg.EngineA.Model,
		EngineAPasses:      s.cfg.EngineA.Passes,
		EngineBTurns:       s.cfg.EngineB.Turns,
		ConsensusThreshold: s.cfg.Arbiter.ConsensusThreshold,
		BaseConfidence:     s.cfg.Degradation.BaseConfidence,
		ConfidenceFloor:    s.cfg.Degradation.ConfidenceFloor,
		DatabaseEnabled:    s.cfg.Database.Enabled,
	})
}

// handleHealth reports overall service health. Degraded is still 200;
// load balancers should watch /ready instead.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	h := s.orch.Health(r.Context())
	endpoints := make([]types.EndpointHealth, 0, len(h.Endpoints))
	for _, ep := range h.Endpoints {
		endpoints = append(endpoints, types.EndpointHealth{
			Address:             ep.Address,
			State:               string(ep.State),
			ConsecutiveFailures: ep.ConsecutiveFailures,
			Requests:            ep.Requests,
			Errors:              ep.Errors,
			Tokens:              ep.Tokens,
		})
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:    h.Status,
		Version:   Version,
		Endpoints: endpoints,
		Timestamp: time.Now().Unix(),
	})
}

// handleReady reports whether the server accepts traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	if !s.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleInfo describes the running service.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, types.InfoResponse{
		Name:      "Tandem AI",
		Version:   Version,
		Modes:     []string{orchestrator.ModeAuto, orchestrator.ModeEngineA, orchestrator.ModeEngineB},
		StartedAt: startedAt.Unix(),
	})
}

// ─── Query parsing ────────────────────────────────────────────────────────────

// parseRunQuery reads the run-history filters from the URL query.
func parseRunQuery(r *http.Request) (db.RunQuery, error) {
	q := db.RunQuery{Limit: 50}
	vals := r.URL.Query()

	if v := vals.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return q, fmt.Errorf("invalid limit %q", v)
		}
		q.Limit = min(n, maxRunsPageSize)
	}
	if v := vals.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid offset %q", v)
		}
		q.Offset = n
	}
	q.Mode = vals.Get("mode")
	q.DegradedOnly = vals.Get("degraded") == "true"

	if v := vals.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("invalid from timestamp %q, want RFC3339", v)
		}
		q.From = t
	}
	if v := vals.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, fmt.Errorf("invalid to timestamp %q, want RFC3339", v)
		}
		q.To = t
	}
	return q, nil
}

// ─── Wire conversions ─────────────────────────────────────────────────────────

func toEngineSummary(out *models.EngineOutput) *types.EngineSummary {
	if out == nil {
		return nil
	}
	return &types.EngineSummary{
		Engine:      out.Engine,
		Content:     out.Content,
		Turns:       out.Turns,
		Confidence:  out.Confidence,
		KeyClaims:   out.KeyClaims,
		DataSources: out.DataSources,
	}
}

func toArbitrationSummary(rec *models.ArbitrationRecord) *types.ArbitrationSummary {
	if rec == nil {
		return nil
	}
	return &types.ArbitrationSummary{
		Outcome:        rec.Outcome,
		Similarity:     rec.Similarity,
		Contradictions: rec.Contradictions,
		WeightA:        rec.WeightA,
		WeightB:        rec.WeightB,
	}
}

func toAnalyzeResponse(res *models.AnalysisResult) types.AnalyzeResponse {
	return types.AnalyzeResponse{
		ID:          res.ID,
		Query:       res.Query,
		Mode:        res.Mode,
		Content:     res.Content,
		Confidence:  res.Confidence,
		EngineA:     toEngineSummary(res.EngineA),
		EngineB:     toEngineSummary(res.EngineB),
		Arbitration: toArbitrationSummary(res.Arbitration),
		Degraded:    res.Degraded,
		Degradation: res.Degradation,
		DurationMS:  res.Duration.Milliseconds(),
		CreatedAt:   res.CreatedAt.Unix(),
	}
}

func toRunSummary(rec *db.RunRecord) types.RunSummary {
	return types.RunSummary{
		ID:         rec.ID,
		Query:      rec.Query,
		Mode:       rec.Mode,
		Confidence: rec.Confidence,
		Degraded:   rec.Degraded,
		DurationMS: rec.Duration.Milliseconds(),
		CreatedAt:  rec.CreatedAt.Unix(),
	}
}

func toRunDetail(rec *db.RunRecord) types.RunDetail {
	detail := types.RunDetail{AnalyzeResponse: toAnalyzeResponse(&rec.AnalysisResult)}
	for _, ev := range rec.Events {
		detail.Events = append(detail.Events, types.DegradationEvent{
			Timestamp: ev.Timestamp.Unix(),
			Subsystem: ev.Subsystem,
			Kind:      string(ev.Kind),
			Action:    ev.Action,
			Severity:  ev.Severity,
			Penalty:   ev.Penalty,
			Error:     ev.Error,
		})
	}
	return detail
}

// ─── Response helpers ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: message})
}
