package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/config"
	"github.com/tandemlabs/tandem-ai/internal/db"
	"github.com/tandemlabs/tandem-ai/internal/llm/dispatch"
	"github.com/tandemlabs/tandem-ai/internal/models"
	"github.com/tandemlabs/tandem-ai/internal/orchestrator"
	"github.com/tandemlabs/tandem-ai/pkg/types"
)

func testAudit(t *testing.T) audit.Logger {
	t.Helper()
	dir := t.TempDir()
	logger, err := audit.NewLogger(&audit.Config{
		AuditLogPath: filepath.Join(dir, "audit.log"),
		AppLogPath:   filepath.Join(dir, "app.log"),
		MaxSize:      10,
		MaxBackups:   1,
		MaxAge:       1,
		LogLevel:     "error",
	})
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.GRPC.Enabled = false
	return cfg
}

// fakeOrch is a canned orchestrator for handler tests. It records the
// scenario and mode it was last asked to process.
type fakeOrch struct {
	hub    *orchestrator.Hub
	result *models.AnalysisResult
	err    error
	stats  orchestrator.Stats
	health orchestrator.Health

	lastID   string
	lastMode string
}

func newFakeOrch() *fakeOrch {
	return &fakeOrch{
		hub:    orchestrator.NewHub(),
		health: orchestrator.Health{Status: "healthy"},
	}
}

func (f *fakeOrch) ProcessScenario(ctx context.Context, scenario *models.Scenario, mode string) (*models.AnalysisResult, error) {
	f.lastID = scenario.ID
	f.lastMode = mode
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &models.AnalysisResult{
		ID:         scenario.ID,
		Query:      scenario.Description,
		Mode:       mode,
		Content:    "analysis of " + scenario.Name,
		Confidence: 0.8,
		Duration:   1500 * time.Millisecond,
		CreatedAt:  time.Now(),
	}, nil
}

func (f *fakeOrch) Events() *orchestrator.Hub                       { return f.hub }
func (f *fakeOrch) Stats(ctx context.Context) orchestrator.Stats   { return f.stats }
func (f *fakeOrch) Health(ctx context.Context) orchestrator.Health { return f.health }

// newTestServer builds an unstarted server around a fake orchestrator.
func newTestServer(t *testing.T, fake *fakeOrch, store db.Store) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(), fake, store, testAudit(t))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

// serveReq routes one request through the server's mux without binding
// a listener.
func serveReq(t *testing.T, s *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	s.registerHandlers(mux)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, target, body)
	mux.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

func TestNewServerValidation(t *testing.T) {
	auditLog := testAudit(t)
	if _, err := NewServer(nil, newFakeOrch(), nil, auditLog); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := NewServer(testConfig(), nil, nil, auditLog); err == nil {
		t.Error("Expected error for nil orchestrator")
	}
	if _, err := NewServer(testConfig(), newFakeOrch(), nil, nil); err == nil {
		t.Error("Expected error for nil audit logger")
	}
}

func TestServerStartStop(t *testing.T) {
	srv := newTestServer(t, newFakeOrch(), nil)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !srv.IsRunning() {
		t.Error("Server should report running after Start")
	}
	if srv.Addr() == "" {
		t.Error("Addr should be set after Start")
	}
	if err := srv.Start(); err == nil {
		t.Error("Second Start should fail")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", resp.StatusCode)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if srv.IsRunning() {
		t.Error("Server should not report running after Stop")
	}
	if err := srv.Stop(); err == nil {
		t.Error("Second Stop should fail")
	}
}

// ─── Operational endpoints ────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	fake := newFakeOrch()
	fake.health = orchestrator.Health{
		Status: "healthy",
		Endpoints: []dispatch.EndpointStatus{
			{Address: "http://10.0.0.1:8000", State: dispatch.StateHealthy, Requests: 42, Tokens: 9000},
		},
	}
	srv := newTestServer(t, fake, nil)

	w := serveReq(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp types.HealthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "healthy" {
		t.Errorf("Expected status healthy, got %q", resp.Status)
	}
	if resp.Version != Version {
		t.Errorf("Expected version %q, got %q", Version, resp.Version)
	}
	if resp.Timestamp == 0 {
		t.Error("Expected a timestamp")
	}
	if len(resp.Endpoints) != 1 {
		t.Fatalf("Expected 1 endpoint, got %d", len(resp.Endpoints))
	}
	ep := resp.Endpoints[0]
	if ep.Address != "http://10.0.0.1:8000" || ep.State != "healthy" {
		t.Errorf("Endpoint not mapped: %+v", ep)
	}
	if ep.Requests != 42 || ep.Tokens != 9000 {
		t.Errorf("Endpoint counters not mapped: %+v", ep)
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeOrch(), nil)

	w := serveReq(t, srv, http.MethodGet, "/ready", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before Start, got %d", w.Code)
	}

	srv.mu.Lock()
	srv.running = true
	srv.mu.Unlock()

	w = serveReq(t, srv, http.MethodGet, "/ready", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 while running, got %d", w.Code)
	}
}

func TestInfoEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeOrch(), nil)
	srv.mu.Lock()
	srv.startedAt = time.Now()
	srv.mu.Unlock()

	w := serveReq(t, srv, http.MethodGet, "/info", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp types.InfoResponse
	decodeBody(t, w, &resp)
	if resp.Name != "Tandem AI" {
		t.Errorf("Expected name Tandem AI, got %q", resp.Name)
	}
	if len(resp.Modes) != 3 {
		t.Errorf("Expected 3 modes, got %v", resp.Modes)
	}
	if resp.StartedAt == 0 {
		t.Error("Expected started_at to be set")
	}
}

func TestStatsEndpoint(t *testing.T) {
	fake := newFakeOrch()
	fake.stats = orchestrator.Stats{
		ScenariosProcessed: 7,
		ScenariosByMode:    map[string]int64{"auto": 5, "engine_b": 2},
		EngineACalls:       5,
		EngineBCalls:       7,
		DegradedRuns:       1,
		FactsOnlyRuns:      1,
		InFlight:           2,
	}
	fake.stats.Arbiter.Total = 5
	fake.stats.Arbiter.ByOutcome = map[string]int64{"consensus": 4, "synthesis": 1}
	fake.stats.Arbiter.AvgLatencyMs = 12.5
	fake.stats.Dispatch.TotalRequests = 31
	fake.stats.Dispatch.TotalTokens = 48000
	fake.stats.Dispatch.PoolResets = 1
	srv := newTestServer(t, fake, nil)

	w := serveReq(t, srv, http.MethodGet, "/api/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp types.StatsResponse
	decodeBody(t, w, &resp)
	if resp.ScenariosProcessed != 7 || resp.EngineBCalls != 7 {
		t.Errorf("Counters not mapped: %+v", resp)
	}
	if resp.ScenariosByMode["engine_b"] != 2 {
		t.Errorf("Mode counters not mapped: %v", resp.ScenariosByMode)
	}
	if resp.Arbitrations.Total != 5 || resp.Arbitrations.AvgLatencyMS != 12.5 {
		t.Errorf("Arbiter stats not mapped: %+v", resp.Arbitrations)
	}
	if resp.Arbitrations.ByOutcome["consensus"] != 4 {
		t.Errorf("Outcome counters not mapped: %v", resp.Arbitrations.ByOutcome)
	}
	if resp.Pool.TotalRequests != 31 || resp.Pool.TotalTokens != 48000 || resp.Pool.PoolResets != 1 {
		t.Errorf("Pool stats not mapped: %+v", resp.Pool)
	}
	if resp.PersistedRuns != 0 {
		t.Errorf("Expected 0 persisted runs without a store, got %d", resp.PersistedRuns)
	}
}

func TestConfigEndpointSanitized(t *testing.T) {
	cfg := testConfig()
	cfg.EngineA.APIKey = "sk-very-secret"
	cfg.Orchestrator.DefaultMode = "auto"
	cfg.Pool.Endpoints = []string{"http://10.0.0.1:8000"}
	srv, err := NewServer(cfg, newFakeOrch(), nil, testAudit(t))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	w := serveReq(t, srv, http.MethodGet, "/api/v1/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	if strings.Contains(body, "sk-very-secret") {
		t.Error("Config response must not leak API keys")
	}

	var resp types.ConfigResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.DefaultMode != "auto" {
		t.Errorf("Expected default mode auto, got %q", resp.DefaultMode)
	}
	if len(resp.PoolEndpoints) != 1 {
		t.Errorf("Expected pool endpoints, got %v", resp.PoolEndpoints)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, newFakeOrch(), nil)

	cases := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/api/v1/analyze"},
		{http.MethodPost, "/api/v1/stats"},
		{http.MethodDelete, "/health"},
		{http.MethodPost, "/info"},
	}
	for _, tc := range cases {
		w := serveReq(t, srv, tc.method, tc.target, nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tc.method, tc.target, w.Code)
		}
	}
}

// ─── Analyze ──────────────────────────────────────────────────────────────────

func TestAnalyzeSuccess(t *testing.T) {
	fake := newFakeOrch()
	srv := newTestServer(t, fake, nil)

	body := strings.NewReader(`{"name": "Rate shock", "description": "What happens if rates rise 200bp?"}`)
	w := serveReq(t, srv, http.MethodPost, "/api/v1/analyze", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp types.AnalyzeResponse
	decodeBody(t, w, &resp)
	if resp.ID == "" {
		t.Error("Expected a generated scenario id")
	}
	if resp.ID != fake.lastID {
		t.Errorf("Response id %q does not match processed scenario %q", resp.ID, fake.lastID)
	}
	if fake.lastMode != orchestrator.ModeAuto {
		t.Errorf("Expected default mode auto, got %q", fake.lastMode)
	}
	if resp.Content == "" || resp.Confidence != 0.8 {
		t.Errorf("Result not mapped: %+v", resp)
	}
	if resp.DurationMS != 1500 {
		t.Errorf("Expected duration 1500ms, got %d", resp.DurationMS)
	}
	if resp.CreatedAt == 0 {
		t.Error("Expected created_at to be set")
	}
}

func TestAnalyzeExplicitMode(t *testing.T) {
	fake := newFakeOrch()
	srv := newTestServer(t, fake, nil)

	body := strings.NewReader(`{"scenario_id": "scn-1", "name": "n", "description": "d", "mode": "engine_b"}`)
	w := serveReq(t, srv, http.MethodPost, "/api/v1/analyze", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if fake.lastMode != orchestrator.ModeEngineB {
		t.Errorf("Expected mode engine_b, got %q", fake.lastMode)
	}
	if fake.lastID != "scn-1" {
		t.Errorf("Expected caller-supplied id to survive, got %q", fake.lastID)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	srv := newTestServer(t, newFakeOrch(), nil)

	cases := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{not json`, "INVALID_BODY"},
		{"missing fields", `{}`, "VALIDATION_FAILED"},
		{"blank description", `{"name": "n", "description": "   "}`, "VALIDATION_FAILED"},
		{"unknown mode", `{"name": "n", "description": "d", "mode": "turbo"}`, "INVALID_MODE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serveReq(t, srv, http.MethodPost, "/api/v1/analyze", strings.NewReader(tc.body))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", w.Code)
			}
			var resp types.ErrorResponse
			decodeBody(t, w, &resp)
			if resp.Code != tc.code {
				t.Errorf("Expected error code %q, got %q", tc.code, resp.Code)
			}
		})
	}
}

func TestAnalyzeOrchestratorError(t *testing.T) {
	fake := newFakeOrch()
	fake.err = context.DeadlineExceeded
	srv := newTestServer(t, fake, nil)

	body := strings.NewReader(`{"name": "n", "description": "d"}`)
	w := serveReq(t, srv, http.MethodPost, "/api/v1/analyze", body)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	var resp types.ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Code != "ANALYSIS_FAILED" {
		t.Errorf("Expected ANALYSIS_FAILED, got %q", resp.Code)
	}
}

func TestRunsRoutesDisabledWithoutStore(t *testing.T) {
	srv := newTestServer(t, newFakeOrch(), nil)

	w := serveReq(t, srv, http.MethodGet, "/api/v1/runs", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a store, got %d", w.Code)
	}
}
