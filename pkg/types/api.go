package types

// Package types defines public API types shared between tandem-ai and tandem-frontend.
//
// These types define the REST and websocket stream contracts. Handlers
// convert internal models to these shapes; durations are milliseconds
// and timestamps are unix seconds.

// Request types

// AnalyzeRequest submits one scenario for dual-engine analysis.
type AnalyzeRequest struct {
	ScenarioID  string   `json:"scenario_id,omitempty"`
	Name        string   `json:"name"`
	Domain      string   `json:"domain,omitempty"`
	Description string   `json:"description"`
	Inputs      []string `json:"inputs,omitempty"`
	Mode        string   `json:"mode,omitempty"` // "auto", "engine_a", "engine_b"; empty means auto
}

// Response types

// EngineSummary is one engine's normalized output.
type EngineSummary struct {
	Engine      string   `json:"engine"`
	Content     string   `json:"content"`
	Turns       int      `json:"turns"`
	Confidence  float64  `json:"confidence"`
	KeyClaims   []string `json:"key_claims,omitempty"`
	DataSources []string `json:"data_sources,omitempty"`
}

// ArbitrationSummary is the arbiter's decision for one request.
type ArbitrationSummary struct {
	Outcome        string  `json:"outcome"` // "consensus", "contradiction", "synthesis"
	Similarity     float64 `json:"similarity"`
	Contradictions int     `json:"contradictions"`
	WeightA        float64 `json:"weight_a"`
	WeightB        float64 `json:"weight_b"`
}

// AnalyzeResponse is the final result of one analysis request.
type AnalyzeResponse struct {
	ID          string              `json:"id"`
	Query       string              `json:"query"`
	Mode        string              `json:"mode"`
	Content     string              `json:"content"`
	Confidence  float64             `json:"confidence"`
	EngineA     *EngineSummary      `json:"engine_a,omitempty"`
	EngineB     *EngineSummary      `json:"engine_b,omitempty"`
	Arbitration *ArbitrationSummary `json:"arbitration,omitempty"`
	Degraded    bool                `json:"degraded"`
	Degradation string              `json:"degradation,omitempty"`
	DurationMS  int64               `json:"duration_ms"`
	CreatedAt   int64               `json:"created_at"`
}

// DegradationEvent is one recorded entry of a run's degradation ledger.
type DegradationEvent struct {
	Timestamp int64   `json:"timestamp"`
	Subsystem string  `json:"subsystem"`
	Kind      string  `json:"kind"`
	Action    string  `json:"action"`
	Severity  string  `json:"severity"`
	Penalty   float64 `json:"penalty"`
	Error     string  `json:"error,omitempty"`
}

// RunSummary is one row of the run-history listing.
type RunSummary struct {
	ID         string  `json:"id"`
	Query      string  `json:"query"`
	Mode       string  `json:"mode"`
	Confidence float64 `json:"confidence"`
	Degraded   bool    `json:"degraded"`
	DurationMS int64   `json:"duration_ms"`
	CreatedAt  int64   `json:"created_at"`
}

// RunDetail is one persisted run plus its degradation events.
type RunDetail struct {
	AnalyzeResponse
	Events []DegradationEvent `json:"events,omitempty"`
}

// RunListResponse is the paginated run-history response.
type RunListResponse struct {
	Runs   []RunSummary `json:"runs"`
	Total  int64        `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// EndpointHealth reports one pool endpoint's state.
type EndpointHealth struct {
	Address             string `json:"address"`
	State               string `json:"state"` // "healthy", "degraded", "unhealthy"
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Requests            int64  `json:"requests"`
	Errors              int64  `json:"errors"`
	Tokens              int64  `json:"tokens"`
}

// HealthResponse reports overall service health.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy", "degraded"
	Version   string           `json:"version"`
	Endpoints []EndpointHealth `json:"endpoints"`
	Timestamp int64            `json:"timestamp"`
}

// ArbiterStats summarizes arbitration outcomes.
type ArbiterStats struct {
	Total        int64            `json:"total"`
	ByOutcome    map[string]int64 `json:"by_outcome"`
	AvgLatencyMS float64          `json:"avg_latency_ms"`
}

// PoolStats summarizes endpoint pool usage.
type PoolStats struct {
	TotalRequests int64 `json:"total_requests"`
	TotalTokens   int64 `json:"total_tokens"`
	PoolResets    int64 `json:"pool_resets"`
}

// StatsResponse aggregates orchestrator, arbiter, and pool counters.
type StatsResponse struct {
	ScenariosProcessed int64            `json:"scenarios_processed"`
	ScenariosByMode    map[string]int64 `json:"scenarios_by_mode"`
	EngineACalls       int64            `json:"engine_a_calls"`
	EngineBCalls       int64            `json:"engine_b_calls"`
	DegradedRuns       int64            `json:"degraded_runs"`
	FactsOnlyRuns      int64            `json:"facts_only_runs"`
	InFlight           int              `json:"in_flight"`
	PersistedRuns      int64            `json:"persisted_runs"`
	Arbitrations       ArbiterStats     `json:"arbitrations"`
	Pool               PoolStats        `json:"pool"`
}

// ConfigResponse is the sanitized runtime configuration (no secrets).
type ConfigResponse struct {
	DefaultMode        string   `json:"default_mode"`
	MaxConcurrent      int      `json:"max_concurrent_scenarios"`
	PoolEndpoints      []string `json:"pool_endpoints"`
	PoolModel          string   `json:"pool_model"`
	EngineAEnabled     bool     `json:"engine_a_enabled"`
	EngineAModel       string   `json:"engine_a_model"`
	EngineAPasses      int      `json:"engine_a_passes"`
	EngineBTurns       int      `json:"engine_b_turns"`
	ConsensusThreshold float64  `json:"consensus_threshold"`
	BaseConfidence     float64  `json:"base_confidence"`
	ConfidenceFloor    float64  `json:"confidence_floor"`
	DatabaseEnabled    bool     `json:"database_enabled"`
}

// InfoResponse describes the running service.
type InfoResponse struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Modes     []string `json:"modes"`
	StartedAt int64    `json:"started_at"`
}

// StreamEvent is one websocket message pushed to stream subscribers.
type StreamEvent struct {
	Type       string         `json:"type"`
	ScenarioID string         `json:"scenario_id"`
	Timestamp  int64          `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ErrorResponse standard error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
