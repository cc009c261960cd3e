package orchestrator

import (
	"context"

	"github.com/tandemlabs/tandem-ai/internal/arbiter"
	"github.com/tandemlabs/tandem-ai/internal/llm/dispatch"
	"github.com/tandemlabs/tandem-ai/internal/models"
)

// Package orchestrator coordinates the two analysis engines, the arbiter,
// and the degradation tracker for one scenario request.
//
// In auto mode both engines run concurrently as independent tasks joined
// by an all-complete barrier; a failure in one never cancels the other.
// Every engine error is converted into the matching tracker call at this
// boundary, so no remote failure reaches the caller:
//
//   - both engines ok     -> arbitrate, use the decision's content
//   - only Engine A ok    -> A's content at its fixed baseline
//   - only Engine B ok    -> B's content at its fixed baseline
//   - no usable output    -> facts-only placeholder at floor confidence
//
// Partial completions count as ok here; their penalty was already
// recorded inside the engine. When anything degraded, the final
// confidence is the smaller of the mode confidence and the tracker's
// floor-clamped ceiling.
//
// Responsibilities:
//   - Bound scenarios in flight with a slot semaphore
//   - Run engines and map terminal failures to tracker penalties
//   - Merge dual outputs through the arbiter
//   - Publish progress events to the hub
//   - Keep running counters and the service health report
//
// Integration Points:
//   - Engines: deep (A) and explore (B) behind the Engine interface
//   - Arbiter: dual-output reconciliation
//   - Degradation tracker: one AnalysisState per request
//   - Dispatcher: pool health and stats for Health()/Stats()
//   - Run-history store: best-effort persistence of finished runs
//   - Server: REST handlers and the websocket hub consume this package

// Analysis modes accepted by ProcessScenario.
const (
	ModeAuto    = "auto"
	ModeEngineA = "engine_a"
	ModeEngineB = "engine_b"
)

// Stats is a point-in-time snapshot of orchestrator activity merged
// with the arbiter and dispatcher counters.
type Stats struct {
	ScenariosProcessed int64            `json:"scenarios_processed"`
	ScenariosByMode    map[string]int64 `json:"scenarios_by_mode"`
	EngineACalls       int64            `json:"engine_a_calls"`
	EngineBCalls       int64            `json:"engine_b_calls"`
	DegradedRuns       int64            `json:"degraded_runs"`
	FactsOnlyRuns      int64            `json:"facts_only_runs"`
	InFlight           int              `json:"in_flight"`
	Arbiter            arbiter.Stats    `json:"arbiter"`
	Dispatch           dispatch.Stats   `json:"dispatch"`
}

// Health is the service health report: per-endpoint dispatcher status
// plus an overall verdict.
type Health struct {
	Status    string                    `json:"status"`
	Endpoints []dispatch.EndpointStatus `json:"endpoints"`
}

// Orchestrator defines the interface for scenario processing.
type Orchestrator interface {
	// ProcessScenario runs one scenario in the given mode ("" means
	// auto) and always returns a usable result; the only errors are
	// invariant violations such as a nil scenario or an unknown mode.
	ProcessScenario(ctx context.Context, scenario *models.Scenario, mode string) (*models.AnalysisResult, error)

	// Events returns the hub streaming progress events from this
	// orchestrator and its session driver.
	Events() *Hub

	Stats(ctx context.Context) Stats
	Health(ctx context.Context) Health
}

// NewOrchestrator creates an orchestrator.
// The concrete implementation is in orchestrator_impl.go.
