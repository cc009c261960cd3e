package degrade

import (
	"context"
	"sync"
	"time"
)

// Package degrade implements the Degradation State Tracker — the per-request
// ledger that turns partial failures into quantified confidence penalties.
//
// Every subsystem tandem-ai depends on (the two analysis engines, the
// endpoint pool, retrieval, verification, the knowledge graph, embeddings,
// the database, external data feeds) can fail independently. Instead of
// aborting the request, each failure is routed through exactly one handler
// here, which consults a fixed policy table and records:
//
//   - the availability flag for the subsystem flipped to false (one-way:
//     no subsystem ever returns to available within the same request)
//   - partial progress, when some work completed before the failure
//   - a human-readable note for the final degradation summary
//   - a structured audit event with timestamp, penalty, and error text
//   - the policy's confidence penalty added to a monotonic accumulator
//
// Responsibilities:
//   - Create one fresh AnalysisState per top-level request
//   - Apply the fixed recovery policy for each failure kind
//   - Keep penalties additive across independent failures
//   - Clamp final confidence at the configured floor, never below
//   - Render the end-of-request degradation summary
//
// Integration Points:
//   - Orchestrator: creates states, routes engine failures here
//   - Reasoning driver: routes retrieval/verification/data failures here
//   - Audit: every handled failure emits an EventDegradationRecorded
//   - Metrics: degradation_events_total counter per kind and severity
//
// An AnalysisState is never shared across concurrent requests. Within a
// single request the two engine tasks may record failures concurrently;
// the tracker serializes ledger appends, and the state is read-only after
// the orchestrator returns.

// FailureKind identifies one row of the recovery policy table.
type FailureKind string

const (
	KindEngineAFailure FailureKind = "engine_a_failure"
	KindEngineATimeout FailureKind = "engine_a_timeout"
	KindEngineAPartial FailureKind = "engine_a_partial"

	KindEngineBFailure FailureKind = "engine_b_failure"
	KindEngineBTimeout FailureKind = "engine_b_timeout"
	KindEngineBPartial FailureKind = "engine_b_partial"

	// KindBothEnginesFailed carries the largest single penalty and is the
	// only kind that switches a request into facts-only output.
	KindBothEnginesFailed FailureKind = "both_engines_failed"

	KindEndpointsExhausted FailureKind = "endpoints_exhausted"

	KindRetrievalFailure      FailureKind = "retrieval_unavailable"
	KindVerificationFailure   FailureKind = "verification_unavailable"
	KindKnowledgeGraphFailure FailureKind = "knowledge_graph_unavailable"
	KindDatabaseFailure       FailureKind = "database_unavailable"
	KindEmbeddingsFailure     FailureKind = "embeddings_unavailable"
	KindExternalDataFailure   FailureKind = "external_data_unavailable"
)

// Subsystem names used in audit trail entries.
const (
	SubsystemEngineA        = "engine_a"
	SubsystemEngineB        = "engine_b"
	SubsystemEngines        = "engines"
	SubsystemEndpointPool   = "endpoint_pool"
	SubsystemRetrieval      = "retrieval"
	SubsystemVerification   = "verification"
	SubsystemKnowledgeGraph = "knowledge_graph"
	SubsystemDatabase       = "database"
	SubsystemEmbeddings     = "embeddings"
	SubsystemExternalData   = "external_data"
)

// FailureEvent is one structured entry in the state's audit trail.
type FailureEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	Subsystem string      `json:"subsystem"`
	Kind      FailureKind `json:"kind"`
	Action    string      `json:"action"`
	Severity  string      `json:"severity"`
	Penalty   float64     `json:"penalty"`
	Error     string      `json:"error,omitempty"`
}

// AnalysisState is the degradation ledger for one request.
type AnalysisState struct {
	// mu serializes ledger appends when both engine tasks of one request
	// record failures at the same time.
	mu sync.Mutex

	RequestID      string    `json:"request_id"`
	CreatedAt      time.Time `json:"created_at"`
	BaseConfidence float64   `json:"base_confidence"`
	Floor          float64   `json:"floor"`

	// Reduction only ever grows; penalties from independent failures add.
	Reduction float64 `json:"reduction"`

	// Availability flags. All start true and flip one-way to false.
	EngineAAvailable        bool `json:"engine_a_available"`
	EngineBAvailable        bool `json:"engine_b_available"`
	RetrievalAvailable      bool `json:"retrieval_available"`
	VerificationAvailable   bool `json:"verification_available"`
	KnowledgeGraphAvailable bool `json:"knowledge_graph_available"`
	DatabaseAvailable       bool `json:"database_available"`
	EmbeddingsAvailable     bool `json:"embeddings_available"`
	ExternalDataAvailable   bool `json:"external_data_available"`

	// Partial progress recorded when an engine failed mid-session.
	EngineAPartial        bool `json:"engine_a_partial"`
	EngineACompletedTurns int  `json:"engine_a_completed_turns"`
	EngineAPlannedTurns   int  `json:"engine_a_planned_turns"`
	EngineBPartial        bool `json:"engine_b_partial"`
	EngineBCompletedTurns int  `json:"engine_b_completed_turns"`
	EngineBPlannedTurns   int  `json:"engine_b_planned_turns"`

	// FactsOnly is set only by the both-engines-failed handler.
	FactsOnly bool `json:"facts_only"`

	Notes  []string       `json:"notes"`
	Events []FailureEvent `json:"events"`
}

// Degraded reports whether any failure has been recorded.
func (s *AnalysisState) Degraded() bool {
	return len(s.Events) > 0
}

// FinalConfidence returns the floor-clamped confidence after all
// accumulated penalties.
func (s *AnalysisState) FinalConfidence() float64 {
	return max(s.Floor, s.BaseConfidence-s.Reduction)
}

// Tracker applies the fixed recovery policy to a request's AnalysisState,
// one operation per failure kind.
type Tracker interface {
	// NewState returns a fresh ledger with every subsystem available.
	NewState(requestID string) *AnalysisState

	// Engine A failure kinds. Partial records how far the session got
	// before failing; usable partial output earns a smaller penalty than
	// an immediate failure.
	HandleEngineAFailure(ctx context.Context, s *AnalysisState, err error)
	HandleEngineATimeout(ctx context.Context, s *AnalysisState, err error)
	HandleEngineAPartial(ctx context.Context, s *AnalysisState, completed, planned int, err error)

	// Engine B failure kinds.
	HandleEngineBFailure(ctx context.Context, s *AnalysisState, err error)
	HandleEngineBTimeout(ctx context.Context, s *AnalysisState, err error)
	HandleEngineBPartial(ctx context.Context, s *AnalysisState, completed, planned int, err error)

	// HandleBothEnginesFailed drives the request into facts-only mode.
	HandleBothEnginesFailed(ctx context.Context, s *AnalysisState, err error)

	// HandleEndpointsExhausted records a pool-wide dispatch failure.
	HandleEndpointsExhausted(ctx context.Context, s *AnalysisState, err error)

	// Support-service failure kinds. These degrade context quality, not
	// correctness, and carry the smallest penalties.
	HandleRetrievalFailure(ctx context.Context, s *AnalysisState, err error)
	HandleVerificationFailure(ctx context.Context, s *AnalysisState, err error)
	HandleKnowledgeGraphFailure(ctx context.Context, s *AnalysisState, err error)
	HandleDatabaseFailure(ctx context.Context, s *AnalysisState, err error)
	HandleEmbeddingsFailure(ctx context.Context, s *AnalysisState, err error)
	HandleExternalDataFailure(ctx context.Context, s *AnalysisState, err error)

	// GenerateSummary renders the deduplicated notes plus before/after
	// confidence, or an empty string when nothing degraded.
	GenerateSummary(s *AnalysisState) string
}

// NewTracker creates a degradation tracker.
// The concrete implementation is in tracker_impl.go.
