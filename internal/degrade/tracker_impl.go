package degrade

// Package degrade — concrete Tracker implementation backed by the fixed
// recovery policy table.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/metrics"
)

// ─── Recovery policy table (fixed at startup, never mutated) ──────────────────

type recoveryPolicy struct {
	subsystem string
	action    string
	severity  string
	penalty   float64
	message   string
}

// Partial-failure penalties are strictly smaller than full-failure
// penalties for the same engine: usable partial output is worth keeping.
// both_engines_failed carries the largest single penalty in the table and
// lands exactly on the default floor (0.80 − 0.60 = 0.20).
var recoveryPolicies = map[FailureKind]recoveryPolicy{
	KindEngineAFailure: {
		subsystem: SubsystemEngineA,
		action:    "fallback_to_engine_b",
		severity:  "high",
		penalty:   0.25,
		message:   "Engine A unavailable; relying on Engine B output",
	},
	KindEngineATimeout: {
		subsystem: SubsystemEngineA,
		action:    "fallback_to_engine_b",
		severity:  "high",
		penalty:   0.20,
		message:   "Engine A timed out; relying on Engine B output",
	},
	KindEngineAPartial: {
		subsystem: SubsystemEngineA,
		action:    "retain_partial_output",
		severity:  "medium",
		penalty:   0.10,
		message:   "Engine A stopped after pass %d of %d; partial output retained",
	},
	KindEngineBFailure: {
		subsystem: SubsystemEngineB,
		action:    "fallback_to_engine_a",
		severity:  "high",
		penalty:   0.20,
		message:   "Engine B unavailable; relying on Engine A output",
	},
	KindEngineBTimeout: {
		subsystem: SubsystemEngineB,
		action:    "fallback_to_engine_a",
		severity:  "high",
		penalty:   0.15,
		message:   "Engine B timed out; relying on Engine A output",
	},
	KindEngineBPartial: {
		subsystem: SubsystemEngineB,
		action:    "retain_partial_output",
		severity:  "medium",
		penalty:   0.08,
		message:   "Engine B stopped after turn %d of %d; partial output retained",
	},
	KindBothEnginesFailed: {
		subsystem: SubsystemEngines,
		action:    "facts_only_mode",
		severity:  "critical",
		penalty:   0.60,
		message:   "Both analysis engines failed; returning verified facts only",
	},
	KindEndpointsExhausted: {
		subsystem: SubsystemEndpointPool,
		action:    "reset_endpoint_pool",
		severity:  "high",
		penalty:   0.15,
		message:   "All inference endpoints exhausted during dispatch",
	},
	KindRetrievalFailure: {
		subsystem: SubsystemRetrieval,
		action:    "skip_retrieval_context",
		severity:  "low",
		penalty:   0.05,
		message:   "Retrieval service unavailable; context built without document search",
	},
	KindVerificationFailure: {
		subsystem: SubsystemVerification,
		action:    "skip_claim_verification",
		severity:  "low",
		penalty:   0.05,
		message:   "Verification service unavailable; claims reported unverified",
	},
	KindKnowledgeGraphFailure: {
		subsystem: SubsystemKnowledgeGraph,
		action:    "skip_knowledge_graph",
		severity:  "low",
		penalty:   0.05,
		message:   "Knowledge graph unavailable; entity context omitted",
	},
	KindDatabaseFailure: {
		subsystem: SubsystemDatabase,
		action:    "skip_persistence",
		severity:  "low",
		penalty:   0.05,
		message:   "Database unavailable; analysis run not persisted",
	},
	KindEmbeddingsFailure: {
		subsystem: SubsystemEmbeddings,
		action:    "skip_embeddings",
		severity:  "low",
		penalty:   0.05,
		message:   "Embeddings service unavailable; semantic ranking disabled",
	},
	KindExternalDataFailure: {
		subsystem: SubsystemExternalData,
		action:    "skip_external_data",
		severity:  "low",
		penalty:   0.05,
		message:   "External data feed unavailable; indicators omitted from context",
	},
}

// ─── trackerImpl ──────────────────────────────────────────────────────────────

type trackerImpl struct {
	base  float64
	floor float64
	audit audit.Logger
}

// NewTracker creates a degradation tracker. Zero base/floor fall back to
// the defaults (0.80 / 0.20).
func NewTracker(base, floor float64, auditLog audit.Logger) Tracker {
	if base <= 0 {
		base = 0.80
	}
	if floor <= 0 {
		floor = 0.20
	}
	return &trackerImpl{base: base, floor: floor, audit: auditLog}
}

func (t *trackerImpl) NewState(requestID string) *AnalysisState {
	return &AnalysisState{
		RequestID:               requestID,
		CreatedAt:               time.Now().UTC(),
		BaseConfidence:          t.base,
		Floor:                   t.floor,
		EngineAAvailable:        true,
		EngineBAvailable:        true,
		RetrievalAvailable:      true,
		VerificationAvailable:   true,
		KnowledgeGraphAvailable: true,
		DatabaseAvailable:       true,
		EmbeddingsAvailable:     true,
		ExternalDataAvailable:   true,
		Notes:                   []string{},
		Events:                  []FailureEvent{},
	}
}

func (t *trackerImpl) HandleEngineAFailure(ctx context.Context, s *AnalysisState, err error) {
	s.EngineAAvailable = false
	t.record(ctx, s, KindEngineAFailure, err)
}

func (t *trackerImpl) HandleEngineATimeout(ctx context.Context, s *AnalysisState, err error) {
	s.EngineAAvailable = false
	t.record(ctx, s, KindEngineATimeout, err)
}

func (t *trackerImpl) HandleEngineAPartial(ctx context.Context, s *AnalysisState, completed, planned int, err error) {
	// The engine stays marked available: its partial output is usable.
	s.EngineAPartial = true
	s.EngineACompletedTurns = completed
	s.EngineAPlannedTurns = planned
	p := recoveryPolicies[KindEngineAPartial]
	t.recordNote(ctx, s, KindEngineAPartial, fmt.Sprintf(p.message, completed, planned), err)
}

func (t *trackerImpl) HandleEngineBFailure(ctx context.Context, s *AnalysisState, err error) {
	s.EngineBAvailable = false
	t.record(ctx, s, KindEngineBFailure, err)
}

func (t *trackerImpl) HandleEngineBTimeout(ctx context.Context, s *AnalysisState, err error) {
	s.EngineBAvailable = false
	t.record(ctx, s, KindEngineBTimeout, err)
}

func (t *trackerImpl) HandleEngineBPartial(ctx context.Context, s *AnalysisState, completed, planned int, err error) {
	s.EngineBPartial = true
	s.EngineBCompletedTurns = completed
	s.EngineBPlannedTurns = planned
	p := recoveryPolicies[KindEngineBPartial]
	t.recordNote(ctx, s, KindEngineBPartial, fmt.Sprintf(p.message, completed, planned), err)
}

func (t *trackerImpl) HandleBothEnginesFailed(ctx context.Context, s *AnalysisState, err error) {
	s.EngineAAvailable = false
	s.EngineBAvailable = false
	s.FactsOnly = true
	t.record(ctx, s, KindBothEnginesFailed, err)
	t.audit.Log(ctx, audit.NewEvent(audit.EventFactsOnlyMode).
		WithCorrelationID(s.RequestID).
		WithDescription("request switched to facts-only output").
		WithResult(audit.ResultFailure))
}

func (t *trackerImpl) HandleEndpointsExhausted(ctx context.Context, s *AnalysisState, err error) {
	t.record(ctx, s, KindEndpointsExhausted, err)
}

func (t *trackerImpl) HandleRetrievalFailure(ctx context.Context, s *AnalysisState, err error) {
	s.RetrievalAvailable = false
	t.record(ctx, s, KindRetrievalFailure, err)
}

func (t *trackerImpl) HandleVerificationFailure(ctx context.Context, s *AnalysisState, err error) {
	s.VerificationAvailable = false
	t.record(ctx, s, KindVerificationFailure, err)
}

func (t *trackerImpl) HandleKnowledgeGraphFailure(ctx context.Context, s *AnalysisState, err error) {
	s.KnowledgeGraphAvailable = false
	t.record(ctx, s, KindKnowledgeGraphFailure, err)
}

func (t *trackerImpl) HandleDatabaseFailure(ctx context.Context, s *AnalysisState, err error) {
	s.DatabaseAvailable = false
	t.record(ctx, s, KindDatabaseFailure, err)
}

func (t *trackerImpl) HandleEmbeddingsFailure(ctx context.Context, s *AnalysisState, err error) {
	s.EmbeddingsAvailable = false
	t.record(ctx, s, KindEmbeddingsFailure, err)
}

func (t *trackerImpl) HandleExternalDataFailure(ctx context.Context, s *AnalysisState, err error) {
	s.ExternalDataAvailable = false
	t.record(ctx, s, KindExternalDataFailure, err)
}

// GenerateSummary renders the degradation block appended to a result:
// before/after confidence plus the deduplicated notes in first-seen order.
func (t *trackerImpl) GenerateSummary(s *AnalysisState) string {
	if !s.Degraded() {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Analysis completed with reduced confidence (%.2f -> %.2f):\n",
		s.BaseConfidence, s.FinalConfidence())

	seen := make(map[string]bool)
	for _, note := range s.Notes {
		if seen[note] {
			continue
		}
		seen[note] = true
		fmt.Fprintf(&b, "  - %s\n", note)
	}
	return strings.TrimRight(b.String(), "\n")
}

// record applies the policy for kind using its default message.
func (t *trackerImpl) record(ctx context.Context, s *AnalysisState, kind FailureKind, err error) {
	t.recordNote(ctx, s, kind, recoveryPolicies[kind].message, err)
}

// recordNote applies the policy for kind with an already-rendered note.
func (t *trackerImpl) recordNote(ctx context.Context, s *AnalysisState, kind FailureKind, note string, err error) {
	p := recoveryPolicies[kind]

	s.mu.Lock()
	s.Reduction += p.penalty
	s.Notes = append(s.Notes, note)
	s.Events = append(s.Events, FailureEvent{
		Timestamp: time.Now().UTC(),
		Subsystem: p.subsystem,
		Kind:      kind,
		Action:    p.action,
		Severity:  p.severity,
		Penalty:   p.penalty,
		Error:     errText(err),
	})
	s.mu.Unlock()

	metrics.DegradationEventsTotal.WithLabelValues(string(kind), p.severity).Inc()

	t.audit.Log(ctx, audit.NewEvent(audit.EventDegradationRecorded).
		WithCorrelationID(s.RequestID).
		WithAction(p.action).
		WithDescription(note).
		WithMetadata("kind", string(kind)).
		WithMetadata("penalty", p.penalty).
		WithMetadata("severity", p.severity).
		WithError(err, strings.ToUpper(string(kind))))
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
