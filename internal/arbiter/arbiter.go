package arbiter

import (
	"context"

	"github.com/tandemlabs/tandem-ai/internal/models"
)

// Package arbiter resolves the two engines' outputs into one answer.
//
// Arbitration is deterministic: the same pair of outputs always yields
// the same decision. The only side effects are the audit record and the
// running statistics.
//
// Responsibilities:
//   - Score how similar the two outputs are (Jaccard over token sets)
//   - Scan for opposite-direction contradictions between the texts
//   - Classify the pair as consensus, contradiction, or synthesis
//   - Weight the engines by self-confidence and completed work
//   - Merge the texts into one report per outcome
//   - Track decision counts and latency for the stats surface
//
// Decision rule, in order:
//  1. any contradiction found -> contradiction, regardless of similarity
//  2. similarity at or above the consensus threshold -> consensus
//  3. otherwise -> synthesis
//
// Integration Points:
//   - Orchestrator: called when both engines return usable output
//   - Audit Logger: one arbitration.completed event per decision
//   - Metrics: per-outcome counters and decision latency

// DefaultConsensusThreshold is the similarity floor for consensus.
const DefaultConsensusThreshold = 0.75

// Outcome classifies one arbitration decision.
type Outcome string

const (
	OutcomeConsensus     Outcome = "consensus"
	OutcomeContradiction Outcome = "contradiction"
	OutcomeSynthesis     Outcome = "synthesis"
)

// Contradiction is one detected opposite-direction disagreement.
type Contradiction struct {
	TermA   string   `json:"term_a"`
	TermB   string   `json:"term_b"`
	Figures []string `json:"figures,omitempty"`
}

// Decision is the arbiter's full report for one pair of outputs.
type Decision struct {
	Outcome        Outcome         `json:"outcome"`
	Similarity     float64         `json:"similarity"`
	Contradictions []Contradiction `json:"contradictions,omitempty"`
	WeightA        float64         `json:"weight_a"`
	WeightB        float64         `json:"weight_b"`
	Content        string          `json:"content"`
	Confidence     float64         `json:"confidence"`
}

// Stats is a point-in-time snapshot of arbitration activity.
type Stats struct {
	Total        int64            `json:"total"`
	ByOutcome    map[string]int64 `json:"by_outcome"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
}

// Arbiter defines the interface for engine output arbitration.
type Arbiter interface {
	// Arbitrate resolves one pair of engine outputs. Both outputs are
	// required; a nil output is an invariant violation.
	Arbitrate(ctx context.Context, outputA, outputB *models.EngineOutput) (*Decision, error)

	// Stats returns the running arbitration statistics.
	Stats(ctx context.Context) Stats
}

// NewArbiter creates an arbiter.
// The concrete implementation is in arbiter_impl.go.
