package driver

import (
	"context"

	"github.com/tandemlabs/tandem-ai/internal/degrade"
	"github.com/tandemlabs/tandem-ai/internal/models"
)

// Package driver runs the multi-turn exploratory reasoning session that
// powers Engine B.
//
// A session is turnCount dispatcher calls over one scenario. Turn 1
// carries the assembled background context plus the scenario
// description; turns 2..N each explore one uncovered angle and carry a
// short window of the most recent exchanges. After the last successful
// turn, one more dispatcher call synthesizes every turn into an
// executive summary.
//
// Failure policy:
//   - A turn failure aborts the remaining turns but keeps the completed
//     ones; the session proceeds straight to synthesis.
//   - Zero completed turns produces an explicit "no turns completed"
//     synthesis, not an error.
//   - A failed synthesis call falls back to a digest built from the
//     turn texts.
//   - Collaborator failures (retrieval, indicators, verifier) are
//     reported to the degradation tracker here, at the boundary where
//     they occur, and never abort the session.
//
// After synthesis, numeric claims in the final turn (percentages,
// currency amounts, large numbers) are checked against the external
// verifier, up to a bounded count; the number that pass is recorded on
// the analysis.
//
// Integration Points:
//   - Dispatcher: every model call
//   - Context builder: turn-1 background block
//   - Prompt manager: turn, synthesis templates
//   - Verifier client: final-turn claim checks
//   - Degradation tracker: collaborator and pool failures
//   - Event sink: per-turn progress for streaming subscribers

// Verifier is the slice of the verify client the driver needs.
type Verifier interface {
	Verify(ctx context.Context, claim string) (bool, error)
	Configured() bool
}

// EventSink receives progress notifications from a running session.
// Implementations must not block; a nil sink disables publication.
type EventSink interface {
	Publish(eventType, scenarioID string, payload map[string]any)
}

// SessionDriver defines the interface for running reasoning sessions.
type SessionDriver interface {
	// RunSession runs a turnCount-turn session for the scenario,
	// reporting partial failures to the tracker through state. The
	// returned analysis is complete even when turns failed; the only
	// errors are invariant violations such as a nil scenario.
	RunSession(ctx context.Context, scenario *models.Scenario, turnCount int, state *degrade.AnalysisState) (*models.ScenarioAnalysis, error)
}

// NewSessionDriver creates a session driver.
// The concrete implementation is in driver_impl.go.
