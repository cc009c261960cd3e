package engine

import (
	"context"
	"fmt"

	"github.com/tandemlabs/tandem-ai/internal/degrade"
	"github.com/tandemlabs/tandem-ai/internal/models"
)

// Package engine defines the contract the two analysis engines implement
// and the error type they use for terminal session failures.
//
// Engine A (engine/deep) runs a small number of deep-analysis passes
// against one large remote model. Engine B (engine/explore) runs a
// multi-turn exploratory session across the local endpoint pool. Both
// normalize their result to models.EngineOutput so the arbiter can
// compare them without caring which engine produced what.
//
// Failure semantics:
//   - A partial session (some turns completed, then a terminal stop)
//     returns usable output with err == nil; the engine records the
//     partial penalty on the analysis state before returning.
//   - A session with no usable output returns a *SessionError carrying
//     how far the session got; the orchestrator maps it to the matching
//     engine failure or timeout penalty.
//
// Integration Points:
//   - Orchestrator: fans a scenario out to both engines in auto mode
//   - Degradation Tracker: partial penalties land here, terminal ones at
//     the orchestrator boundary
//   - Arbiter: consumes the normalized outputs

const (
	// EngineA is the deep-analysis engine backed by a large remote model.
	EngineA = "engine_a"
	// EngineB is the exploratory engine backed by the endpoint pool.
	EngineB = "engine_b"
)

// Engine is one analysis engine.
type Engine interface {
	// ID returns the engine identifier, EngineA or EngineB.
	ID() string

	// Analyze runs the engine's full session for one scenario. Partial
	// completion returns output with err == nil; only a session with no
	// usable output returns an error, normally a *SessionError.
	Analyze(ctx context.Context, scenario *models.Scenario, state *degrade.AnalysisState) (*models.EngineOutput, error)
}

// SessionError is a terminal engine failure that still reports how far
// the session got before it stopped.
type SessionError struct {
	Engine    string
	Completed int
	Planned   int
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s failed with %d of %d turns completed: %v", e.Engine, e.Completed, e.Planned, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
