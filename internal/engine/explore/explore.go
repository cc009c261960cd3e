package explore

import (
	"context"
	"fmt"

	"github.com/tandemlabs/tandem-ai/internal/degrade"
	"github.com/tandemlabs/tandem-ai/internal/engine"
	"github.com/tandemlabs/tandem-ai/internal/models"
	"github.com/tandemlabs/tandem-ai/internal/reasoning/driver"
)

// Package explore implements Engine B: a multi-turn exploratory session
// dispatched across the endpoint pool.
//
// The engine delegates the whole session to the session driver and
// normalizes the result. The driver already records pool-exhaustion and
// collaborator penalties; this layer owns the engine-level accounting:
// a session that stopped early but kept usable turns records a partial
// penalty, and a session with zero completed turns is a terminal engine
// failure.
//
// Integration Points:
//   - Orchestrator: invoked directly or as half of the auto-mode fan-out
//   - Session Driver: turn loop, synthesis, claim verification
//   - Degradation Tracker: partial-session penalties

// DefaultTurns is how many exploration turns a session runs.
const DefaultTurns = 5

// DefaultBaselineConfidence is the session confidence before any
// degradation penalty.
const DefaultBaselineConfidence = 0.75

// Engine is the exploratory pool engine.
type Engine struct {
	driver   driver.SessionDriver
	tracker  degrade.Tracker
	turns    int
	baseline float64
}

// NewEngine creates the exploratory engine.
func NewEngine(sessionDriver driver.SessionDriver, tracker degrade.Tracker, turns int, baseline float64) *Engine {
	if sessionDriver == nil {
		panic("session driver is required")
	}
	if tracker == nil {
		panic("degradation tracker is required")
	}
	if turns <= 0 {
		turns = DefaultTurns
	}
	if baseline <= 0 || baseline > 1 {
		baseline = DefaultBaselineConfidence
	}
	return &Engine{
		driver:   sessionDriver,
		tracker:  tracker,
		turns:    turns,
		baseline: baseline,
	}
}

// ID returns the engine identifier.
func (e *Engine) ID() string { return engine.EngineB }

// Analyze runs one exploratory session and normalizes its result.
func (e *Engine) Analyze(ctx context.Context, scenario *models.Scenario, state *degrade.AnalysisState) (*models.EngineOutput, error) {
	analysis, err := e.driver.RunSession(ctx, scenario, e.turns, state)
	if err != nil {
		return nil, fmt.Errorf("session failed to run: %w", err)
	}

	completed := len(analysis.Turns)
	if completed == 0 {
		return nil, &engine.SessionError{
			Engine:    engine.EngineB,
			Completed: 0,
			Planned:   e.turns,
			Err:       fmt.Errorf("no turns completed"),
		}
	}
	if completed < e.turns {
		e.tracker.HandleEngineBPartial(ctx, state, completed, e.turns,
			fmt.Errorf("session stopped after turn %d of %d", completed, e.turns))
	}

	return &models.EngineOutput{
		Engine:      engine.EngineB,
		Content:     analysis.Synthesis,
		Turns:       completed,
		Confidence:  e.baseline,
		KeyClaims:   engine.KeyClaims(analysis.Synthesis, engine.DefaultKeyClaims),
		DataSources: append([]string{"endpoint_pool"}, analysis.Sources...),
	}, nil
}
