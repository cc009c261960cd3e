package orchestrator

// Package orchestrator — concrete Orchestrator implementation.

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tandemlabs/tandem-ai/internal/arbiter"
	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/db"
	"github.com/tandemlabs/tandem-ai/internal/degrade"
	"github.com/tandemlabs/tandem-ai/internal/engine"
	"github.com/tandemlabs/tandem-ai/internal/llm/dispatch"
	"github.com/tandemlabs/tandem-ai/internal/metrics"
	"github.com/tandemlabs/tandem-ai/internal/models"
	"github.com/tandemlabs/tandem-ai/internal/reasoning/prompt"
)

const (
	// DefaultMaxConcurrent bounds scenarios in flight.
	DefaultMaxConcurrent = 3

	// Fixed confidence when only one engine produced output.
	engineAOnlyConfidence = 0.85
	engineBOnlyConfidence = 0.75
)

// orchestratorImpl is the concrete Orchestrator.
type orchestratorImpl struct {
	engineA    engine.Engine
	engineB    engine.Engine
	arb        arbiter.Arbiter
	tracker    degrade.Tracker
	dispatcher dispatch.Dispatcher
	prompts    prompt.PromptManager
	auditLog   audit.Logger
	hub        *Hub
	store      db.Store

	// slots is the scenario semaphore; len(slots) is the in-flight count.
	slots chan struct{}

	mu            sync.Mutex
	processed     int64
	byMode        map[string]int64
	engineACalls  int64
	engineBCalls  int64
	degradedRuns  int64
	factsOnlyRuns int64
}

// NewOrchestrator creates an orchestrator. A nil hub gets a private one,
// a nil store disables run-history persistence, and maxConcurrent <= 0
// falls back to the default.
func NewOrchestrator(
	engineA, engineB engine.Engine,
	arb arbiter.Arbiter,
	tracker degrade.Tracker,
	dispatcher dispatch.Dispatcher,
	prompts prompt.PromptManager,
	auditLog audit.Logger,
	hub *Hub,
	store db.Store,
	maxConcurrent int,
) Orchestrator {
	if engineA == nil || engineB == nil {
		panic("both analysis engines are required")
	}
	if arb == nil {
		panic("arbiter is required")
	}
	if tracker == nil {
		panic("degradation tracker is required")
	}
	if dispatcher == nil {
		panic("dispatcher is required")
	}
	if prompts == nil {
		panic("prompt manager is required")
	}
	if auditLog == nil {
		panic("audit logger is required")
	}
	if hub == nil {
		hub = NewHub()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &orchestratorImpl{
		engineA:    engineA,
		engineB:    engineB,
		arb:        arb,
		tracker:    tracker,
		dispatcher: dispatcher,
		prompts:    prompts,
		auditLog:   auditLog,
		hub:        hub,
		store:      store,
		slots:      make(chan struct{}, maxConcurrent),
		byMode:     make(map[string]int64),
	}
}

// ProcessScenario runs one scenario end to end.
func (o *orchestratorImpl) ProcessScenario(ctx context.Context, scenario *models.Scenario, mode string) (*models.AnalysisResult, error) {
	if scenario == nil {
		return nil, fmt.Errorf("scenario is required")
	}
	if mode == "" {
		mode = ModeAuto
	}
	if mode != ModeAuto && mode != ModeEngineA && mode != ModeEngineB {
		return nil, fmt.Errorf("unknown analysis mode %q", mode)
	}

	select {
	case o.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-o.slots }()

	start := time.Now()
	state := o.tracker.NewState(uuid.New().String())

	o.auditLog.LogScenarioStarted(ctx, scenario.ID, mode)
	o.hub.Publish(EventScenarioStarted, scenario.ID, map[string]any{
		"request_id": state.RequestID,
		"mode":       mode,
	})

	var outA, outB *models.EngineOutput
	switch mode {
	case ModeAuto:
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			outA = o.runEngine(ctx, o.engineA, scenario, state)
		}()
		go func() {
			defer wg.Done()
			outB = o.runEngine(ctx, o.engineB, scenario, state)
		}()
		wg.Wait()
	case ModeEngineA:
		outA = o.runEngine(ctx, o.engineA, scenario, state)
	case ModeEngineB:
		outB = o.runEngine(ctx, o.engineB, scenario, state)
	}

	result, err := o.assemble(ctx, scenario, mode, state, outA, outB)
	if err != nil {
		o.auditLog.LogScenarioFailed(ctx, scenario.ID, err)
		metrics.ScenariosTotal.WithLabelValues(mode, "failed").Inc()
		return nil, err
	}
	result.Duration = time.Since(start)

	o.record(mode, state)

	outcome := "completed"
	if state.FactsOnly {
		outcome = "facts_only"
	} else if state.Degraded() {
		outcome = "degraded"
	}
	metrics.ScenariosTotal.WithLabelValues(mode, outcome).Inc()
	metrics.ScenarioDuration.WithLabelValues(mode).Observe(result.Duration.Seconds())
	metrics.FinalConfidence.Observe(result.Confidence)

	o.auditLog.LogScenarioCompleted(ctx, scenario.ID, result.Confidence, result.Duration)
	o.hub.Publish(EventScenarioCompleted, scenario.ID, map[string]any{
		"request_id": state.RequestID,
		"outcome":    outcome,
		"confidence": result.Confidence,
	})
	o.persistRun(ctx, result, state)
	return result, nil
}

func (o *orchestratorImpl) Events() *Hub { return o.hub }

func (o *orchestratorImpl) Stats(ctx context.Context) Stats {
	o.mu.Lock()
	byMode := make(map[string]int64, len(o.byMode))
	for mode, n := range o.byMode {
		byMode[mode] = n
	}
	stats := Stats{
		ScenariosProcessed: o.processed,
		ScenariosByMode:    byMode,
		EngineACalls:       o.engineACalls,
		EngineBCalls:       o.engineBCalls,
		DegradedRuns:       o.degradedRuns,
		FactsOnlyRuns:      o.factsOnlyRuns,
		InFlight:           len(o.slots),
	}
	o.mu.Unlock()

	stats.Arbiter = o.arb.Stats(ctx)
	stats.Dispatch = o.dispatcher.Stats(ctx)
	return stats
}

func (o *orchestratorImpl) Health(ctx context.Context) Health {
	endpoints := o.dispatcher.Health(ctx)
	status := "healthy"
	for _, ep := range endpoints {
		if ep.State != dispatch.StateHealthy {
			status = "degraded"
			break
		}
	}
	return Health{Status: status, Endpoints: endpoints}
}

// ─── Engine execution ─────────────────────────────────────────────────────────

// runEngine executes one engine and converts any terminal failure into
// the matching tracker call. It returns nil when the engine produced no
// usable output.
func (o *orchestratorImpl) runEngine(ctx context.Context, eng engine.Engine, scenario *models.Scenario, state *degrade.AnalysisState) *models.EngineOutput {
	o.countCall(eng.ID())
	start := time.Now()

	output, err := eng.Analyze(ctx, scenario, state)
	if err != nil {
		o.auditLog.LogEngineFailed(ctx, scenario.ID, eng.ID(), err)
		o.recordFailure(ctx, eng.ID(), state, err)
		o.hub.Publish(EventEngineFailed, scenario.ID, map[string]any{
			"request_id": state.RequestID,
			"engine":     eng.ID(),
			"error":      err.Error(),
		})
		return nil
	}

	o.auditLog.LogEngineCompleted(ctx, scenario.ID, eng.ID(), output.Turns, time.Since(start))
	o.hub.Publish(EventEngineCompleted, scenario.ID, map[string]any{
		"request_id": state.RequestID,
		"engine":     eng.ID(),
		"turns":      output.Turns,
		"confidence": output.Confidence,
	})
	return output
}

// recordFailure routes a terminal engine error to the tracker, mapping
// deadline and network timeouts to the timeout kinds.
func (o *orchestratorImpl) recordFailure(ctx context.Context, engineID string, state *degrade.AnalysisState, err error) {
	timeout := isTimeout(err)
	switch engineID {
	case engine.EngineA:
		if timeout {
			o.tracker.HandleEngineATimeout(ctx, state, err)
		} else {
			o.tracker.HandleEngineAFailure(ctx, state, err)
		}
	case engine.EngineB:
		if timeout {
			o.tracker.HandleEngineBTimeout(ctx, state, err)
		} else {
			o.tracker.HandleEngineBFailure(ctx, state, err)
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ─── Result assembly ──────────────────────────────────────────────────────────

// assemble applies the decision table to whatever outputs survived.
func (o *orchestratorImpl) assemble(ctx context.Context, scenario *models.Scenario, mode string, state *degrade.AnalysisState, outA, outB *models.EngineOutput) (*models.AnalysisResult, error) {
	var (
		content        string
		modeConfidence float64
		arbitration    *models.ArbitrationRecord
	)

	switch {
	case outA != nil && outB != nil:
		decision, err := o.arb.Arbitrate(ctx, outA, outB)
		if err != nil {
			return nil, fmt.Errorf("arbitration failed: %w", err)
		}
		content = decision.Content
		modeConfidence = decision.Confidence
		arbitration = &models.ArbitrationRecord{
			Outcome:        string(decision.Outcome),
			Similarity:     decision.Similarity,
			Contradictions: len(decision.Contradictions),
			WeightA:        decision.WeightA,
			WeightB:        decision.WeightB,
		}
		o.hub.Publish(EventArbitrationCompleted, scenario.ID, map[string]any{
			"request_id": state.RequestID,
			"outcome":    string(decision.Outcome),
			"similarity": decision.Similarity,
		})
	case outA != nil:
		content = outA.Content
		modeConfidence = engineAOnlyConfidence
	case outB != nil:
		content = outB.Content
		modeConfidence = engineBOnlyConfidence
	default:
		o.tracker.HandleBothEnginesFailed(ctx, state, fmt.Errorf("no engine produced output"))
		content = o.factsOnly(ctx, scenario)
		modeConfidence = state.FinalConfidence()
	}

	confidence := modeConfidence
	if state.Degraded() {
		confidence = min(modeConfidence, state.FinalConfidence())
	}

	return &models.AnalysisResult{
		ID:          state.RequestID,
		Query:       scenarioQuery(scenario),
		Mode:        mode,
		Content:     content,
		Confidence:  confidence,
		EngineA:     outA,
		EngineB:     outB,
		Arbitration: arbitration,
		Degraded:    state.Degraded(),
		Degradation: o.tracker.GenerateSummary(state),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// factsOnly renders the placeholder content for a request where no
// engine produced output.
func (o *orchestratorImpl) factsOnly(ctx context.Context, scenario *models.Scenario) string {
	var lines []string
	for _, input := range scenario.Inputs {
		lines = append(lines, "- "+input)
	}
	rendered, err := o.prompts.RenderFactsOnly(ctx, scenario.Name, strings.Join(lines, "\n"))
	if err != nil {
		return fmt.Sprintf("Analysis unavailable for %q: no analysis engine produced output for this request.", scenario.Name)
	}
	return rendered
}

func scenarioQuery(scenario *models.Scenario) string {
	if scenario.Description != "" {
		return scenario.Description
	}
	return scenario.Name
}

// persistRun writes the finished run to the history store. Best-effort:
// a failed write is audited and counted, never surfaced to the caller.
// The run is already complete, so no degradation penalty applies.
func (o *orchestratorImpl) persistRun(ctx context.Context, result *models.AnalysisResult, state *degrade.AnalysisState) {
	if o.store == nil {
		return
	}
	rec := &db.RunRecord{AnalysisResult: *result, Events: state.Events}
	if err := o.store.SaveRun(ctx, rec); err != nil {
		metrics.RunsPersistedTotal.WithLabelValues("failed").Inc()
		o.auditLog.Log(ctx, audit.NewEvent(audit.EventRunPersistFailed).
			WithCorrelationID(audit.GetCorrelationID(ctx)).
			WithScenario(result.ID).
			WithError(err, "RUN_PERSIST_FAILED"))
		return
	}
	metrics.RunsPersistedTotal.WithLabelValues("saved").Inc()
}

// ─── Counters ─────────────────────────────────────────────────────────────────

func (o *orchestratorImpl) countCall(engineID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch engineID {
	case engine.EngineA:
		o.engineACalls++
	case engine.EngineB:
		o.engineBCalls++
	}
}

func (o *orchestratorImpl) record(mode string, state *degrade.AnalysisState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processed++
	o.byMode[mode]++
	if state.Degraded() {
		o.degradedRuns++
	}
	if state.FactsOnly {
		o.factsOnlyRuns++
	}
}
