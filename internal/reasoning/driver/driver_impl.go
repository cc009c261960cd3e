package driver

// Package driver — concrete SessionDriver implementation.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/degrade"
	"github.com/tandemlabs/tandem-ai/internal/llm/dispatch"
	"github.com/tandemlabs/tandem-ai/internal/llm/types"
	"github.com/tandemlabs/tandem-ai/internal/metrics"
	"github.com/tandemlabs/tandem-ai/internal/models"
	reasoningContext "github.com/tandemlabs/tandem-ai/internal/reasoning/context"
	"github.com/tandemlabs/tandem-ai/internal/reasoning/prompt"
)

const (
	// DefaultWindow is how many prior turns an exploration prompt carries.
	DefaultWindow = 3
	// DefaultMaxClaims bounds final-turn claim verification.
	DefaultMaxClaims = 5

	// windowTurnLimit caps each windowed response so late-session prompts
	// stay bounded.
	windowTurnLimit = 1200
)

// sessionDriverImpl is the concrete SessionDriver.
type sessionDriverImpl struct {
	dispatcher dispatch.Dispatcher
	builder    reasoningContext.ContextBuilder
	prompts    prompt.PromptManager
	verifier   Verifier
	tracker    degrade.Tracker
	auditLog   audit.Logger
	events     EventSink
	window     int
	maxClaims  int
}

// NewSessionDriver creates a session driver. builder, verifier, and
// events are optional collaborators and may be nil; everything else is
// required.
func NewSessionDriver(
	dispatcher dispatch.Dispatcher,
	builder reasoningContext.ContextBuilder,
	prompts prompt.PromptManager,
	verifier Verifier,
	tracker degrade.Tracker,
	auditLog audit.Logger,
	events EventSink,
	window, maxClaims int,
) SessionDriver {
	if dispatcher == nil {
		panic("dispatcher is required")
	}
	if prompts == nil {
		panic("prompt manager is required")
	}
	if tracker == nil {
		panic("degradation tracker is required")
	}
	if auditLog == nil {
		panic("audit logger is required")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if maxClaims < 0 {
		maxClaims = DefaultMaxClaims
	}
	return &sessionDriverImpl{
		dispatcher: dispatcher,
		builder:    builder,
		prompts:    prompts,
		verifier:   verifier,
		tracker:    tracker,
		auditLog:   auditLog,
		events:     events,
		window:     window,
		maxClaims:  maxClaims,
	}
}

// RunSession runs the full turn loop, synthesis, and claim verification.
func (d *sessionDriverImpl) RunSession(ctx context.Context, scenario *models.Scenario, turnCount int, state *degrade.AnalysisState) (*models.ScenarioAnalysis, error) {
	if scenario == nil {
		return nil, fmt.Errorf("scenario is required")
	}
	if turnCount < 1 {
		return nil, fmt.Errorf("turn count must be at least 1, got %d", turnCount)
	}
	if state == nil {
		return nil, fmt.Errorf("analysis state is required")
	}

	start := time.Now()

	// A session records pool exhaustion once, even when the turn loop and
	// the synthesis call both hit it.
	poolExhausted := false
	reportDispatchFailure := func(err error) {
		var dispatchErr *dispatch.DispatchError
		if errors.As(err, &dispatchErr) && !poolExhausted {
			poolExhausted = true
			d.tracker.HandleEndpointsExhausted(ctx, state, err)
		}
	}

	contextBlock := "(no background context available)"
	var sources []string
	if d.builder != nil {
		block, report := d.builder.BuildContext(ctx, scenario)
		contextBlock = block
		if report.Chunks > 0 {
			sources = append(sources, "retrieval")
		}
		if report.Indicators > 0 {
			sources = append(sources, "indicators")
		}
		if report.RetrievalErr != nil {
			d.tracker.HandleRetrievalFailure(ctx, state, report.RetrievalErr)
		}
		if report.IndicatorsErr != nil {
			d.tracker.HandleExternalDataFailure(ctx, state, report.IndicatorsErr)
		}
	}

	systemPrompt, err := d.prompts.GetSystemPrompt(ctx, "engine_b")
	if err != nil {
		return nil, fmt.Errorf("failed to get system prompt: %w", err)
	}

	var turns []models.TurnRecord
	for turn := 1; turn <= turnCount; turn++ {
		userPrompt, err := d.renderTurn(ctx, turn, scenario, contextBlock, turns)
		if err != nil {
			return nil, fmt.Errorf("failed to render turn %d: %w", turn, err)
		}

		resp, err := d.dispatcher.Send(ctx, []types.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		})
		if err != nil {
			// Abort remaining turns, keep the completed ones.
			metrics.SessionTurnsTotal.WithLabelValues("failed").Inc()
			d.auditLog.Log(ctx, audit.NewEvent(audit.EventTurnCompleted).
				WithCorrelationID(state.RequestID).
				WithScenario(scenario.ID).
				WithMetadata("turn", turn).
				WithError(err, "TURN_FAILED"))
			reportDispatchFailure(err)
			break
		}

		turns = append(turns, models.TurnRecord{
			Index:      turn,
			Prompt:     userPrompt,
			Response:   resp.Content,
			Reasoning:  resp.Reasoning,
			Latency:    resp.Latency,
			TokensUsed: resp.Usage.TotalTokens,
		})
		metrics.SessionTurnsTotal.WithLabelValues("completed").Inc()
		d.auditLog.Log(ctx, audit.NewEvent(audit.EventTurnCompleted).
			WithCorrelationID(state.RequestID).
			WithScenario(scenario.ID).
			WithMetadata("turn", turn).
			WithDuration(resp.Latency).
			WithResult(audit.ResultSuccess))
		d.publish("turn_completed", scenario.ID, map[string]any{
			"request_id": state.RequestID,
			"turn":       turn,
			"planned":    turnCount,
		})
	}

	synthesis := d.synthesize(ctx, scenario, turns, systemPrompt, state.RequestID, reportDispatchFailure)
	d.publish("session_synthesized", scenario.ID, map[string]any{
		"request_id": state.RequestID,
		"turns":      len(turns),
	})

	verified := 0
	if len(turns) > 0 {
		verified = d.verifyClaims(ctx, state, scenario, turns[len(turns)-1].Response)
	}

	return &models.ScenarioAnalysis{
		ScenarioID:     scenario.ID,
		ScenarioName:   scenario.Name,
		Domain:         scenario.Domain,
		Turns:          turns,
		Synthesis:      synthesis,
		Sources:        sources,
		Duration:       time.Since(start),
		VerifiedClaims: verified,
	}, nil
}

// publish forwards a progress event to the sink, when one is wired.
func (d *sessionDriverImpl) publish(eventType, scenarioID string, payload map[string]any) {
	if d.events == nil {
		return
	}
	d.events.Publish(eventType, scenarioID, payload)
}

// renderTurn builds the user prompt for one turn.
func (d *sessionDriverImpl) renderTurn(ctx context.Context, turn int, scenario *models.Scenario, contextBlock string, completed []models.TurnRecord) (string, error) {
	if turn == 1 {
		return d.prompts.RenderOpeningTurn(ctx, scenario.Name, scenario.Domain, scenario.Description, contextBlock)
	}
	return d.prompts.RenderExplorationTurn(ctx, turn, d.windowText(completed))
}

// windowText formats the last few completed turns for an exploration prompt.
func (d *sessionDriverImpl) windowText(turns []models.TurnRecord) string {
	if len(turns) == 0 {
		return "(no prior turns)"
	}
	first := len(turns) - d.window
	if first < 0 {
		first = 0
	}
	var sb strings.Builder
	for _, t := range turns[first:] {
		fmt.Fprintf(&sb, "Turn %d: %s\n\n", t.Index, truncateRunes(t.Response, windowTurnLimit))
	}
	return strings.TrimSpace(sb.String())
}

// synthesize produces the executive summary over all completed turns.
func (d *sessionDriverImpl) synthesize(ctx context.Context, scenario *models.Scenario, turns []models.TurnRecord, systemPrompt, requestID string, reportDispatchFailure func(error)) string {
	if len(turns) == 0 {
		return "No turns completed; no analysis was produced for this scenario."
	}

	var block strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&block, "### Turn %d\n%s\n\n", t.Index, t.Response)
	}

	rendered, err := d.prompts.RenderSynthesis(ctx, scenario.Name, strings.TrimSpace(block.String()))
	if err == nil {
		resp, sendErr := d.dispatcher.Send(ctx, []types.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: rendered},
		})
		if sendErr == nil {
			d.auditLog.Log(ctx, audit.NewEvent(audit.EventSessionSynthesized).
				WithCorrelationID(requestID).
				WithScenario(scenario.ID).
				WithMetadata("turns", len(turns)).
				WithResult(audit.ResultSuccess))
			return resp.Content
		}
		err = sendErr
		reportDispatchFailure(sendErr)
	}

	d.auditLog.Log(ctx, audit.NewEvent(audit.EventSessionSynthesized).
		WithCorrelationID(requestID).
		WithScenario(scenario.ID).
		WithDescription("synthesis call failed; returning turn digest").
		WithError(err, "SYNTHESIS_FAILED"))
	return digest(turns)
}

// verifyClaims checks numeric claims in the final turn against the
// external verifier. Verification is bounded and never fatal.
func (d *sessionDriverImpl) verifyClaims(ctx context.Context, state *degrade.AnalysisState, scenario *models.Scenario, finalText string) int {
	if d.verifier == nil || !d.verifier.Configured() || d.maxClaims == 0 {
		return 0
	}

	claims := extractNumericClaims(finalText)
	if len(claims) > d.maxClaims {
		claims = claims[:d.maxClaims]
	}

	verified := 0
	for _, claim := range claims {
		ok, err := d.verifier.Verify(ctx, claim)
		if err != nil {
			d.tracker.HandleVerificationFailure(ctx, state, err)
			break
		}
		if ok {
			verified++
			d.auditLog.Log(ctx, audit.NewEvent(audit.EventClaimVerified).
				WithCorrelationID(state.RequestID).
				WithScenario(scenario.ID).
				WithDescription(claim).
				WithResult(audit.ResultSuccess))
		}
	}
	return verified
}

// digest is the fallback summary when the synthesis call fails: the
// opening sentence of every completed turn.
func digest(turns []models.TurnRecord) string {
	var sb strings.Builder
	sb.WriteString("Synthesis unavailable; digest of completed turns:\n")
	for _, t := range turns {
		fmt.Fprintf(&sb, "- Turn %d: %s\n", t.Index, firstSentence(t.Response))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func firstSentence(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return "(empty turn)"
	}
	return truncateRunes(sentences[0], 200)
}

func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
