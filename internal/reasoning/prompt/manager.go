package prompt

import "context"

// Package prompt provides the analysis prompt templates for tandem-ai.
//
// Responsibilities:
//   - Manage system prompts that define each engine's analyst persona
//   - Render the opening turn from scenario fields plus retrieved context
//   - Render exploration turns that steer each turn to an uncovered angle
//   - Render the synthesis request that folds all turns into a summary
//   - Render the deep-analysis passes used by Engine A
//   - Render the facts-only placeholder used when both engines fail
//
// Prompt Types:
//
//   1. System Prompt
//      - Defines the analyst role, grounding rules, and output format
//      - Engine-specific: the pool workers and the deep engine get
//        different personas
//
//   2. Opening Turn
//      - Scenario name, domain, description, plus the formatted context
//        block from the retrieval collaborators
//
//   3. Exploration Turn
//      - One fixed angle per turn, cycling through the angle list
//      - Carries a short window of recent exchanges so the model does
//        not repeat itself
//
//   4. Synthesis
//      - All completed turn contents, asking for an executive summary
//
//   5. Deep Analysis
//      - Pass 1 asks for a full-depth analysis; later passes include the
//        previous pass and ask for critique and refinement
//
// Rendering is plain string substitution on {{.Field}} markers. The
// templates are fixed at compile time; there is no template loading.
//
// Integration Points:
//   - Reasoning driver: opening/exploration/synthesis turns
//   - Engine A client: deep-analysis passes
//   - Orchestrator: facts-only placeholder on total engine failure

// PromptManager defines the interface for prompt rendering.
type PromptManager interface {
	// GetSystemPrompt returns the system prompt for the given engine.
	GetSystemPrompt(ctx context.Context, engine string) (string, error)

	// RenderOpeningTurn renders the first turn of a reasoning session.
	RenderOpeningTurn(ctx context.Context, name, domain, description, contextBlock string) (string, error)

	// RenderExplorationTurn renders turn N (N >= 2) with its angle and a
	// window of recent exchanges.
	RenderExplorationTurn(ctx context.Context, turn int, window string) (string, error)

	// RenderSynthesis renders the executive-summary request over all
	// completed turn contents.
	RenderSynthesis(ctx context.Context, name, turnBlock string) (string, error)

	// RenderDeepAnalysis renders pass N of Engine A's deep analysis.
	// previous is empty for the first pass.
	RenderDeepAnalysis(ctx context.Context, pass int, name, domain, description, previous string) (string, error)

	// RenderFactsOnly renders the placeholder content returned when no
	// engine produced output.
	RenderFactsOnly(ctx context.Context, name, facts string) (string, error)

	// AngleForTurn returns the exploration angle assigned to a turn,
	// cycling through the fixed angle list. Turn 1 has no angle.
	AngleForTurn(turn int) string
}

// NewPromptManager creates a prompt manager.
// The concrete implementation is in templates.go.
