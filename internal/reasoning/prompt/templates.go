package prompt

// Package prompt — concrete PromptManager implementation with the fixed
// analysis templates.

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// promptManagerImpl is the concrete implementation of PromptManager.
type promptManagerImpl struct{}

// NewPromptManager creates a new prompt manager.
func NewPromptManager() PromptManager {
	return &promptManagerImpl{}
}

// ─── System prompts ───────────────────────────────────────────────────────────

const analystSystemPrompt = `You are a Tandem AI policy analyst. You examine one scenario across several turns, one angle at a time.

APPROACH:
- Ground every statement in the supplied context, or flag it clearly as inference
- Quantify impacts wherever possible (percentages, ranges, orders of magnitude)
- Name the affected groups and institutions explicitly
- Keep each turn focused on the single angle you were asked to explore
- Do not repeat analysis already covered in earlier turns

OUTPUT FORMAT:
- Plain prose paragraphs, no headings or bullet lists
- Lead with the most consequential point
- State uncertainty plainly when the evidence is thin`

const deepSystemPrompt = `You are the deep-analysis engine of Tandem AI. You produce a single, complete analysis of a policy scenario in one extended response.

APPROACH:
- Cover causes, first-order effects, second-order effects, and affected groups
- Weigh competing interpretations before committing to a conclusion
- Separate what the evidence shows from what you are inferring
- Quantify wherever the scenario permits

OUTPUT FORMAT:
- Structured prose: situation, analysis, risks, conclusion
- End with a one-sentence bottom line
- Express confidence as a percentage (e.g. "Confidence: 85%")`

// ─── Turn templates ───────────────────────────────────────────────────────────

const openingTurnTemplate = `## Scenario: {{.Name}}

**Domain:** {{.Domain}}

{{.Context}}

**Scenario Description:**
{{.Description}}

**Your Task:**
Provide an initial assessment of this scenario. Identify the central question, the key actors, and the two or three effects you expect to matter most. Later turns will explore specific angles in depth.`

const explorationTurnTemplate = `## Turn {{.Turn}}: {{.Angle}}

**Recent Discussion:**
{{.Window}}

**Your Task:**
Explore the scenario from the angle above. Do not repeat ground already covered in the recent discussion; add analysis specific to this angle.`

const synthesisTemplate = `## Synthesis: {{.Name}}

**Turn Contents:**
{{.Turns}}

**Your Task:**
Synthesize the analysis above into an executive summary: the central conclusion, the strongest supporting evidence, the main risks, and one clear recommendation. Keep it under 300 words.`

const deepInitialTemplate = `## Deep Analysis: {{.Name}}

**Domain:** {{.Domain}}

**Scenario:**
{{.Description}}

**Your Task:**
Produce a complete analysis of this scenario: the situation as given, the mechanisms at work, the likely outcomes with rough magnitudes, the groups most affected, and the principal risks. Conclude with a recommendation and your confidence.`

const deepRefinementTemplate = `## Deep Analysis (Pass {{.Pass}}): {{.Name}}

**Previous Pass:**
{{.Previous}}

**Your Task:**
Critique the previous pass: find the weakest claim, the most important omission, and any place the reasoning outruns the evidence. Then produce a strengthened final analysis that fixes what you found. Conclude with a recommendation and your confidence.`

const factsOnlyTemplate = `Analysis unavailable for "{{.Name}}": no analysis engine produced output for this request.

The following inputs are returned without interpretation:
{{.Facts}}

No analytical conclusions could be drawn; the reported confidence reflects this.`

// ─── Exploration angles ───────────────────────────────────────────────────────

// Turns 2..N cycle through these in order.
var explorationAngles = []string{
	"Economic impact and fiscal cost",
	"Distributional effects across groups",
	"Implementation feasibility and administrative burden",
	"Risks and unintended consequences",
	"Regional and demographic variation",
	"Interaction with existing policies",
	"Long-term sustainability",
	"Evidence quality and open questions",
}

// ─── promptManagerImpl methods ────────────────────────────────────────────────

func (m *promptManagerImpl) GetSystemPrompt(_ context.Context, engine string) (string, error) {
	switch strings.ToLower(engine) {
	case "engine_a", "deep":
		return deepSystemPrompt, nil
	default:
		return analystSystemPrompt, nil
	}
}

func (m *promptManagerImpl) RenderOpeningTurn(_ context.Context, name, domain, description, contextBlock string) (string, error) {
	rendered := strings.ReplaceAll(openingTurnTemplate, "{{.Name}}", name)
	rendered = strings.ReplaceAll(rendered, "{{.Domain}}", domain)
	rendered = strings.ReplaceAll(rendered, "{{.Context}}", contextBlock)
	rendered = strings.ReplaceAll(rendered, "{{.Description}}", description)
	return rendered, nil
}

func (m *promptManagerImpl) RenderExplorationTurn(_ context.Context, turn int, window string) (string, error) {
	if turn < 2 {
		return "", fmt.Errorf("exploration turns start at 2, got %d", turn)
	}
	rendered := strings.ReplaceAll(explorationTurnTemplate, "{{.Turn}}", strconv.Itoa(turn))
	rendered = strings.ReplaceAll(rendered, "{{.Angle}}", m.AngleForTurn(turn))
	rendered = strings.ReplaceAll(rendered, "{{.Window}}", window)
	return rendered, nil
}

func (m *promptManagerImpl) RenderSynthesis(_ context.Context, name, turnBlock string) (string, error) {
	rendered := strings.ReplaceAll(synthesisTemplate, "{{.Name}}", name)
	rendered = strings.ReplaceAll(rendered, "{{.Turns}}", turnBlock)
	return rendered, nil
}

func (m *promptManagerImpl) RenderDeepAnalysis(_ context.Context, pass int, name, domain, description, previous string) (string, error) {
	if pass <= 1 || previous == "" {
		rendered := strings.ReplaceAll(deepInitialTemplate, "{{.Name}}", name)
		rendered = strings.ReplaceAll(rendered, "{{.Domain}}", domain)
		rendered = strings.ReplaceAll(rendered, "{{.Description}}", description)
		return rendered, nil
	}
	rendered := strings.ReplaceAll(deepRefinementTemplate, "{{.Pass}}", strconv.Itoa(pass))
	rendered = strings.ReplaceAll(rendered, "{{.Name}}", name)
	rendered = strings.ReplaceAll(rendered, "{{.Previous}}", previous)
	return rendered, nil
}

func (m *promptManagerImpl) RenderFactsOnly(_ context.Context, name, facts string) (string, error) {
	if facts == "" {
		facts = "(no verified inputs were available)"
	}
	rendered := strings.ReplaceAll(factsOnlyTemplate, "{{.Name}}", name)
	rendered = strings.ReplaceAll(rendered, "{{.Facts}}", facts)
	return rendered, nil
}

func (m *promptManagerImpl) AngleForTurn(turn int) string {
	if turn < 2 {
		return ""
	}
	return explorationAngles[(turn-2)%len(explorationAngles)]
}
