package arbiter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/metrics"
	"github.com/tandemlabs/tandem-ai/internal/models"
)

const (
	agreementBonus      = 0.05
	disagreementPenalty = 0.15
	minConfidence       = 0.10
	maxConfidence       = 0.95

	consensusExtras = 3
	synthesisExtras = 5
)

// directionPairs are the opposite-direction keyword pairs the
// contradiction scan checks. The table is fixed; changing it changes
// what counts as a contradiction.
var directionPairs = [][2]string{
	{"increase", "decrease"},
	{"rise", "fall"},
	{"growth", "decline"},
	{"positive", "negative"},
	{"improve", "worsen"},
	{"expand", "contract"},
	{"surplus", "deficit"},
	{"accelerate", "slow"},
	{"higher", "lower"},
	{"gain", "loss"},
}

var (
	tokenPattern     = regexp.MustCompile(`[a-z0-9]+`)
	percentPattern   = regexp.MustCompile(`\d+(?:\.\d+)?\s?%`)
	sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)
)

// arbiterImpl is the concrete Arbiter. Statistics are guarded by mu.
type arbiterImpl struct {
	threshold float64
	auditLog  audit.Logger

	mu           sync.Mutex
	total        int64
	byOutcome    map[Outcome]int64
	totalLatency time.Duration
}

// NewArbiter creates an arbiter with the given consensus threshold.
func NewArbiter(threshold float64, auditLog audit.Logger) Arbiter {
	if auditLog == nil {
		panic("audit logger is required")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConsensusThreshold
	}
	return &arbiterImpl{
		threshold: threshold,
		auditLog:  auditLog,
		byOutcome: make(map[Outcome]int64),
	}
}

// Arbitrate resolves one pair of engine outputs.
func (a *arbiterImpl) Arbitrate(ctx context.Context, outputA, outputB *models.EngineOutput) (*Decision, error) {
	if outputA == nil || outputB == nil {
		return nil, fmt.Errorf("both engine outputs are required")
	}

	start := time.Now()

	similarity := jaccard(tokenSet(outputA.Content), tokenSet(outputB.Content))
	contradictions := findContradictions(outputA.Content, outputB.Content)
	weightA, weightB := weights(outputA, outputB, len(contradictions) > 0)

	var outcome Outcome
	switch {
	case len(contradictions) > 0:
		outcome = OutcomeContradiction
	case similarity >= a.threshold:
		outcome = OutcomeConsensus
	default:
		outcome = OutcomeSynthesis
	}

	decision := &Decision{
		Outcome:        outcome,
		Similarity:     similarity,
		Contradictions: contradictions,
		WeightA:        weightA,
		WeightB:        weightB,
		Content:        render(outcome, outputA, outputB, weightA, contradictions),
		Confidence:     blendConfidence(outcome, outputA.Confidence, outputB.Confidence, weightA, weightB),
	}

	elapsed := time.Since(start)
	a.record(outcome, elapsed)
	metrics.ArbitrationsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.ArbitrationDuration.Observe(elapsed.Seconds())
	a.auditLog.Log(ctx, audit.NewEvent(audit.EventArbitrationCompleted).
		WithAction(string(outcome)).
		WithResult(audit.ResultSuccess).
		WithMetadata("similarity", similarity).
		WithMetadata("contradictions", len(contradictions)).
		WithDuration(elapsed))

	return decision, nil
}

// Stats returns the running arbitration statistics.
func (a *arbiterImpl) Stats(ctx context.Context) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	byOutcome := make(map[string]int64, len(a.byOutcome))
	for outcome, count := range a.byOutcome {
		byOutcome[string(outcome)] = count
	}
	var avg float64
	if a.total > 0 {
		avg = a.totalLatency.Seconds() * 1000 / float64(a.total)
	}
	return Stats{
		Total:        a.total,
		ByOutcome:    byOutcome,
		AvgLatencyMs: avg,
	}
}

func (a *arbiterImpl) record(outcome Outcome, elapsed time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	a.byOutcome[outcome]++
	a.totalLatency += elapsed
}

// ─── Similarity ───────────────────────────────────────────────────────────────

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		set[token] = struct{}{}
	}
	return set
}

// jaccard is intersection over union of the two token sets. Two empty
// texts count as identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

// ─── Contradiction scan ───────────────────────────────────────────────────────

// findContradictions reports every direction pair where each text takes
// exactly one side and the sides disagree. Identical texts can never
// contradict: they always take the same side.
func findContradictions(textA, textB string) []Contradiction {
	tokensA := tokenSet(textA)
	tokensB := tokenSet(textB)

	var figures []string
	var found []Contradiction
	for _, pair := range directionPairs {
		aFirst, aSecond := containsTerm(tokensA, pair[0]), containsTerm(tokensA, pair[1])
		bFirst, bSecond := containsTerm(tokensB, pair[0]), containsTerm(tokensB, pair[1])
		if aFirst == aSecond || bFirst == bSecond {
			continue
		}
		if aFirst == bFirst {
			continue
		}
		if figures == nil {
			figures = percentFigures(textA, textB)
		}
		found = append(found, Contradiction{
			TermA:   pickTerm(pair, aFirst),
			TermB:   pickTerm(pair, bFirst),
			Figures: figures,
		})
	}
	return found
}

// containsTerm matches a direction word and its common inflections
// against the token set.
func containsTerm(tokens map[string]struct{}, term string) bool {
	for _, variant := range []string{term, term + "s", term + "es", term + "d", term + "ed", term + "er", term + "ing"} {
		if _, ok := tokens[variant]; ok {
			return true
		}
	}
	return false
}

func pickTerm(pair [2]string, first bool) string {
	if first {
		return pair[0]
	}
	return pair[1]
}

// percentFigures collects the distinct percentage figures appearing in
// either text, in order of first appearance.
func percentFigures(textA, textB string) []string {
	seen := make(map[string]struct{})
	var figures []string
	for _, text := range []string{textA, textB} {
		for _, figure := range percentPattern.FindAllString(text, -1) {
			if _, ok := seen[figure]; !ok {
				seen[figure] = struct{}{}
				figures = append(figures, figure)
			}
		}
	}
	return figures
}

// ─── Weighting ────────────────────────────────────────────────────────────────

// weights splits influence between the engines in proportion to
// self-confidence times completed turns, summing exactly 1.0. A
// contradiction halves the distance from an even split; two degenerate
// outputs split evenly.
func weights(outputA, outputB *models.EngineOutput, contradiction bool) (float64, float64) {
	rawA := outputA.Confidence * float64(outputA.Turns)
	rawB := outputB.Confidence * float64(outputB.Turns)

	var weightA float64
	if rawA+rawB <= 0 {
		weightA = 0.5
	} else {
		weightA = rawA / (rawA + rawB)
	}
	if contradiction {
		weightA = (weightA + 0.5) / 2
	}
	return weightA, 1 - weightA
}

// ─── Content and confidence ───────────────────────────────────────────────────

func render(outcome Outcome, outputA, outputB *models.EngineOutput, weightA float64, contradictions []Contradiction) string {
	primary, secondary := outputA, outputB
	if weightA < 0.5 {
		primary, secondary = outputB, outputA
	}

	switch outcome {
	case OutcomeContradiction:
		return renderContradiction(outputA, outputB, contradictions)
	case OutcomeConsensus:
		return renderMerged(primary, secondary, "Additional support:", consensusExtras)
	default:
		return renderMerged(primary, secondary, "Further findings:", synthesisExtras)
	}
}

// renderMerged keeps the primary engine's phrasing and appends the
// secondary's sentences that add something new.
func renderMerged(primary, secondary *models.EngineOutput, header string, limit int) string {
	var sb strings.Builder
	sb.WriteString(primary.Content)

	extras := uniqueSentences(secondary.Content, primary.Content, limit)
	if len(extras) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(header)
		sb.WriteString("\n")
		for _, sentence := range extras {
			fmt.Fprintf(&sb, "- %s\n", sentence)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderContradiction(outputA, outputB *models.EngineOutput, contradictions []Contradiction) string {
	var sb strings.Builder
	sb.WriteString("The two analyses disagree and the disagreement is unresolved.\n\n")
	for _, c := range contradictions {
		fmt.Fprintf(&sb, "- %s vs %s", c.TermA, c.TermB)
		if len(c.Figures) > 0 {
			fmt.Fprintf(&sb, " (figures: %s)", strings.Join(c.Figures, ", "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nPosition A (deep analysis):\n")
	sb.WriteString(outputA.Content)
	sb.WriteString("\n\nPosition B (exploratory session):\n")
	sb.WriteString(outputB.Content)
	return sb.String()
}

// uniqueSentences returns up to limit sentences from text whose tokens
// are mostly absent from against.
func uniqueSentences(text, against string, limit int) []string {
	ref := tokenSet(against)
	var out []string
	for _, raw := range sentenceBoundary.Split(text, -1) {
		sentence := strings.TrimSpace(raw)
		if sentence == "" {
			continue
		}
		tokens := tokenPattern.FindAllString(strings.ToLower(sentence), -1)
		if len(tokens) == 0 {
			continue
		}
		known := 0
		for _, token := range tokens {
			if _, ok := ref[token]; ok {
				known++
			}
		}
		if float64(known) < float64(len(tokens))/2 {
			out = append(out, sentence)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// blendConfidence is the weighted mean of the self-confidences with the
// outcome adjustment, clamped to [0.10, 0.95].
func blendConfidence(outcome Outcome, confA, confB, weightA, weightB float64) float64 {
	confidence := confA*weightA + confB*weightB
	switch outcome {
	case OutcomeConsensus:
		confidence += agreementBonus
	case OutcomeContradiction:
		confidence -= disagreementPenalty
	}
	return min(max(confidence, minConfidence), maxConfidence)
}
