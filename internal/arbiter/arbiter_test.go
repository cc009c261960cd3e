package arbiter

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/models"
)

func testAudit(t *testing.T) audit.Logger {
	t.Helper()
	dir := t.TempDir()
	logger, err := audit.NewLogger(&audit.Config{
		AuditLogPath: filepath.Join(dir, "audit.log"),
		AppLogPath:   filepath.Join(dir, "app.log"),
		MaxSize:      10,
		MaxBackups:   1,
		MaxAge:       1,
		LogLevel:     "error",
	})
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func testArbiter(t *testing.T) Arbiter {
	t.Helper()
	return NewArbiter(DefaultConsensusThreshold, testAudit(t))
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func output(content string, confidence float64, turns int) *models.EngineOutput {
	return &models.EngineOutput{Engine: "engine_a", Content: content, Confidence: confidence, Turns: turns}
}

func TestArbitrateIdenticalInputs(t *testing.T) {
	arb := testArbiter(t)
	x := output("The levy raises revenue and trims imports over five years.", 0.8, 3)

	decision, err := arb.Arbitrate(context.Background(), x, x)
	if err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}

	if decision.Outcome != OutcomeConsensus {
		t.Errorf("Expected consensus for identical inputs, got %s", decision.Outcome)
	}
	if decision.Similarity != 1.0 {
		t.Errorf("Expected similarity 1.0, got %f", decision.Similarity)
	}
	if len(decision.Contradictions) != 0 {
		t.Errorf("Identical inputs can never contradict, got %v", decision.Contradictions)
	}
	if decision.WeightA != 0.5 || decision.WeightB != 0.5 {
		t.Errorf("Expected even weights, got %f/%f", decision.WeightA, decision.WeightB)
	}
	if decision.Content != x.Content {
		t.Errorf("Expected unchanged content, got %q", decision.Content)
	}
	if !almostEqual(decision.Confidence, 0.85) {
		t.Errorf("Expected confidence 0.85 (mean plus bonus), got %f", decision.Confidence)
	}
}

func TestArbitrateContradiction(t *testing.T) {
	arb := testArbiter(t)
	a := output("Household costs will increase by 4% under the levy.", 0.8, 2)
	b := output("Household costs will decrease by 3% under the levy.", 0.8, 2)

	decision, err := arb.Arbitrate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}

	if decision.Outcome != OutcomeContradiction {
		t.Fatalf("Expected contradiction, got %s", decision.Outcome)
	}
	if len(decision.Contradictions) != 1 {
		t.Fatalf("Expected 1 contradiction, got %v", decision.Contradictions)
	}
	c := decision.Contradictions[0]
	if c.TermA != "increase" || c.TermB != "decrease" {
		t.Errorf("Unexpected direction terms: %s vs %s", c.TermA, c.TermB)
	}
	if len(c.Figures) != 2 || c.Figures[0] != "4%" || c.Figures[1] != "3%" {
		t.Errorf("Expected figures [4%% 3%%], got %v", c.Figures)
	}

	if decision.WeightA != 0.5 || decision.WeightB != 0.5 {
		t.Errorf("Expected even weights on a symmetric contradiction, got %f/%f", decision.WeightA, decision.WeightB)
	}
	if !almostEqual(decision.Confidence, 0.65) {
		t.Errorf("Expected confidence 0.65 (mean minus penalty), got %f", decision.Confidence)
	}

	for _, want := range []string{"unresolved", "increase vs decrease", "figures: 4%, 3%", "Position A", "Position B"} {
		if !strings.Contains(decision.Content, want) {
			t.Errorf("Contradiction content missing %q:\n%s", want, decision.Content)
		}
	}
}

func TestArbitrateContradictionOverridesSimilarity(t *testing.T) {
	arb := testArbiter(t)
	a := output("Regional output will increase steadily through the decade.", 0.8, 2)
	b := output("Regional output will decrease steadily through the decade.", 0.8, 2)

	decision, err := arb.Arbitrate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}

	if decision.Similarity < DefaultConsensusThreshold {
		t.Fatalf("Test texts should sit above the consensus threshold, got %f", decision.Similarity)
	}
	if decision.Outcome != OutcomeContradiction {
		t.Errorf("Contradiction must override similarity, got %s", decision.Outcome)
	}
}

func TestArbitrateConsensusMergesSupport(t *testing.T) {
	arb := testArbiter(t)
	a := output("The levy raises steady revenue and trims fuel imports over five years.", 0.85, 2)
	b := output("The levy raises steady revenue and trims fuel imports over five years overall.", 0.75, 5)

	decision, err := arb.Arbitrate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}

	if decision.Outcome != OutcomeConsensus {
		t.Fatalf("Expected consensus, got %s (similarity %f)", decision.Outcome, decision.Similarity)
	}
	// B carries more weight (0.75 x 5 > 0.85 x 2), so its phrasing leads.
	if decision.WeightB <= decision.WeightA {
		t.Errorf("Expected B to outweigh A, got %f/%f", decision.WeightA, decision.WeightB)
	}
	if !strings.HasPrefix(decision.Content, b.Content) {
		t.Errorf("Expected higher-weighted phrasing first, got %q", decision.Content)
	}
	if !almostEqual(decision.WeightA+decision.WeightB, 1.0) {
		t.Errorf("Weights must sum to 1.0, got %f", decision.WeightA+decision.WeightB)
	}

	expected := 0.85*decision.WeightA + 0.75*decision.WeightB + 0.05
	if !almostEqual(decision.Confidence, expected) {
		t.Errorf("Expected confidence %f, got %f", expected, decision.Confidence)
	}
}

func TestArbitrateSynthesisConcatenatesFindings(t *testing.T) {
	arb := testArbiter(t)
	a := output("Fiscal revenue strengthens materially in the first budget window.", 0.9, 2)
	b := output("Coastal freight operators bear most of the transition burden. Port authorities need new inspection capacity.", 0.75, 6)

	decision, err := arb.Arbitrate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}

	if decision.Outcome != OutcomeSynthesis {
		t.Fatalf("Expected synthesis, got %s (similarity %f)", decision.Outcome, decision.Similarity)
	}
	if decision.WeightA >= 0.5 {
		t.Errorf("Expected A below half weight, got %f", decision.WeightA)
	}
	if !almostEqual(decision.WeightA, 1.8/6.3) {
		t.Errorf("Expected weight 1.8/6.3, got %f", decision.WeightA)
	}
	if !strings.HasPrefix(decision.Content, b.Content) {
		t.Errorf("Expected higher-weighted content first, got %q", decision.Content)
	}
	if !strings.Contains(decision.Content, "Further findings:") {
		t.Errorf("Expected merged findings section, got %q", decision.Content)
	}
	if !strings.Contains(decision.Content, "- Fiscal revenue strengthens materially in the first budget window.") {
		t.Errorf("Expected A's finding appended, got %q", decision.Content)
	}
}

func TestWeightsDegenerateOutputs(t *testing.T) {
	arb := testArbiter(t)
	a := output("Nothing was produced.", 0.0, 0)
	b := output("Nothing came back either.", 0.0, 0)

	decision, err := arb.Arbitrate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}
	if decision.WeightA != 0.5 || decision.WeightB != 0.5 {
		t.Errorf("Expected even split for degenerate outputs, got %f/%f", decision.WeightA, decision.WeightB)
	}
}

func TestConfidenceClamped(t *testing.T) {
	arb := testArbiter(t)

	high := output("Prices hold steady at 2% inflation.", 0.95, 3)
	decision, err := arb.Arbitrate(context.Background(), high, high)
	if err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}
	if decision.Confidence != 0.95 {
		t.Errorf("Expected upper clamp 0.95, got %f", decision.Confidence)
	}

	a := output("Wages increase.", 0.10, 1)
	b := output("Wages decrease.", 0.10, 1)
	decision, err = arb.Arbitrate(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}
	if decision.Outcome != OutcomeContradiction {
		t.Fatalf("Expected contradiction, got %s", decision.Outcome)
	}
	if decision.Confidence != 0.10 {
		t.Errorf("Expected lower clamp 0.10, got %f", decision.Confidence)
	}
}

func TestStatsTracksOutcomes(t *testing.T) {
	arb := testArbiter(t)
	ctx := context.Background()

	x := output("The levy raises revenue.", 0.8, 3)
	if _, err := arb.Arbitrate(ctx, x, x); err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}
	if _, err := arb.Arbitrate(ctx, output("Wages increase.", 0.8, 2), output("Wages decrease.", 0.8, 2)); err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}
	if _, err := arb.Arbitrate(ctx,
		output("Fiscal revenue strengthens materially early on.", 0.8, 2),
		output("Coastal freight operators bear most burden.", 0.8, 2)); err != nil {
		t.Fatalf("Arbitrate failed: %v", err)
	}

	stats := arb.Stats(ctx)
	if stats.Total != 3 {
		t.Errorf("Expected 3 decisions, got %d", stats.Total)
	}
	for _, outcome := range []string{"consensus", "contradiction", "synthesis"} {
		if stats.ByOutcome[outcome] != 1 {
			t.Errorf("Expected one %s decision, got %d", outcome, stats.ByOutcome[outcome])
		}
	}
	if stats.AvgLatencyMs < 0 {
		t.Errorf("Expected non-negative average latency, got %f", stats.AvgLatencyMs)
	}
}

func TestArbitrateNilOutput(t *testing.T) {
	arb := testArbiter(t)
	x := output("Some analysis.", 0.8, 1)

	if _, err := arb.Arbitrate(context.Background(), nil, x); err == nil {
		t.Error("Expected error for nil output A")
	}
	if _, err := arb.Arbitrate(context.Background(), x, nil); err == nil {
		t.Error("Expected error for nil output B")
	}
}
