package explore

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/tandemlabs/tandem-ai/internal/audit"
	"github.com/tandemlabs/tandem-ai/internal/degrade"
	"github.com/tandemlabs/tandem-ai/internal/engine"
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

// fakeDriver scripts RunSession.
type fakeDriver struct {
	analysis *models.ScenarioAnalysis
	err      error
}

func (f *fakeDriver) RunSession(ctx context.Context, scenario *models.Scenario, turnCount int, state *degrade.AnalysisState) (*models.ScenarioAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

func testScenario() *models.Scenario {
	return &models.Scenario{ID: "sc-1", Name: "Carbon Levy", Domain: "energy"}
}

func sessionWithTurns(n int) *models.ScenarioAnalysis {
	turns := make([]models.TurnRecord, n)
	for i := range turns {
		turns[i] = models.TurnRecord{Index: i + 1, Response: "Finding."}
	}
	return &models.ScenarioAnalysis{
		ScenarioID:   "sc-1",
		ScenarioName: "Carbon Levy",
		Turns:        turns,
		Synthesis:    "Overall the levy raises revenue 4% with modest burden.",
		Sources:      []string{"retrieval"},
	}
}

func TestAnalyzeFullSession(t *testing.T) {
	tracker := degrade.NewTracker(0.80, 0.20, testAudit(t))
	eng := NewEngine(&fakeDriver{analysis: sessionWithTurns(5)}, tracker, 5, 0)
	state := tracker.NewState("req-1")

	output, err := eng.Analyze(context.Background(), testScenario(), state)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if output.Engine != engine.EngineB {
		t.Errorf("Expected engine_b, got %s", output.Engine)
	}
	if output.Turns != 5 {
		t.Errorf("Expected 5 turns, got %d", output.Turns)
	}
	if output.Content != "Overall the levy raises revenue 4% with modest burden." {
		t.Errorf("Expected synthesis as content, got %q", output.Content)
	}
	if output.Confidence != DefaultBaselineConfidence {
		t.Errorf("Expected baseline confidence, got %f", output.Confidence)
	}
	if len(output.DataSources) != 2 || output.DataSources[0] != "endpoint_pool" || output.DataSources[1] != "retrieval" {
		t.Errorf("Unexpected data sources: %v", output.DataSources)
	}
	if len(output.KeyClaims) != 1 {
		t.Errorf("Expected one key claim from the synthesis, got %v", output.KeyClaims)
	}
	if state.Degraded() {
		t.Errorf("Full session should not degrade, events: %v", state.Events)
	}
}

func TestAnalyzePartialSessionRecordsPenalty(t *testing.T) {
	tracker := degrade.NewTracker(0.80, 0.20, testAudit(t))
	eng := NewEngine(&fakeDriver{analysis: sessionWithTurns(3)}, tracker, 5, 0)
	state := tracker.NewState("req-1")

	output, err := eng.Analyze(context.Background(), testScenario(), state)
	if err != nil {
		t.Fatalf("Partial session must not be fatal: %v", err)
	}

	if output.Turns != 3 {
		t.Errorf("Expected 3 turns, got %d", output.Turns)
	}
	if !state.EngineBPartial {
		t.Error("Expected partial flag set")
	}
	if state.EngineBCompletedTurns != 3 || state.EngineBPlannedTurns != 5 {
		t.Errorf("Unexpected progress fields: %d of %d", state.EngineBCompletedTurns, state.EngineBPlannedTurns)
	}
	if !state.EngineBAvailable {
		t.Error("Partial output should keep the engine available")
	}
	if len(state.Events) != 1 || state.Events[0].Kind != degrade.KindEngineBPartial {
		t.Errorf("Expected one partial event, got %v", state.Events)
	}
	if math.Abs(state.Reduction-0.08) > 1e-9 {
		t.Errorf("Expected partial penalty 0.08, got %f", state.Reduction)
	}
}

func TestAnalyzeZeroTurnsTerminal(t *testing.T) {
	tracker := degrade.NewTracker(0.80, 0.20, testAudit(t))
	eng := NewEngine(&fakeDriver{analysis: sessionWithTurns(0)}, tracker, 5, 0)
	state := tracker.NewState("req-1")

	_, err := eng.Analyze(context.Background(), testScenario(), state)
	if err == nil {
		t.Fatal("Expected terminal error for an empty session")
	}

	var se *engine.SessionError
	if !errors.As(err, &se) {
		t.Fatalf("Expected SessionError, got %T: %v", err, err)
	}
	if se.Engine != engine.EngineB || se.Completed != 0 || se.Planned != 5 {
		t.Errorf("Unexpected session error fields: %+v", se)
	}
}

func TestAnalyzeDriverErrorPropagates(t *testing.T) {
	tracker := degrade.NewTracker(0.80, 0.20, testAudit(t))
	root := errors.New("scenario is required")
	eng := NewEngine(&fakeDriver{err: root}, tracker, 5, 0)
	state := tracker.NewState("req-1")

	_, err := eng.Analyze(context.Background(), testScenario(), state)
	if !errors.Is(err, root) {
		t.Errorf("Expected driver error to propagate, got %v", err)
	}
}

func TestDefaultTurnCount(t *testing.T) {
	tracker := degrade.NewTracker(0.80, 0.20, testAudit(t))
	eng := NewEngine(&fakeDriver{analysis: sessionWithTurns(DefaultTurns)}, tracker, 0, 0)
	state := tracker.NewState("req-1")

	output, err := eng.Analyze(context.Background(), testScenario(), state)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if output.Turns != DefaultTurns {
		t.Errorf("Expected default turn count %d, got %d", DefaultTurns, output.Turns)
	}
	if state.EngineBPartial {
		t.Error("Full default-length session should not be partial")
	}
}

func TestConfiguredBaselineConfidence(t *testing.T) {
	tracker := degrade.NewTracker(0.80, 0.20, testAudit(t))
	eng := NewEngine(&fakeDriver{analysis: sessionWithTurns(5)}, tracker, 5, 0.9)
	state := tracker.NewState("req-1")

	output, err := eng.Analyze(context.Background(), testScenario(), state)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if output.Confidence != 0.9 {
		t.Errorf("Expected configured baseline 0.9, got %f", output.Confidence)
	}
}
