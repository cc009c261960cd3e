package degrade

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tandemlabs/tandem-ai/internal/audit"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

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

func testTracker(t *testing.T) Tracker {
	t.Helper()
	return NewTracker(0.80, 0.20, testAudit(t))
}

func TestNewStateAllAvailable(t *testing.T) {
	tr := testTracker(t)
	s := tr.NewState("req-1")

	if s.RequestID != "req-1" {
		t.Errorf("Expected request ID req-1, got %s", s.RequestID)
	}
	if !s.EngineAAvailable || !s.EngineBAvailable {
		t.Error("Expected both engines available on a fresh state")
	}
	if !s.RetrievalAvailable || !s.VerificationAvailable || !s.KnowledgeGraphAvailable ||
		!s.DatabaseAvailable || !s.EmbeddingsAvailable || !s.ExternalDataAvailable {
		t.Error("Expected all support services available on a fresh state")
	}
	if s.Reduction != 0 {
		t.Errorf("Expected zero reduction, got %f", s.Reduction)
	}
	if s.FinalConfidence() != 0.80 {
		t.Errorf("Expected base confidence 0.80, got %f", s.FinalConfidence())
	}
	if s.Degraded() {
		t.Error("Fresh state should not be degraded")
	}
	if summary := tr.GenerateSummary(s); summary != "" {
		t.Errorf("Expected empty summary for a clean state, got %q", summary)
	}
}

func TestNewTrackerDefaults(t *testing.T) {
	tr := NewTracker(0, 0, testAudit(t))
	s := tr.NewState("req-1")
	if s.BaseConfidence != 0.80 || s.Floor != 0.20 {
		t.Errorf("Expected default base/floor 0.80/0.20, got %f/%f", s.BaseConfidence, s.Floor)
	}

	tr = NewTracker(0.90, 0.30, testAudit(t))
	s = tr.NewState("req-2")
	if s.BaseConfidence != 0.90 || s.Floor != 0.30 {
		t.Errorf("Expected configured base/floor 0.90/0.30, got %f/%f", s.BaseConfidence, s.Floor)
	}
}

func TestEngineFailureRecordsEverything(t *testing.T) {
	tr := testTracker(t)
	s := tr.NewState("req-1")

	tr.HandleEngineAFailure(context.Background(), s, errors.New("connection refused"))

	if s.EngineAAvailable {
		t.Error("Engine A should be marked unavailable")
	}
	if !s.EngineBAvailable {
		t.Error("Engine B availability should be untouched")
	}
	if !almostEqual(s.Reduction, 0.25) {
		t.Errorf("Expected reduction 0.25, got %f", s.Reduction)
	}
	if got := s.FinalConfidence(); !almostEqual(got, 0.55) {
		t.Errorf("Expected confidence 0.55, got %f", got)
	}
	if len(s.Notes) != 1 || !strings.Contains(s.Notes[0], "Engine A unavailable") {
		t.Errorf("Expected one Engine A note, got %v", s.Notes)
	}
	if len(s.Events) != 1 {
		t.Fatalf("Expected one audit event, got %d", len(s.Events))
	}
	ev := s.Events[0]
	if ev.Kind != KindEngineAFailure {
		t.Errorf("Expected kind %s, got %s", KindEngineAFailure, ev.Kind)
	}
	if ev.Subsystem != SubsystemEngineA {
		t.Errorf("Expected subsystem %s, got %s", SubsystemEngineA, ev.Subsystem)
	}
	if ev.Action != "fallback_to_engine_b" {
		t.Errorf("Expected fallback action, got %s", ev.Action)
	}
	if ev.Severity != "high" {
		t.Errorf("Expected high severity, got %s", ev.Severity)
	}
	if ev.Penalty != 0.25 {
		t.Errorf("Expected penalty 0.25, got %f", ev.Penalty)
	}
	if ev.Error != "connection refused" {
		t.Errorf("Expected error text recorded, got %q", ev.Error)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Expected event timestamp to be set")
	}
}

func TestPenaltiesAccumulate(t *testing.T) {
	tr := testTracker(t)
	s := tr.NewState("req-1")
	ctx := context.Background()

	tr.HandleEngineAFailure(ctx, s, errors.New("down"))
	tr.HandleRetrievalFailure(ctx, s, errors.New("timeout"))
	tr.HandleVerificationFailure(ctx, s, errors.New("503"))

	if want := 0.25 + 0.05 + 0.05; !almostEqual(s.Reduction, want) {
		t.Errorf("Expected reduction %f, got %f", want, s.Reduction)
	}
	if got := s.FinalConfidence(); !almostEqual(got, 0.45) {
		t.Errorf("Expected confidence 0.45, got %f", got)
	}
	if len(s.Notes) != 3 {
		t.Errorf("Expected 3 notes, got %d", len(s.Notes))
	}
	if len(s.Events) != 3 {
		t.Errorf("Expected 3 audit events, got %d", len(s.Events))
	}
}

func TestConfidenceNeverBelowFloor(t *testing.T) {
	tr := testTracker(t)
	s := tr.NewState("req-1")
	ctx := context.Background()
	err := errors.New("down")

	// Drive the reduction far past the base confidence.
	tr.HandleBothEnginesFailed(ctx, s, err)
	tr.HandleEndpointsExhausted(ctx, s, err)
	tr.HandleRetrievalFailure(ctx, s, err)
	tr.HandleVerificationFailure(ctx, s, err)
	tr.HandleKnowledgeGraphFailure(ctx, s, err)
	tr.HandleDatabaseFailure(ctx, s, err)
	tr.HandleEmbeddingsFailure(ctx, s, err)
	tr.HandleExternalDataFailure(ctx, s, err)

	if s.Reduction <= 0.80 {
		t.Fatalf("Test needs reduction past the base, got %f", s.Reduction)
	}
	if got := s.FinalConfidence(); got != 0.20 {
		t.Errorf("Expected confidence clamped at floor 0.20, got %f", got)
	}
}

func TestPartialFailureSmallerPenalty(t *testing.T) {
	tr := testTracker(t)
	ctx := context.Background()

	full := tr.NewState("full")
	tr.HandleEngineAFailure(ctx, full, errors.New("immediate"))

	partial := tr.NewState("partial")
	tr.HandleEngineAPartial(ctx, partial, 60, 100, errors.New("mid-session"))

	if partial.Reduction >= full.Reduction {
		t.Errorf("Partial penalty %f should be smaller than full penalty %f",
			partial.Reduction, full.Reduction)
	}
	if !partial.EngineAAvailable {
		t.Error("Partial failure should leave the engine marked available")
	}
	if !partial.EngineAPartial {
		t.Error("Expected partial flag set")
	}
	if partial.EngineACompletedTurns != 60 || partial.EngineAPlannedTurns != 100 {
		t.Errorf("Expected progress 60/100, got %d/%d",
			partial.EngineACompletedTurns, partial.EngineAPlannedTurns)
	}
	if len(partial.Notes) != 1 || !strings.Contains(partial.Notes[0], "60 of 100") {
		t.Errorf("Expected note with progress numbers, got %v", partial.Notes)
	}
}

func TestPolicyTableInvariants(t *testing.T) {
	if recoveryPolicies[KindEngineAPartial].penalty >= recoveryPolicies[KindEngineAFailure].penalty {
		t.Error("Engine A partial penalty must be smaller than full failure")
	}
	if recoveryPolicies[KindEngineBPartial].penalty >= recoveryPolicies[KindEngineBFailure].penalty {
		t.Error("Engine B partial penalty must be smaller than full failure")
	}
	if recoveryPolicies[KindEngineATimeout].penalty > recoveryPolicies[KindEngineAFailure].penalty {
		t.Error("Engine A timeout penalty must not exceed full failure")
	}
	if recoveryPolicies[KindEngineBTimeout].penalty > recoveryPolicies[KindEngineBFailure].penalty {
		t.Error("Engine B timeout penalty must not exceed full failure")
	}

	both := recoveryPolicies[KindBothEnginesFailed]
	for kind, p := range recoveryPolicies {
		if kind == KindBothEnginesFailed {
			continue
		}
		if p.penalty >= both.penalty {
			t.Errorf("both_engines_failed must carry the largest penalty, but %s has %f", kind, p.penalty)
		}
	}
	if both.severity != "critical" {
		t.Errorf("Expected critical severity for both_engines_failed, got %s", both.severity)
	}
}

func TestBothEnginesFailedFactsOnly(t *testing.T) {
	tr := testTracker(t)
	s := tr.NewState("req-1")

	tr.HandleBothEnginesFailed(context.Background(), s, errors.New("everything down"))

	if !s.FactsOnly {
		t.Error("Expected facts-only mode")
	}
	if s.EngineAAvailable || s.EngineBAvailable {
		t.Error("Expected both engines marked unavailable")
	}
	if got := s.FinalConfidence(); !almostEqual(got, 0.20) {
		t.Errorf("Expected confidence at the floor, got %f", got)
	}
	if s.Events[0].Severity != "critical" {
		t.Errorf("Expected critical event, got %s", s.Events[0].Severity)
	}
}

func TestFactsOnlyReservedForBothEnginesPath(t *testing.T) {
	tr := testTracker(t)
	s := tr.NewState("req-1")
	ctx := context.Background()
	err := errors.New("down")

	tr.HandleEngineAFailure(ctx, s, err)
	tr.HandleEngineBFailure(ctx, s, err)
	tr.HandleEndpointsExhausted(ctx, s, err)
	tr.HandleRetrievalFailure(ctx, s, err)

	if s.FactsOnly {
		t.Error("Only the both-engines-failed handler may set facts-only mode")
	}
}

func TestAvailabilityIsOneWay(t *testing.T) {
	tr := testTracker(t)
	s := tr.NewState("req-1")
	ctx := context.Background()

	tr.HandleRetrievalFailure(ctx, s, errors.New("first"))
	tr.HandleRetrievalFailure(ctx, s, errors.New("second"))

	if s.RetrievalAvailable {
		t.Error("Retrieval should stay unavailable")
	}
	if !almostEqual(s.Reduction, 0.10) {
		t.Errorf("Repeated failures should keep adding penalties, got %f", s.Reduction)
	}
	if len(s.Events) != 2 {
		t.Errorf("Expected 2 audit events, got %d", len(s.Events))
	}
}

func TestGenerateSummary(t *testing.T) {
	tr := testTracker(t)
	s := tr.NewState("req-1")
	ctx := context.Background()

	tr.HandleEngineBFailure(ctx, s, errors.New("down"))
	tr.HandleDatabaseFailure(ctx, s, errors.New("locked"))

	summary := tr.GenerateSummary(s)
	if !strings.HasPrefix(summary, "Analysis completed with reduced confidence (0.80 -> 0.55):") {
		t.Errorf("Unexpected summary header: %q", summary)
	}
	if !strings.Contains(summary, "Engine B unavailable") {
		t.Errorf("Summary missing engine note: %q", summary)
	}
	if !strings.Contains(summary, "not persisted") {
		t.Errorf("Summary missing database note: %q", summary)
	}
	if strings.HasSuffix(summary, "\n") {
		t.Error("Summary should not end with a newline")
	}
}

func TestGenerateSummaryDeduplicatesNotes(t *testing.T) {
	tr := testTracker(t)
	s := tr.NewState("req-1")
	ctx := context.Background()

	tr.HandleRetrievalFailure(ctx, s, errors.New("first"))
	tr.HandleRetrievalFailure(ctx, s, errors.New("second"))

	summary := tr.GenerateSummary(s)
	if got := strings.Count(summary, "Retrieval service unavailable"); got != 1 {
		t.Errorf("Expected deduplicated note to appear once, appeared %d times", got)
	}
}
