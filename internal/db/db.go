package db

import (
	"context"
	"time"

	"github.com/tandemlabs/tandem-ai/internal/degrade"
	"github.com/tandemlabs/tandem-ai/internal/models"
)

// Package db implements the optional run-history store: completed
// analysis runs, the engine outputs behind them, and the degradation
// events recorded along the way, persisted to a local SQLite file.
//
// Persistence is best-effort. The orchestrator saves each finished run
// after the result is assembled; a failed save is audited and counted
// but never fails the request, and the decision path itself reads
// nothing back. The REST surface queries the store for run history.
//
// Responsibilities:
//   - Versioned schema migrations on open
//   - Upsert-by-run-id writes, child rows replaced in one transaction
//   - History queries with mode, degraded, and time-window filters
//   - Retention pruning by age
//
// Integration Points:
//   - Orchestrator: writes one RunRecord per completed request
//   - Server: GET /api/v1/runs reads summaries and single runs
//   - Config: database.enabled gates construction, database.path
//     locates the file

// RunRecord is one persisted analysis run: the orchestrator's final
// result plus the degradation events recorded while producing it.
type RunRecord struct {
	models.AnalysisResult
	Events []degrade.FailureEvent `json:"events,omitempty"`
}

// RunQuery filters run-history queries. Zero values mean no filter.
type RunQuery struct {
	Mode         string
	DegradedOnly bool
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Store is the run-history persistence interface.
type Store interface {
	// SaveRun creates or replaces a run and its child records.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// GetRun retrieves one run with its engine outputs and degradation
	// events.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns matching run rows, newest first, without child
	// records.
	ListRuns(ctx context.Context, q RunQuery) ([]*RunRecord, error)

	// CountRuns reports how many runs match the query's filters.
	CountRuns(ctx context.Context, q RunQuery) (int64, error)

	// DeleteRun removes a run and its child records.
	DeleteRun(ctx context.Context, id string) error

	// PruneRuns deletes runs created before the cutoff and reports how
	// many were removed.
	PruneRuns(ctx context.Context, before time.Time) (int64, error)

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}
