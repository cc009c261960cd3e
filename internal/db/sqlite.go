package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/tandemlabs/tandem-ai/internal/degrade"
	"github.com/tandemlabs/tandem-ai/internal/engine"
	"github.com/tandemlabs/tandem-ai/internal/models"
)

// schema defines the tables for the run-history store.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS analysis_runs (
    id                 TEXT PRIMARY KEY,
    query              TEXT NOT NULL,
    mode               TEXT NOT NULL DEFAULT 'auto',
    content            TEXT NOT NULL DEFAULT '',
    confidence         REAL NOT NULL DEFAULT 0.0,
    degraded           INTEGER NOT NULL DEFAULT 0,
    degradation        TEXT NOT NULL DEFAULT '',
    arb_outcome        TEXT NOT NULL DEFAULT '',
    arb_similarity     REAL NOT NULL DEFAULT 0.0,
    arb_contradictions INTEGER NOT NULL DEFAULT 0,
    arb_weight_a       REAL NOT NULL DEFAULT 0.0,
    arb_weight_b       REAL NOT NULL DEFAULT 0.0,
    duration_ms        INTEGER NOT NULL DEFAULT 0,
    created_at         DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON analysis_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_mode ON analysis_runs(mode);

CREATE TABLE IF NOT EXISTS run_outputs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    engine       TEXT NOT NULL,
    content      TEXT NOT NULL DEFAULT '',
    turns        INTEGER NOT NULL DEFAULT 0,
    confidence   REAL NOT NULL DEFAULT 0.0,
    key_claims   TEXT NOT NULL DEFAULT '[]',
    data_sources TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_run_outputs_run ON run_outputs(run_id);
`,
	},
	// Migration 2: per-run degradation event ledger
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS degradation_events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id    TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    subsystem TEXT NOT NULL DEFAULT '',
    kind      TEXT NOT NULL,
    action    TEXT NOT NULL DEFAULT '',
    severity  TEXT NOT NULL DEFAULT 'low',
    penalty   REAL NOT NULL DEFAULT 0.0,
    error     TEXT NOT NULL DEFAULT '',
    timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_degradation_events_run  ON degradation_events(run_id);
CREATE INDEX IF NOT EXISTS idx_degradation_events_kind ON degradation_events(kind);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// A single connection keeps the pragmas in force for every query
	// and keeps ":memory:" pointing at one database.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// Enable foreign-key constraints.
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Runs ─────────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	arb := rec.Arbitration
	if arb == nil {
		arb = &models.ArbitrationRecord{}
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO analysis_runs(id, query, mode, content, confidence, degraded, degradation,
            arb_outcome, arb_similarity, arb_contradictions, arb_weight_a, arb_weight_b,
            duration_ms, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            content            = excluded.content,
            confidence         = excluded.confidence,
            degraded           = excluded.degraded,
            degradation        = excluded.degradation,
            arb_outcome        = excluded.arb_outcome,
            arb_similarity     = excluded.arb_similarity,
            arb_contradictions = excluded.arb_contradictions,
            arb_weight_a       = excluded.arb_weight_a,
            arb_weight_b       = excluded.arb_weight_b,
            duration_ms        = excluded.duration_ms
    `,
		rec.ID, rec.Query, rec.Mode, rec.Content, rec.Confidence, rec.Degraded, rec.Degradation,
		arb.Outcome, arb.Similarity, arb.Contradictions, arb.WeightA, arb.WeightB,
		rec.Duration.Milliseconds(), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	// engine outputs
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_outputs WHERE run_id=?`, rec.ID); err != nil {
		return fmt.Errorf("delete outputs: %w", err)
	}
	for _, out := range []*models.EngineOutput{rec.EngineA, rec.EngineB} {
		if out == nil {
			continue
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO run_outputs(run_id, engine, content, turns, confidence, key_claims, data_sources)
            VALUES(?,?,?,?,?,?,?)
        `, rec.ID, out.Engine, out.Content, out.Turns, out.Confidence,
			marshalStrings(out.KeyClaims), marshalStrings(out.DataSources))
		if err != nil {
			return fmt.Errorf("insert output: %w", err)
		}
	}

	// degradation events
	if _, err := tx.ExecContext(ctx, `DELETE FROM degradation_events WHERE run_id=?`, rec.ID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	for _, ev := range rec.Events {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO degradation_events(run_id, subsystem, kind, action, severity, penalty, error, timestamp)
            VALUES(?,?,?,?,?,?,?,?)
        `, rec.ID, ev.Subsystem, string(ev.Kind), ev.Action, ev.Severity, ev.Penalty, ev.Error, ev.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE id=?`, id)
	rec, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	// engine outputs
	oRows, err := s.db.QueryContext(ctx, `SELECT engine,content,turns,confidence,key_claims,data_sources FROM run_outputs WHERE run_id=? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer oRows.Close()
	for oRows.Next() {
		out := &models.EngineOutput{}
		var claims, sources string
		if err := oRows.Scan(&out.Engine, &out.Content, &out.Turns, &out.Confidence, &claims, &sources); err != nil {
			return nil, err
		}
		out.KeyClaims = unmarshalStrings(claims)
		out.DataSources = unmarshalStrings(sources)
		switch out.Engine {
		case engine.EngineA:
			rec.EngineA = out
		case engine.EngineB:
			rec.EngineB = out
		}
	}

	// degradation events
	eRows, err := s.db.QueryContext(ctx, `SELECT subsystem,kind,action,severity,penalty,error,timestamp FROM degradation_events WHERE run_id=? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer eRows.Close()
	for eRows.Next() {
		var ev degrade.FailureEvent
		var kind, ts string
		if err := eRows.Scan(&ev.Subsystem, &kind, &ev.Action, &ev.Severity, &ev.Penalty, &ev.Error, &ts); err != nil {
			return nil, err
		}
		ev.Kind = degrade.FailureKind(kind)
		ev.Timestamp, _ = parseTime(ts)
		rec.Events = append(rec.Events, ev)
	}

	return rec, nil
}

func (s *sqliteStore) ListRuns(ctx context.Context, q RunQuery) ([]*RunRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	where, args := runFilter(q)
	query := `SELECT ` + runColumns + ` FROM analysis_runs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) CountRuns(ctx context.Context, q RunQuery) (int64, error) {
	where, args := runFilter(q)
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_runs`+where, args...).Scan(&count)
	return count, err
}

func (s *sqliteStore) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE id=?`, id)
	return err
}

func (s *sqliteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM analysis_runs WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

const runColumns = `id,query,mode,content,confidence,degraded,degradation,arb_outcome,arb_similarity,arb_contradictions,arb_weight_a,arb_weight_b,duration_ms,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	rec := &RunRecord{}
	arb := models.ArbitrationRecord{}
	var durationMS int64
	var createdAt string
	err := row.Scan(&rec.ID, &rec.Query, &rec.Mode, &rec.Content, &rec.Confidence,
		&rec.Degraded, &rec.Degradation,
		&arb.Outcome, &arb.Similarity, &arb.Contradictions, &arb.WeightA, &arb.WeightB,
		&durationMS, &createdAt)
	if err != nil {
		return nil, err
	}
	// An empty outcome means the run never reached arbitration.
	if arb.Outcome != "" {
		rec.Arbitration = &arb
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.CreatedAt, _ = parseTime(createdAt)
	return rec, nil
}

func runFilter(q RunQuery) (string, []any) {
	where := ` WHERE 1=1`
	args := []any{}
	if q.Mode != "" {
		where += ` AND mode = ?`
		args = append(args, q.Mode)
	}
	if q.DegradedOnly {
		where += ` AND degraded = 1`
	}
	if !q.From.IsZero() {
		where += ` AND created_at >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		where += ` AND created_at <= ?`
		args = append(args, q.To.UTC())
	}
	return where, args
}

func marshalStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
