// Package history keeps a queryable SQLite record of runs, stage activity,
// and safety verdicts. Unlike the checkpoint store it is append-oriented:
// rows survive run completion and feed the CLI's history views.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"foundry/pkg/logx"
	"foundry/pkg/proto"
)

// ErrNotFound is returned when a run has no history rows.
var ErrNotFound = errors.New("run not found in history")

// RunRecord summarizes one run for listing and inspection.
type RunRecord struct {
	RunID         string
	Intent        string
	MaxIterations int
	Outcome       string // "" while active, then "completed", "cancelled"
	FinalOutput   string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// StageRecord is one audit entry copied out of a run's log.
type StageRecord struct {
	Stage     proto.Stage
	Iteration int
	Note      string
	CreatedAt time.Time
}

// SafetyRecord is one safety verdict with its iteration context.
type SafetyRecord struct {
	Iteration       int
	Level           proto.SafetyLevel
	Concerns        []string
	Recommendations []string
	CreatedAt       time.Time
}

// Store persists run history in SQLite.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logx.NewLogger("history")}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		intent TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		max_iterations INTEGER NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		final_output TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS stage_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		stage TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		note TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stage_log_run ON stage_log(run_id, id);

	CREATE TABLE IF NOT EXISTS safety_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		iteration INTEGER NOT NULL,
		level TEXT NOT NULL,
		concerns TEXT NOT NULL DEFAULT '[]',
		recommendations TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_safety_log_run ON safety_log(run_id, id);

	INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, datetime('now'));
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create history tables: %w", err)
	}
	return nil
}

// RecordRunCreated inserts the run row. Idempotent per run id.
func (s *Store) RecordRunCreated(ctx context.Context, st *proto.RunState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO runs (run_id, intent, context, max_iterations, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		st.RunID, st.Intent, st.Context, st.MaxIterations, st.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", st.RunID, err)
	}
	return nil
}

// RecordLogEntry appends one stage audit entry for a run.
func (s *Store) RecordLogEntry(ctx context.Context, runID string, entry proto.LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_log (run_id, stage, iteration, note, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		runID, string(entry.Stage), entry.Iteration, entry.Note,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record log entry for run %s: %w", runID, err)
	}
	return nil
}

// RecordSafety appends one safety verdict for a run.
func (s *Store) RecordSafety(ctx context.Context, runID string, iteration int, sa *proto.SafetyAssessment) error {
	if sa == nil {
		return nil
	}
	concerns, err := json.Marshal(sa.Concerns)
	if err != nil {
		return fmt.Errorf("failed to serialize safety concerns: %w", err)
	}
	recommendations, err := json.Marshal(sa.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to serialize safety recommendations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO safety_log (run_id, iteration, level, concerns, recommendations, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, iteration, string(sa.Level), string(concerns), string(recommendations),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record safety verdict for run %s: %w", runID, err)
	}
	return nil
}

// RecordCompletion marks the run finished with its outcome and final output.
func (s *Store) RecordCompletion(ctx context.Context, runID, outcome, finalOutput string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET outcome = ?, final_output = ?, completed_at = ?
		WHERE run_id = ?`,
		outcome, finalOutput, time.Now().UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("failed to record completion for run %s: %w", runID, err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

// GetRun returns the run summary and its full stage log.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, []StageRecord, error) {
	rec, err := s.scanRun(s.db.QueryRowContext(ctx, `
		SELECT run_id, intent, max_iterations, outcome, final_output, created_at, completed_at
		FROM runs WHERE run_id = ?`, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, iteration, note, created_at FROM stage_log
		WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load stage log for run %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []StageRecord
	for rows.Next() {
		var e StageRecord
		var stage, createdAt string
		if err := rows.Scan(&stage, &e.Iteration, &e.Note, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan stage log row: %w", err)
		}
		e.Stage = proto.Stage(stage)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read stage log for run %s: %w", runID, err)
	}
	return rec, entries, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, intent, max_iterations, outcome, final_output, created_at, completed_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := s.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run rows: %w", err)
	}
	return records, nil
}

// ListSafety returns every safety verdict recorded for a run, oldest first.
func (s *Store) ListSafety(ctx context.Context, runID string) ([]SafetyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, level, concerns, recommendations, created_at
		FROM safety_log WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load safety log for run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []SafetyRecord
	for rows.Next() {
		var r SafetyRecord
		var level, concerns, recommendations, createdAt string
		if err := rows.Scan(&r.Iteration, &level, &concerns, &recommendations, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan safety row: %w", err)
		}
		r.Level = proto.SafetyLevel(level)
		if err := json.Unmarshal([]byte(concerns), &r.Concerns); err != nil {
			return nil, fmt.Errorf("failed to parse safety concerns: %w", err)
		}
		if err := json.Unmarshal([]byte(recommendations), &r.Recommendations); err != nil {
			return nil, fmt.Errorf("failed to parse safety recommendations: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read safety rows: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRun(row rowScanner) (*RunRecord, error) {
	var rec RunRecord
	var createdAt string
	var completedAt sql.NullString
	if err := row.Scan(&rec.RunID, &rec.Intent, &rec.MaxIterations, &rec.Outcome,
		&rec.FinalOutput, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err == nil {
			rec.CompletedAt = &t
		}
	}
	return &rec, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close history database: %w", err)
	}
	return nil
}
