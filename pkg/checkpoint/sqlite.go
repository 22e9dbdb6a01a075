package checkpoint

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite" // SQLite driver

	"foundry/pkg/logx"
	"foundry/pkg/proto"
)

// currentSchemaVersion supports forward migrations of the checkpoint table.
const currentSchemaVersion = 1

// SQLiteStore is the default checkpoint backend. It keeps one row per run id,
// updated transactionally with a monotonic sequence number and a blake2b
// checksum of the serialized state.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *logx.Logger
}

// NewSQLiteStore opens (creating if necessary) the checkpoint database at
// dbPath with WAL mode and a busy timeout.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping checkpoint database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logx.NewLogger("checkpoint"),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize checkpoint schema: %w", err)
	}

	s.logger.Info("Checkpoint store ready: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id     TEXT PRIMARY KEY,
			seq        INTEGER NOT NULL,
			state      TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case version != currentSchemaVersion:
		return fmt.Errorf("unsupported checkpoint schema version %d (want %d)", version, currentSchemaVersion)
	}
	return nil
}

// Save persists the state in a single transaction, bumping the per-run
// sequence number. The checksum covers the exact bytes stored so a torn or
// tampered row is detected on load rather than silently applied.
func (s *SQLiteStore) Save(ctx context.Context, st *proto.RunState) (int64, error) {
	if st == nil || st.RunID == "" {
		return 0, fmt.Errorf("state with run id is required")
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize state for run %s: %w", st.RunID, err)
	}
	sum := blake2b.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin checkpoint transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT seq FROM checkpoints WHERE run_id = ?`, st.RunID).Scan(&seq)
	switch {
	case err == sql.ErrNoRows:
		seq = 1
		_, err = tx.ExecContext(ctx,
			`INSERT INTO checkpoints (run_id, seq, state, checksum, updated_at) VALUES (?, ?, ?, ?, ?)`,
			st.RunID, seq, string(payload), checksum, time.Now().UTC())
	case err != nil:
		return 0, fmt.Errorf("failed to read checkpoint sequence for run %s: %w", st.RunID, err)
	default:
		seq++
		_, err = tx.ExecContext(ctx,
			`UPDATE checkpoints SET seq = ?, state = ?, checksum = ?, updated_at = ? WHERE run_id = ?`,
			seq, string(payload), checksum, time.Now().UTC(), st.RunID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write checkpoint for run %s: %w", st.RunID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint for run %s: %w", st.RunID, err)
	}
	return seq, nil
}

// Load returns the last committed state for the run.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (*proto.RunState, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id cannot be empty")
	}

	var payload, checksum string
	err := s.db.QueryRowContext(ctx,
		`SELECT state, checksum FROM checkpoints WHERE run_id = ?`, runID).Scan(&payload, &checksum)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint for run %s: %w", runID, err)
	}

	sum := blake2b.Sum256([]byte(payload))
	if hex.EncodeToString(sum[:]) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch for run %s", ErrCorrupt, runID)
	}

	var st proto.RunState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint for run %s: %w", runID, err)
	}
	return &st, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint database: %w", err)
	}
	return nil
}
