package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opsrun/opsrun/engine"
)

// ErrRunNotFound is returned by Get for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore persists runs in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the run database at
// dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	createSQL := `CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		pipeline    TEXT NOT NULL,
		status      TEXT NOT NULL,
		dry_run     INTEGER NOT NULL DEFAULT 0,
		started_at  TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		task_count  INTEGER NOT NULL,
		result      TEXT NOT NULL
	)`
	if _, err := db.Exec(createSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save inserts a finished run. The full result is stored as JSON
// alongside the queryable summary columns.
func (s *SQLiteStore) Save(ctx context.Context, result *engine.PipelineResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, pipeline, status, dry_run, started_at, duration_ms, task_count, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID, result.Pipeline, string(result.Status), boolToInt(result.DryRun),
		result.StartedAt.UTC().Format(time.RFC3339Nano), result.Duration.Milliseconds(),
		len(result.Tasks), string(payload))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// List returns run summaries, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT run_id, pipeline, status, dry_run, started_at, duration_ms, task_count
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			rs         RunSummary
			dryRun     int
			startedAt  string
			durationMs int64
		)
		if err := rows.Scan(&rs.RunID, &rs.Pipeline, &rs.Status, &dryRun, &startedAt, &durationMs, &rs.TaskCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rs.DryRun = dryRun != 0
		rs.Duration = time.Duration(durationMs) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			rs.StartedAt = t
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// Get returns the full stored result for runID.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (*engine.PipelineResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	var result engine.PipelineResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode stored run %s: %w", runID, err)
	}
	return &result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
