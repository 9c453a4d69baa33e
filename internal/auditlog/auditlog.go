// Package auditlog persists an append-only history of pipeline runs to
// SQLite, purely for observability. It is never consulted by the diff
// engine or the reconciler: observed state is always re-derived live from
// the hypervisor, never cached here.
package auditlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dataDirPerms = 0o750

// Store holds the SQLite handle for the pipeline run history.
type Store struct {
	Path string
	DB   *sql.DB
}

// Open connects to SQLite, applies pragmas, and creates the pipeline_runs
// table if it does not already exist.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("auditlog path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), dataDirPerms); err != nil {
		return nil, fmt.Errorf("create auditlog dir: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Store{Path: path, DB: conn}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_url TEXT NOT NULL,
		commit_hash TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		outcome TEXT NOT NULL,
		created_count INTEGER NOT NULL,
		updated_count INTEGER NOT NULL,
		deleted_count INTEGER NOT NULL,
		error TEXT
	)`)
	if err != nil {
		return fmt.Errorf("create pipeline_runs: %w", err)
	}
	return nil
}

// Close releases the underlying database connection. Safe to call on a nil
// Store.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Run is one recorded pipeline execution.
type Run struct {
	RepoURL      string
	CommitHash   string
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      string // "success" or "failure"
	CreatedCount int
	UpdatedCount int
	DeletedCount int
	Error        string
}

// RecordRun appends one pipeline run to the history. It never reads back
// prior rows to make a decision — this table has no consumers other than
// the `/v1/runs` control-surface endpoint.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO pipeline_runs
		(repo_url, commit_hash, started_at, finished_at, outcome, created_count, updated_count, deleted_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RepoURL, run.CommitHash,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Outcome, run.CreatedCount, run.UpdatedCount, run.DeletedCount, run.Error,
	)
	if err != nil {
		return fmt.Errorf("record pipeline run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT repo_url, commit_hash, started_at, finished_at, outcome,
		created_count, updated_count, deleted_count, error
		FROM pipeline_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pipeline_runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		var errText sql.NullString
		if err := rows.Scan(&r.RepoURL, &r.CommitHash, &started, &finished, &r.Outcome,
			&r.CreatedCount, &r.UpdatedCount, &r.DeletedCount, &errText); err != nil {
			return nil, fmt.Errorf("scan pipeline_runs: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		r.Error = errText.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline_runs: %w", err)
	}
	return runs, nil
}
