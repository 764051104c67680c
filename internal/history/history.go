// Package history is a run-history store. It records one row per
// completed task run so the control surface can show recent run outcomes
// without scanning the Task Store's in-memory Stats, which only keeps the
// most recent run.
//
// Built on database/sql with the modernc.org/sqlite driver: a
// single-writer connection pool (SetMaxOpenConns(1)), WAL + busy_timeout
// pragmas, and an embed-and-exec migration file.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"cloudgather/internal/domain"
)

//go:embed migrations.sql
var migrations string

// Store is the run-history database handle.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the sqlite database at path and applies
// migrations. One Store is shared process-wide; sqlite itself serializes
// writers, so a single *sql.DB connection is sufficient.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Run is one recorded run-history row.
type Run struct {
	ID         int64
	TaskID     string
	TaskKind   domain.TaskKind
	RunKind    domain.RunKind
	StartedAt  time.Time
	Duration   time.Duration
	Stats      domain.Stats
	Error      string
}

// Append records a completed run. Called by the scheduler immediately
// after each dispatch returns.
func (s *Store) Append(ctx context.Context, r Run) error {
	errStr := sql.NullString{}
	if r.Error != "" {
		errStr = sql.NullString{String: r.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_history
			(task_id, task_kind, run_kind, started_at, duration_ms,
			 total, success, skipped, skipped_filtered, failed, protection_tripped, error)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.TaskID, string(r.TaskKind), string(r.RunKind), r.StartedAt.Format(time.RFC3339Nano), r.Duration.Milliseconds(),
		r.Stats.Total, r.Stats.Success, r.Stats.Skipped, r.Stats.SkippedFiltered, r.Stats.Failed, r.Stats.ProtectionTrip, errStr,
	)
	if err != nil {
		return err
	}
	return s.pruneLocked(ctx, r.TaskID)
}

// retainPerTask bounds how many history rows survive per task, so a task
// that runs every minute for months doesn't grow the database unbounded.
const retainPerTask = 200

func (s *Store) pruneLocked(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM run_history
		WHERE task_id = ? AND id NOT IN (
			SELECT id FROM run_history WHERE task_id = ? ORDER BY id DESC LIMIT ?
		)`, taskID, taskID, retainPerTask)
	return err
}

// Recent returns the most recent n runs for taskID, newest first.
func (s *Store) Recent(ctx context.Context, taskID string, n int) ([]Run, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, task_kind, run_kind, started_at, duration_ms,
		       total, success, skipped, skipped_filtered, failed, protection_tripped, error
		FROM run_history WHERE task_id = ? ORDER BY id DESC LIMIT ?`, taskID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var taskKind, runKind, startedAt string
		var durationMS int64
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.TaskID, &taskKind, &runKind, &startedAt, &durationMS,
			&r.Stats.Total, &r.Stats.Success, &r.Stats.Skipped, &r.Stats.SkippedFiltered, &r.Stats.Failed, &r.Stats.ProtectionTrip, &errStr); err != nil {
			return nil, err
		}
		r.TaskKind = domain.TaskKind(taskKind)
		r.RunKind = domain.RunKind(runKind)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if errStr.Valid {
			r.Error = errStr.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
