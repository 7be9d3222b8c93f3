package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"taskschedule/internal/core"
)

var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, task_name, status, scheduled_at, started_at, ended_at, exit_code, error, created_at`

// ClaimRun inserts run unless another engine already recorded a run for the
// same task and scheduled instant. It reports whether this caller won.
func (s *Store) ClaimRun(ctx context.Context, run *core.Run) (bool, error) {
	run.CreatedAt = time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskName, run.Status, formatTime(run.ScheduledAt),
		nullableTime(run.StartedAt), nullableTime(run.EndedAt), nullableInt(run.ExitCode), nullableString(run.Error),
		formatTime(run.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim run rows: %w", err)
	}
	return rows == 1, nil
}

func (s *Store) MarkRunStarted(ctx context.Context, id string, startedAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, started_at = ?
		WHERE id = ?
	`, core.RunStatusRunning, formatTime(startedAt), id)
	if err != nil {
		return fmt.Errorf("mark run started: %w", err)
	}
	return expectRow(res)
}

func (s *Store) MarkRunCompleted(ctx context.Context, id string, status core.RunStatus, endedAt time.Time, exitCode *int, errMsg *string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, ended_at = ?, exit_code = ?, error = ?
		WHERE id = ?
	`, status, formatTime(endedAt), nullableInt(exitCode), nullableString(errMsg), id)
	if err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}
	return expectRow(res)
}

func (s *Store) UpdateRunStatus(ctx context.Context, id string, status core.RunStatus, errMsg *string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, error = ?
		WHERE id = ?
	`, status, nullableString(errMsg), id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return expectRow(res)
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns a task's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, taskName string, limit, offset int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE task_name = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, taskName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunLogPath returns the path of the run's combined output log.
func (s *Store) RunLogPath(runID string) string {
	return filepath.Join(s.runDir(runID), "combined.log")
}

// EnsureRunLogDir makes sure the directory for a run's log exists.
func (s *Store) EnsureRunLogDir(runID string) error {
	return os.MkdirAll(s.runDir(runID), 0o755)
}

// PruneOldRunLogs removes log files beyond the retention limit for a task.
// The run rows stay.
func (s *Store) PruneOldRunLogs(ctx context.Context, taskName string) error {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id FROM runs
		WHERE task_name = ?
		ORDER BY created_at DESC
		LIMIT -1 OFFSET ?
	`, taskName, s.LogRetention)
	if err != nil {
		return fmt.Errorf("query runs for pruning: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		stale = append(stale, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	for _, id := range stale {
		_ = os.RemoveAll(s.runDir(id))
	}
	return nil
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.StateDir, "runs", runID)
}

func (s *Store) runIDs(ctx context.Context, taskName string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM runs WHERE task_name = ?`, taskName)
	if err != nil {
		return nil, fmt.Errorf("query run ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func expectRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.Run, error) {
	var (
		run         core.Run
		status      string
		scheduledAt string
		startedAt   sql.NullString
		endedAt     sql.NullString
		exitCode    sql.NullInt64
		errMsg      sql.NullString
		createdAt   string
		err         error
	)
	if err := scanner.Scan(&run.ID, &run.TaskName, &status, &scheduledAt, &startedAt, &endedAt, &exitCode, &errMsg, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = core.RunStatus(status)
	if run.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, err
	}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if run.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if run.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, err
	}
	if exitCode.Valid {
		val := int(exitCode.Int64)
		run.ExitCode = &val
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return &run, nil
}
