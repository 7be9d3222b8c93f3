package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"taskschedule/internal/core"
	"taskschedule/internal/taskservice"
)

const taskColumns = `name, description, logon_type, start_when_available, trigger_id, start_boundary, end_boundary,
	days_interval, exec_path, exec_args, working_dir, enabled, last_run_at, next_run_at, registered_at, updated_at`

// InsertTask registers a new task. It fails with taskservice.ErrTaskExists
// when the name is taken.
func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC()
	task.RegisteredAt = now
	task.UpdatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)
	`, taskArgs(task)...)
	if err != nil {
		if isUniqueViolation(err) {
			return taskservice.ErrTaskExists
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ReplaceTask overwrites the definition of an existing task. Run history is
// kept but the task counts as freshly registered.
func (s *Store) ReplaceTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC()
	task.RegisteredAt = now
	task.UpdatedAt = now
	task.LastRunAt = nil
	task.NextRunAt = nil
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks
		SET description = ?, logon_type = ?, start_when_available = ?, trigger_id = ?, start_boundary = ?,
			end_boundary = ?, days_interval = ?, exec_path = ?, exec_args = ?, working_dir = ?, enabled = ?,
			last_run_at = NULL, next_run_at = NULL, registered_at = ?, updated_at = ?
		WHERE name = ?
	`, append(taskArgs(task)[1:], task.Name)...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows: %w", err)
	}
	if rows == 0 {
		return taskservice.ErrTaskNotFound
	}
	return nil
}

// SetTaskEnabled switches a task on or off.
func (s *Store) SetTaskEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE tasks SET enabled = ?, updated_at = ? WHERE name = ?
	`, enabled, formatTime(time.Now()), name)
	if err != nil {
		return fmt.Errorf("update task enabled: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return taskservice.ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a task together with its run history and logs.
func (s *Store) DeleteTask(ctx context.Context, name string) error {
	runIDs, err := s.runIDs(ctx, name)
	if err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete task: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return taskservice.ErrTaskNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE task_name = ?`, name); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete task: %w", err)
	}
	for _, id := range runIDs {
		_ = os.RemoveAll(s.runDir(id))
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, name string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE name = ?`, name)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, taskservice.ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns all tasks ordered by name.
func (s *Store) ListTasks(ctx context.Context) ([]*core.Task, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTaskScheduleInfo records run times. It leaves updated_at alone so
// engines do not treat it as a definition change.
func (s *Store) UpdateTaskScheduleInfo(ctx context.Context, name string, lastRunAt, nextRunAt *time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tasks SET last_run_at = ?, next_run_at = ? WHERE name = ?
	`, nullableTime(lastRunAt), nullableTime(nextRunAt), name)
	if err != nil {
		return fmt.Errorf("update task schedule info: %w", err)
	}
	return nil
}

func (s *Store) UpdateTaskNextRun(ctx context.Context, name string, nextRunAt *time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE tasks SET next_run_at = ? WHERE name = ?
	`, nullableTime(nextRunAt), name)
	if err != nil {
		return fmt.Errorf("update next_run_at: %w", err)
	}
	return nil
}

func taskArgs(task *core.Task) []any {
	return []any{
		task.Name, task.Description, task.LogonType, task.StartWhenAvailable, task.TriggerID,
		task.StartBoundary, task.EndBoundary, task.DaysInterval, task.ExecPath, task.ExecArgs,
		task.WorkingDir, task.Enabled, formatTime(task.RegisteredAt), formatTime(task.UpdatedAt),
	}
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		task         core.Task
		lastRun      sql.NullString
		nextRun      sql.NullString
		registeredAt string
		updatedAt    string
		err          error
	)
	if err := scanner.Scan(&task.Name, &task.Description, &task.LogonType, &task.StartWhenAvailable, &task.TriggerID,
		&task.StartBoundary, &task.EndBoundary, &task.DaysInterval, &task.ExecPath, &task.ExecArgs, &task.WorkingDir,
		&task.Enabled, &lastRun, &nextRun, &registeredAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if task.LastRunAt, err = parseNullTime(lastRun); err != nil {
		return nil, err
	}
	if task.NextRunAt, err = parseNullTime(nextRun); err != nil {
		return nil, err
	}
	if task.RegisteredAt, err = parseTime(registeredAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &task, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}
