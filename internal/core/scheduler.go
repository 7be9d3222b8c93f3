package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"taskschedule/internal/taskservice"
)

// Store abstracts the registry used by the scheduler and executor.
type Store interface {
	// Task operations
	GetTask(ctx context.Context, name string) (*Task, error)
	ListTasks(ctx context.Context) ([]*Task, error)
	UpdateTaskScheduleInfo(ctx context.Context, name string, lastRunAt, nextRunAt *time.Time) error
	UpdateTaskNextRun(ctx context.Context, name string, nextRunAt *time.Time) error

	// Run operations
	ClaimRun(ctx context.Context, run *Run) (bool, error)
	MarkRunStarted(ctx context.Context, id string, startedAt time.Time) error
	MarkRunCompleted(ctx context.Context, id string, status RunStatus, endedAt time.Time, exitCode *int, errMsg *string) error
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error

	// Log helpers
	EnsureRunLogDir(runID string) error
	RunLogPath(runID string) string
	PruneOldRunLogs(ctx context.Context, taskName string) error
}

// Executor runs the action of a task.
type Executor interface {
	Execute(ctx context.Context, task *Task, run *Run) error
}

var ErrTaskRunning = errors.New("task is already running")

type entry struct {
	id      cron.EntryID
	version time.Time
}

// Scheduler fires the daily triggers of registered tasks.
type Scheduler struct {
	store    Store
	executor Executor
	logger   *slog.Logger
	location *time.Location

	cron    *cron.Cron
	entryMu sync.RWMutex
	entries map[string]entry
	syncMu  sync.Mutex

	running sync.Map // task name -> struct{}{}

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(store Store, executor Executor, logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.Local
	}
	c := cron.New(cron.WithLocation(location))
	return &Scheduler{
		store:    store,
		executor: executor,
		logger:   logger,
		location: location,
		cron:     c,
		entries:  make(map[string]entry),
	}
}

// NewRunID returns a random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Start begins the scheduling loop. ctx is used for background operations (DB updates, executor runs).
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop stops the scheduler and waits for currently running cron jobs to finish dispatch.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Sync loads all tasks from the store and brings the trigger entries in line
// with them. Unchanged tasks keep their entries.
func (s *Scheduler) Sync(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		seen[task.Name] = struct{}{}
		if !task.Enabled {
			s.unscheduleTask(task.Name)
			continue
		}
		if s.isCurrent(task) {
			continue
		}
		if err := s.scheduleTask(ctx, task); err != nil {
			s.logger.Error("schedule task", "task", task.Name, "err", err)
		}
	}
	for _, name := range s.scheduledNames() {
		if _, ok := seen[name]; !ok {
			s.logger.Info("task removed", "task", name)
			s.unscheduleTask(name)
		}
	}
	return nil
}

// AddOrUpdateTask updates the trigger entry for a task that may have been created or modified.
func (s *Scheduler) AddOrUpdateTask(ctx context.Context, task *Task) error {
	s.unscheduleTask(task.Name)
	if task.Enabled {
		if err := s.scheduleTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTask stops scheduling the named task.
func (s *Scheduler) RemoveTask(name string) {
	s.unscheduleTask(name)
}

// RunTaskNow starts the task immediately if it is not already running.
func (s *Scheduler) RunTaskNow(ctx context.Context, task *Task) (*Run, error) {
	if s.isTaskRunning(task.Name) {
		return nil, ErrTaskRunning
	}
	run := &Run{
		ID:          NewRunID(),
		TaskName:    task.Name,
		Status:      RunStatusQueued,
		ScheduledAt: time.Now().UTC(),
	}
	claimed, err := s.store.ClaimRun(ctx, run)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrTaskRunning
	}
	s.launchExecution(task, run)
	return run, nil
}

// Scheduled reports whether the named task has a trigger entry.
func (s *Scheduler) Scheduled(name string) bool {
	_, ok := s.getEntry(name)
	return ok
}

func (s *Scheduler) scheduleTask(ctx context.Context, task *Task) error {
	s.unscheduleTask(task.Name)
	schedule, err := NewDailySchedule(task.StartBoundary, task.EndBoundary, task.DaysInterval, s.location)
	if err != nil {
		return err
	}
	now := time.Now().In(s.location)
	var nextPtr *time.Time
	if next := schedule.Next(now); !next.IsZero() {
		nextUTC := next.UTC()
		nextPtr = &nextUTC
	}
	if err := s.store.UpdateTaskNextRun(ctx, task.Name, nextPtr); err != nil {
		s.logger.Warn("update next_run_at failed", "task", task.Name, "err", err)
	}

	name := task.Name
	job := func() {
		e, ok := s.getEntry(name)
		if !ok {
			return
		}
		cronEntry := s.cron.Entry(e.id)
		scheduledAt := cronEntry.Prev
		if scheduledAt.IsZero() {
			scheduledAt = time.Now().In(s.location)
		}
		var nextPtr *time.Time
		if next := cronEntry.Next; !next.IsZero() {
			nextUTC := next.UTC()
			nextPtr = &nextUTC
		}
		if err := s.store.UpdateTaskNextRun(s.ctxOrBackground(), name, nextPtr); err != nil {
			s.logger.Error("update next_run_at", "task", name, "err", err)
		}
		s.handleScheduledTrigger(name, scheduledAt.UTC())
	}
	entryID := s.cron.Schedule(schedule, cron.FuncJob(job))
	s.setEntry(name, entry{id: entryID, version: task.UpdatedAt})
	s.logger.Debug("task scheduled", "task", name, "start", task.StartBoundary, "end", task.EndBoundary)

	if missed, ok := missedOccurrence(schedule, task, now); ok {
		s.logger.Info("running missed occurrence", "task", name, "scheduled_at", missed)
		go s.handleScheduledTrigger(name, missed.UTC())
	}
	return nil
}

// missedOccurrence returns the latest occurrence that passed without a run
// while nothing was watching, for tasks that start when available.
func missedOccurrence(schedule *DailySchedule, task *Task, now time.Time) (time.Time, bool) {
	if !task.StartWhenAvailable {
		return time.Time{}, false
	}
	prev := schedule.Prev(now)
	if prev.IsZero() || !prev.After(task.RegisteredAt) {
		return time.Time{}, false
	}
	if task.LastRunAt != nil && !prev.After(*task.LastRunAt) {
		return time.Time{}, false
	}
	return prev, true
}

func (s *Scheduler) handleScheduledTrigger(name string, scheduledAt time.Time) {
	ctx := s.ctxOrBackground()
	task, err := s.store.GetTask(ctx, name)
	if err != nil {
		if !errors.Is(err, taskservice.ErrTaskNotFound) {
			s.logger.Error("fetch task for scheduled run", "task", name, "err", err)
		}
		return
	}
	if !task.Enabled {
		return
	}
	run := &Run{
		ID:          NewRunID(),
		TaskName:    task.Name,
		Status:      RunStatusQueued,
		ScheduledAt: scheduledAt,
	}
	claimed, err := s.store.ClaimRun(ctx, run)
	if err != nil {
		s.logger.Error("claim run", "task", task.Name, "err", err)
		return
	}
	if !claimed {
		s.logger.Debug("occurrence already claimed", "task", task.Name, "scheduled_at", scheduledAt)
		return
	}
	if s.isTaskRunning(task.Name) {
		s.logger.Info("skipping run because task is already running", "task", task.Name)
		msg := "previous run still in progress"
		if err := s.store.UpdateRunStatus(ctx, run.ID, RunStatusSkipped, &msg); err != nil {
			s.logger.Error("record skipped run", "task", task.Name, "err", err)
		}
		return
	}
	s.launchExecution(task, run)
}

func (s *Scheduler) launchExecution(task *Task, run *Run) {
	s.markTaskRunning(task.Name, true)
	go func() {
		defer s.markTaskRunning(task.Name, false)
		ctx := s.ctxOrBackground()
		if err := s.executor.Execute(ctx, task, run); err != nil {
			s.logger.Error("execute task", "task", task.Name, "run_id", run.ID, "err", err)
		}
		if err := s.store.PruneOldRunLogs(ctx, task.Name); err != nil {
			s.logger.Warn("prune run logs", "task", task.Name, "err", err)
		}
	}()
}

func (s *Scheduler) isCurrent(task *Task) bool {
	e, ok := s.getEntry(task.Name)
	return ok && e.version.Equal(task.UpdatedAt)
}

func (s *Scheduler) setEntry(name string, e entry) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	s.entries[name] = e
}

func (s *Scheduler) getEntry(name string) (entry, bool) {
	s.entryMu.RLock()
	defer s.entryMu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

func (s *Scheduler) scheduledNames() []string {
	s.entryMu.RLock()
	defer s.entryMu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) unscheduleTask(name string) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	if e, ok := s.entries[name]; ok {
		s.cron.Remove(e.id)
		delete(s.entries, name)
	}
}

func (s *Scheduler) isTaskRunning(name string) bool {
	_, ok := s.running.Load(name)
	return ok
}

func (s *Scheduler) markTaskRunning(name string, running bool) {
	if running {
		s.running.Store(name, struct{}{})
	} else {
		s.running.Delete(name)
	}
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
