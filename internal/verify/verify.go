// Package verify proves that the task service actually runs scheduled tasks:
// it schedules this executable a few seconds out with the signal argument and
// waits for the spawned process to set a named event.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"taskschedule/internal/datespec"
	"taskschedule/internal/event"
	"taskschedule/internal/workflow"
)

const (
	EventName  = "TaskSchedulerVerificationEvent"
	TaskName   = "TaskSchedulerVerificationTask"
	SignalArg  = "signal"
	StartDelay = 3 * time.Second
	Timeout    = 10 * time.Second
)

var (
	ErrScheduleFailed = errors.New("verification task could not be scheduled")
	ErrNotSignaled    = errors.New("verification task did not signal in time")
)

// TaskScheduler is the part of the workflow the protocol drives.
type TaskScheduler interface {
	ScheduleDailyExecutableTask(ctx context.Context, req workflow.Request) workflow.Result
	DeleteTask(ctx context.Context, name string) bool
}

// Events creates and opens named events.
type Events interface {
	Create(name string) (event.Event, error)
	Open(name string) (event.Event, error)
}

// Outcome reports a verification run. Cleanup failure is reported on its own
// and does not change Passed.
type Outcome struct {
	Passed        bool
	CleanupFailed bool
	StartedAt     time.Time
	Elapsed       time.Duration
	Err           error
}

// Protocol runs one verification. Zero fields fall back to the package
// defaults.
type Protocol struct {
	Scheduler  TaskScheduler
	Events     Events
	Executable func() (string, error)
	Now        func() time.Time
	Logger     *slog.Logger
	StartDelay time.Duration
	Timeout    time.Duration
	TaskName   string
	EventName  string
}

// Run schedules the signal task, waits for it and deletes the task.
func (p *Protocol) Run(ctx context.Context) Outcome {
	p.defaults()

	exe, err := p.Executable()
	if err != nil {
		return Outcome{Err: fmt.Errorf("resolve executable: %w", err)}
	}
	now := p.Now()
	startDate, startTime := datespec.FromTime(now.Add(p.StartDelay))

	ev, err := p.Events.Create(p.EventName)
	if err != nil {
		return Outcome{Err: fmt.Errorf("create event: %w", err)}
	}
	defer func() {
		if err := ev.Close(); err != nil {
			p.Logger.Warn("close event", "event", p.EventName, "err", err)
		}
	}()

	req := workflow.Request{
		TaskName:       p.TaskName,
		StartDate:      startDate,
		DailyStartTime: startTime,
		ExecutablePath: exe,
		Arguments:      []string{SignalArg},
	}
	out := Outcome{StartedAt: now}
	if p.Scheduler.ScheduleDailyExecutableTask(ctx, req) != workflow.ResultOK {
		out.Err = ErrScheduleFailed
	} else {
		p.Logger.Info("waiting for scheduled task", "task", p.TaskName, "timeout", p.Timeout)
		signaled, err := ev.Wait(ctx, p.Timeout)
		switch {
		case err != nil:
			out.Err = fmt.Errorf("wait for event: %w", err)
		case !signaled:
			out.Err = ErrNotSignaled
		default:
			out.Passed = true
		}
	}
	out.Elapsed = p.Now().Sub(now)

	// Use a fresh context so a cancelled run still removes its task.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if !p.Scheduler.DeleteTask(cleanupCtx, p.TaskName) {
		out.CleanupFailed = true
		p.Logger.Warn("delete verification task", "task", p.TaskName)
	}
	return out
}

func (p *Protocol) defaults() {
	if p.Executable == nil {
		p.Executable = os.Executable
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.StartDelay <= 0 {
		p.StartDelay = StartDelay
	}
	if p.Timeout <= 0 {
		p.Timeout = Timeout
	}
	if p.TaskName == "" {
		p.TaskName = TaskName
	}
	if p.EventName == "" {
		p.EventName = EventName
	}
}

// Signal sets the named event. It is what the scheduled task runs.
func Signal(events Events, name string) error {
	if name == "" {
		name = EventName
	}
	ev, err := events.Open(name)
	if err != nil {
		return fmt.Errorf("open event: %w", err)
	}
	defer ev.Close()
	if err := ev.Set(); err != nil {
		return err
	}
	return nil
}
