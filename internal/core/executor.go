package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"

	"taskschedule/internal/notify"
)

// CommandExecutor runs a task's executable and records the result.
type CommandExecutor struct {
	store    Store
	logger   *slog.Logger
	notifier notify.Notifier
	timeout  time.Duration
}

// ExecutorOption configures a CommandExecutor.
type ExecutorOption func(*CommandExecutor)

// WithTimeout stops runs that take longer than d. Zero disables the limit.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *CommandExecutor) { e.timeout = d }
}

// WithNotifier sends a notification for every failed or timed out run.
func WithNotifier(n notify.Notifier) ExecutorOption {
	return func(e *CommandExecutor) { e.notifier = n }
}

// NewCommandExecutor creates a new executor.
func NewCommandExecutor(store Store, logger *slog.Logger, opts ...ExecutorOption) *CommandExecutor {
	e := &CommandExecutor{
		store:    store,
		logger:   logger,
		notifier: &notify.NoOpNotifier{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the task's action and records run status.
func (e *CommandExecutor) Execute(ctx context.Context, task *Task, run *Run) error {
	if err := e.store.EnsureRunLogDir(run.ID); err != nil {
		return fmt.Errorf("ensure run log dir: %w", err)
	}
	logPath := e.store.RunLogPath(run.ID)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	runLogWriter := &syncWriter{w: logFile}

	startedAt := time.Now().UTC()
	if err := e.store.MarkRunStarted(ctx, run.ID, startedAt); err != nil {
		return fmt.Errorf("mark run started: %w", err)
	}
	if err := e.store.UpdateTaskScheduleInfo(ctx, task.Name, &startedAt, task.NextRunAt); err != nil {
		e.logger.Warn("update task schedule info", "task", task.Name, "err", err)
	}

	cmd, err := commandForTask(ctx, task)
	if err != nil {
		msg := err.Error()
		_ = e.store.MarkRunCompleted(ctx, run.ID, RunStatusFailed, time.Now().UTC(), nil, &msg)
		e.notifyFailure(ctx, task, RunStatusFailed, msg)
		return err
	}
	cmd.Stdout = runLogWriter
	cmd.Stderr = runLogWriter

	var timeoutTriggered atomic.Bool
	var watchdog *time.Timer
	if e.timeout > 0 {
		watchdog = time.AfterFunc(e.timeout, func() {
			timeoutTriggered.Store(true)
			e.logger.Warn("task exceeded timeout, sending termination", "task", task.Name, "run_id", run.ID, "timeout", e.timeout)
			sendTermination(cmd.Process)
			time.AfterFunc(5*time.Second, func() {
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
			})
		})
	}

	e.logger.Info("starting task", "task", task.Name, "run_id", run.ID, "exe", task.ExecPath)
	if err := cmd.Start(); err != nil {
		if watchdog != nil {
			watchdog.Stop()
		}
		msg := fmt.Sprintf("failed to start command: %v", err)
		_ = e.store.MarkRunCompleted(ctx, run.ID, RunStatusFailed, time.Now().UTC(), nil, &msg)
		e.notifyFailure(ctx, task, RunStatusFailed, msg)
		return fmt.Errorf("start command: %w", err)
	}
	waitErr := cmd.Wait()
	if watchdog != nil {
		watchdog.Stop()
	}

	endedAt := time.Now().UTC()
	var exitCode *int
	var status RunStatus
	var errMsg *string

	if timeoutTriggered.Load() {
		status = RunStatusTimedOut
		errMsg = ptrString("run timed out")
	} else if waitErr == nil {
		status = RunStatusSucceeded
		code := 0
		exitCode = &code
	} else {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			exitCode = &code
		}
		status = RunStatusFailed
		errMsg = ptrString(waitErr.Error())
	}

	if err := e.store.MarkRunCompleted(ctx, run.ID, status, endedAt, exitCode, errMsg); err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}
	if status != RunStatusSucceeded {
		e.notifyFailure(ctx, task, status, *errMsg)
	}
	e.logger.Info("task finished", "task", task.Name, "run_id", run.ID, "status", status)
	return nil
}

func (e *CommandExecutor) notifyFailure(ctx context.Context, task *Task, status RunStatus, detail string) {
	title := fmt.Sprintf("task %s %s", task.Name, status)
	if err := e.notifier.Send(ctx, title, detail); err != nil {
		e.logger.Warn("send notification", "task", task.Name, "err", err)
	}
}

// commandForTask runs the executable directly, with the argument string split
// the way a shell would.
func commandForTask(ctx context.Context, task *Task) (*exec.Cmd, error) {
	args, err := shellquote.Split(task.ExecArgs)
	if err != nil {
		return nil, fmt.Errorf("split arguments %q: %w", task.ExecArgs, err)
	}
	cmd := exec.CommandContext(ctx, task.ExecPath, args...) // #nosec G204
	if task.WorkingDir != "" {
		cmd.Dir = task.WorkingDir
	}
	return cmd, nil
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func sendTermination(process *os.Process) {
	if process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = process.Kill()
		return
	}
	_ = process.Signal(syscall.SIGTERM)
}

func ptrString(v string) *string {
	return &v
}
