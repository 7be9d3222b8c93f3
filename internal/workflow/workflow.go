// Package workflow turns a schedule request into a registered daily task.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"taskschedule/internal/datespec"
	"taskschedule/internal/taskservice"
)

// Result is the outcome of ScheduleDailyExecutableTask.
type Result int

const (
	ResultOK Result = iota
	ResultError
)

func (r Result) String() string {
	if r == ResultOK {
		return "ok"
	}
	return "error"
}

const dailyTriggerID = "Daily Trigger"

// Request describes one daily executable task. EndDate may be the zero
// DateSpec for no end date.
type Request struct {
	TaskName       string
	StartDate      datespec.DateSpec
	EndDate        datespec.DateSpec
	DailyStartTime datespec.TimeSpec
	ExecutablePath string
	Arguments      []string
}

// Validate reports whether the request is complete enough to schedule.
func (r Request) Validate() error {
	if strings.TrimSpace(r.TaskName) == "" {
		return errors.New("task name is required")
	}
	if r.StartDate.IsZero() {
		return errors.New("start date is required")
	}
	if strings.TrimSpace(r.ExecutablePath) == "" {
		return errors.New("executable path is required")
	}
	return nil
}

// Scheduler runs the schedule, delete and exists operations against a task
// service. Each call connects on its own and holds no handle between calls.
type Scheduler struct {
	service taskservice.Service
	logger  *slog.Logger
}

// New creates a Scheduler.
func New(service taskservice.Service, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{service: service, logger: logger}
}

// ScheduleDailyExecutableTask registers req as a task that runs once a day,
// replacing any task with the same name.
func (s *Scheduler) ScheduleDailyExecutableTask(ctx context.Context, req Request) Result {
	folder, err := s.service.Connect(ctx)
	if err != nil {
		s.logger.Error("connect task service", "err", err)
		return ResultError
	}
	defer s.closeFolder(folder)

	// Absence is fine here; registration below is create-or-update either way.
	if err := folder.DeleteTask(ctx, req.TaskName); err != nil {
		s.logger.Debug("clear existing task", "task", req.TaskName, "err", err)
	}

	def, err := newDailyDefinition(folder, req)
	if err != nil {
		s.logger.Error("create task definition", "task", req.TaskName, "err", err)
		return ResultError
	}

	if err := addExecAction(def, req.ExecutablePath, req.Arguments); err != nil {
		s.logger.Error("create exec action", "task", req.TaskName, "err", err)
		return ResultError
	}

	// The interactive token needs no stored credentials.
	if _, err := folder.RegisterTask(ctx, req.TaskName, def, taskservice.CreateOrUpdate, taskservice.LogonInteractiveToken); err != nil {
		s.logger.Error("register task", "task", req.TaskName, "err", err)
		return ResultError
	}

	s.logger.Info("task scheduled", "task", req.TaskName, "exe", req.ExecutablePath)
	return ResultOK
}

// DeleteTask removes the named task. It returns false when the service is
// unreachable or the task does not exist.
func (s *Scheduler) DeleteTask(ctx context.Context, name string) bool {
	folder, err := s.service.Connect(ctx)
	if err != nil {
		s.logger.Error("connect task service", "err", err)
		return false
	}
	defer s.closeFolder(folder)

	if err := folder.DeleteTask(ctx, name); err != nil {
		s.logger.Error("delete task", "task", name, "err", err)
		return false
	}
	return true
}

// TaskExists reports whether the named task is registered. Connection
// failures report false.
func (s *Scheduler) TaskExists(ctx context.Context, name string) bool {
	folder, err := s.service.Connect(ctx)
	if err != nil {
		s.logger.Error("connect task service", "err", err)
		return false
	}
	defer s.closeFolder(folder)

	task, err := folder.GetTask(ctx, name)
	if err != nil {
		if !errors.Is(err, taskservice.ErrTaskNotFound) {
			s.logger.Warn("get task", "task", name, "err", err)
		}
		return false
	}
	return task != nil
}

func (s *Scheduler) closeFolder(folder taskservice.Folder) {
	if err := folder.Close(); err != nil {
		s.logger.Warn("close task folder", "err", err)
	}
}

func newDailyDefinition(folder taskservice.Folder, req Request) (*taskservice.Definition, error) {
	def := folder.NewTaskDefinition()
	if def == nil {
		return nil, errors.New("service returned no task definition")
	}
	setLogonType(def, taskservice.LogonInteractiveToken)
	setSettings(def, true)
	if err := setDailyTrigger(def, req.StartDate, req.EndDate, req.DailyStartTime); err != nil {
		return nil, fmt.Errorf("create task trigger: %w", err)
	}
	return def, nil
}

func setLogonType(def *taskservice.Definition, logon taskservice.LogonType) {
	def.Principal.LogonType = logon
}

func setSettings(def *taskservice.Definition, startWhenAvailable bool) {
	if !startWhenAvailable {
		return
	}
	def.Settings.StartWhenAvailable = true
}

func setDailyTrigger(def *taskservice.Definition, start, end datespec.DateSpec, at datespec.TimeSpec) error {
	startBoundary, err := datespec.FormatBoundary(start, at)
	if err != nil {
		return fmt.Errorf("format start boundary: %w", err)
	}
	var endBoundary string
	if !end.IsZero() {
		// Midnight of the end date; the trigger still fires on that day.
		endBoundary, err = datespec.FormatBoundary(end, datespec.TimeSpec{})
		if err != nil {
			return fmt.Errorf("format end boundary: %w", err)
		}
	}

	trigger := def.AddDailyTrigger()
	trigger.ID = dailyTriggerID
	trigger.StartBoundary = startBoundary
	trigger.EndBoundary = endBoundary
	return nil
}

// addExecAction sets the executable and its arguments. Arguments are joined
// with single spaces and not quoted; callers quote anything that must stay
// one argument.
func addExecAction(def *taskservice.Definition, path string, args []string) error {
	if path == "" {
		return errors.New("executable path is empty")
	}
	action := def.AddExecAction()
	action.Path = path
	if len(args) > 0 {
		action.Arguments = JoinArguments(args)
	}
	return nil
}

// JoinArguments joins the non-empty entries of args with single spaces.
func JoinArguments(args []string) string {
	var b strings.Builder
	for _, arg := range args {
		if arg == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(arg)
	}
	return b.String()
}
