package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskschedule/internal/core"
	"taskschedule/internal/taskservice"
)

var _ taskservice.Service = (*Registry)(nil)

// Registry is the local task service. Each Connect opens the registry
// database; the folder closes it again.
type Registry struct {
	StateDir     string
	LogRetention int
}

// NewRegistry returns a task service backed by the registry in stateDir.
func NewRegistry(stateDir string, logRetention int) *Registry {
	return &Registry{StateDir: stateDir, LogRetention: logRetention}
}

func (r *Registry) Connect(ctx context.Context) (taskservice.Folder, error) {
	s, err := Open(ctx, r.StateDir, r.LogRetention)
	if err != nil {
		return nil, fmt.Errorf("connect to local registry: %w", err)
	}
	return &Folder{store: s, owned: true}, nil
}

// Folder exposes a Store as the root task folder.
type Folder struct {
	store *Store
	owned bool
}

// NewFolder wraps an already open store. Closing the folder leaves the store
// open.
func NewFolder(s *Store) *Folder {
	return &Folder{store: s}
}

func (f *Folder) NewTaskDefinition() *taskservice.Definition {
	return &taskservice.Definition{}
}

func (f *Folder) GetTask(ctx context.Context, name string) (*taskservice.RegisteredTask, error) {
	task, err := f.store.GetTask(ctx, name)
	if err != nil {
		return nil, err
	}
	return RegisteredTask(task), nil
}

func (f *Folder) DeleteTask(ctx context.Context, name string) error {
	return f.store.DeleteTask(ctx, name)
}

func (f *Folder) RegisterTask(ctx context.Context, name string, def *taskservice.Definition, mode taskservice.CreationMode, logon taskservice.LogonType) (*taskservice.RegisteredTask, error) {
	task, err := TaskFromDefinition(name, def, logon)
	if err != nil {
		return nil, err
	}
	switch mode {
	case taskservice.CreateOnly:
		err = f.store.InsertTask(ctx, task)
	case taskservice.UpdateOnly:
		err = f.store.ReplaceTask(ctx, task)
	case taskservice.CreateOrUpdate:
		err = f.store.ReplaceTask(ctx, task)
		if errors.Is(err, taskservice.ErrTaskNotFound) {
			err = f.store.InsertTask(ctx, task)
		}
	default:
		return nil, fmt.Errorf("creation mode %#x: %w", int(mode), taskservice.ErrUnsupportedDefinition)
	}
	if err != nil {
		return nil, err
	}
	return RegisteredTask(task), nil
}

func (f *Folder) Close() error {
	if !f.owned {
		return nil
	}
	return f.store.Close()
}

// TaskFromDefinition flattens a definition into a registry row. The registry
// holds exactly one daily trigger and one exec action per task.
func TaskFromDefinition(name string, def *taskservice.Definition, logon taskservice.LogonType) (*core.Task, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("empty task name: %w", taskservice.ErrUnsupportedDefinition)
	}
	if def == nil {
		return nil, fmt.Errorf("nil definition: %w", taskservice.ErrUnsupportedDefinition)
	}
	if len(def.Triggers) != 1 {
		return nil, fmt.Errorf("%d triggers: %w", len(def.Triggers), taskservice.ErrUnsupportedDefinition)
	}
	if len(def.Actions) != 1 {
		return nil, fmt.Errorf("%d actions: %w", len(def.Actions), taskservice.ErrUnsupportedDefinition)
	}
	trigger := def.Triggers[0]
	action := def.Actions[0]
	if trigger.StartBoundary == "" {
		return nil, fmt.Errorf("trigger without start boundary: %w", taskservice.ErrUnsupportedDefinition)
	}
	if action.Path == "" {
		return nil, fmt.Errorf("action without path: %w", taskservice.ErrUnsupportedDefinition)
	}
	if _, err := core.NewDailySchedule(trigger.StartBoundary, trigger.EndBoundary, trigger.DaysInterval, nil); err != nil {
		return nil, fmt.Errorf("%v: %w", err, taskservice.ErrUnsupportedDefinition)
	}
	interval := trigger.DaysInterval
	if interval < 1 {
		interval = 1
	}
	return &core.Task{
		Name:               name,
		Description:        def.RegistrationInfo.Description,
		LogonType:          int(logon),
		StartWhenAvailable: def.Settings.StartWhenAvailable,
		TriggerID:          trigger.ID,
		StartBoundary:      trigger.StartBoundary,
		EndBoundary:        trigger.EndBoundary,
		DaysInterval:       interval,
		ExecPath:           action.Path,
		ExecArgs:           action.Arguments,
		WorkingDir:         action.WorkingDirectory,
		Enabled:            trigger.Enabled,
	}, nil
}

// RegisteredTask reports a registry row the way the task service does.
func RegisteredTask(task *core.Task) *taskservice.RegisteredTask {
	return &taskservice.RegisteredTask{
		Name:    task.Name,
		Path:    `\` + task.Name,
		Enabled: task.Enabled,
		Definition: taskservice.Definition{
			RegistrationInfo: taskservice.RegistrationInfo{Description: task.Description},
			Principal:        taskservice.Principal{LogonType: taskservice.LogonType(task.LogonType)},
			Settings:         taskservice.Settings{StartWhenAvailable: task.StartWhenAvailable},
			Triggers: []taskservice.DailyTrigger{{
				ID:            task.TriggerID,
				StartBoundary: task.StartBoundary,
				EndBoundary:   task.EndBoundary,
				DaysInterval:  task.DaysInterval,
				Enabled:       task.Enabled,
			}},
			Actions: []taskservice.ExecAction{{
				Path:             task.ExecPath,
				Arguments:        task.ExecArgs,
				WorkingDirectory: task.WorkingDir,
			}},
		},
		LastRunAt: task.LastRunAt,
		NextRunAt: task.NextRunAt,
	}
}
