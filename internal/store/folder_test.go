package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskschedule/internal/datespec"
	"taskschedule/internal/taskservice"
	"taskschedule/internal/workflow"
)

func dailyDefinition() *taskservice.Definition {
	def := &taskservice.Definition{}
	def.Principal.LogonType = taskservice.LogonInteractiveToken
	trigger := def.AddDailyTrigger()
	trigger.ID = "Daily Trigger"
	trigger.StartBoundary = "2024-03-10T09:30:00"
	action := def.AddExecAction()
	action.Path = "/usr/bin/backup"
	return def
}

func TestFolderRegisterModes(t *testing.T) {
	ctx := context.Background()
	folder, err := NewRegistry(t.TempDir(), 0).Connect(ctx)
	require.NoError(t, err)
	defer folder.Close()

	_, err = folder.RegisterTask(ctx, "backup", dailyDefinition(), taskservice.UpdateOnly, taskservice.LogonInteractiveToken)
	assert.ErrorIs(t, err, taskservice.ErrTaskNotFound)

	reg, err := folder.RegisterTask(ctx, "backup", dailyDefinition(), taskservice.CreateOnly, taskservice.LogonInteractiveToken)
	require.NoError(t, err)
	assert.Equal(t, `\backup`, reg.Path)

	_, err = folder.RegisterTask(ctx, "backup", dailyDefinition(), taskservice.CreateOnly, taskservice.LogonInteractiveToken)
	assert.ErrorIs(t, err, taskservice.ErrTaskExists)

	def := dailyDefinition()
	def.Actions[0].Arguments = "--full"
	_, err = folder.RegisterTask(ctx, "backup", def, taskservice.CreateOrUpdate, taskservice.LogonInteractiveToken)
	require.NoError(t, err)

	got, err := folder.GetTask(ctx, "backup")
	require.NoError(t, err)
	require.Len(t, got.Definition.Actions, 1)
	assert.Equal(t, "--full", got.Definition.Actions[0].Arguments)
	assert.Equal(t, taskservice.LogonInteractiveToken, got.Definition.Principal.LogonType)

	_, err = folder.RegisterTask(ctx, "other", dailyDefinition(), taskservice.CreationMode(0x8), taskservice.LogonInteractiveToken)
	assert.ErrorIs(t, err, taskservice.ErrUnsupportedDefinition)
}

func TestTaskFromDefinitionRejectsUnsupported(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*taskservice.Definition)
	}{
		{"no trigger", func(d *taskservice.Definition) { d.Triggers = nil }},
		{"two triggers", func(d *taskservice.Definition) { d.Triggers = append(d.Triggers, d.Triggers[0]) }},
		{"no action", func(d *taskservice.Definition) { d.Actions = nil }},
		{"two actions", func(d *taskservice.Definition) { d.Actions = append(d.Actions, d.Actions[0]) }},
		{"empty path", func(d *taskservice.Definition) { d.Actions[0].Path = "" }},
		{"bad boundary", func(d *taskservice.Definition) { d.Triggers[0].StartBoundary = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := dailyDefinition()
			tt.mutate(def)
			_, err := TaskFromDefinition("backup", def, taskservice.LogonInteractiveToken)
			assert.ErrorIs(t, err, taskservice.ErrUnsupportedDefinition)
		})
	}
}

func TestWorkflowAgainstRegistry(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(t.TempDir(), 0)
	sched := workflow.New(registry, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := workflow.Request{
		TaskName:       "nightly",
		StartDate:      datespec.NewDate(2030, 0, 0),
		EndDate:        datespec.NewDate(2030, 11, 30),
		DailyStartTime: datespec.NewTime(2, 30, 0),
		ExecutablePath: "/usr/bin/backup",
		Arguments:      []string{"--full", "", "/srv"},
	}
	assert.Equal(t, workflow.ResultOK, sched.ScheduleDailyExecutableTask(ctx, req))
	assert.Equal(t, workflow.ResultOK, sched.ScheduleDailyExecutableTask(ctx, req))
	assert.True(t, sched.TaskExists(ctx, "nightly"))

	s, err := Open(ctx, registry.StateDir, 0)
	require.NoError(t, err)
	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "2030-01-01T02:30:00", task.StartBoundary)
	assert.Equal(t, "2030-12-31T00:00:00", task.EndBoundary)
	assert.Equal(t, "--full /srv", task.ExecArgs)
	assert.Equal(t, "Daily Trigger", task.TriggerID)
	assert.True(t, task.StartWhenAvailable)
	assert.Equal(t, int(taskservice.LogonInteractiveToken), task.LogonType)

	assert.True(t, sched.DeleteTask(ctx, "nightly"))
	assert.False(t, sched.DeleteTask(ctx, "nightly"))
	assert.False(t, sched.TaskExists(ctx, "nightly"))
}
