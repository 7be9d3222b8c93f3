package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskschedule/internal/core"
	"taskschedule/internal/datespec"
	"taskschedule/internal/workflow"
)

type fakeWorkflow struct {
	result  workflow.Result
	exists  bool
	deleted bool
	got     []workflow.Request
}

func (f *fakeWorkflow) ScheduleDailyExecutableTask(_ context.Context, req workflow.Request) workflow.Result {
	f.got = append(f.got, req)
	return f.result
}

func (f *fakeWorkflow) DeleteTask(context.Context, string) bool { return f.deleted }

func (f *fakeWorkflow) TaskExists(context.Context, string) bool { return f.exists }

type fakeRegistry struct {
	tasks []*core.Task
	runs  []*core.Run
	err   error
}

func (f *fakeRegistry) ListTasks(context.Context) ([]*core.Task, error) { return f.tasks, f.err }

func (f *fakeRegistry) ListRuns(context.Context, string, int, int) ([]*core.Run, error) {
	return f.runs, f.err
}

func newTestServer(wf Workflow, registry Registry) *MCPServer {
	return NewMCPServer(wf, registry, slog.New(slog.NewTextHandler(io.Discard, nil)), time.UTC)
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestScheduleTaskTool(t *testing.T) {
	wf := &fakeWorkflow{result: workflow.ResultOK}
	s := newTestServer(wf, nil)

	res, err := s.handleScheduleTask(context.Background(), callRequest(map[string]any{
		"name":       "backup",
		"start_date": "2024/03/10",
		"end_date":   "2024/12/31",
		"start_time": "2:05:00",
		"executable": `C:\tools\backup.exe`,
		"arguments":  `--target "D:\Backups" --full`,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "2024-03-10T02:05:00")

	require.Len(t, wf.got, 1)
	req := wf.got[0]
	assert.Equal(t, "backup", req.TaskName)
	assert.Equal(t, datespec.NewDate(2024, 2, 9), req.StartDate)
	assert.Equal(t, datespec.NewDate(2024, 11, 30), req.EndDate)
	assert.Equal(t, datespec.NewTime(2, 5, 0), req.DailyStartTime)
	assert.Equal(t, []string{"--target", `D:\Backups`, "--full"}, req.Arguments)
}

func TestScheduleTaskToolRejectsBadInput(t *testing.T) {
	wf := &fakeWorkflow{result: workflow.ResultOK}
	s := newTestServer(wf, nil)

	tests := map[string]map[string]any{
		"bad date":     {"name": "x", "start_date": "10/03/2024", "start_time": "01:00:00", "executable": "/bin/true"},
		"early year":   {"name": "x", "start_date": "1969/12/31", "start_time": "01:00:00", "executable": "/bin/true"},
		"bad time":     {"name": "x", "start_date": "2024/03/10", "start_time": "1am", "executable": "/bin/true"},
		"missing exe":  {"name": "x", "start_date": "2024/03/10", "start_time": "01:00:00"},
		"missing name": {"start_date": "2024/03/10", "start_time": "01:00:00", "executable": "/bin/true"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := s.handleScheduleTask(context.Background(), callRequest(args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
	assert.Empty(t, wf.got)
}

func TestScheduleTaskToolReportsFailure(t *testing.T) {
	s := newTestServer(&fakeWorkflow{result: workflow.ResultError}, nil)

	res, err := s.handleScheduleTask(context.Background(), callRequest(map[string]any{
		"name": "x", "start_date": "2024/03/10", "start_time": "01:00:00", "executable": "/bin/true",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDeleteAndExistsTools(t *testing.T) {
	wf := &fakeWorkflow{exists: true, deleted: false}
	s := newTestServer(wf, nil)
	args := callRequest(map[string]any{"name": "backup"})

	res, err := s.handleTaskExists(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, "Task backup exists", resultText(t, res))

	res, err = s.handleDeleteTask(context.Background(), args)
	require.NoError(t, err)
	assert.True(t, res.IsError)

	wf.deleted = true
	res, err = s.handleDeleteTask(context.Background(), args)
	require.NoError(t, err)
	assert.False(t, res.IsError)
}

func TestListToolsNeedRegistry(t *testing.T) {
	s := newTestServer(&fakeWorkflow{}, nil)

	res, err := s.handleListTasks(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleListRuns(context.Background(), callRequest(map[string]any{"name": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListTools(t *testing.T) {
	next := time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC)
	code := 0
	registry := &fakeRegistry{
		tasks: []*core.Task{{Name: "backup", Enabled: true, StartBoundary: "2024-03-10T09:30:00", ExecPath: "/usr/bin/backup", ExecArgs: "--full", NextRunAt: &next}},
		runs:  []*core.Run{{ID: "run-1", TaskName: "backup", Status: core.RunStatusSucceeded, ScheduledAt: next, ExitCode: &code}},
	}
	s := newTestServer(&fakeWorkflow{}, registry)

	res, err := s.handleListTasks(context.Background(), callRequest(nil))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "backup (enabled)")
	assert.Contains(t, text, "/usr/bin/backup --full")
	assert.Contains(t, text, "2024-03-11 09:30:00")

	res, err = s.handleListRuns(context.Background(), callRequest(map[string]any{"name": "backup"}))
	require.NoError(t, err)
	text = resultText(t, res)
	assert.Contains(t, text, "[succeeded] run-1")
	assert.Contains(t, text, "Exit code: 0")

	registry.err = errors.New("database is locked")
	res, err = s.handleListTasks(context.Background(), callRequest(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestBuildRegistersTools(t *testing.T) {
	srv := newTestServer(&fakeWorkflow{}, nil).Build()
	require.NotNil(t, srv)

	resp := srv.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{"schedule_daily_task", "delete_task", "task_exists", "list_tasks", "list_runs"} {
		assert.Contains(t, string(data), `"`+name+`"`)
	}
}
