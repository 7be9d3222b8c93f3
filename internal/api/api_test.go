package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskschedule/internal/core"
	"taskschedule/internal/store"
	"taskschedule/internal/workflow"
)

type recordingExecutor struct {
	ran chan string
}

func (e *recordingExecutor) Execute(_ context.Context, task *core.Task, _ *core.Run) error {
	e.ran <- task.Name
	return nil
}

type testEnv struct {
	handler  http.Handler
	store    *store.Store
	engine   *core.Scheduler
	executor *recordingExecutor
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(context.Background(), dir, 5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	exec := &recordingExecutor{ran: make(chan string, 1)}
	engine := core.NewScheduler(st, exec, logger, time.UTC)
	srv := NewServer(Options{
		AuthToken: token,
		Store:     st,
		Engine:    engine,
		Workflow:  workflow.New(store.NewRegistry(dir, 5), logger),
		Logger:    logger,
		Location:  time.UTC,
		Now:       func() time.Time { return time.Date(2029, 12, 31, 12, 0, 0, 0, time.UTC) },
	})
	return &testEnv{handler: srv.Handler(), store: st, engine: engine, executor: exec}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var backupTask = map[string]any{
	"name":       "backup",
	"start_date": "2030/01/15",
	"end_date":   "2030/01/20",
	"start_time": "08:30:00",
	"executable": "/usr/bin/backup",
	"arguments":  []string{"--full", "", "/data"},
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "secret")
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestBoundaryPreview(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/v1/boundary/preview", map[string]string{
		"start_date": "2030/01/15",
		"end_date":   "2030/01/17",
		"start_time": "8:30:00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[boundaryPreviewResponse](t, rec)
	assert.Equal(t, "2030-01-15T08:30:00", got.StartBoundary)
	assert.Equal(t, "2030-01-17T00:00:00", got.EndBoundary)
	assert.Equal(t, []string{
		"2030-01-15T08:30:00Z",
		"2030-01-16T08:30:00Z",
		"2030-01-17T08:30:00Z",
	}, got.NextRuns)
}

func TestBoundaryPreviewRejectsBadDate(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/v1/boundary/preview", map[string]string{
		"start_date": "1969/01/15",
		"start_time": "08:30:00",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "start_date")
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/v1/tasks", backupTask)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[taskResponse](t, rec)
	assert.Equal(t, "backup", created.Name)
	assert.Equal(t, "2030-01-15T08:30:00", created.StartBoundary)
	assert.Equal(t, "2030-01-20T00:00:00", created.EndBoundary)
	assert.Equal(t, "--full /data", created.Arguments)
	assert.Equal(t, "interactive_token", created.LogonType)
	assert.True(t, created.StartWhenAvailable)
	assert.True(t, created.Scheduled)

	// Scheduling again replaces the task rather than adding a second one.
	rec = env.do(t, http.MethodPost, "/v1/tasks", backupTask)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]taskResponse](t, rec), 1)

	rec = env.do(t, http.MethodPatch, "/v1/tasks/backup", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[taskResponse](t, rec)
	assert.False(t, updated.Enabled)
	assert.False(t, updated.Scheduled)

	rec = env.do(t, http.MethodDelete, "/v1/tasks/backup", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, env.engine.Scheduled("backup"))

	rec = env.do(t, http.MethodGet, "/v1/tasks/backup", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodDelete, "/v1/tasks/backup", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleTaskValidation(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"start_date": "2030/01/15", "start_time": "08:00:00", "executable": "/bin/true"}},
		{"missing executable", map[string]any{"name": "x", "start_date": "2030/01/15", "start_time": "08:00:00"}},
		{"bad time", map[string]any{"name": "x", "start_date": "2030/01/15", "start_time": "8am", "executable": "/bin/true"}},
		{"bad end date", map[string]any{"name": "x", "start_date": "2030/01/15", "end_date": "2030-01-20", "start_time": "08:00:00", "executable": "/bin/true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := env.do(t, http.MethodGet, "/v1/tasks", nil)
	assert.Empty(t, decode[[]taskResponse](t, rec))
}

func TestRunTaskNowAndRuns(t *testing.T) {
	env := newTestEnv(t, "")
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/tasks", backupTask).Code)

	rec := env.do(t, http.MethodPost, "/v1/tasks/backup/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	runID := decode[map[string]string](t, rec)["run_id"]
	require.NotEmpty(t, runID)

	select {
	case name := <-env.executor.ran:
		assert.Equal(t, "backup", name)
	case <-time.After(5 * time.Second):
		t.Fatal("executor was not called")
	}

	rec = env.do(t, http.MethodGet, "/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "backup", decode[runResponse](t, rec).TaskName)

	rec = env.do(t, http.MethodGet, "/v1/tasks/backup/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]runResponse](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/v1/runs/"+runID+"/log", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/tasks", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/tasks", nil, "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/tasks", nil, "Authorization", "Bearer secret").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/tasks?token=secret", nil).Code)
}

func TestReadTailLines(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(context.Background(), dir, 5)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.EnsureRunLogDir("r1"))

	path := st.RunLogPath("r1")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	data, err := readTailLines(f, 2)
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", string(data))
}
