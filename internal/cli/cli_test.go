package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskschedule/internal/datespec"
	"taskschedule/internal/event"
	"taskschedule/internal/platform"
	"taskschedule/internal/taskservice"
	"taskschedule/internal/verify"
)

func run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	oldOutput := logOutput
	logOutput = io.Discard
	defer func() { logOutput = oldOutput }()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	code := Execute(context.Background(), args)
	return code, buf.String()
}

func localArgs(t *testing.T, dir string, args ...string) []string {
	t.Helper()
	return append([]string{"--backend", "local", "--state-dir", dir}, args...)
}

func TestParseScheduleArgs(t *testing.T) {
	req, err := parseScheduleArgs([]string{
		"Backup", "/st", "2030/01/15", "/ET", "2030/06/30", "/T", "2:30:00",
		"/EXE", "/usr/bin/backup", "--full", "/data",
	})
	require.NoError(t, err)
	assert.Equal(t, "Backup", req.TaskName)
	assert.Equal(t, datespec.NewDate(2030, 0, 14), req.StartDate)
	assert.Equal(t, datespec.NewDate(2030, 5, 29), req.EndDate)
	assert.Equal(t, datespec.NewTime(2, 30, 0), req.DailyStartTime)
	assert.Equal(t, "/usr/bin/backup", req.ExecutablePath)
	assert.Equal(t, []string{"--full", "/data"}, req.Arguments)
}

func TestParseScheduleArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no name", nil},
		{"option as name", []string{"/ST", "2030/01/15"}},
		{"missing value", []string{"x", "/ST"}},
		{"unknown option", []string{"x", "/XX", "1"}},
		{"bad date", []string{"x", "/ST", "1969/01/01", "/T", "01:00:00", "/EXE", "a"}},
		{"bad end date", []string{"x", "/ST", "2030/01/01", "/ET", "tomorrow", "/T", "01:00:00", "/EXE", "a"}},
		{"bad time", []string{"x", "/ST", "2030/01/01", "/T", "1 pm", "/EXE", "a"}},
		{"missing start", []string{"x", "/T", "01:00:00", "/EXE", "a"}},
		{"missing time", []string{"x", "/ST", "2030/01/01", "/EXE", "a"}},
		{"missing exe", []string{"x", "/ST", "2030/01/01", "/T", "01:00:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseScheduleArgs(tt.args)
			require.Error(t, err)
			assert.Equal(t, ExitUsage, ExitCode(err))
		})
	}
}

func TestScheduleExistsDelete(t *testing.T) {
	dir := t.TempDir()

	code, out := run(t, localArgs(t, dir, "schedule", "Backup",
		"/ST", "2030/01/15", "/T", "02:30:00", "/EXE", "/usr/bin/backup", "-v")...)
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "Scheduled task Backup (local backend)")
	assert.Contains(t, out, "First run: 2030-01-15T02:30:00")
	assert.Contains(t, out, "Action:    /usr/bin/backup -v")

	code, out = run(t, localArgs(t, dir, "exists", "Backup")...)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "Task Backup exists")

	code, out = run(t, localArgs(t, dir, "delete", "Backup")...)
	assert.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "Deleted task Backup")

	code, out = run(t, localArgs(t, dir, "delete", "Backup")...)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, "could not delete task Backup")

	code, out = run(t, localArgs(t, dir, "exists", "Backup")...)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "Task Backup does not exist")
}

func TestUsageErrors(t *testing.T) {
	dir := t.TempDir()

	code, _ := run(t, localArgs(t, dir, "nonsense")...)
	assert.Equal(t, ExitUsage, code)

	code, out := run(t, localArgs(t, dir, "schedule", "Backup", "/ST", "2030/01/15", "/EXE", "/bin/true")...)
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, out, "/T is required")

	code, _ = run(t, localArgs(t, dir, "delete")...)
	assert.Equal(t, ExitUsage, code)

	code, _ = run(t, "--backend", "cron", "exists", "x")
	assert.Equal(t, ExitUsage, code)
}

type fakeEvent struct {
	set bool
}

func (e *fakeEvent) Set() error { e.set = true; return nil }

func (e *fakeEvent) Wait(context.Context, time.Duration) (bool, error) { return e.set, nil }

func (e *fakeEvent) Close() error { return nil }

type fakeEvents struct {
	events map[string]*fakeEvent
}

func (f *fakeEvents) Create(name string) (event.Event, error) {
	ev := &fakeEvent{}
	f.events[name] = ev
	return ev, nil
}

func (f *fakeEvents) Open(name string) (event.Event, error) {
	ev, ok := f.events[name]
	if !ok {
		return nil, event.ErrNotFound
	}
	return ev, nil
}

func withEvents(t *testing.T) *fakeEvents {
	t.Helper()
	events := &fakeEvents{events: make(map[string]*fakeEvent)}
	old := newEvents
	newEvents = func() verify.Events { return events }
	t.Cleanup(func() { newEvents = old })
	return events
}

func TestSignal(t *testing.T) {
	events := withEvents(t)

	code, out := run(t, "signal")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, out, verify.EventName)

	ev, err := events.Create(verify.EventName)
	require.NoError(t, err)
	code, _ = run(t, "signal")
	assert.Equal(t, ExitOK, code)
	assert.True(t, ev.(*fakeEvent).set)
}

type unreachableService struct{}

func (unreachableService) Connect(context.Context) (taskservice.Folder, error) {
	return nil, errors.New("access denied")
}

func TestTestCommandSchedulingFailure(t *testing.T) {
	withEvents(t)
	old := newService
	newService = func(platform.Backend, platform.Options) (taskservice.Service, platform.Backend, error) {
		return unreachableService{}, platform.BackendWindows, nil
	}
	defer func() { newService = old }()

	code, out := run(t, "--backend", "windows", "test")
	assert.Equal(t, ExitTestFailure, code)
	assert.Contains(t, out, "you must delete this manually")
	assert.Contains(t, out, verify.ErrScheduleFailed.Error())
}

func TestTestCommandBackendUnavailable(t *testing.T) {
	old := newService
	newService = func(b platform.Backend, _ platform.Options) (taskservice.Service, platform.Backend, error) {
		return nil, b, platform.ErrNativeUnavailable
	}
	defer func() { newService = old }()

	code, _ := run(t, "--backend", "windows", "test")
	assert.Equal(t, ExitFailure, code)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitUsage, ExitCode(errors.New("unknown flag")))
	assert.Equal(t, ExitFailure, ExitCode(failure("boom")))
	assert.Equal(t, ExitTestFailure, ExitCode(&exitError{code: ExitTestFailure, err: errors.New("late")}))
}
