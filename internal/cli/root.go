// Package cli is the taskschedule command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"taskschedule/internal/config"
	"taskschedule/internal/logging"
	"taskschedule/internal/platform"
	"taskschedule/internal/taskservice"
	"taskschedule/internal/workflow"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitFailure     = 10
	ExitTestFailure = 100
)

// exitError carries the exit code a command failed with.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: ExitUsage, err: fmt.Errorf(format, args...)}
}

func failure(format string, args ...any) error {
	return &exitError{code: ExitFailure, err: fmt.Errorf(format, args...)}
}

// ExitCode maps an error returned by Execute to a process exit code. Errors
// that cobra raises itself (unknown commands, bad flags) are usage errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitUsage
}

var (
	cfg    *config.Config
	logger *slog.Logger

	// logOutput receives diagnostics; tests point it elsewhere.
	logOutput io.Writer = os.Stderr

	// newService is swapped out in tests.
	newService = platform.Service
)

var rootCmd = &cobra.Command{
	Use:   "taskschedule",
	Short: "Schedule an executable to run once a day",
	Long: `taskschedule registers an executable to run once a day at a fixed time
for a range of dates, under the identity of the logged-on user.

On Windows tasks go to the Task Scheduler. Elsewhere they go to a local
registry that "taskschedule serve" runs.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load()
	if err != nil {
		return usageError("load config: %w", err)
	}
	if err := config.ApplyFlags(loaded, cmd.Flags()); err != nil {
		return usageError("apply flags: %w", err)
	}
	cfg = loaded
	logger = logging.New(cfg.Log.Level, logOutput)
	slog.SetDefault(logger)
	return nil
}

// taskService opens the configured backend.
func taskService() (taskservice.Service, platform.Backend, error) {
	backend, err := platform.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, "", usageError("%w", err)
	}
	svc, resolved, err := newService(backend, platform.Options{
		StateDir:     cfg.StateDir,
		LogRetention: cfg.Log.Retention,
	})
	if err != nil {
		return nil, resolved, failure("open %s backend: %w", resolved, err)
	}
	return svc, resolved, nil
}

func newWorkflow() (*workflow.Scheduler, platform.Backend, error) {
	svc, backend, err := taskService()
	if err != nil {
		return nil, backend, err
	}
	return workflow.New(svc, logger), backend, nil
}

// Execute runs the command line in args and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return ExitCode(err)
}
