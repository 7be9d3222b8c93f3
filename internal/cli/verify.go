package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"taskschedule/internal/core"
	"taskschedule/internal/event"
	"taskschedule/internal/platform"
	"taskschedule/internal/verify"
	"taskschedule/internal/workflow"
)

var (
	newEvents  = func() verify.Events { return event.DefaultNamespace() }
	executable = os.Executable
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that scheduled tasks actually run",
	Long: `Schedules this program to run "signal" a few seconds from now, waits for
the scheduled process to signal back and deletes the task again.

With the local backend an engine runs inside this command for the duration
of the check unless TASKSCHED_EMBEDDED_ENGINE is false.`,
	Args: cobra.NoArgs,
	RunE: runTest,
}

var signalCmd = &cobra.Command{
	Use:    "signal",
	Short:  "Signal a running test (run by the scheduled task)",
	Args:   cobra.NoArgs,
	Hidden: true,
	RunE:   runSignal,
}

func init() {
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(signalCmd)
}

func runTest(cmd *cobra.Command, _ []string) error {
	wf, backend, err := newWorkflow()
	if err != nil {
		return err
	}
	var scheduler verify.TaskScheduler = wf
	if backend == platform.BackendLocal && cfg.Engine.Embedded {
		engine, err := startEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer engine.Stop(cfg.ShutdownGrace)
		scheduler = syncingScheduler{TaskScheduler: wf, engine: engine.scheduler}
	}

	loc := cfg.Location()
	p := &verify.Protocol{
		Scheduler:  scheduler,
		Events:     newEvents(),
		Executable: executable,
		// Boundaries are read back in the engine's zone.
		Now:    func() time.Time { return time.Now().In(loc) },
		Logger: logger,
	}
	cmd.Printf("Scheduling %s to signal in %s...\n", verify.TaskName, verify.StartDelay)
	out := p.Run(cmd.Context())

	if out.CleanupFailed {
		cmd.PrintErrf("Warning: could not delete task %s, you must delete this manually\n", verify.TaskName)
	}
	if !out.Passed {
		if out.Err == nil {
			out.Err = verify.ErrNotSignaled
		}
		return &exitError{code: ExitTestFailure, err: out.Err}
	}
	cmd.Printf("Test passed: the scheduled task signaled after %s\n", out.Elapsed.Round(time.Millisecond))
	return nil
}

// syncingScheduler loads a newly scheduled task into the embedded engine
// straight away instead of waiting for the registry watch.
type syncingScheduler struct {
	verify.TaskScheduler
	engine core.Syncer
}

func (s syncingScheduler) ScheduleDailyExecutableTask(ctx context.Context, req workflow.Request) workflow.Result {
	res := s.TaskScheduler.ScheduleDailyExecutableTask(ctx, req)
	if res == workflow.ResultOK {
		if err := s.engine.Sync(ctx); err != nil {
			logger.Warn("sync after schedule", "task", req.TaskName, "err", err)
		}
	}
	return res
}

func runSignal(cmd *cobra.Command, _ []string) error {
	if err := verify.Signal(newEvents(), verify.EventName); err != nil {
		return failure("signal %s: %w", verify.EventName, err)
	}
	return nil
}
