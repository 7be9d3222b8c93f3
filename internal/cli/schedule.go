package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"taskschedule/internal/datespec"
	"taskschedule/internal/workflow"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <name> /ST <date> [/ET <date>] /T <time> /EXE <path> [args...]",
	Short: "Schedule an executable to run once a day",
	Long: `Registers <path> to run every day at /T from /ST through /ET, replacing any
task with the same name.

Dates are YYYY/MM/DD and times HH:MM:SS, 24 hour. Option names are not case
sensitive. Everything after the executable path is passed to it, joined with
single spaces; quote arguments that contain spaces yourself.`,
	Example: `  taskschedule schedule Backup /ST 2030/01/15 /ET 2030/06/30 /T 02:30:00 /EXE /usr/local/bin/backup --full`,
	Args:    cobra.ArbitraryArgs,
	RunE:    runSchedule,
}

func init() {
	// Everything after the task name is ours, including dash-prefixed
	// arguments meant for the executable.
	scheduleCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	req, err := parseScheduleArgs(args)
	if err != nil {
		return err
	}
	wf, backend, err := newWorkflow()
	if err != nil {
		return err
	}
	if wf.ScheduleDailyExecutableTask(cmd.Context(), req) != workflow.ResultOK {
		return failure("could not schedule task %s", req.TaskName)
	}

	start, _ := datespec.FormatBoundary(req.StartDate, req.DailyStartTime)
	cmd.Printf("Scheduled task %s (%s backend)\n", req.TaskName, backend)
	cmd.Printf("  First run: %s\n", start)
	if !req.EndDate.IsZero() {
		end, _ := datespec.FormatBoundary(req.EndDate, datespec.TimeSpec{})
		cmd.Printf("  Expires:   %s\n", end)
	}
	cmd.Printf("  Action:    %s\n", strings.TrimSpace(req.ExecutablePath+" "+workflow.JoinArguments(req.Arguments)))
	return nil
}

// parseScheduleArgs reads "<name> /ST <date> [/ET <date>] /T <time> /EXE
// <path> [args...]" into a complete request.
func parseScheduleArgs(args []string) (workflow.Request, error) {
	var req workflow.Request
	if len(args) == 0 {
		return req, usageError("task name is required")
	}
	req.TaskName = args[0]
	if strings.HasPrefix(req.TaskName, "/") {
		return req, usageError("task name is required before %s", req.TaskName)
	}

	var haveStart, haveTime bool
	rest := args[1:]
	for len(rest) > 0 {
		opt := strings.ToUpper(rest[0])
		if len(rest) < 2 {
			return req, usageError("%s needs a value", rest[0])
		}
		value := rest[1]
		rest = rest[2:]

		var err error
		switch opt {
		case "/ST":
			if req.StartDate, err = datespec.ParseDate(value); err != nil {
				return req, usageError("start date %q: %w", value, err)
			}
			haveStart = true
		case "/ET":
			if req.EndDate, err = datespec.ParseDate(value); err != nil {
				return req, usageError("end date %q: %w", value, err)
			}
		case "/T":
			if req.DailyStartTime, err = datespec.ParseTime(value); err != nil {
				return req, usageError("start time %q: %w", value, err)
			}
			haveTime = true
		case "/EXE":
			req.ExecutablePath = value
			req.Arguments = rest
			rest = nil
		default:
			return req, usageError("unknown option %s", opt)
		}
	}

	switch {
	case !haveStart:
		return req, usageError("/ST is required")
	case !haveTime:
		return req, usageError("/T is required")
	case req.ExecutablePath == "":
		return req, usageError("/EXE is required")
	}
	if err := req.Validate(); err != nil {
		return req, usageError("%w", err)
	}
	return req, nil
}
