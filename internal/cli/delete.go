package cli

import (
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a scheduled task",
	Long: `Deletes the named task. A task that does not exist is reported as a
failure, the same as a delete the service refused.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var existsCmd = &cobra.Command{
	Use:   "exists <name>",
	Short: "Report whether a task is scheduled",
	Args:  cobra.ExactArgs(1),
	RunE:  runExists,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(existsCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	wf, _, err := newWorkflow()
	if err != nil {
		return err
	}
	if !wf.DeleteTask(cmd.Context(), args[0]) {
		return failure("could not delete task %s", args[0])
	}
	cmd.Printf("Deleted task %s\n", args[0])
	return nil
}

func runExists(cmd *cobra.Command, args []string) error {
	wf, _, err := newWorkflow()
	if err != nil {
		return err
	}
	if wf.TaskExists(cmd.Context(), args[0]) {
		cmd.Printf("Task %s exists\n", args[0])
	} else {
		cmd.Printf("Task %s does not exist\n", args[0])
	}
	return nil
}
