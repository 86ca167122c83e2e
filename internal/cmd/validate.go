package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/scheduler"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Validate a task plan without executing it",
		Long: `Validate a markdown task plan.

The validate command parses the plan file and checks the dependency graph
for unknown references and cycles. Nothing is executed.`,
		Args: cobra.ExactArgs(1),
		RunE: validateCommand,
	}
	cmd.Flags().Bool("verbose", false, "List every task with its dependencies")
	return cmd
}

// validateCommand implements the validate command logic
func validateCommand(cmd *cobra.Command, args []string) error {
	plan, err := parsePlanFile(args[0])
	if err != nil {
		return err
	}

	tasks := make([]*models.Task, 0, len(plan.Tasks))
	for i := range plan.Tasks {
		tasks = append(tasks, &plan.Tasks[i])
	}
	if err := scheduler.ValidateGraph(tasks); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Plan is valid: %d task(s).\n", len(tasks))

	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		for _, t := range tasks {
			line := fmt.Sprintf("  - %s: %s [%s]", t.ID, t.Title, t.Priority)
			if len(t.DependsOn) > 0 {
				line += fmt.Sprintf(" (after %v)", t.DependsOn)
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
	}
	return nil
}
