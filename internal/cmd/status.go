package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/scheduler"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the most recent run",
		Long: `Show every task recorded by the most recent run, with its status,
priority, and error if it failed. Reads the task store in the data
directory; nothing is executed.`,
		Args: cobra.NoArgs,
		RunE: statusCommand,
	}
	cmd.Flags().StringP("config", "c", "", "Path to config file")
	cmd.Flags().String("data-dir", "", "Directory holding run state")
	return cmd
}

// statusCommand implements the status command logic
func statusCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadMergedConfig(cmd)
	if err != nil {
		return err
	}

	dbPath := filepath.Join(cfg.DataDir, "tasks.db")
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no run state found in %s", cfg.DataDir)
	}

	store, err := scheduler.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer store.Close()

	tasks, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks recorded.")
		return nil
	}

	counts := make(map[models.Status]int)
	for _, t := range tasks {
		counts[t.Status]++
		line := fmt.Sprintf("  %-12s %s: %s [%s]", t.Status, t.ID, t.Title, t.Priority)
		if t.Error != "" {
			line += ": " + t.Error
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d/%d completed", counts[models.StatusCompleted], len(tasks))
	if n := counts[models.StatusFailed]; n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d failed", n)
	}
	if n := counts[models.StatusBlocked]; n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d blocked", n)
	}
	if n := counts[models.StatusInProgress]; n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d in progress", n)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
