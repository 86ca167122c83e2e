package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for overseer
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overseer",
		Short: "Dependency-aware agent execution engine",
		Long: `Overseer executes task plans by driving one model-backed agent per
task under global resource limits.

It parses a markdown plan, validates the dependency graph, and schedules
tasks by priority under a concurrency ceiling. Every model call flows
through one shared request queue with rate-limit retry; each agent's
execution is bounded by a token budget, an iteration limit, and a
repeated-tool-call guard, with progress checkpointed for recovery.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
