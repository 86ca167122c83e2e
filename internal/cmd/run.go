package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/overseer/internal/agent"
	"github.com/harrison/overseer/internal/checkpoint"
	"github.com/harrison/overseer/internal/config"
	"github.com/harrison/overseer/internal/llm"
	"github.com/harrison/overseer/internal/logger"
	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/parser"
	"github.com/harrison/overseer/internal/queue"
	"github.com/harrison/overseer/internal/scheduler"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a task plan",
		Long: `Execute a markdown task plan.

The run command parses the plan file, validates the dependency graph, and
schedules tasks by priority under the configured concurrency ceiling. Each
task is driven by its own agent loop; all model calls share one request
queue with rate-limit retry.

Configuration is loaded from .overseer/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  overseer run plan.md
  overseer run --dry-run plan.md           # Validate without executing
  overseer run --max-concurrent 4 plan.md  # Raise the task ceiling
  overseer run --log-level debug plan.md   # Show per-iteration progress
  overseer run --config custom.yaml plan.md`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .overseer/config.yaml)")
	cmd.Flags().Bool("dry-run", false, "Validate the plan without executing tasks")
	cmd.Flags().Int("max-concurrent", 0, "Maximum number of concurrently running tasks")
	cmd.Flags().String("log-level", "", "Logging verbosity (debug, info, warn, error)")
	cmd.Flags().String("data-dir", "", "Directory for the task database and checkpoints")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadMergedConfig(cmd)
	if err != nil {
		return err
	}

	planFile := args[0]
	fmt.Fprintf(cmd.OutOrStdout(), "Loading plan from %s...\n", planFile)
	plan, err := parsePlanFile(planFile)
	if err != nil {
		return err
	}
	if len(plan.Tasks) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Plan file is valid but contains no tasks.\n")
		return nil
	}

	// Plan frontmatter overrides config, CLI flags override both.
	if plan.MaxConcurrent > 0 && !cmd.Flags().Changed("max-concurrent") {
		cfg.MaxConcurrent = plan.MaxConcurrent
	}
	if plan.TokenBudget > 0 {
		cfg.Agent.TokenBudget = plan.TokenBudget
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tasks := make([]*models.Task, 0, len(plan.Tasks))
	for i := range plan.Tasks {
		tasks = append(tasks, &plan.Tasks[i])
	}
	if err := scheduler.ValidateGraph(tasks); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nPlan Summary:\n")
	fmt.Fprintf(cmd.OutOrStdout(), "  Total tasks: %d\n", len(plan.Tasks))
	fmt.Fprintf(cmd.OutOrStdout(), "  Max concurrent: %d\n", cfg.MaxConcurrent)
	fmt.Fprintf(cmd.OutOrStdout(), "  Queue slots: %d\n", cfg.Queue.MaxConcurrent)

	if cfg.DryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "\nDry-run mode: plan is valid and ready for execution.\n")
		for _, t := range tasks {
			line := fmt.Sprintf("  - %s: %s [%s]", t.ID, t.Title, t.Priority)
			if len(t.DependsOn) > 0 {
				line += fmt.Sprintf(" (after %v)", t.DependsOn)
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	}

	// Persist tasks so an interrupted run can be inspected and recovered.
	store, err := scheduler.NewSQLiteStore(filepath.Join(cfg.DataDir, "tasks.db"))
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer store.Close()
	for _, t := range tasks {
		if err := store.Put(t); err != nil {
			return fmt.Errorf("failed to store task %s: %w", t.ID, err)
		}
	}

	ckpt, closeCkpt, err := openCheckpointStore(cfg)
	if err != nil {
		return err
	}
	defer closeCkpt()
	if cfg.Checkpoints.Retention > 0 {
		if n, err := ckpt.ExpireOlderThan(cfg.Checkpoints.Retention); err == nil && n > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Expired %d old checkpoint(s).\n", n)
		}
	}

	consoleLog := logger.NewConsoleLogger(os.Stdout, cfg.LogLevel)
	svc := llm.NewCLIService(cfg.Agent.Command)
	q := queue.New(svc, queue.Config{
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		MaxRetries:    cfg.Queue.MaxRetries,
		RetryDelay:    cfg.Queue.RetryDelay,
	})
	q.SetListener(consoleLog)

	runner := &taskRunner{cfg: cfg, queue: q, sink: consoleLog, ckpt: ckpt}
	sched := scheduler.New(store, runner, scheduler.Config{MaxConcurrent: cfg.MaxConcurrent})
	sched.SetListener(consoleLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "\nStarting execution...\n\n")
	summary, err := sched.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			sched.Stop()
			return fmt.Errorf("execution interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("execution failed: %w", err)
	}

	consoleLog.LogSummary(summary)
	if summary.Failed > 0 {
		return fmt.Errorf("%d task(s) failed", summary.Failed)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nExecution completed successfully!\n")
	return nil
}

// loadMergedConfig loads the config file and applies CLI flag overrides.
func loadMergedConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var maxConcurrentPtr *int
	if cmd.Flags().Changed("max-concurrent") {
		v, _ := cmd.Flags().GetInt("max-concurrent")
		maxConcurrentPtr = &v
	}
	var logLevelPtr *string
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &v
	}
	var dataDirPtr *string
	if cmd.Flags().Changed("data-dir") {
		v, _ := cmd.Flags().GetString("data-dir")
		dataDirPtr = &v
	}
	var dryRunPtr *bool
	if cmd.Flags().Changed("dry-run") {
		v, _ := cmd.Flags().GetBool("dry-run")
		dryRunPtr = &v
	}

	cfg.MergeWithFlags(maxConcurrentPtr, logLevelPtr, dataDirPtr, dryRunPtr)
	return cfg, nil
}

// parsePlanFile opens and parses one markdown plan.
func parsePlanFile(path string) (*parser.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()

	plan, err := parser.NewMarkdownParser().Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}
	return plan, nil
}

// openCheckpointStore builds the configured checkpoint backend.
func openCheckpointStore(cfg *config.Config) (checkpoint.Store, func(), error) {
	switch cfg.Checkpoints.Backend {
	case "sqlite":
		s, err := checkpoint.NewSQLiteStore(filepath.Join(cfg.DataDir, "checkpoints.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		return s, func() { s.Close() }, nil
	case "file":
		s, err := checkpoint.NewFileStore(filepath.Join(cfg.DataDir, "checkpoints"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		return s, func() {}, nil
	default:
		return checkpoint.NewMemoryStore(), func() {}, nil
	}
}

// taskRunner executes one scheduled task with a dedicated agent loop bound
// to the shared request queue at the task's priority.
type taskRunner struct {
	cfg   *config.Config
	queue *queue.Queue
	sink  agent.EventSink
	ckpt  checkpoint.Store
}

// Run implements scheduler.Runner.
func (r *taskRunner) Run(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
	if timeout := taskTimeout(task); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	loop := agent.New(agent.Config{
		TaskID:              task.ID,
		Role:                task.Role,
		Model:               r.cfg.Agent.Model,
		MaxOutputTokens:     r.cfg.Agent.MaxOutputTokens,
		MaxIterations:       r.cfg.Agent.MaxIterations,
		TokenBudget:         r.cfg.Agent.TokenBudget,
		CompactionThreshold: r.cfg.Agent.CompactionThreshold,
		KeepRecent:          r.cfg.Agent.KeepRecent,
	}, r.queue.Bind(task.Priority), nil)
	loop.SetEventSink(r.sink)
	loop.SetCheckpoints(r.ckpt)

	started := time.Now()
	res, err := loop.Run(ctx, taskMessages(task))

	result := &models.TaskResult{Task: *task, Error: err}
	if res != nil {
		result.Output = res.Content
		result.Iterations = res.Iterations
		result.TokensUsed = res.TokensUsed
		result.ToolCalls = res.ToolCalls
	}
	task.RecordExecution(models.ExecutionRecord{
		Role:       task.Role,
		Action:     "agent-loop",
		StartedAt:  started,
		EndedAt:    time.Now(),
		Result:     result.Output,
		TokensUsed: result.TokensUsed,
		Model:      r.cfg.Agent.Model,
		Provider:   "cli",
	})
	return result, err
}

// taskTimeout returns the task's per-execution deadline from its plan
// annotation, or zero when the task carries none.
func taskTimeout(task *models.Task) time.Duration {
	s, ok := task.Input["timeout"].(string)
	if !ok {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// taskMessages renders a task as an agent's starting history.
func taskMessages(task *models.Task) []llm.Message {
	system := "You are an autonomous agent. Complete the task and reply with the result."
	if task.Role != "" {
		system = fmt.Sprintf("You are the %s agent. Complete the task and reply with the result.", task.Role)
	}
	user := "Task: " + task.Title
	if task.Description != "" {
		user += "\n\n" + task.Description
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}
