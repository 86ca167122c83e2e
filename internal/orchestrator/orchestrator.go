// Package orchestrator decomposes one parent task into independently
// executed sub-tasks, each driven by its own agent loop racing a wall-clock
// timeout, and aggregates their outcomes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/overseer/internal/agent"
	"github.com/harrison/overseer/internal/checkpoint"
	"github.com/harrison/overseer/internal/llm"
	"github.com/harrison/overseer/internal/models"
)

// ErrSubtaskTimeout marks a sub-task that exceeded its wall-clock budget.
var ErrSubtaskTimeout = errors.New("sub-task timed out")

// ErrUnknownSubtask reports a message sent to a sub-task that is not
// in flight.
var ErrUnknownSubtask = errors.New("unknown sub-task")

// DefaultTimeout bounds a sub-task that does not specify its own.
const DefaultTimeout = 5 * time.Minute

// SubtaskDef describes one independently executable decomposition of a
// parent task.
type SubtaskDef struct {
	ID          string         // caller-chosen identity, unique within one Run
	Title       string
	Description string
	Role        string
	Input       map[string]any // merged over the parent's input
	Timeout     time.Duration  // 0 = DefaultTimeout
	Tools       []llm.ToolDef
}

// SubtaskResult is the outcome of one sub-task execution.
type SubtaskResult struct {
	ID         string
	Task       models.Task // the derived task that was executed
	Success    bool
	Output     string
	Err        error
	Duration   time.Duration
	Iterations int
	ToolCalls  int
	TokensUsed int
	Files      []string
}

// ServiceResolver returns the model service appropriate for a role. The
// returned service is typically a priority-bound queue view, so all
// sub-agents still share the process-wide concurrency ceiling on model
// calls.
type ServiceResolver func(role string) llm.Service

// Config carries the per-sub-agent loop settings.
type Config struct {
	Model               string
	MaxIterations       int
	MaxOutputTokens     int
	TokenBudget         int
	CompactionThreshold int
	KeepRecent          int
	DefaultTimeout      time.Duration
}

// Orchestrator runs sub-task batches. It applies no concurrency ceiling of
// its own; the shared request queue already bounds model calls.
type Orchestrator struct {
	resolve ServiceResolver
	tools   agent.ToolRunner
	cfg     Config

	mu      sync.Mutex
	sink    agent.EventSink
	ckpt    checkpoint.Store
	handles map[string]*agent.Loop
}

// New creates an orchestrator. The tool runner may be nil for tool-less
// roles.
func New(resolve ServiceResolver, tools agent.ToolRunner, cfg Config) *Orchestrator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	return &Orchestrator{
		resolve: resolve,
		tools:   tools,
		cfg:     cfg,
		handles: make(map[string]*agent.Loop),
	}
}

// SetEventSink forwards agent loop events from every sub-agent.
func (o *Orchestrator) SetEventSink(sink agent.EventSink) {
	o.mu.Lock()
	o.sink = sink
	o.mu.Unlock()
}

// SetCheckpoints enables best-effort checkpointing for every sub-agent.
func (o *Orchestrator) SetCheckpoints(store checkpoint.Store) {
	o.mu.Lock()
	o.ckpt = store
	o.mu.Unlock()
}

// Post sends an out-of-band message to a specific in-flight sub-agent.
func (o *Orchestrator) Post(subtaskID, content string) error {
	o.mu.Lock()
	loop, ok := o.handles[subtaskID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubtask, subtaskID)
	}
	loop.Post(content)
	return nil
}

// Shutdown releases all sub-agent handles. In-flight work is not stopped;
// it merely becomes unaddressable.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.handles = make(map[string]*agent.Loop)
	o.mu.Unlock()
}

// Run executes every sub-task concurrently, each racing its own timeout,
// and returns one result per definition in definition order. A failed or
// timed-out sub-task never fails the batch.
func (o *Orchestrator) Run(ctx context.Context, parent *models.Task, defs []SubtaskDef) ([]SubtaskResult, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("sub-task of %s has no ID", parent.ID)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate sub-task ID %s", def.ID)
		}
		seen[def.ID] = true
	}

	results := make([]SubtaskResult, len(defs))
	var wg sync.WaitGroup

	for i, def := range defs {
		derived := o.deriveTask(parent, def)
		loop := o.newLoop(derived, def)

		o.mu.Lock()
		o.handles[def.ID] = loop
		o.mu.Unlock()

		wg.Add(1)
		go func(i int, def SubtaskDef, derived *models.Task, loop *agent.Loop) {
			defer wg.Done()
			results[i] = o.runOne(ctx, def, derived, loop)

			o.mu.Lock()
			delete(o.handles, def.ID)
			o.mu.Unlock()
		}(i, def, derived, loop)
	}
	wg.Wait()

	return results, nil
}

// runOne executes a single sub-task against its timeout.
func (o *Orchestrator) runOne(ctx context.Context, def SubtaskDef, derived *models.Task, loop *agent.Loop) SubtaskResult {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	res, err := loop.Run(execCtx, buildMessages(derived))
	elapsed := time.Since(started)

	if err != nil && execCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("%w after %v: %s", ErrSubtaskTimeout, timeout, def.ID)
	}

	out := SubtaskResult{
		ID:       def.ID,
		Task:     *derived,
		Success:  err == nil,
		Err:      err,
		Duration: elapsed,
	}
	if res != nil {
		out.Output = res.Content
		out.Iterations = res.Iterations
		out.ToolCalls = res.ToolCalls
		out.TokensUsed = res.TokensUsed
		out.Files = res.Files
	}
	return out
}

// deriveTask materializes the sub-task as a Task linked to its parent, with
// the sub-task's input merged over the parent's.
func (o *Orchestrator) deriveTask(parent *models.Task, def SubtaskDef) *models.Task {
	input := make(map[string]any, len(parent.Input)+len(def.Input))
	for k, v := range parent.Input {
		input[k] = v
	}
	for k, v := range def.Input {
		input[k] = v
	}

	now := time.Now()
	return &models.Task{
		ID:          uuid.NewString(),
		Title:       def.Title,
		Description: def.Description,
		Status:      models.StatusInProgress,
		Priority:    parent.Priority,
		Input:       input,
		Role:        def.Role,
		ParentID:    parent.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
		StartedAt:   &now,
	}
}

// newLoop builds the dedicated agent loop for one sub-task, bound to the
// role-appropriate model service.
func (o *Orchestrator) newLoop(derived *models.Task, def SubtaskDef) *agent.Loop {
	cfg := agent.Config{
		TaskID:              derived.ID,
		AgentID:             def.ID,
		Role:                def.Role,
		Model:               o.cfg.Model,
		MaxOutputTokens:     o.cfg.MaxOutputTokens,
		Tools:               def.Tools,
		MaxIterations:       o.cfg.MaxIterations,
		TokenBudget:         o.cfg.TokenBudget,
		CompactionThreshold: o.cfg.CompactionThreshold,
		KeepRecent:          o.cfg.KeepRecent,
	}
	loop := agent.New(cfg, o.resolve(def.Role), o.tools)

	o.mu.Lock()
	sink, ckpt := o.sink, o.ckpt
	o.mu.Unlock()
	if sink != nil {
		loop.SetEventSink(sink)
	}
	if ckpt != nil {
		loop.SetCheckpoints(ckpt)
	}
	return loop
}

// buildMessages renders the derived task as the sub-agent's starting
// history.
func buildMessages(task *models.Task) []llm.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", task.Description)
	}
	if len(task.Input) > 0 {
		sb.WriteString("\nInput:\n")
		keys := make([]string, 0, len(task.Input))
		for k := range task.Input {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %v\n", k, task.Input[k])
		}
	}

	system := "You are an autonomous agent. Complete the task and reply with the result."
	if task.Role != "" {
		system = fmt.Sprintf("You are the %s agent. Complete the task and reply with the result.", task.Role)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}
