// Package agent drives one task's think/act cycle: it calls the model,
// executes requested tools, compacts the working history when it grows past
// the token threshold, and stops runaway executions via iteration, budget,
// and loop limits.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/overseer/internal/budget"
	"github.com/harrison/overseer/internal/checkpoint"
	"github.com/harrison/overseer/internal/compaction"
	"github.com/harrison/overseer/internal/llm"
)

// Execution-fatal conditions. Each terminates exactly the one task execution
// it occurred in; callers match them with errors.Is.
var (
	ErrBudgetExceeded = errors.New("token budget exceeded")
	ErrLoopDetected   = errors.New("tool loop detected")
	ErrMaxIterations  = errors.New("max iterations reached")
)

// Defaults applied when Config leaves the corresponding field zero.
const (
	DefaultMaxIterations = 10
	DefaultKeepRecent    = 4
)

// State is the loop's lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Config describes one agent loop instance.
type Config struct {
	TaskID    string
	AgentID   string
	ProjectID string
	Role      string

	Model           string
	Temperature     float64
	MaxOutputTokens int
	Tools           []llm.ToolDef
	ToolChoice      string

	MaxIterations int // 0 = DefaultMaxIterations

	TokenBudget         int // 0 = unlimited
	CompactionThreshold int // 0 = compaction disabled
	KeepRecent          int // 0 = DefaultKeepRecent
}

// Result is what a finished (or failed-partway) execution produced.
type Result struct {
	Content    string
	Iterations int
	TokensUsed int
	ToolCalls  int
	Files      []string
}

// Loop runs one task to completion or failure. A Loop owns its token
// tracker, loop guard, and message history for the duration of one
// execution; Reset prepares it for reuse.
type Loop struct {
	cfg       Config
	svc       llm.Service
	tools     ToolRunner
	tracker   *budget.Tracker
	compactor *compaction.Compactor
	guard     *LoopGuard

	mu    sync.Mutex
	state State
	sink  EventSink
	ckpt  checkpoint.Store
	inbox []string
}

// New creates a loop bound to a model service and tool runner. The tool
// runner may be nil for tool-less roles; requested tool calls then fail as
// data and are reported back to the model.
func New(cfg Config, svc llm.Service, tools ToolRunner) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}

	l := &Loop{
		cfg:   cfg,
		svc:   svc,
		tools: tools,
		guard: NewLoopGuard(),
		state: StateIdle,
	}
	l.tracker = budget.NewTracker(cfg.TokenBudget, func(level budget.Level, used, total int) {
		typ := EventBudgetWarning
		if level == budget.LevelCritical {
			typ = EventBudgetCritical
		}
		l.emit(Event{Type: typ, TaskID: cfg.TaskID, TokensUsed: used,
			Message: fmt.Sprintf("%d of %d budgeted tokens used", used, total)})
	})
	if cfg.CompactionThreshold > 0 {
		l.compactor = compaction.New(cfg.CompactionThreshold, cfg.KeepRecent, nil)
	}
	return l
}

// SetEventSink registers an observer for progress events. Optional; the
// loop's control flow never depends on a listener being present.
func (l *Loop) SetEventSink(sink EventSink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

// SetCheckpoints enables best-effort checkpoint writes through the store.
func (l *Loop) SetCheckpoints(store checkpoint.Store) {
	l.mu.Lock()
	l.ckpt = store
	l.mu.Unlock()
}

// SetSummarizer replaces the compactor's deterministic truncation with a
// delegated summarization call. Must be called before Run.
func (l *Loop) SetSummarizer(s compaction.Summarizer) {
	if l.cfg.CompactionThreshold > 0 {
		l.compactor = compaction.New(l.cfg.CompactionThreshold, l.cfg.KeepRecent, s)
	}
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Tracker exposes the loop's token tracker for inspection.
func (l *Loop) Tracker() *budget.Tracker { return l.tracker }

// Post injects an out-of-band user message; it is appended to the working
// history at the start of the next iteration.
func (l *Loop) Post(content string) {
	l.mu.Lock()
	l.inbox = append(l.inbox, content)
	l.mu.Unlock()
}

// Reset clears the token tracker, loop guard, and pending messages so the
// loop can run another task.
func (l *Loop) Reset() {
	l.tracker.Reset(0)
	l.guard.Clear()
	l.mu.Lock()
	l.state = StateIdle
	l.inbox = nil
	l.mu.Unlock()
}

// Run executes the think/act cycle starting from the given message history
// until the model completes, a fatal condition fires, or the iteration limit
// is exhausted. Partial results accompany errors.
func (l *Loop) Run(ctx context.Context, initial []llm.Message) (*Result, error) {
	l.mu.Lock()
	if l.state == StateRunning {
		l.mu.Unlock()
		return nil, fmt.Errorf("agent loop for task %s already running", l.cfg.TaskID)
	}
	l.state = StateRunning
	l.mu.Unlock()

	// Guard state must never leak across executions.
	l.guard.Clear()
	defer l.guard.Clear()

	messages := append([]llm.Message(nil), initial...)
	result := &Result{}

	l.emit(Event{Type: EventLoopStarted, TaskID: l.cfg.TaskID})

	for iter := 1; iter <= l.cfg.MaxIterations; iter++ {
		result.Iterations = iter
		l.emit(Event{Type: EventIterationStarted, TaskID: l.cfg.TaskID, Iteration: iter})

		if err := ctx.Err(); err != nil {
			return result, l.fail(result, iter, err)
		}

		messages = l.drainInbox(messages)

		// 1. Compact the history if it outgrew the threshold.
		if l.compactor != nil && l.compactor.NeedsCompaction(messages) {
			l.emit(Event{Type: EventCompacting, TaskID: l.cfg.TaskID, Iteration: iter,
				TokensUsed: budget.EstimateMessages(messages)})
			compacted, err := l.compactor.Compact(ctx, messages)
			if err != nil {
				return result, l.fail(result, iter, fmt.Errorf("compact history: %w", err))
			}
			messages = compacted
			l.emit(Event{Type: EventCompacted, TaskID: l.cfg.TaskID, Iteration: iter,
				TokensUsed: budget.EstimateMessages(messages)})
			l.saveCheckpoint(checkpoint.KindContextSnapshot, iter, "compacted",
				&checkpoint.ContextSnapshotPayload{Messages: messages})
		}

		// 2. Fail fast if the projected spend would breach the ceiling.
		projected := budget.EstimateMessages(messages) + l.cfg.MaxOutputTokens
		if !l.tracker.CheckBudget(projected) {
			snap := l.tracker.Snapshot()
			err := fmt.Errorf("%w: %d used + %d projected > %d budget",
				ErrBudgetExceeded, snap.TotalTokens, projected, snap.Budget)
			return result, l.fail(result, iter, err)
		}

		// 3. Submit the call and record real usage.
		l.emit(Event{Type: EventCallStarted, TaskID: l.cfg.TaskID, Iteration: iter})
		resp, err := l.svc.Chat(ctx, llm.ChatRequest{
			Model:       l.cfg.Model,
			Messages:    messages,
			Temperature: l.cfg.Temperature,
			MaxTokens:   l.cfg.MaxOutputTokens,
			Tools:       l.cfg.Tools,
			ToolChoice:  l.cfg.ToolChoice,
		})
		if err != nil {
			return result, l.fail(result, iter, fmt.Errorf("model call: %w", err))
		}
		l.tracker.Record(resp.Usage)
		result.TokensUsed += usageTotal(resp.Usage)
		l.emit(Event{Type: EventCallFinished, TaskID: l.cfg.TaskID, Iteration: iter,
			TokensUsed: usageTotal(resp.Usage)})

		// 4. No pending tool calls means the task is done.
		if len(resp.ToolCalls) == 0 {
			result.Content = resp.Content
			l.saveCheckpoint(checkpoint.KindProgress, iter, "completed",
				&checkpoint.ProgressPayload{Percent: 100, Summary: resp.Content})
			l.setState(StateCompleted)
			l.emit(Event{Type: EventLoopCompleted, TaskID: l.cfg.TaskID, Iteration: iter,
				TokensUsed: result.TokensUsed})
			return result, nil
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		// 5. Screen every requested call through the loop guard, then
		// dispatch the whole batch.
		for _, call := range resp.ToolCalls {
			if l.guard.RecordAndCheck(call.Name, call.Arguments) {
				err := fmt.Errorf("%w: %s repeated %d times with identical arguments",
					ErrLoopDetected, call.Name, maxIdenticalCalls)
				return result, l.fail(result, iter, err)
			}
		}

		results := l.runToolBatch(ctx, iter, resp.ToolCalls)
		result.ToolCalls += len(results)
		for _, r := range results {
			result.Files = append(result.Files, r.Files...)
		}

		messages = append(messages, llm.Message{
			Role:    llm.RoleTool,
			Content: formatToolResults(results),
		})

		l.saveCheckpoint(checkpoint.KindProgress, iter, "iteration",
			&checkpoint.ProgressPayload{
				Percent: float64(iter) / float64(l.cfg.MaxIterations) * 100,
				Summary: fmt.Sprintf("iteration %d: %d tool calls", iter, len(results)),
			})
	}

	err := fmt.Errorf("%w: no completion after %d iterations", ErrMaxIterations, l.cfg.MaxIterations)
	return result, l.fail(result, l.cfg.MaxIterations, err)
}

// runToolBatch executes one batch of tool calls, wrapping it in before/after
// checkpoints and batch events.
func (l *Loop) runToolBatch(ctx context.Context, iter int, calls []llm.ToolCall) []ToolResult {
	l.emit(Event{Type: EventToolBatchStarted, TaskID: l.cfg.TaskID, Iteration: iter,
		Message: fmt.Sprintf("%d tool calls", len(calls))})

	for _, call := range calls {
		l.saveCheckpoint(checkpoint.KindToolBefore, iter, call.Name,
			&checkpoint.ToolCallPayload{Call: call})
	}

	var results []ToolResult
	if l.tools == nil {
		for _, call := range calls {
			results = append(results, ToolResult{
				CallID: call.ID,
				Name:   call.Name,
				Error:  "no tool runner configured",
			})
		}
	} else {
		results = l.tools.ExecuteBatch(ctx, calls)
	}

	for _, r := range results {
		l.saveCheckpoint(checkpoint.KindToolAfter, iter, r.Name, &checkpoint.ToolCallPayload{
			Call:       llm.ToolCall{ID: r.CallID, Name: r.Name},
			Success:    r.Success,
			Output:     r.Output,
			Error:      r.Error,
			DurationMS: r.Duration.Milliseconds(),
		})
	}

	l.emit(Event{Type: EventToolBatchFinished, TaskID: l.cfg.TaskID, Iteration: iter,
		Message: fmt.Sprintf("%d results", len(results))})
	return results
}

// drainInbox appends any out-of-band messages posted since the last
// iteration.
func (l *Loop) drainInbox(messages []llm.Message) []llm.Message {
	l.mu.Lock()
	pending := l.inbox
	l.inbox = nil
	l.mu.Unlock()

	for _, content := range pending {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: content})
	}
	return messages
}

// fail marks the loop failed and emits the terminal event.
func (l *Loop) fail(result *Result, iter int, err error) error {
	l.setState(StateFailed)
	l.emit(Event{Type: EventLoopFailed, TaskID: l.cfg.TaskID, Iteration: iter,
		TokensUsed: result.TokensUsed, Err: err})
	return err
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// emit delivers an event to the sink, if any.
func (l *Loop) emit(e Event) {
	l.mu.Lock()
	sink := l.sink
	l.mu.Unlock()
	if sink == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	sink.HandleEvent(e)
}

// saveCheckpoint is best-effort: a failed write must not abort the task.
func (l *Loop) saveCheckpoint(kind checkpoint.Kind, step int, name string, payload checkpoint.Payload) {
	l.mu.Lock()
	store := l.ckpt
	l.mu.Unlock()
	if store == nil {
		return
	}
	_, _ = store.Save(&checkpoint.Checkpoint{
		TaskID:    l.cfg.TaskID,
		AgentID:   l.cfg.AgentID,
		ProjectID: l.cfg.ProjectID,
		Kind:      kind,
		StepIndex: step,
		StepName:  name,
		Payload:   payload,
	})
}

func usageTotal(u llm.Usage) int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}
