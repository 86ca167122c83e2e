package agent

import "time"

// EventType identifies a progress event emitted by the agent loop.
type EventType string

const (
	EventLoopStarted       EventType = "loop_started"
	EventIterationStarted  EventType = "iteration_started"
	EventCompacting        EventType = "compacting"
	EventCompacted         EventType = "compacted"
	EventCallStarted       EventType = "call_started"
	EventCallFinished      EventType = "call_finished"
	EventToolBatchStarted  EventType = "tool_batch_started"
	EventToolBatchFinished EventType = "tool_batch_finished"
	EventBudgetWarning     EventType = "budget_warning"
	EventBudgetCritical    EventType = "budget_critical"
	EventLoopCompleted     EventType = "loop_completed"
	EventLoopFailed        EventType = "loop_failed"
)

// Event is one observable step of an agent loop execution. Events exist for
// external consumers (logging, UI); the loop's control flow never depends on
// whether anyone is listening.
type Event struct {
	Type       EventType
	TaskID     string
	Iteration  int
	Message    string
	Err        error
	TokensUsed int
	At         time.Time
}

// EventSink receives progress events. Implementations must not block for
// long; the loop calls them synchronously.
type EventSink interface {
	HandleEvent(Event)
}

// EventFunc adapts a plain function to the EventSink interface.
type EventFunc func(Event)

// HandleEvent implements EventSink.
func (f EventFunc) HandleEvent(e Event) { f(e) }
