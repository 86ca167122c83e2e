// Package checkpoint persists point-in-time snapshots of a task's progress,
// tool calls, and conversation context so an interrupted execution can
// resume from its latest snapshot instead of starting over.
//
// Checkpoints are immutable: later checkpoints supersede earlier ones, and
// recovery re-derives state from the latest snapshot plus subsequent
// execution records. Three backends are provided: in-memory (tests and the
// hot path), SQLite (durable), and flock-guarded JSON files (inspectable).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harrison/overseer/internal/llm"
)

// DefaultRetention is how long checkpoints are kept before expiry.
const DefaultRetention = 7 * 24 * time.Hour

// Kind identifies what a checkpoint's payload snapshots.
type Kind string

const (
	KindProgress        Kind = "progress"
	KindToolBefore      Kind = "tool-before"
	KindToolAfter       Kind = "tool-after"
	KindContextSnapshot Kind = "context-snapshot"
)

// Payload is the kind-specific body of a checkpoint. The concrete shape is
// statically known per kind: KindProgress carries *ProgressPayload,
// KindToolBefore/KindToolAfter carry *ToolCallPayload, and
// KindContextSnapshot carries *ContextSnapshotPayload.
type Payload interface {
	isPayload()
}

// ProgressPayload records how far a task has advanced.
type ProgressPayload struct {
	CompletedSteps []string `json:"completed_steps,omitempty"`
	Percent        float64  `json:"percent"`
	Summary        string   `json:"summary,omitempty"`
}

func (*ProgressPayload) isPayload() {}

// ToolCallPayload records one tool invocation. Before-checkpoints carry only
// the call; after-checkpoints also carry the outcome.
type ToolCallPayload struct {
	Call       llm.ToolCall `json:"call"`
	Success    bool         `json:"success,omitempty"`
	Output     string       `json:"output,omitempty"`
	Error      string       `json:"error,omitempty"`
	DurationMS int64        `json:"duration_ms,omitempty"`
}

func (*ToolCallPayload) isPayload() {}

// ContextSnapshotPayload records the working message history.
type ContextSnapshotPayload struct {
	Messages []llm.Message `json:"messages"`
}

func (*ContextSnapshotPayload) isPayload() {}

// Checkpoint is one immutable snapshot of a task's execution state.
type Checkpoint struct {
	ID        string
	TaskID    string
	AgentID   string
	ProjectID string
	Kind      Kind
	Payload   Payload
	CreatedAt time.Time
	StepIndex int
	StepName  string
}

// envelope is the JSON document form of a checkpoint, used by the file and
// SQLite backends and by external inspection tooling.
type envelope struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	AgentID   string          `json:"agent_id,omitempty"`
	ProjectID string          `json:"project_id,omitempty"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	StepIndex int             `json:"step_index"`
	StepName  string          `json:"step_name,omitempty"`
}

// MarshalJSON renders the checkpoint in its document form.
func (c *Checkpoint) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", c.Kind, err)
	}
	return json.Marshal(envelope{
		ID:        c.ID,
		TaskID:    c.TaskID,
		AgentID:   c.AgentID,
		ProjectID: c.ProjectID,
		Kind:      c.Kind,
		Payload:   payload,
		CreatedAt: c.CreatedAt,
		StepIndex: c.StepIndex,
		StepName:  c.StepName,
	})
}

// UnmarshalJSON decodes the document form, selecting the payload shape from
// the kind tag.
func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	payload, err := decodePayload(env.Kind, env.Payload)
	if err != nil {
		return err
	}
	c.ID = env.ID
	c.TaskID = env.TaskID
	c.AgentID = env.AgentID
	c.ProjectID = env.ProjectID
	c.Kind = env.Kind
	c.Payload = payload
	c.CreatedAt = env.CreatedAt
	c.StepIndex = env.StepIndex
	c.StepName = env.StepName
	return nil
}

// decodePayload picks the concrete payload type for a kind.
func decodePayload(kind Kind, data []byte) (Payload, error) {
	var payload Payload
	switch kind {
	case KindProgress:
		payload = &ProgressPayload{}
	case KindToolBefore, KindToolAfter:
		payload = &ToolCallPayload{}
	case KindContextSnapshot:
		payload = &ContextSnapshotPayload{}
	default:
		return nil, fmt.Errorf("unknown checkpoint kind %q", kind)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
	}
	return payload, nil
}

// Store persists checkpoints keyed by task, most recent first.
type Store interface {
	// Save stores a new immutable checkpoint and returns its ID. A missing
	// ID or creation time is filled in.
	Save(cp *Checkpoint) (string, error)

	// LoadLatest returns the most recently created checkpoint for a task,
	// breaking creation-time ties by the higher step index. Returns
	// (nil, nil) when the task has no checkpoints.
	LoadLatest(taskID string) (*Checkpoint, error)

	// DeleteForTask removes all of a task's checkpoints.
	DeleteForTask(taskID string) error

	// ExpireOlderThan removes checkpoints older than maxAge system-wide and
	// returns how many were removed.
	ExpireOlderThan(maxAge time.Duration) (int, error)
}

// newer reports whether a should supersede b as "latest".
func newer(a, b *Checkpoint) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.StepIndex > b.StepIndex
}
