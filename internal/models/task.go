// Package models defines the task model shared by the scheduler, agent loop,
// and orchestrator.
package models

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
)

// CanTransitionTo reports whether a status change is a legal forward
// transition. Re-entry to pending is not a forward transition; it is only
// reachable through explicit recovery (see Task.Recover).
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending, StatusBlocked:
		return next == StatusInProgress || next == StatusBlocked || next == StatusPending
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Priority determines task scheduling order.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the numeric ordering of a priority. Higher ranks are
// scheduled first. Unknown priorities rank below low so they sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Progress summarizes how far a task execution has advanced.
type Progress struct {
	CompletedSteps []string `json:"completed_steps,omitempty"`
	Percent        float64  `json:"percent"`
}

// ExecutionRecord is one model-or-tool invocation's audit entry.
// Records are append-only per task.
type ExecutionRecord struct {
	Role       string    `json:"role"`
	Action     string    `json:"action"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Result     string    `json:"result,omitempty"`
	TokensUsed int       `json:"tokens_used"`
	Model      string    `json:"model,omitempty"`
	Provider   string    `json:"provider,omitempty"`
}

// RetryAttempt records one failed execution attempt prior to a retry.
type RetryAttempt struct {
	Attempt int       `json:"attempt"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// Task is a unit of agent work with status, priority, and dependencies.
type Task struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      Status            `json:"status"`
	Priority    Priority          `json:"priority"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	Input       map[string]any    `json:"input,omitempty"`
	Role        string            `json:"role,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"` // for sub-tasks
	Progress    Progress          `json:"progress"`
	Records     []ExecutionRecord `json:"records,omitempty"`
	Retries     []RetryAttempt    `json:"retries,omitempty"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Validate checks that the task has all required fields.
func (t *Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is required")
	}
	if t.Title == "" {
		return errors.New("task title is required")
	}
	return nil
}

// IsTerminal reports whether the task has reached a final status.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Recover explicitly returns an interrupted or failed task to pending so the
// scheduler can re-admit it. This is the only sanctioned path back to
// pending. Completed tasks cannot be recovered.
func (t *Task) Recover() error {
	if t.Status == StatusCompleted {
		return errors.New("completed task cannot be recovered")
	}
	if t.Status == StatusPending {
		return nil
	}
	t.Retries = append(t.Retries, RetryAttempt{
		Attempt: len(t.Retries) + 1,
		Error:   t.Error,
		At:      time.Now(),
	})
	t.Status = StatusPending
	t.Error = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	return nil
}

// RecordExecution appends an audit entry to the task's execution history.
func (t *Task) RecordExecution(rec ExecutionRecord) {
	t.Records = append(t.Records, rec)
}

// HasCyclicDependencies detects circular dependencies in a list of tasks
// using DFS with color marking (white=unvisited, gray=visiting, black=visited).
func HasCyclicDependencies(tasks []Task) bool {
	graph := make(map[string][]string)
	known := make(map[string]bool)

	for _, t := range tasks {
		known[t.ID] = true
		graph[t.ID] = nil
	}

	// Edges run prerequisite -> dependent.
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return true
			}
			if known[dep] {
				graph[dep] = append(graph[dep], t.ID)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[string]int, len(known))

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		for _, next := range graph[node] {
			if colors[next] == gray {
				return true
			}
			if colors[next] == white && dfs(next) {
				return true
			}
		}
		colors[node] = black
		return false
	}

	for id := range known {
		if colors[id] == white && dfs(id) {
			return true
		}
	}
	return false
}
