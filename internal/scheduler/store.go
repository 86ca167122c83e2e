package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/overseer/internal/models"
)

// ErrTaskNotFound reports a lookup for an unknown task ID.
var ErrTaskNotFound = errors.New("task not found")

// TaskStore is the scheduler's view of task persistence. The scheduler owns
// every task in the store for the duration of a run.
type TaskStore interface {
	// Put inserts or replaces a task.
	Put(task *models.Task) error
	// Get returns the task with the given ID, or ErrTaskNotFound.
	Get(id string) (*models.Task, error)
	// List returns all tasks in creation order.
	List() ([]*models.Task, error)
	// UpdateStatus transitions a task's status, enforcing legal transitions.
	UpdateStatus(id string, status models.Status) error
}

// MemoryStore is the in-memory TaskStore used for the hot path and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	order []string
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task)}
}

// Put inserts or replaces a task.
func (s *MemoryStore) Put(task *models.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; !exists {
		s.order = append(s.order, task.ID)
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

// Get returns a copy of the task with the given ID.
func (s *MemoryStore) Get(id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	cp := *task
	return &cp, nil
}

// List returns copies of all tasks in insertion order.
func (s *MemoryStore) List() ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Task, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.tasks[id]
		out = append(out, &cp)
	}
	return out, nil
}

// UpdateStatus transitions the task's status. Illegal transitions are
// rejected so the pending -> in-progress -> terminal lifecycle cannot be
// bypassed through the store.
func (s *MemoryStore) UpdateStatus(id string, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !task.Status.CanTransitionTo(status) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", id, task.Status, status)
	}
	now := time.Now()
	task.Status = status
	task.UpdatedAt = now
	switch status {
	case models.StatusInProgress:
		task.StartedAt = &now
	case models.StatusCompleted, models.StatusFailed:
		task.CompletedAt = &now
	}
	return nil
}
