package checkpoint

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps checkpoints in a mutex-guarded map. It is the hot-path
// backend and the reference implementation the durable backends are tested
// against.
type MemoryStore struct {
	mu     sync.RWMutex
	byTask map[string][]*Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byTask: make(map[string][]*Checkpoint)}
}

// Save stores a copy of the checkpoint so later caller mutations cannot
// violate immutability.
func (s *MemoryStore) Save(cp *Checkpoint) (string, error) {
	stored := *cp
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.byTask[stored.TaskID] = append(s.byTask[stored.TaskID], &stored)
	s.mu.Unlock()
	return stored.ID, nil
}

// LoadLatest returns the newest checkpoint for the task, or (nil, nil).
func (s *MemoryStore) LoadLatest(taskID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Checkpoint
	for _, cp := range s.byTask[taskID] {
		if latest == nil || newer(cp, latest) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// DeleteForTask removes all checkpoints for the task.
func (s *MemoryStore) DeleteForTask(taskID string) error {
	s.mu.Lock()
	delete(s.byTask, taskID)
	s.mu.Unlock()
	return nil
}

// ExpireOlderThan removes checkpoints older than maxAge across all tasks.
func (s *MemoryStore) ExpireOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for taskID, cps := range s.byTask {
		kept := cps[:0]
		for _, cp := range cps {
			if cp.CreatedAt.Before(cutoff) {
				removed++
			} else {
				kept = append(kept, cp)
			}
		}
		if len(kept) == 0 {
			delete(s.byTask, taskID)
		} else {
			s.byTask[taskID] = kept
		}
	}
	return removed, nil
}
