package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/overseer/internal/filelock"
)

// FileStore persists checkpoints as one JSON document per task inside a
// directory, guarded by flock so multiple processes can share it. The JSON
// form is the same envelope external inspection tooling reads.
type FileStore struct {
	dir string
	mu  sync.Mutex // serializes goroutines; flock serializes processes
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// taskPath returns the JSON file holding one task's checkpoints.
func (s *FileStore) taskPath(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

// readTask loads a task's checkpoint list; a missing file is an empty list.
func (s *FileStore) readTask(path string) ([]*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cps []*Checkpoint
	if err := json.Unmarshal(data, &cps); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cps, nil
}

// writeTask persists a task's checkpoint list with lock + atomic rename.
func (s *FileStore) writeTask(path string, cps []*Checkpoint) error {
	data, err := json.MarshalIndent(cps, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return filelock.LockAndWrite(path, data)
}

// Save appends the checkpoint to the task's document.
func (s *FileStore) Save(cp *Checkpoint) (string, error) {
	stored := *cp
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.taskPath(stored.TaskID)
	cps, err := s.readTask(path)
	if err != nil {
		return "", err
	}
	cps = append(cps, &stored)
	if err := s.writeTask(path, cps); err != nil {
		return "", err
	}
	return stored.ID, nil
}

// LoadLatest returns the newest checkpoint for the task, or (nil, nil).
func (s *FileStore) LoadLatest(taskID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cps, err := s.readTask(s.taskPath(taskID))
	if err != nil {
		return nil, err
	}
	var latest *Checkpoint
	for _, cp := range cps {
		if latest == nil || newer(cp, latest) {
			latest = cp
		}
	}
	return latest, nil
}

// DeleteForTask removes the task's checkpoint document.
func (s *FileStore) DeleteForTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.taskPath(taskID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	os.Remove(path + ".lock")
	return nil
}

// ExpireOlderThan walks every task document and drops stale checkpoints.
func (s *FileStore) ExpireOlderThan(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(s.dir, name)
		cps, err := s.readTask(path)
		if err != nil {
			return removed, err
		}
		kept := cps[:0]
		for _, cp := range cps {
			if cp.CreatedAt.Before(cutoff) {
				removed++
			} else {
				kept = append(kept, cp)
			}
		}
		if len(kept) == len(cps) {
			continue
		}
		if len(kept) == 0 {
			if err := os.Remove(path); err != nil {
				return removed, fmt.Errorf("remove %s: %w", path, err)
			}
			os.Remove(path + ".lock")
			continue
		}
		if err := s.writeTask(path, kept); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
