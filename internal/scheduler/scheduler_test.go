package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harrison/overseer/internal/models"
)

func newTask(id string, priority models.Priority, deps ...string) *models.Task {
	return &models.Task{
		ID:        id,
		Title:     "task " + id,
		Status:    models.StatusPending,
		Priority:  priority,
		DependsOn: deps,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// recordingRunner notes when each task was admitted and how many ran at once.
type recordingRunner struct {
	mu       sync.Mutex
	order    []string
	starts   map[string]time.Time
	active   int
	peak     int
	hold     time.Duration
	failIDs  map[string]bool
	failWith error
}

func newRecordingRunner(hold time.Duration) *recordingRunner {
	return &recordingRunner{
		starts:   make(map[string]time.Time),
		failIDs:  make(map[string]bool),
		failWith: errors.New("task execution failed"),
		hold:     hold,
	}
}

func (r *recordingRunner) Run(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
	r.mu.Lock()
	r.order = append(r.order, task.ID)
	r.starts[task.ID] = time.Now()
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	fail := r.failIDs[task.ID]
	r.mu.Unlock()

	if r.hold > 0 {
		time.Sleep(r.hold)
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()

	if fail {
		return nil, r.failWith
	}
	return &models.TaskResult{Task: *task, Output: "done " + task.ID}, nil
}

func runToCompletion(t *testing.T, store TaskStore, runner Runner, cfg Config) *models.ExecutionSummary {
	t.Helper()
	s := New(store, runner, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return summary
}

func TestScheduler_DependencyOrdering(t *testing.T) {
	store := NewMemoryStore()
	t1 := newTask("t1", models.PriorityMedium)
	t2 := newTask("t2", models.PriorityMedium, "t1")
	t3 := newTask("t3", models.PriorityMedium, "t2")
	for _, task := range []*models.Task{t1, t2, t3} {
		if err := store.Put(task); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	runner := newRecordingRunner(0)
	summary := runToCompletion(t, store, runner, Config{MaxConcurrent: 1})

	if summary.Completed != 3 || summary.Failed != 0 {
		t.Fatalf("summary = %d completed %d failed, want 3/0", summary.Completed, summary.Failed)
	}

	// Admission timestamps must be strictly ordered: a dependent is never
	// admitted before its dependency completed.
	if !runner.starts["t1"].Before(runner.starts["t2"]) {
		t.Error("t2 admitted before t1 completed")
	}
	if !runner.starts["t2"].Before(runner.starts["t3"]) {
		t.Error("t3 admitted before t2 completed")
	}
}

func TestScheduler_ConcurrencyCeiling(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 6; i++ {
		if err := store.Put(newTask(fmt.Sprintf("t%d", i), models.PriorityMedium)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	runner := newRecordingRunner(20 * time.Millisecond)
	runToCompletion(t, store, runner, Config{MaxConcurrent: 2})

	if runner.peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", runner.peak)
	}
}

func TestScheduler_CompletionTriggersImmediateRescan(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(newTask("t1", models.PriorityMedium)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(newTask("t2", models.PriorityMedium, "t1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// With a one-minute tick, the run only finishes quickly if completion
	// kicks the scan loop directly.
	runner := newRecordingRunner(0)
	start := time.Now()
	summary := runToCompletion(t, store, runner, Config{MaxConcurrent: 1, TickInterval: time.Minute})
	if summary.Completed != 2 {
		t.Fatalf("Completed = %d, want 2", summary.Completed)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("run took %v; completion did not trigger a rescan", elapsed)
	}
}

func TestScheduler_PriorityOrderStable(t *testing.T) {
	store := NewMemoryStore()
	tasks := []*models.Task{
		newTask("low-a", models.PriorityLow),
		newTask("crit-a", models.PriorityCritical),
		newTask("med-a", models.PriorityMedium),
		newTask("crit-b", models.PriorityCritical),
		newTask("high-a", models.PriorityHigh),
	}
	for _, task := range tasks {
		if err := store.Put(task); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	runner := newRecordingRunner(0)
	runToCompletion(t, store, runner, Config{MaxConcurrent: 1})

	want := []string{"crit-a", "crit-b", "high-a", "med-a", "low-a"}
	for i, id := range want {
		if runner.order[i] != id {
			t.Errorf("admission[%d] = %q, want %q", i, runner.order[i], id)
		}
	}
}

func TestScheduler_FailedDependencyBlocksDependent(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(newTask("t1", models.PriorityMedium)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(newTask("t2", models.PriorityMedium, "t1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	runner := newRecordingRunner(0)
	runner.failIDs["t1"] = true
	summary := runToCompletion(t, store, runner, Config{MaxConcurrent: 2})

	if summary.Failed != 2 {
		t.Errorf("Failed = %d, want 2 (t1 failed, t2 blocked)", summary.Failed)
	}
	t2, err := store.Get("t2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if t2.Status != models.StatusBlocked {
		t.Errorf("t2 status = %s, want %s", t2.Status, models.StatusBlocked)
	}
	if t2.Error == "" {
		t.Error("t2 should record why it was blocked")
	}
	for _, id := range runner.order {
		if id == "t2" {
			t.Error("t2 must never be admitted after its dependency failed")
		}
	}
}

func TestValidateGraph(t *testing.T) {
	t.Run("unknown dependency", func(t *testing.T) {
		err := ValidateGraph([]*models.Task{newTask("t1", models.PriorityLow, "ghost")})
		if err == nil {
			t.Fatal("expected error for unknown dependency")
		}
	})

	t.Run("cycle", func(t *testing.T) {
		err := ValidateGraph([]*models.Task{
			newTask("a", models.PriorityLow, "b"),
			newTask("b", models.PriorityLow, "a"),
		})
		if err == nil {
			t.Fatal("expected error for dependency cycle")
		}
	})

	t.Run("valid chain", func(t *testing.T) {
		err := ValidateGraph([]*models.Task{
			newTask("a", models.PriorityLow),
			newTask("b", models.PriorityLow, "a"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestScheduler_StopHaltsAdmissions(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put(newTask("t1", models.PriorityMedium)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(newTask("t2", models.PriorityMedium, "t1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	admitted := make(chan string, 2)
	release := make(chan struct{})
	var s *Scheduler
	runner := RunnerFunc(func(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
		admitted <- task.ID
		<-release
		return &models.TaskResult{Task: *task}, nil
	})

	s = New(store, runner, Config{MaxConcurrent: 1, TickInterval: 10 * time.Millisecond})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := <-admitted; got != "t1" {
		t.Fatalf("first admission = %q, want t1", got)
	}
	s.Stop()
	close(release)

	select {
	case id := <-admitted:
		t.Errorf("task %s admitted after Stop", id)
	case <-time.After(100 * time.Millisecond):
	}
}
