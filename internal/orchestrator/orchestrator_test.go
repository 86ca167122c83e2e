package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harrison/overseer/internal/llm"
	"github.com/harrison/overseer/internal/models"
)

// replyService answers every call immediately after an optional delay.
type replyService struct {
	delay time.Duration
	calls atomic.Int64
}

func (s *replyService) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &llm.ChatResponse{
		Content: "completed",
		Usage:   llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// stallService never answers; it waits out the context.
type stallService struct{}

func (stallService) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func parentTask() *models.Task {
	return &models.Task{
		ID:       "parent-1",
		Title:    "build the feature",
		Status:   models.StatusInProgress,
		Priority: models.PriorityHigh,
		Input:    map[string]any{"repo": "overseer", "branch": "main"},
	}
}

func TestOrchestrator_RunsSubtasksConcurrently(t *testing.T) {
	fast := &replyService{delay: 100 * time.Millisecond}
	resolve := func(role string) llm.Service {
		if role == "stuck" {
			return stallService{}
		}
		return fast
	}

	o := New(resolve, nil, Config{MaxIterations: 3})
	defs := []SubtaskDef{
		{ID: "s1", Title: "part one", Role: "coder"},
		{ID: "s2", Title: "part two", Role: "coder"},
		{ID: "s3", Title: "part three", Role: "reviewer"},
		{ID: "s4", Title: "part four", Role: "reviewer"},
		{ID: "s5", Title: "part five", Role: "stuck", Timeout: time.Second},
	}

	start := time.Now()
	results, err := o.Run(context.Background(), parentTask(), defs)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}

	// Serial execution would take the timeout plus four delays; concurrent
	// execution is bounded by the slowest sub-task alone.
	if elapsed > 1300*time.Millisecond {
		t.Errorf("batch took %v; sub-tasks appear to run serially", elapsed)
	}

	for _, r := range results[:4] {
		if !r.Success {
			t.Errorf("sub-task %s failed: %v", r.ID, r.Err)
		}
		if r.Output != "completed" {
			t.Errorf("sub-task %s output = %q", r.ID, r.Output)
		}
		if r.TokensUsed != 15 {
			t.Errorf("sub-task %s tokens = %d, want 15", r.ID, r.TokensUsed)
		}
	}

	timedOut := results[4]
	if timedOut.Success {
		t.Error("stuck sub-task should not succeed")
	}
	if !errors.Is(timedOut.Err, ErrSubtaskTimeout) {
		t.Errorf("stuck sub-task err = %v, want ErrSubtaskTimeout", timedOut.Err)
	}
	if timedOut.Duration < time.Second {
		t.Errorf("stuck sub-task returned after %v, before its timeout", timedOut.Duration)
	}
}

func TestOrchestrator_DerivedTaskLinksParentAndMergesInput(t *testing.T) {
	svc := &replyService{}
	o := New(func(string) llm.Service { return svc }, nil, Config{})

	parent := parentTask()
	results, err := o.Run(context.Background(), parent, []SubtaskDef{{
		ID:    "s1",
		Title: "write tests",
		Role:  "tester",
		Input: map[string]any{"branch": "feature", "suite": "unit"},
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	task := results[0].Task
	if task.ParentID != parent.ID {
		t.Errorf("ParentID = %q, want %q", task.ParentID, parent.ID)
	}
	if task.ID == parent.ID || task.ID == "" {
		t.Errorf("derived task needs its own identity, got %q", task.ID)
	}
	if task.Priority != parent.Priority {
		t.Errorf("Priority = %s, want inherited %s", task.Priority, parent.Priority)
	}

	// The sub-task's input wins on key collisions.
	if task.Input["branch"] != "feature" {
		t.Errorf("Input[branch] = %v, want feature", task.Input["branch"])
	}
	if task.Input["repo"] != "overseer" {
		t.Errorf("Input[repo] = %v, want inherited overseer", task.Input["repo"])
	}
	if task.Input["suite"] != "unit" {
		t.Errorf("Input[suite] = %v, want unit", task.Input["suite"])
	}
}

func TestOrchestrator_BatchSurvivesSubtaskFailure(t *testing.T) {
	boom := errors.New("tool runner exploded")
	resolve := func(role string) llm.Service {
		if role == "broken" {
			return failingService{err: boom}
		}
		return &replyService{}
	}

	o := New(resolve, nil, Config{})
	results, err := o.Run(context.Background(), parentTask(), []SubtaskDef{
		{ID: "ok", Title: "fine", Role: "coder"},
		{ID: "bad", Title: "doomed", Role: "broken"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !results[0].Success {
		t.Errorf("healthy sub-task failed: %v", results[0].Err)
	}
	if results[1].Success || !errors.Is(results[1].Err, boom) {
		t.Errorf("broken sub-task err = %v, want %v", results[1].Err, boom)
	}
}

type failingService struct{ err error }

func (f failingService) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, f.err
}

func TestOrchestrator_RejectsDuplicateSubtaskIDs(t *testing.T) {
	o := New(func(string) llm.Service { return &replyService{} }, nil, Config{})
	_, err := o.Run(context.Background(), parentTask(), []SubtaskDef{
		{ID: "dup", Title: "a"},
		{ID: "dup", Title: "b"},
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate ID rejection", err)
	}
}

func TestOrchestrator_PostReachesInFlightSubtask(t *testing.T) {
	o := New(func(string) llm.Service { return stallService{} }, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Run(ctx, parentTask(), []SubtaskDef{{ID: "s1", Title: "long haul", Timeout: time.Minute}})
	}()

	// Wait for the handle to register, then address the sub-agent directly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := o.Post("s1", "status update please"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sub-task handle never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := o.Post("ghost", "hello"); !errors.Is(err, ErrUnknownSubtask) {
		t.Errorf("Post(ghost) err = %v, want ErrUnknownSubtask", err)
	}

	cancel()
	<-done

	// Handles are released once the batch returns.
	if err := o.Post("s1", "too late"); !errors.Is(err, ErrUnknownSubtask) {
		t.Errorf("Post after completion err = %v, want ErrUnknownSubtask", err)
	}
}

func TestOrchestrator_ShutdownReleasesHandles(t *testing.T) {
	o := New(func(string) llm.Service { return stallService{} }, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Run(ctx, parentTask(), []SubtaskDef{{ID: "s1", Title: "long haul", Timeout: time.Minute}})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for o.Post("s1", "ping") != nil {
		if time.Now().After(deadline) {
			t.Fatal("sub-task handle never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	o.Shutdown()
	if err := o.Post("s1", "after shutdown"); !errors.Is(err, ErrUnknownSubtask) {
		t.Errorf("Post after Shutdown err = %v, want ErrUnknownSubtask", err)
	}

	cancel()
	<-done
}
