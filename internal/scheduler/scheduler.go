// Package scheduler promotes eligible tasks from pending to running without
// exceeding a concurrency ceiling, honoring dependency order and priority.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harrison/overseer/internal/models"
)

// DefaultTickInterval is the eligibility scan period when Config leaves it
// zero. Completion of any task triggers an immediate rescan regardless, so
// the tick only bounds how long a freshly added task can sit unnoticed.
const DefaultTickInterval = 500 * time.Millisecond

// Runner executes one admitted task to completion.
type Runner interface {
	Run(ctx context.Context, task *models.Task) (*models.TaskResult, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, task *models.Task) (*models.TaskResult, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, task *models.Task) (*models.TaskResult, error) {
	return f(ctx, task)
}

// Listener observes scheduling decisions. Optional; the scheduler's control
// flow never depends on whether anyone is listening.
type Listener interface {
	TaskStarted(task *models.Task)
	TaskCompleted(result models.TaskResult)
	TaskFailed(result models.TaskResult)
	TaskBlocked(task *models.Task, reason string)
}

// Config bounds the scheduler.
type Config struct {
	MaxConcurrent int           // simultaneous running tasks
	TickInterval  time.Duration // eligibility scan period
}

// Scheduler owns the task store for the duration of a run and is the only
// component that transitions task statuses.
type Scheduler struct {
	store    TaskStore
	runner   Runner
	cfg      Config
	listener Listener

	mu       sync.Mutex
	running  map[string]struct{}
	results  []models.TaskResult
	started  bool
	start    time.Time
	kick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler over the given store and runner.
func New(store TaskStore, runner Runner, cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Scheduler{
		store:   store,
		runner:  runner,
		cfg:     cfg,
		running: make(map[string]struct{}),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetListener registers an observer for scheduling events.
func (s *Scheduler) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Start validates the task graph and begins the scan loop. It returns
// immediately; use Wait to block until the run settles.
func (s *Scheduler) Start(ctx context.Context) error {
	tasks, err := s.store.List()
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}
	if err := ValidateGraph(tasks); err != nil {
		return err
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.start = time.Now()
	s.mu.Unlock()

	go s.loop(ctx)
	return nil
}

// Stop cancels the scan loop and drops scheduling bookkeeping. In-flight
// task executions are not cancelled; only new admissions stop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait blocks until every task has settled (terminal or blocked), the
// scheduler is stopped, or the context is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-s.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the scheduler, waits for the run to settle, and returns the
// aggregate summary.
func (s *Scheduler) Run(ctx context.Context) (*models.ExecutionSummary, error) {
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return s.Summary(), nil
}

// Results returns a copy of the per-task results collected so far.
func (s *Scheduler) Results() []models.TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TaskResult, len(s.results))
	copy(out, s.results)
	return out
}

// Summary aggregates the collected results.
func (s *Scheduler) Summary() *models.ExecutionSummary {
	tasks, err := s.store.List()
	total := 0
	if err == nil {
		total = len(tasks)
	}
	s.mu.Lock()
	results := make([]models.TaskResult, len(s.results))
	copy(results, s.results)
	elapsed := time.Since(s.start)
	s.mu.Unlock()
	return models.Summarize(total, results, elapsed)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		s.scan(ctx)
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.done:
			return
		case <-ticker.C:
		case <-s.kick:
		}
	}
}

// scan computes the eligible set and admits tasks until the concurrency
// ceiling is reached. Tasks whose dependency failed are marked blocked
// rather than waiting forever.
func (s *Scheduler) scan(ctx context.Context) {
	tasks, err := s.store.List()
	if err != nil {
		return
	}

	status := make(map[string]models.Status, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}

	var eligible []*models.Task
	settled := 0
	for _, t := range tasks {
		switch t.Status {
		case models.StatusCompleted, models.StatusFailed, models.StatusBlocked:
			settled++
			continue
		case models.StatusInProgress:
			continue
		}
		s.mu.Lock()
		_, active := s.running[t.ID]
		s.mu.Unlock()
		if active {
			continue
		}

		ready := true
		for _, dep := range t.DependsOn {
			switch status[dep] {
			case models.StatusCompleted:
			case models.StatusFailed, models.StatusBlocked:
				s.block(t, fmt.Sprintf("dependency %s failed", dep))
				ready = false
			default:
				ready = false
			}
			if !ready {
				break
			}
		}
		if ready {
			eligible = append(eligible, t)
		}
	}

	// Priority rank first, insertion order among equals.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority.Rank() > eligible[j].Priority.Rank()
	})

	for _, t := range eligible {
		s.mu.Lock()
		if len(s.running) >= s.cfg.MaxConcurrent {
			s.mu.Unlock()
			break
		}
		s.running[t.ID] = struct{}{}
		listener := s.listener
		s.mu.Unlock()

		if err := s.store.UpdateStatus(t.ID, models.StatusInProgress); err != nil {
			s.mu.Lock()
			delete(s.running, t.ID)
			s.mu.Unlock()
			continue
		}
		if listener != nil {
			listener.TaskStarted(t)
		}
		s.wg.Add(1)
		go s.execute(ctx, t.ID)
	}

	s.mu.Lock()
	idle := len(s.running) == 0
	s.mu.Unlock()
	if idle && settled == len(tasks) {
		s.doneOnce.Do(func() { close(s.done) })
	}
}

// block marks a task blocked because a dependency can never complete.
func (s *Scheduler) block(t *models.Task, reason string) {
	if err := s.store.UpdateStatus(t.ID, models.StatusBlocked); err != nil {
		return
	}
	blocked, err := s.store.Get(t.ID)
	if err != nil {
		return
	}
	blocked.Error = reason
	_ = s.store.Put(blocked)

	s.mu.Lock()
	s.results = append(s.results, models.TaskResult{
		Task:  *blocked,
		Error: fmt.Errorf("%s", reason),
	})
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener.TaskBlocked(blocked, reason)
	}
}

// execute runs one admitted task and writes its terminal status back to the
// store, then triggers an immediate rescan so freed dependents are admitted
// without waiting for the next tick.
func (s *Scheduler) execute(ctx context.Context, id string) {
	defer s.wg.Done()

	task, err := s.store.Get(id)
	if err != nil {
		s.finish(id, models.TaskResult{Error: err})
		return
	}

	started := time.Now()
	res, runErr := s.runner.Run(ctx, task)
	if res == nil {
		res = &models.TaskResult{Task: *task}
	}
	res.Duration = time.Since(started)
	if runErr != nil && res.Error == nil {
		res.Error = runErr
	}

	terminal := models.StatusCompleted
	if res.Error != nil {
		terminal = models.StatusFailed
	}
	if err := s.store.UpdateStatus(id, terminal); err == nil {
		if stored, err := s.store.Get(id); err == nil {
			stored.Result = res.Output
			if res.Error != nil {
				stored.Error = res.Error.Error()
			}
			stored.Progress = task.Progress
			stored.Records = task.Records
			_ = s.store.Put(stored)
			res.Task = *stored
		}
	}

	s.finish(id, *res)
}

func (s *Scheduler) finish(id string, res models.TaskResult) {
	s.mu.Lock()
	delete(s.running, id)
	s.results = append(s.results, res)
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		if res.Error != nil {
			listener.TaskFailed(res)
		} else {
			listener.TaskCompleted(res)
		}
	}

	select {
	case s.kick <- struct{}{}:
	default:
	}
}
