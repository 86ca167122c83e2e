// Package queue serializes all outbound model calls behind one
// concurrency-bounded, priority-ordered dispatcher with linear-backoff retry
// for rate-limited calls.
//
// One Queue instance must be shared by reference across every agent in the
// process: it is the single arbiter of call admission, and per-agent queues
// would defeat the global concurrency ceiling.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/overseer/internal/llm"
	"github.com/harrison/overseer/internal/models"
)

// ErrQueueCleared rejects items that were still queued when Clear ran.
var ErrQueueCleared = errors.New("queue cleared")

// Defaults applied when Config leaves the corresponding field zero.
const (
	DefaultMaxConcurrent = 3
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 2 * time.Second
)

// Config bounds the queue's resources.
type Config struct {
	MaxConcurrent int           // simultaneous in-flight calls
	MaxRetries    int           // retry ceiling for rate-limited calls
	RetryDelay    time.Duration // base delay; attempt n waits n*RetryDelay
}

// Stats is a point-in-time view of queue load.
type Stats struct {
	QueueDepth int // items waiting for a slot
	InFlight   int // items currently dispatched
}

// Listener observes item outcomes. Optional; never required for
// correctness.
type Listener interface {
	ItemCompleted(id string, waited, ran time.Duration)
	ItemRetrying(id string, attempt int, delay time.Duration)
	ItemFailed(id string, err error)
}

// outcome is what a finished item delivers to its waiter.
type outcome struct {
	resp *llm.ChatResponse
	err  error
}

// item is one pending model request. Owned exclusively by the queue from
// enqueue until resolution.
type item struct {
	id         string
	ctx        context.Context
	req        llm.ChatRequest
	priority   int
	enqueuedAt time.Time
	seq        uint64
	retries    int
	done       chan outcome
}

// Pending is the caller's handle for an enqueued request.
type Pending struct {
	id   string
	done <-chan outcome
}

// ID returns the queue item's identity.
func (p *Pending) ID() string { return p.id }

// Wait blocks until the request resolves or ctx is done.
func (p *Pending) Wait(ctx context.Context) (*llm.ChatResponse, error) {
	select {
	case out := <-p.done:
		return out.resp, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Queue is the single point of contact between agents and the model
// backend.
type Queue struct {
	svc      llm.Service
	cfg      Config
	listener Listener

	mu       sync.Mutex
	waiting  []*item
	backoff  map[*item]*time.Timer
	inFlight int
	seq      uint64
}

// New creates a queue in front of the given backend.
func New(svc llm.Service, cfg Config) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Queue{svc: svc, cfg: cfg, backoff: make(map[*item]*time.Timer)}
}

// SetListener registers an observer for item outcomes.
func (q *Queue) SetListener(l Listener) {
	q.mu.Lock()
	q.listener = l
	q.mu.Unlock()
}

// Enqueue submits a request and returns immediately with a handle that
// resolves when the call eventually completes. The context governs the
// dispatched call, not the queue wait.
func (q *Queue) Enqueue(ctx context.Context, req llm.ChatRequest, priority models.Priority) *Pending {
	it := &item{
		id:         uuid.NewString(),
		ctx:        ctx,
		req:        req,
		priority:   priority.Rank(),
		enqueuedAt: time.Now(),
		done:       make(chan outcome, 1),
	}

	q.mu.Lock()
	it.seq = q.seq
	q.seq++
	q.waiting = append(q.waiting, it)
	q.dispatchLocked()
	q.mu.Unlock()

	return &Pending{id: it.id, done: it.done}
}

// Chat enqueues a request and blocks until it resolves. Convenience wrapper
// used by agents that have nothing to do until the model answers.
func (q *Queue) Chat(ctx context.Context, req llm.ChatRequest, priority models.Priority) (*llm.ChatResponse, error) {
	return q.Enqueue(ctx, req, priority).Wait(ctx)
}

// Bind returns an llm.Service view of the queue at a fixed priority, so an
// agent loop can submit calls without knowing about queueing.
func (q *Queue) Bind(priority models.Priority) llm.Service {
	return boundService{q: q, priority: priority}
}

type boundService struct {
	q        *Queue
	priority models.Priority
}

func (b boundService) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return b.q.Chat(ctx, req, b.priority)
}

// Stats reports current queue depth and in-flight count.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{QueueDepth: len(q.waiting), InFlight: q.inFlight}
}

// Clear rejects every queued (not yet dispatched) item with
// ErrQueueCleared, including items sitting out a retry backoff. In-flight
// calls are unaffected.
func (q *Queue) Clear() {
	q.mu.Lock()
	cleared := q.waiting
	q.waiting = nil
	for it, timer := range q.backoff {
		timer.Stop()
		delete(q.backoff, it)
		cleared = append(cleared, it)
	}
	q.mu.Unlock()

	for _, it := range cleared {
		it.done <- outcome{err: fmt.Errorf("%w: request %s rejected", ErrQueueCleared, it.id)}
	}
}

// dispatchLocked admits waiting items until every slot is full. Caller must
// hold q.mu.
func (q *Queue) dispatchLocked() {
	for q.inFlight < q.cfg.MaxConcurrent && len(q.waiting) > 0 {
		idx := q.nextLocked()
		it := q.waiting[idx]
		q.waiting = append(q.waiting[:idx], q.waiting[idx+1:]...)
		q.inFlight++
		go q.run(it)
	}
}

// nextLocked picks the highest-priority item, FIFO among equals. The queue
// holds tens of items at most, so a linear scan beats a heap here.
func (q *Queue) nextLocked() int {
	best := 0
	for i := 1; i < len(q.waiting); i++ {
		cand, cur := q.waiting[i], q.waiting[best]
		if cand.priority > cur.priority ||
			(cand.priority == cur.priority && cand.seq < cur.seq) {
			best = i
		}
	}
	return best
}

// requeue returns a backoff item to the waiting set once its delay elapses.
// A Clear that ran during the delay already rejected the item; its timer
// entry is gone, and the item must not resurface.
func (q *Queue) requeue(it *item) {
	q.mu.Lock()
	if _, ok := q.backoff[it]; !ok {
		q.mu.Unlock()
		return
	}
	delete(q.backoff, it)
	q.waiting = append(q.waiting, it)
	q.dispatchLocked()
	q.mu.Unlock()
}

// run executes one dispatched item and routes its outcome: success resolves
// the handle, a rate-limited failure re-enqueues with linear backoff, and
// every other failure rejects immediately.
func (q *Queue) run(it *item) {
	started := time.Now()
	resp, err := q.svc.Chat(it.ctx, it.req)

	q.mu.Lock()
	q.inFlight--
	listener := q.listener

	switch {
	case err == nil:
		q.dispatchLocked()
		q.mu.Unlock()
		if listener != nil {
			listener.ItemCompleted(it.id, started.Sub(it.enqueuedAt), time.Since(started))
		}
		it.done <- outcome{resp: resp}

	case llm.IsRateLimit(err) && it.retries < q.cfg.MaxRetries && it.ctx.Err() == nil:
		it.retries++
		delay := time.Duration(it.retries) * q.cfg.RetryDelay
		q.backoff[it] = time.AfterFunc(delay, func() { q.requeue(it) })
		q.dispatchLocked()
		q.mu.Unlock()
		if listener != nil {
			listener.ItemRetrying(it.id, it.retries, delay)
		}

	default:
		q.dispatchLocked()
		q.mu.Unlock()
		if listener != nil {
			listener.ItemFailed(it.id, err)
		}
		it.done <- outcome{err: err}
	}
}
