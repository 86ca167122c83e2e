// Package budget tracks token consumption for one execution session against
// a configured ceiling and classifies rate-limit failures from the model
// backend.
package budget

import (
	"sync"

	"github.com/harrison/overseer/internal/llm"
)

// Threshold levels raised as usage approaches the ceiling.
const (
	warningFraction  = 0.80
	criticalFraction = 0.95
)

// Level identifies which usage threshold was crossed.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// ThresholdFunc receives non-fatal threshold notifications. Each level fires
// at most once per tracker lifetime (Reset re-arms both).
type ThresholdFunc func(level Level, used, budget int)

// Snapshot is a point-in-time view of tracked usage. Derived, never
// persisted on its own.
type Snapshot struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Budget           int
}

// Remaining returns the unspent portion of the budget, floored at zero.
func (s Snapshot) Remaining() int {
	if s.TotalTokens >= s.Budget {
		return 0
	}
	return s.Budget - s.TotalTokens
}

// Tracker accumulates token usage for one execution session. Thread-safe.
type Tracker struct {
	mu          sync.Mutex
	budget      int
	prompt      int
	completion  int
	total       int
	warnedAt    map[Level]bool
	onThreshold ThresholdFunc
}

// NewTracker creates a tracker with the given total token budget. The
// threshold callback is optional and may be nil.
func NewTracker(budget int, onThreshold ThresholdFunc) *Tracker {
	return &Tracker{
		budget:      budget,
		warnedAt:    make(map[Level]bool),
		onThreshold: onThreshold,
	}
}

// Record adds one call's usage to the running totals and raises the
// warning/critical signal the first time the respective fraction of the
// budget is crossed.
func (t *Tracker) Record(u llm.Usage) {
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}

	t.mu.Lock()
	t.prompt += u.PromptTokens
	t.completion += u.CompletionTokens
	t.total += total

	var fire []Level
	if t.budget > 0 {
		used := float64(t.total) / float64(t.budget)
		if used >= criticalFraction && !t.warnedAt[LevelCritical] {
			t.warnedAt[LevelCritical] = true
			fire = append(fire, LevelCritical)
		}
		if used >= warningFraction && !t.warnedAt[LevelWarning] {
			t.warnedAt[LevelWarning] = true
			fire = append(fire, LevelWarning)
		}
	}
	usedNow, budget := t.total, t.budget
	cb := t.onThreshold
	t.mu.Unlock()

	// Callbacks run outside the lock so a listener may query the tracker.
	if cb != nil {
		for i := len(fire) - 1; i >= 0; i-- { // warning before critical
			cb(fire[i], usedNow, budget)
		}
	}
}

// CheckBudget reports whether an additional projected spend still fits
// within the ceiling. Callers must treat false as fatal for the current
// task execution.
func (t *Tracker) CheckBudget(projected int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budget <= 0 {
		return true
	}
	return t.total+projected <= t.budget
}

// Snapshot returns the current usage totals and ceiling.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		PromptTokens:     t.prompt,
		CompletionTokens: t.completion,
		TotalTokens:      t.total,
		Budget:           t.budget,
	}
}

// Reset zeroes all usage and re-arms the threshold signals. A non-zero
// newBudget also replaces the ceiling.
func (t *Tracker) Reset(newBudget int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prompt, t.completion, t.total = 0, 0, 0
	t.warnedAt = make(map[Level]bool)
	if newBudget > 0 {
		t.budget = newBudget
	}
}
