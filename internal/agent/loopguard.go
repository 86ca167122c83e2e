package agent

import "sync"

// maxIdenticalCalls is how many times the exact same (tool, arguments) pair
// may be requested within one execution before it is treated as a runaway
// loop.
const maxIdenticalCalls = 3

// LoopGuard detects repeated identical tool invocations within one task
// execution. State is per-execution: Clear must be called at the start and
// end of every task so counts never leak across tasks.
type LoopGuard struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewLoopGuard creates an empty guard.
func NewLoopGuard() *LoopGuard {
	return &LoopGuard{counts: make(map[string]int)}
}

// RecordAndCheck increments the counter for the exact (name, arguments)
// pair and reports true once the count reaches the loop limit.
func (g *LoopGuard) RecordAndCheck(toolName, argumentsJSON string) bool {
	key := toolName + "\x00" + argumentsJSON

	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts[key]++
	return g.counts[key] >= maxIdenticalCalls
}

// Clear resets all counters.
func (g *LoopGuard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts = make(map[string]int)
}
