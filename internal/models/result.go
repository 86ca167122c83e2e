package models

import "time"

// TaskResult represents the outcome of executing a single task.
type TaskResult struct {
	Task       Task          // The task that was executed
	Output     string        // Final textual result from the agent
	Error      error         // Error if execution failed
	Duration   time.Duration // Time taken to execute
	Iterations int           // Agent loop iterations consumed
	TokensUsed int           // Total tokens consumed
	ToolCalls  int           // Number of tool invocations
}

// ExecutionSummary represents the aggregate result of running a plan.
type ExecutionSummary struct {
	TotalTasks  int           // Total number of tasks
	Completed   int           // Number of completed tasks
	Failed      int           // Number of failed tasks
	Duration    time.Duration // Total execution time
	FailedTasks []TaskResult  // Details of failed tasks
}

// Summarize aggregates per-task results into an execution summary.
func Summarize(total int, results []TaskResult, duration time.Duration) *ExecutionSummary {
	summary := &ExecutionSummary{
		TotalTasks:  total,
		Duration:    duration,
		FailedTasks: []TaskResult{},
	}
	for _, r := range results {
		if r.Error != nil || r.Task.Status == StatusFailed {
			summary.Failed++
			summary.FailedTasks = append(summary.FailedTasks, r)
		} else {
			summary.Completed++
		}
	}
	return summary
}
