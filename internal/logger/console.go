// Package logger renders execution progress to the console.
//
// The console logger is the default sink for agent loop events and for
// scheduler and queue notifications. Implementations are thread-safe;
// output is prefixed with [HH:MM:SS] timestamps, and color is enabled
// automatically when writing to a TTY.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/overseer/internal/agent"
	"github.com/harrison/overseer/internal/models"
)

// Log level constants for filtering
const (
	levelDebug int = 0
	levelInfo  int = 1
	levelWarn  int = 2
	levelError int = 3
)

// ConsoleLogger logs execution progress to a writer with timestamps and
// thread safety. It supports log level filtering to control verbosity.
// Valid levels: debug, info, warn, error (case-insensitive); empty or
// invalid levels default to "info".
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided
// io.Writer. If writer is nil, messages are silently discarded.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel lowercases and validates a log level string.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

func logLevelToInt(level string) int {
	switch level {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// shouldLog reports whether a message at the given level passes the filter.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

// logWithLevel logs a message at the specified level if filtering allows.
// Format: "[HH:MM:SS] [LEVEL] <message>"
func (cl *ConsoleLogger) logWithLevel(level, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	rendered := level
	if cl.colorOutput {
		switch level {
		case "DEBUG":
			rendered = color.New(color.FgCyan).Sprint(level)
		case "INFO":
			rendered = color.New(color.FgBlue).Sprint(level)
		case "WARN":
			rendered = color.New(color.FgYellow).Sprint(level)
		case "ERROR":
			rendered = color.New(color.FgRed).Sprint(level)
		}
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, rendered, message)
}

// HandleEvent renders one agent loop event. Iteration-level events log at
// DEBUG; lifecycle and budget events log at INFO or above.
func (cl *ConsoleLogger) HandleEvent(e agent.Event) {
	switch e.Type {
	case agent.EventLoopStarted:
		cl.LogInfo(fmt.Sprintf("task %s: agent loop started", e.TaskID))
	case agent.EventLoopCompleted:
		cl.LogInfo(fmt.Sprintf("task %s: completed after %d iterations (%d tokens)",
			e.TaskID, e.Iteration, e.TokensUsed))
	case agent.EventLoopFailed:
		cl.LogError(fmt.Sprintf("task %s: failed at iteration %d: %v", e.TaskID, e.Iteration, e.Err))
	case agent.EventBudgetWarning:
		cl.LogWarn(fmt.Sprintf("task %s: %s", e.TaskID, e.Message))
	case agent.EventBudgetCritical:
		cl.LogError(fmt.Sprintf("task %s: %s", e.TaskID, e.Message))
	case agent.EventCompacting:
		cl.LogInfo(fmt.Sprintf("task %s: compacting history (~%d tokens)", e.TaskID, e.TokensUsed))
	case agent.EventCompacted:
		cl.LogInfo(fmt.Sprintf("task %s: history compacted (~%d tokens)", e.TaskID, e.TokensUsed))
	default:
		msg := fmt.Sprintf("task %s: iteration %d: %s", e.TaskID, e.Iteration, e.Type)
		if e.Message != "" {
			msg += " (" + e.Message + ")"
		}
		cl.LogDebug(msg)
	}
}

// TaskStarted logs a scheduler admission.
func (cl *ConsoleLogger) TaskStarted(task *models.Task) {
	cl.LogInfo(fmt.Sprintf("task %s (%s) started [%s]", task.ID, task.Title, task.Priority))
}

// TaskCompleted logs a successful task outcome.
func (cl *ConsoleLogger) TaskCompleted(result models.TaskResult) {
	cl.LogInfo(fmt.Sprintf("task %s completed in %s (%d tokens, %d tool calls)",
		result.Task.ID, formatDuration(result.Duration), result.TokensUsed, result.ToolCalls))
}

// TaskFailed logs a failed task outcome.
func (cl *ConsoleLogger) TaskFailed(result models.TaskResult) {
	cl.LogError(fmt.Sprintf("task %s failed after %s: %v",
		result.Task.ID, formatDuration(result.Duration), result.Error))
}

// TaskBlocked logs a task that can never run because a dependency failed.
func (cl *ConsoleLogger) TaskBlocked(task *models.Task, reason string) {
	cl.LogWarn(fmt.Sprintf("task %s blocked: %s", task.ID, reason))
}

// ItemCompleted logs a finished queue item at DEBUG level.
func (cl *ConsoleLogger) ItemCompleted(id string, waited, ran time.Duration) {
	cl.LogDebug(fmt.Sprintf("request %s completed (queued %s, ran %s)",
		id, formatDuration(waited), formatDuration(ran)))
}

// ItemRetrying logs a rate-limited queue item that will be retried.
func (cl *ConsoleLogger) ItemRetrying(id string, attempt int, delay time.Duration) {
	cl.LogWarn(fmt.Sprintf("request %s rate limited, retry %d in %s",
		id, attempt, formatDuration(delay)))
}

// ItemFailed logs a permanently failed queue item.
func (cl *ConsoleLogger) ItemFailed(id string, err error) {
	cl.LogError(fmt.Sprintf("request %s failed: %v", id, err))
}

// LogSummary logs the execution summary with completion statistics at INFO
// level.
func (cl *ConsoleLogger) LogSummary(summary *models.ExecutionSummary) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var output string

	if cl.colorOutput {
		header := color.New(color.Bold).Sprint("=== Execution Summary ===")
		output = fmt.Sprintf("[%s] %s\n", ts, header)
		output += fmt.Sprintf("[%s] Total tasks: %d\n", ts, summary.TotalTasks)
		completedText := color.New(color.FgGreen).Sprintf("Completed: %d", summary.Completed)
		output += fmt.Sprintf("[%s] %s\n", ts, completedText)
		if summary.Failed > 0 {
			failedText := color.New(color.FgRed).Sprintf("Failed: %d", summary.Failed)
			output += fmt.Sprintf("[%s] %s\n", ts, failedText)
		} else {
			output += fmt.Sprintf("[%s] Failed: %d\n", ts, summary.Failed)
		}
		output += fmt.Sprintf("[%s] Duration: %s\n", ts, formatDuration(summary.Duration))
		if len(summary.FailedTasks) > 0 {
			failedHeader := color.New(color.FgRed).Sprint("Failed tasks:")
			output += fmt.Sprintf("[%s] %s\n", ts, failedHeader)
			for _, failed := range summary.FailedTasks {
				name := color.New(color.FgRed).Sprint(failed.Task.Title)
				output += fmt.Sprintf("[%s]   - %s: %v\n", ts, name, failed.Error)
			}
		}
	} else {
		output = fmt.Sprintf("[%s] === Execution Summary ===\n", ts)
		output += fmt.Sprintf("[%s] Total tasks: %d\n", ts, summary.TotalTasks)
		output += fmt.Sprintf("[%s] Completed: %d\n", ts, summary.Completed)
		output += fmt.Sprintf("[%s] Failed: %d\n", ts, summary.Failed)
		output += fmt.Sprintf("[%s] Duration: %s\n", ts, formatDuration(summary.Duration))
		if len(summary.FailedTasks) > 0 {
			output += fmt.Sprintf("[%s] Failed tasks:\n", ts)
			for _, failed := range summary.FailedTasks {
				output += fmt.Sprintf("[%s]   - %s: %v\n", ts, failed.Task.Title, failed.Error)
			}
		}
	}

	io.WriteString(cl.writer, output)
}

// LogProgress logs a point-in-time progress line for the run at INFO level.
// Format: "[HH:MM:SS] Progress: [====      ] 4/10 (40%)"
func (cl *ConsoleLogger) LogProgress(tasks []*models.Task) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	completed := 0
	for _, task := range tasks {
		if task.Status == models.StatusCompleted {
			completed++
		}
	}

	pb := NewProgressBar(len(tasks), 10, cl.colorOutput)
	pb.Update(completed)
	fmt.Fprintf(cl.writer, "[%s] Progress: %s\n", timestamp(), pb.Render())
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, remainder/time.Second)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, remainder/time.Second)
	case d >= time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}

// NoOpLogger discards all messages. Useful for tests or when logging is
// disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// HandleEvent is a no-op implementation.
func (n *NoOpLogger) HandleEvent(agent.Event) {}

// TaskStarted is a no-op implementation.
func (n *NoOpLogger) TaskStarted(*models.Task) {}

// TaskCompleted is a no-op implementation.
func (n *NoOpLogger) TaskCompleted(models.TaskResult) {}

// TaskFailed is a no-op implementation.
func (n *NoOpLogger) TaskFailed(models.TaskResult) {}

// TaskBlocked is a no-op implementation.
func (n *NoOpLogger) TaskBlocked(*models.Task, string) {}

// LogSummary is a no-op implementation.
func (n *NoOpLogger) LogSummary(*models.ExecutionSummary) {}
