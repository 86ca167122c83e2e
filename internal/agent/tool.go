package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/overseer/internal/llm"
)

// ToolResult is the outcome of one tool invocation. Individual failures are
// data, not control flow: runners must report them here instead of
// returning an error.
type ToolResult struct {
	CallID   string
	Name     string
	Success  bool
	Duration time.Duration
	Output   string
	Error    string
	Files    []string // files the tool created or modified, if any
}

// ToolRunner executes a batch of tool calls requested by the model. One
// result per call, in call order.
type ToolRunner interface {
	ExecuteBatch(ctx context.Context, calls []llm.ToolCall) []ToolResult
}

// formatToolResults renders a batch's outcomes into the single synthetic
// message appended to the conversation so the model can see what happened.
func formatToolResults(results []ToolResult) string {
	var sb strings.Builder
	sb.WriteString("Tool results:\n")
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(&sb, "- %s: ok", r.Name)
			if r.Output != "" {
				fmt.Fprintf(&sb, ": %s", r.Output)
			}
		} else {
			fmt.Fprintf(&sb, "- %s: failed: %s", r.Name, r.Error)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
