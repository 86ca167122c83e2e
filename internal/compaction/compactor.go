// Package compaction shrinks a conversation history once its estimated token
// count exceeds a threshold, preserving the system prompt and the most recent
// turns while replacing the middle of the conversation with a single summary
// message.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/overseer/internal/budget"
	"github.com/harrison/overseer/internal/llm"
)

// Strategy identifies how the middle span of a history is reduced.
type Strategy string

const (
	// StrategySlidingWindow keeps the leading system prompt and the most
	// recent messages and collapses everything between them.
	StrategySlidingWindow Strategy = "sliding-window"
)

// maxFallbackSummaryChars bounds the deterministic truncation summary used
// when no summarizer is configured.
const maxFallbackSummaryChars = 600

// Summarizer produces a condensed description of a span of conversation.
// Typically backed by a model call; optional.
type Summarizer interface {
	Summarize(ctx context.Context, messages []llm.Message) (string, error)
}

// Compactor decides when a history must shrink and produces the replacement.
type Compactor struct {
	threshold  int // estimated tokens above which compaction triggers
	keepRecent int // most recent messages always kept verbatim
	strategy   Strategy
	summarizer Summarizer // nil means deterministic truncation
}

// New creates a sliding-window compactor. The summarizer may be nil, in
// which case the elided span is summarized by truncation.
func New(threshold, keepRecent int, summarizer Summarizer) *Compactor {
	if keepRecent < 1 {
		keepRecent = 1
	}
	return &Compactor{
		threshold:  threshold,
		keepRecent: keepRecent,
		strategy:   StrategySlidingWindow,
		summarizer: summarizer,
	}
}

// Threshold returns the configured token threshold.
func (c *Compactor) Threshold() int { return c.threshold }

// NeedsCompaction reports whether the history's estimated token count
// exceeds the threshold.
func (c *Compactor) NeedsCompaction(messages []llm.Message) bool {
	return budget.EstimateMessages(messages) > c.threshold
}

// Compact returns a shorter history that preserves the leading system
// message (if present) and the last keepRecent messages verbatim, replacing
// the middle span with one synthetic summary message. If compaction would
// not strictly decrease the estimated size (pathologically short histories),
// the input is returned unchanged.
func (c *Compactor) Compact(ctx context.Context, messages []llm.Message) ([]llm.Message, error) {
	head := 0
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		head = 1
	}

	tail := len(messages) - c.keepRecent
	if tail <= head {
		// Nothing between the system prompt and the recent window.
		return messages, nil
	}

	middle := messages[head:tail]
	summary, err := c.summarize(ctx, middle)
	if err != nil {
		return nil, fmt.Errorf("summarize elided span: %w", err)
	}

	compacted := make([]llm.Message, 0, head+1+c.keepRecent)
	compacted = append(compacted, messages[:head]...)
	compacted = append(compacted, llm.Message{
		Role:    llm.RoleSystem,
		Content: "Summary of earlier conversation: " + summary,
	})
	compacted = append(compacted, messages[tail:]...)

	// Compaction must strictly decrease the estimate; otherwise return the
	// input unchanged rather than risk a grow-compact loop.
	if budget.EstimateMessages(compacted) >= budget.EstimateMessages(messages) {
		return messages, nil
	}
	return compacted, nil
}

// summarize produces the replacement text for the elided span, delegating to
// the configured summarizer when available.
func (c *Compactor) summarize(ctx context.Context, middle []llm.Message) (string, error) {
	if c.summarizer != nil {
		// A failed summary call falls through to truncation rather than
		// failing the whole execution.
		if summary, err := c.summarizer.Summarize(ctx, middle); err == nil && summary != "" {
			return summary, nil
		}
	}
	return truncateSummary(middle), nil
}

// truncateSummary builds a deterministic stand-in summary from the elided
// messages' content.
func truncateSummary(middle []llm.Message) string {
	var sb strings.Builder
	for _, m := range middle {
		if sb.Len() >= maxFallbackSummaryChars {
			break
		}
		if m.Content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" | ")
		}
		sb.WriteString(m.Content)
	}
	s := sb.String()
	if len(s) > maxFallbackSummaryChars {
		s = s[:maxFallbackSummaryChars] + "..."
	}
	if s == "" {
		s = fmt.Sprintf("%d earlier messages elided", len(middle))
	}
	return s
}
