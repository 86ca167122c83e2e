package budget

import "github.com/harrison/overseer/internal/llm"

// Token estimation uses a character-count heuristic: roughly four characters
// per token for English-ish text, plus a small fixed overhead per message for
// role markers and formatting. The figures are deliberately deterministic so
// callers can assert exact values; they only need to be in the right
// ballpark, not exact, because the tracker records real usage from the
// backend after every call.
const (
	charsPerToken       = 4
	perMessageOverhead  = 4
	perToolCallOverhead = 8
)

// EstimateText estimates the token count of a single string.
func EstimateText(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// EstimateMessage estimates the token count of one message including its
// fixed overhead.
func EstimateMessage(m llm.Message) int {
	return EstimateText(m.Content) + perMessageOverhead
}

// EstimateMessages estimates the total token count of a message history.
// Pure and stable across calls for identical input.
func EstimateMessages(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateMessage(m)
	}
	return total
}

// EstimateToolCalls estimates the token count of a batch of requested tool
// calls (name plus raw JSON arguments).
func EstimateToolCalls(calls []llm.ToolCall) int {
	total := 0
	for _, c := range calls {
		total += EstimateText(c.Name) + EstimateText(c.Arguments) + perToolCallOverhead
	}
	return total
}
