package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitError is the structured signal a backend raises when the upstream
// API rejects a call for exceeding its rate limits. Adapters should return
// this type directly; IsRateLimit falls back to message sniffing only for
// backends that surface plain errors.
type RateLimitError struct {
	Message    string        // Raw backend message
	RetryAfter time.Duration // Suggested wait, zero if the backend gave none
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("rate limited: %s", e.Message)
}

// rateLimitIndicators are the known substrings backends without structured
// errors embed in rate-limit messages. This is a starting heuristic, not a
// complete list; adapters should prefer returning *RateLimitError.
var rateLimitIndicators = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"usage limit",
	"429",
}

// IsRateLimit reports whether err signals a rate-limited call, either via a
// structured *RateLimitError or via known message substrings.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, indicator := range rateLimitIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
