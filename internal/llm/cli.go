package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CLIService backs the Service interface with a local model CLI binary.
// It follows the http.Client pattern: create once, use many times.
// Thread-safe for concurrent use.
type CLIService struct {
	// Path is the CLI binary, found in PATH when not absolute.
	// Defaults to "claude" when created via NewCLIService.
	Path string

	// ExtraArgs are appended to every invocation.
	ExtraArgs []string
}

// NewCLIService creates a CLIService with default settings.
func NewCLIService(path string) *CLIService {
	if path == "" {
		path = "claude"
	}
	return &CLIService{Path: path}
}

// Chat renders the message history as a transcript, runs the CLI in print
// mode, and returns its stdout as the assistant reply. Token usage is
// estimated from character counts since the CLI reports none.
func (s *CLIService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	args := []string{"-p"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, s.ExtraArgs...)

	prompt := renderTranscript(req.Messages)

	cmd := exec.CommandContext(ctx, s.Path, args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		if looksRateLimited(detail) {
			return nil, &RateLimitError{Message: detail}
		}
		return nil, fmt.Errorf("cli invocation failed: %s", detail)
	}

	content := strings.TrimSpace(stdout.String())
	promptTokens := estimateChars(len(prompt))
	completionTokens := estimateChars(len(content))
	return &ChatResponse{
		Content:    content,
		StopReason: StopReasonStop,
		Model:      req.Model,
		Provider:   "cli",
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// renderTranscript flattens a message history into a prompt for a CLI that
// accepts only plain text.
func renderTranscript(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", m.Role, m.Content)
	}
	return sb.String()
}

func looksRateLimited(detail string) bool {
	lower := strings.ToLower(detail)
	for _, indicator := range rateLimitIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// estimateChars mirrors the 4-chars-per-token heuristic used for budget
// projections.
func estimateChars(n int) int {
	return (n + 3) / 4
}
