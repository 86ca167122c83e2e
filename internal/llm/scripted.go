package llm

import (
	"context"
	"sync"
)

const defaultScriptedReply = "Task acknowledged. Nothing further to do."

// ScriptedService implements Service with a fixed sequence of responses.
// It backs dry runs and tests; it never talks to a real backend. Once the
// script is exhausted it keeps returning a plain completion so loops
// terminate. Safe for concurrent use.
type ScriptedService struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	idx       int
	calls     int
}

// ScriptedResponse is one step of a scripted conversation. Err, when set,
// is returned instead of the response (used to simulate rate limits).
type ScriptedResponse struct {
	Response *ChatResponse
	Err      error
}

// NewScriptedService creates a service that replays the given responses in
// order.
func NewScriptedService(responses ...ScriptedResponse) *ScriptedService {
	return &ScriptedService{responses: responses}
}

// Reply is a convenience constructor for a plain text completion step.
func Reply(content string, promptTokens, completionTokens int) ScriptedResponse {
	return ScriptedResponse{Response: &ChatResponse{
		Content:    content,
		StopReason: StopReasonStop,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}}
}

// Chat returns the next scripted step, or a default completion once the
// script runs out.
func (s *ScriptedService) Chat(ctx context.Context, _ ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.idx >= len(s.responses) {
		return &ChatResponse{
			Content:    defaultScriptedReply,
			StopReason: StopReasonStop,
			Provider:   "scripted",
		}, nil
	}
	step := s.responses[s.idx]
	s.idx++
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	if resp.Provider == "" {
		resp.Provider = "scripted"
	}
	return &resp, nil
}

// Calls returns how many times Chat has been invoked.
func (s *ScriptedService) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
