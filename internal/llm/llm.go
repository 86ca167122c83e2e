// Package llm defines the chat-completion contract between the execution
// engine and a model backend. Concrete wire adapters (Anthropic, OpenAI,
// local CLIs) live outside this module; the engine only depends on the
// Service interface defined here.
package llm

import "context"

// Role identifies the sender of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a conversation.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"` // for tool results
}

// ToolDef describes a tool the model may request.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolCall is a request from the model to invoke a tool. Arguments are kept
// as the raw JSON string the backend produced so identical requests compare
// byte-for-byte (the loop guard depends on this).
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// StopReason explains why the model stopped generating.
type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonLength    StopReason = "length"
	StopReasonToolCalls StopReason = "tool_calls"
	StopReasonEndTurn   StopReason = "end_turn"
)

// Usage tracks token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest carries everything a backend needs for one completion call.
type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []ToolDef `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"` // "auto", "none", or a tool name
}

// ChatResponse is a completed (non-streaming) backend response.
type ChatResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
	Model      string     `json:"model,omitempty"`
	Provider   string     `json:"provider,omitempty"`
}

// Service is a model backend that powers agent reasoning.
type Service interface {
	// Chat sends one completion request and blocks until the backend
	// responds. Rate-limit failures must be distinguishable from other
	// errors via IsRateLimit so callers can retry them.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
