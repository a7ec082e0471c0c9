package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// FunctionCall is the name and decoded arguments of a requested tool.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	// ID is provider-assigned and echoed back on the tool result so the
	// provider can correlate them. Ollama leaves it empty.
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// ChatResponse is the unified response from any LLM provider.
// Wire format conversion happens at provider boundaries.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	InputTokens  int
	OutputTokens int

	// Timing, populated when the provider reports it.
	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
}

// StreamEvent is a single event in a streaming response.
type StreamEvent struct {
	Kind StreamEventKind

	// Token is set for KindToken events.
	Token string

	// ToolCall is set for KindToolCallStart events.
	ToolCall *ToolCall

	// Response is set for KindDone events.
	Response *ChatResponse
}

// StreamEventKind identifies the type of stream event.
type StreamEventKind int

const (
	// KindToken is an incremental text token from the model.
	KindToken StreamEventKind = iota

	// KindToolCallStart fires when the model finishes emitting a tool call.
	KindToolCallStart

	// KindDone signals the stream is complete.
	KindDone
)

// StreamCallback receives streaming events.
type StreamCallback func(event StreamEvent)
