package provider

import (
	"context"
	"fmt"
	"strings"
)

// MessageRole represents the role of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is the provider-agnostic message passed through the runtime and
// persisted in conversation files.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	// ToolCalls carries the calls requested by an assistant message.
	// Providers require them when the history is sent back.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Validate checks structural rules the rest of the runtime relies on.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("tool messages must reference a tool call id")
	}
	return nil
}

// ToolCall represents a capability invocation the model requested.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	// Err is set by the provider when a call arrived malformed, for
	// example a stream that ended mid-arguments. The name may still be
	// usable for reporting.
	Err string `json:"-"`
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Add accumulates another usage report into u.
func (u *Usage) Add(other Usage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
}

// ToolSchema describes one callable tool in the shape providers expect for
// function calling.
type ToolSchema struct {
	Name        string
	Description string
	JSONSchema  string // raw JSON schema document
}

// StreamEvent is one element of a model response stream.
type StreamEvent struct {
	Type     EventType
	Text     string   // for EventTextDelta
	ToolCall ToolCall // for EventToolCall
	Usage    Usage    // for EventUsage
}

// EventType discriminates StreamEvent payloads.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventToolCall  EventType = "tool_call"
	EventUsage     EventType = "usage"
)

// Request is one model invocation.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSchema
	MaxTokens   int
	Temperature float32
}

// Client abstracts the model SDK. Implementations adapt a vendor SDK's
// callback or iterator surface onto the two-channel stream: events arrive on
// the first channel, a terminal failure on the second, and both close when
// the response is complete.
type Client interface {
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, <-chan error)
	Limits(model string) Limits
}

// Limits describes a model's context geometry.
type Limits struct {
	ContextWindow   int
	MaxOutputTokens int
}

// LimitsFor returns conservative limits for well-known model families,
// matched by substring, with a 16k fallback for unknown models. Client
// implementations can defer to this when the SDK does not report limits.
func LimitsFor(model string) Limits {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude"), strings.Contains(m, "sonnet"), strings.Contains(m, "opus"), strings.Contains(m, "haiku"):
		return Limits{ContextWindow: 200000, MaxOutputTokens: 8192}
	case strings.Contains(m, "gpt-4o"):
		return Limits{ContextWindow: 128000, MaxOutputTokens: 4096}
	case strings.Contains(m, "kimi"):
		return Limits{ContextWindow: 200000, MaxOutputTokens: 8192}
	case strings.Contains(m, "deepseek"):
		return Limits{ContextWindow: 64000, MaxOutputTokens: 4096}
	}
	return Limits{ContextWindow: 16000, MaxOutputTokens: 4096}
}
