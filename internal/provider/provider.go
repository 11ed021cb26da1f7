// Package provider abstracts the LLM backends behind a single chat
// interface and keeps the active backend configuration in a hot-swappable
// registry.
package provider

import "context"

// Role values for chat messages sent to a backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Message is a single entry in the conversation replayed to a backend.
type Message struct {
	Role      string
	Content   string
	Reasoning string

	// Assistant messages may carry tool calls; tool messages carry the
	// result for a specific call id.
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// Property describes one tool parameter.
type Property struct {
	Type        string
	Description string
	Enum        []string
	Items       *Property
}

// ToolDef describes a tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Properties  map[string]Property
	Required    []string
}

// StreamHandler receives streamed fragments while a reply is produced.
// Either callback may be nil.
type StreamHandler struct {
	OnDelta     func(text string)
	OnReasoning func(text string)
}

func (s StreamHandler) delta(text string) {
	if s.OnDelta != nil && text != "" {
		s.OnDelta(text)
	}
}

func (s StreamHandler) reasoning(text string) {
	if s.OnReasoning != nil && text != "" {
		s.OnReasoning(text)
	}
}

// Reply is the completed model turn.
type Reply struct {
	Content      string
	Reasoning    string
	ToolCalls    []ToolCall
	InputTokens  int64
	OutputTokens int64
}

// Provider is a chat backend. Chat blocks until the turn completes,
// streaming fragments through the handler along the way.
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []Message, tools []ToolDef, stream StreamHandler) (Reply, error)
}
