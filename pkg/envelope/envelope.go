// Package envelope defines the message envelope exchanged across the bus.
// An envelope is immutable once published; conversation identity is the
// ordering key for agent processing.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of an envelope.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// ToolStatus reports the outcome of a tool call carried in a tool envelope.
type ToolStatus string

const (
	ToolStatusRunning ToolStatus = "running"
	ToolStatusOK      ToolStatus = "ok"
	ToolStatusError   ToolStatus = "error"
)

// ChannelInternal is the channel id used for synthetic envelopes produced
// inside the process (scheduler ticks, heartbeats).
const ChannelInternal = "internal"

// Envelope is the unit of transport between channel adapters and the agent.
type Envelope struct {
	ID             string            `json:"id"`
	ChannelID      string            `json:"channel_id"`
	ConversationID string            `json:"conversation_id"`
	Role           Role              `json:"role"`
	Content        string            `json:"content"`

	// Reasoning deltas and tool call details, populated per role.
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	ToolName         string         `json:"tool_name,omitempty"`
	ToolArgs         map[string]any `json:"tool_args,omitempty"`
	ToolResult       string         `json:"tool_result,omitempty"`
	ToolStatus       ToolStatus     `json:"tool_status,omitempty"`

	// Partial marks a streaming delta; Final marks the completion of an
	// exchange. A non-partial agent envelope without Final is not emitted.
	Partial bool `json:"partial,omitempty"`
	Final   bool `json:"final,omitempty"`

	ReplyToID  string            `json:"reply_to_id,omitempty"`
	SenderID   string            `json:"sender_id,omitempty"`
	SenderName string            `json:"sender_name,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewUser builds an inbound user envelope.
func NewUser(channelID, conversationID, content string) Envelope {
	return Envelope{
		ID:             uuid.NewString(),
		ChannelID:      channelID,
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		Timestamp:      time.Now(),
	}
}

// NewAgent builds an outbound agent envelope. Final should be set by the
// caller when the envelope completes an exchange.
func NewAgent(channelID, conversationID, content string) Envelope {
	return Envelope{
		ID:             uuid.NewString(),
		ChannelID:      channelID,
		ConversationID: conversationID,
		Role:           RoleAgent,
		Content:        content,
		Timestamp:      time.Now(),
	}
}

// NewAgentDelta builds a partial streaming envelope carrying a text delta.
func NewAgentDelta(channelID, conversationID, delta string) Envelope {
	env := NewAgent(channelID, conversationID, delta)
	env.Partial = true
	return env
}

// NewReasoningDelta builds a partial envelope carrying a reasoning delta.
func NewReasoningDelta(channelID, conversationID, delta string) Envelope {
	env := NewAgent(channelID, conversationID, "")
	env.ReasoningContent = delta
	env.Partial = true
	return env
}

// NewSystem builds a system-role envelope, used for operator-visible errors
// and synthetic notices.
func NewSystem(channelID, conversationID, content string) Envelope {
	return Envelope{
		ID:             uuid.NewString(),
		ChannelID:      channelID,
		ConversationID: conversationID,
		Role:           RoleSystem,
		Content:        content,
		Timestamp:      time.Now(),
	}
}

// NewToolCall builds a tool envelope announcing a tool invocation.
func NewToolCall(channelID, conversationID, toolName string, args map[string]any) Envelope {
	return Envelope{
		ID:             uuid.NewString(),
		ChannelID:      channelID,
		ConversationID: conversationID,
		Role:           RoleTool,
		ToolName:       toolName,
		ToolArgs:       args,
		ToolStatus:     ToolStatusRunning,
		Timestamp:      time.Now(),
	}
}

// WithToolResult returns a copy of a tool envelope with its outcome filled in.
func (e Envelope) WithToolResult(result string, status ToolStatus) Envelope {
	e.ToolResult = result
	e.ToolStatus = status
	e.Timestamp = time.Now()
	return e
}

// ConversationKey derives the canonical conversation id for a channel and
// chat pair ("channel:chat").
func ConversationKey(channelID, chatID string) string {
	return channelID + ":" + chatID
}
