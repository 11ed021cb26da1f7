// Package events maps outbound envelopes to the typed event stream consumed
// by the control surface and any attached UI.
package events

import (
	"time"

	"github.com/okabe-dev/porter/pkg/envelope"
)

// EventType represents different types of gateway events
type EventType string

const (
	EventTypeResponseDelta    EventType = "agent-response-delta"
	EventTypeReasoningDelta   EventType = "agent-reasoning-delta"
	EventTypeToolStart        EventType = "agent-tool-start"
	EventTypeToolEnd          EventType = "agent-tool-end"
	EventTypeResponseComplete EventType = "agent-response-complete"
	EventTypeError            EventType = "agent-error"
	EventTypeExternalMessage  EventType = "external-message"
)

// Event is a single entry on the control event stream.
type Event struct {
	Type           EventType `json:"type"`
	ChannelID      string    `json:"channel_id"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	Data           any       `json:"data,omitempty"`
}

// ResponseDeltaData carries a streamed text fragment.
type ResponseDeltaData struct {
	Content string `json:"content"`
}

// ReasoningDeltaData carries a streamed reasoning fragment.
type ReasoningDeltaData struct {
	Content string `json:"content"`
}

// ToolStartData describes a tool call beginning.
type ToolStartData struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
}

// ToolEndData describes a tool call finishing.
type ToolEndData struct {
	ToolName string `json:"tool_name"`
	CallID   string `json:"call_id,omitempty"`
	Result   string `json:"result,omitempty"`
	IsError  bool   `json:"is_error"`
}

// ResponseCompleteData carries the final assembled response.
type ResponseCompleteData struct {
	Content string `json:"content"`
}

// ErrorData carries an exchange failure.
type ErrorData struct {
	Message string `json:"message"`
}

// ExternalMessageData mirrors a message that arrived from a channel.
type ExternalMessageData struct {
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Content    string `json:"content"`
}

// FromEnvelope converts an envelope into its control-stream event. The
// second return is false for envelopes that have no event representation
// (tool envelopes mid-flight keep their running status internal).
func FromEnvelope(env envelope.Envelope) (Event, bool) {
	ev := Event{
		ChannelID:      env.ChannelID,
		ConversationID: env.ConversationID,
		Timestamp:      env.Timestamp,
	}

	switch env.Role {
	case envelope.RoleUser:
		ev.Type = EventTypeExternalMessage
		ev.Data = ExternalMessageData{
			SenderID:   env.SenderID,
			SenderName: env.SenderName,
			Content:    env.Content,
		}
		return ev, true

	case envelope.RoleAgent:
		if env.Partial {
			if env.ReasoningContent != "" {
				ev.Type = EventTypeReasoningDelta
				ev.Data = ReasoningDeltaData{Content: env.ReasoningContent}
				return ev, true
			}
			ev.Type = EventTypeResponseDelta
			ev.Data = ResponseDeltaData{Content: env.Content}
			return ev, true
		}
		ev.Type = EventTypeResponseComplete
		ev.Data = ResponseCompleteData{Content: env.Content}
		return ev, true

	case envelope.RoleTool:
		switch env.ToolStatus {
		case envelope.ToolStatusRunning:
			ev.Type = EventTypeToolStart
			ev.Data = ToolStartData{
				ToolName:  env.ToolName,
				Arguments: env.ToolArgs,
				CallID:    env.ID,
			}
			return ev, true
		case envelope.ToolStatusOK, envelope.ToolStatusError:
			ev.Type = EventTypeToolEnd
			ev.Data = ToolEndData{
				ToolName: env.ToolName,
				CallID:   env.ID,
				Result:   env.ToolResult,
				IsError:  env.ToolStatus == envelope.ToolStatusError,
			}
			return ev, true
		}
		return Event{}, false

	case envelope.RoleSystem:
		ev.Type = EventTypeError
		ev.Data = ErrorData{Message: env.Content}
		return ev, true
	}

	return Event{}, false
}

// Handler processes a single event.
type Handler func(Event)

// Emitter fans events out to registered handlers. Not safe for concurrent
// registration after Start; handlers are registered during wiring.
type Emitter struct {
	handlers []Handler
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make([]Handler, 0)}
}

// AddHandler registers a handler for all future events.
func (e *Emitter) AddHandler(h Handler) {
	e.handlers = append(e.handlers, h)
}

// Emit delivers an event to every handler in registration order.
func (e *Emitter) Emit(ev Event) {
	for _, h := range e.handlers {
		h(ev)
	}
}

// EmitEnvelope converts and delivers an envelope if it maps to an event.
func (e *Emitter) EmitEnvelope(env envelope.Envelope) {
	if ev, ok := FromEnvelope(env); ok {
		e.Emit(ev)
	}
}
