package agent

import (
	"strings"

	"github.com/okabe-dev/porter/internal/provider"
	"github.com/okabe-dev/porter/internal/session"
	"github.com/okabe-dev/porter/internal/skill"
	"github.com/okabe-dev/porter/pkg/envelope"
)

const defaultHistoryWindow = 50

// ContextBuilder assembles the message list replayed to a provider for one
// exchange: system prompt, memory context, skill catalog, then a bounded
// window of the conversation history. Given the same inputs it always
// produces the same messages.
type ContextBuilder struct {
	store        *session.Store
	memory       *session.Memory
	skills       *skill.Library
	systemPrompt string
	window       int
}

// NewContextBuilder creates a builder. memory and skills may be nil; window
// <= 0 uses the default.
func NewContextBuilder(store *session.Store, memory *session.Memory, skills *skill.Library, systemPrompt string, window int) *ContextBuilder {
	if window <= 0 {
		window = defaultHistoryWindow
	}
	return &ContextBuilder{
		store:        store,
		memory:       memory,
		skills:       skills,
		systemPrompt: systemPrompt,
		window:       window,
	}
}

// Build returns the provider messages for an inbound envelope, ending with
// the envelope's own content as the latest user turn.
func (b *ContextBuilder) Build(env envelope.Envelope) ([]provider.Message, error) {
	var messages []provider.Message

	if sys := b.systemMessage(env); sys != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: sys})
	}

	history, err := b.store.Load(env.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(history) > b.window {
		history = history[len(history)-b.window:]
	}
	messages = append(messages, historyMessages(history)...)

	content := env.Content
	if env.SenderName != "" {
		content = env.SenderName + ": " + content
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: content})
	return messages, nil
}

// Memory exposes the long-term memory, nil when not configured.
func (b *ContextBuilder) Memory() *session.Memory { return b.memory }

// Skills exposes the skill library, nil when not configured.
func (b *ContextBuilder) Skills() *skill.Library { return b.skills }

// ActiveSkill returns the skill selected by the envelope metadata, if any.
func (b *ContextBuilder) ActiveSkill(env envelope.Envelope) *skill.Skill {
	if b.skills == nil {
		return nil
	}
	name := env.Metadata["skill"]
	if name == "" {
		return nil
	}
	s, ok := b.skills.Get(name)
	if !ok {
		return nil
	}
	return s
}

func (b *ContextBuilder) systemMessage(env envelope.Envelope) string {
	var sb strings.Builder
	if b.systemPrompt != "" {
		sb.WriteString(b.systemPrompt)
		sb.WriteString("\n\n")
	}
	if b.memory != nil {
		sb.WriteString(b.memory.BuildPrompt())
	}
	if b.skills != nil {
		if catalog := b.skills.Catalog(); catalog != "" {
			sb.WriteString(catalog)
			sb.WriteString("\n\n")
		}
	}
	if s := b.ActiveSkill(env); s != nil {
		sb.WriteString(s.Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// historyMessages converts persisted envelopes into provider messages. Tool
// envelopes expand into the assistant call and its result; system envelopes
// and partials are not replayed.
func historyMessages(history []envelope.Envelope) []provider.Message {
	var out []provider.Message
	for _, env := range history {
		switch env.Role {
		case envelope.RoleUser:
			content := env.Content
			if env.SenderName != "" {
				content = env.SenderName + ": " + content
			}
			out = append(out, provider.Message{Role: provider.RoleUser, Content: content})
		case envelope.RoleAgent:
			if env.Partial {
				continue
			}
			out = append(out, provider.Message{Role: provider.RoleAssistant, Content: env.Content})
		case envelope.RoleTool:
			call := provider.ToolCall{ID: env.ID, Name: env.ToolName, Args: env.ToolArgs}
			out = append(out,
				provider.Message{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{call}},
				provider.Message{Role: provider.RoleTool, Content: env.ToolResult, ToolCallID: env.ID, ToolName: env.ToolName},
			)
		}
	}
	return out
}
