package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/okabe-dev/porter/pkg/envelope"
)

// handleCommand intercepts chat commands before they reach the provider.
// Returns false when the envelope is a normal message.
func (l *Loop) handleCommand(env envelope.Envelope) bool {
	if !strings.HasPrefix(env.Content, "!") {
		return false
	}
	parts := strings.Fields(env.Content)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.TrimPrefix(parts[0], "!")

	var response string
	switch cmd {
	case "clear":
		if err := l.store.Clear(env.ConversationID); err != nil {
			response = fmt.Sprintf("Could not clear conversation: %v", err)
		} else {
			response = "Conversation cleared. Starting fresh."
		}
	case "skill":
		response = l.commandSkill(env.ConversationID, parts[1:])
	case "memory":
		response = l.commandMemory()
	case "schedules":
		response = l.commandSchedules()
	case "help":
		response = "Available commands:\n" +
			"!clear - clear this conversation\n" +
			"!skill <name> - pin a skill for this conversation (!skill off to unpin)\n" +
			"!memory - show stored memory\n" +
			"!schedules - list scheduled jobs\n" +
			"!help - show this help"
	default:
		response = fmt.Sprintf("Unknown command: !%s. Use !help for the list.", cmd)
	}

	out := envelope.NewAgent(env.ChannelID, env.ConversationID, response)
	out.Final = true
	out.ReplyToID = env.ReplyToID
	l.publish(out)
	return true
}

func (l *Loop) commandSkill(conversationID string, args []string) string {
	lib := l.builder.Skills()
	if lib == nil {
		return "No skills directory configured."
	}

	if len(args) == 0 {
		skills, err := lib.Skills()
		if err != nil || len(skills) == 0 {
			return "No skills available."
		}
		names := make([]string, 0, len(skills))
		for name := range skills {
			names = append(names, name)
		}
		sort.Strings(names)
		return "Usage: !skill <name>\nAvailable: " + strings.Join(names, ", ")
	}

	name := args[0]
	if name == "off" {
		l.mu.Lock()
		delete(l.skillByConv, conversationID)
		l.mu.Unlock()
		return "Skill unpinned."
	}

	s, ok := lib.Get(name)
	if !ok {
		return fmt.Sprintf("Unknown skill: %s", name)
	}
	l.mu.Lock()
	l.skillByConv[conversationID] = s.Name
	l.mu.Unlock()
	return fmt.Sprintf("Switched to skill: %s", s.Name)
}

func (l *Loop) commandMemory() string {
	mem := l.builder.Memory()
	if mem == nil {
		return "No memory configured."
	}
	content, err := mem.Read()
	if err != nil {
		return fmt.Sprintf("Could not read memory: %v", err)
	}
	if content == "" {
		return "No memory stored yet."
	}
	if len(content) > 1800 {
		content = content[:1800] + "\n...(truncated)"
	}
	return "Current memory:\n\n" + content
}

func (l *Loop) commandSchedules() string {
	l.mu.Lock()
	sched := l.sched
	l.mu.Unlock()
	if sched == nil {
		return "Scheduling is not enabled."
	}
	entries := sched.Entries()
	if len(entries) == 0 {
		return "No scheduled jobs."
	}
	return strings.Join(entries, "\n")
}

func (l *Loop) skillFor(conversationID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skillByConv[conversationID]
}
