// Package channel contains the chat-surface adapters and the supervisor
// that keeps them connected.
package channel

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/okabe-dev/porter/pkg/envelope"
)

// InboundFunc delivers an inbound envelope to the bus. Injected into each
// adapter at construction.
type InboundFunc func(env envelope.Envelope) error

// Adapter is the capability set every chat surface implements.
type Adapter interface {
	// Name returns the channel id ("telegram", "discord", ...).
	Name() string
	// Connect establishes the connection and starts receiving. It returns
	// once the adapter is receiving; delivery happens via the injected
	// InboundFunc.
	Connect(ctx context.Context) error
	// Disconnect stops receiving and releases the connection.
	Disconnect() error
	// Send delivers an outbound envelope to the surface.
	Send(ctx context.Context, env envelope.Envelope) error
	// TestConnection verifies credentials and reachability without
	// changing the adapter's state.
	TestConnection(ctx context.Context) error
}

// Typer is implemented by adapters that can show a typing indicator.
type Typer interface {
	SendTyping(ctx context.Context, conversationID string) error
}

// ErrorOp classifies channel failures.
type ErrorOp string

const (
	OpConnect ErrorOp = "connect"
	OpSend    ErrorOp = "send"
)

// Error wraps an adapter failure with the operation that produced it.
type Error struct {
	Op      ErrorOp
	Channel string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("channel %s: %s: %v", e.Channel, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// splitMessage splits text into chunks at newline boundaries, respecting
// each platform's message length limit.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := lastNewline(text[:maxLen]); idx > 0 {
			cutAt = idx + 1
		} else {
			// Never cut inside a multi-byte rune.
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				cutAt = maxLen
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
