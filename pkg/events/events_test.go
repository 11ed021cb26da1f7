package events

import (
	"testing"

	"github.com/okabe-dev/porter/pkg/envelope"
)

func TestFromEnvelope(t *testing.T) {
	tests := []struct {
		name string
		env  envelope.Envelope
		want EventType
		ok   bool
	}{
		{"user message", envelope.NewUser("telegram", "telegram:1", "hi"), EventTypeExternalMessage, true},
		{"text delta", envelope.NewAgentDelta("telegram", "telegram:1", "he"), EventTypeResponseDelta, true},
		{"reasoning delta", envelope.NewReasoningDelta("telegram", "telegram:1", "hmm"), EventTypeReasoningDelta, true},
		{"final response", envelope.NewAgent("telegram", "telegram:1", "hello"), EventTypeResponseComplete, true},
		{"tool start", envelope.NewToolCall("telegram", "telegram:1", "lookup", nil), EventTypeToolStart, true},
		{"tool end", envelope.NewToolCall("telegram", "telegram:1", "lookup", nil).WithToolResult("v", envelope.ToolStatusOK), EventTypeToolEnd, true},
		{"error", envelope.NewSystem("telegram", "telegram:1", "boom"), EventTypeError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := FromEnvelope(tt.env)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ev.Type != tt.want {
				t.Errorf("type = %s, want %s", ev.Type, tt.want)
			}
			if ev.ConversationID != "telegram:1" {
				t.Errorf("conversation = %q", ev.ConversationID)
			}
		})
	}
}

func TestToolEndMarksErrors(t *testing.T) {
	env := envelope.NewToolCall("discord", "discord:2", "lookup", nil).WithToolResult("no such key", envelope.ToolStatusError)
	ev, ok := FromEnvelope(env)
	if !ok {
		t.Fatal("no event")
	}
	data, ok := ev.Data.(ToolEndData)
	if !ok {
		t.Fatalf("data = %T", ev.Data)
	}
	if !data.IsError || data.Result != "no such key" {
		t.Errorf("data = %+v", data)
	}
}

func TestEmitterFanOut(t *testing.T) {
	e := NewEmitter()
	var got []EventType
	e.AddHandler(func(ev Event) { got = append(got, ev.Type) })
	e.AddHandler(func(ev Event) { got = append(got, ev.Type) })

	e.EmitEnvelope(envelope.NewSystem("internal", "internal:x", "oops"))
	if len(got) != 2 || got[0] != EventTypeError {
		t.Errorf("got = %v", got)
	}
}
