package agent

import (
	"fmt"
	"strings"
	"testing"

	"github.com/okabe-dev/porter/internal/provider"
	"github.com/okabe-dev/porter/pkg/envelope"
)

func TestHelpCommandSkipsProvider(t *testing.T) {
	// A provider call would fail loudly; commands must never reach it.
	p := &scriptedProvider{steps: []scriptStep{{err: fmt.Errorf("provider should not be called")}}}
	f := newFixture(t, p, nil)

	if err := f.bus.PublishInbound(envelope.NewUser("test", "test:10", "!help")); err != nil {
		t.Fatal(err)
	}
	got := collectUntil(t, f.outbound, func(e envelope.Envelope) bool { return e.Final })

	reply := got[len(got)-1]
	if !strings.Contains(reply.Content, "!clear") {
		t.Errorf("help reply = %q", reply.Content)
	}
	for _, e := range got {
		if e.Role == envelope.RoleSystem {
			t.Errorf("unexpected error envelope: %q", e.Content)
		}
	}
}

func TestClearCommandWipesHistory(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{{reply: provider.Reply{Content: "ok"}}}}
	f := newFixture(t, p, nil)

	seed := []envelope.Envelope{
		envelope.NewUser("test", "test:11", "old"),
		envelope.NewAgent("test", "test:11", "old reply"),
	}
	if err := f.store.Append("test:11", seed); err != nil {
		t.Fatal(err)
	}

	if err := f.bus.PublishInbound(envelope.NewUser("test", "test:11", "!clear")); err != nil {
		t.Fatal(err)
	}
	got := collectUntil(t, f.outbound, func(e envelope.Envelope) bool { return e.Final })
	if !strings.Contains(got[len(got)-1].Content, "cleared") {
		t.Errorf("reply = %q", got[len(got)-1].Content)
	}

	history, err := f.store.Load("test:11")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("history has %d envelopes after !clear", len(history))
	}
}

func TestUnknownCommandReplies(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{{err: fmt.Errorf("unreachable")}}}
	f := newFixture(t, p, nil)

	if err := f.bus.PublishInbound(envelope.NewUser("test", "test:12", "!dance")); err != nil {
		t.Fatal(err)
	}
	got := collectUntil(t, f.outbound, func(e envelope.Envelope) bool { return e.Final })
	if !strings.Contains(got[len(got)-1].Content, "Unknown command") {
		t.Errorf("reply = %q", got[len(got)-1].Content)
	}
}
