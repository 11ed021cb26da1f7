package agent

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/okabe-dev/porter/internal/bus"
	"github.com/okabe-dev/porter/internal/provider"
	"github.com/okabe-dev/porter/internal/session"
	"github.com/okabe-dev/porter/internal/tool"
	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/logger"
)

type scriptStep struct {
	deltas []string
	reply  provider.Reply
	err    error
}

// scriptedProvider replays a fixed sequence of turns.
type scriptedProvider struct {
	mu    sync.Mutex
	steps []scriptStep
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, messages []provider.Message, tools []provider.ToolDef, stream provider.StreamHandler) (provider.Reply, error) {
	p.mu.Lock()
	step := p.steps[p.calls]
	if p.calls < len(p.steps)-1 {
		p.calls++
	}
	p.mu.Unlock()

	if step.err != nil {
		return provider.Reply{}, step.err
	}
	for _, d := range step.deltas {
		if stream.OnDelta != nil {
			stream.OnDelta(d)
		}
	}
	return step.reply, nil
}

type fixture struct {
	bus      *bus.MessageBus
	store    *session.Store
	loop     *Loop
	outbound <-chan envelope.Envelope
}

func newFixture(t *testing.T, p provider.Provider, tools *tool.Registry) *fixture {
	t.Helper()
	log := logger.NewLoggerWithConsoleWriter(logger.LogLevelError, io.Discard)

	b := bus.NewMessageBus(log)
	t.Cleanup(b.Close)

	reg := provider.NewRegistry()
	if err := reg.SetActive(provider.Config{Name: "scripted", Model: "test-model"}); err != nil {
		t.Fatal(err)
	}

	if tools == nil {
		tools = tool.NewRegistry()
	}
	store := session.NewStore(t.TempDir())
	builder := NewContextBuilder(store, nil, nil, "You are a test assistant.", 0)

	loop := NewLoop(b, reg, tools, builder, store, log, Options{
		Workers:           2,
		MaxToolIterations: 3,
		ProviderFactory: func(provider.Config) (provider.Provider, error) {
			return p, nil
		},
	})

	outbound := b.SubscribeOutbound("")
	loop.Start(context.Background())
	return &fixture{bus: b, store: store, loop: loop, outbound: outbound}
}

// collectUntil drains outbound envelopes until stop returns true or the
// timeout passes.
func collectUntil(t *testing.T, ch <-chan envelope.Envelope, stop func(envelope.Envelope) bool) []envelope.Envelope {
	t.Helper()
	var got []envelope.Envelope
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, env)
			if stop(env) {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out, collected %d envelopes", len(got))
		}
	}
}

func TestExchangeStreamsAndPersists(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{{
		deltas: []string{"Hel", "lo!"},
		reply:  provider.Reply{Content: "Hello!", InputTokens: 10, OutputTokens: 2},
	}}}
	f := newFixture(t, p, nil)

	if err := f.bus.PublishInbound(envelope.NewUser("test", "test:1", "hi")); err != nil {
		t.Fatal(err)
	}
	got := collectUntil(t, f.outbound, func(e envelope.Envelope) bool { return e.Final })

	var deltas int
	for _, e := range got {
		if e.Partial {
			deltas++
		}
	}
	if deltas != 2 {
		t.Errorf("got %d deltas, want 2", deltas)
	}
	final := got[len(got)-1]
	if final.Content != "Hello!" || final.Role != envelope.RoleAgent {
		t.Errorf("final = %+v", final)
	}

	history, err := f.store.Load("test:1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d envelopes, want user+agent", len(history))
	}
	if history[0].Role != envelope.RoleUser || history[1].Role != envelope.RoleAgent {
		t.Errorf("history roles = %s, %s", history[0].Role, history[1].Role)
	}
	if history[1].Partial {
		t.Error("persisted agent envelope must not be a partial")
	}
}

func TestProviderFailureEmitsOneErrorAndNoAppend(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{{err: fmt.Errorf("429 rate limited")}}}
	f := newFixture(t, p, nil)

	if err := f.bus.PublishInbound(envelope.NewUser("test", "test:2", "hi")); err != nil {
		t.Fatal(err)
	}
	got := collectUntil(t, f.outbound, func(e envelope.Envelope) bool { return e.Role == envelope.RoleSystem })

	var systems int
	for _, e := range got {
		if e.Role == envelope.RoleSystem {
			systems++
		}
	}
	// Exactly one error envelope, and nothing after it.
	select {
	case e := <-f.outbound:
		if e.Role == envelope.RoleSystem {
			systems++
		}
	case <-time.After(100 * time.Millisecond):
	}
	if systems != 1 {
		t.Errorf("got %d system envelopes, want exactly 1", systems)
	}

	// A failed exchange leaves no trace in the session log.
	history, err := f.store.Load("test:2")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("history has %d envelopes after failure, want 0", len(history))
	}
}

func TestToolRoundWithFailureRecovery(t *testing.T) {
	tools := tool.NewRegistry()
	tools.Register(provider.ToolDef{Name: "lookup"}, func(ctx context.Context, args map[string]any) (string, error) {
		if args["key"] == "bad" {
			return "", fmt.Errorf("no such key")
		}
		return "value-42", nil
	})

	p := &scriptedProvider{steps: []scriptStep{
		{reply: provider.Reply{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "lookup", Args: map[string]any{"key": "bad"}}}}},
		{reply: provider.Reply{ToolCalls: []provider.ToolCall{{ID: "c2", Name: "lookup", Args: map[string]any{"key": "good"}}}}},
		{reply: provider.Reply{Content: "the value is 42"}},
	}}
	f := newFixture(t, p, tools)

	if err := f.bus.PublishInbound(envelope.NewUser("test", "test:3", "look it up")); err != nil {
		t.Fatal(err)
	}
	got := collectUntil(t, f.outbound, func(e envelope.Envelope) bool { return e.Final })

	var statuses []envelope.ToolStatus
	for _, e := range got {
		if e.Role == envelope.RoleTool {
			statuses = append(statuses, e.ToolStatus)
		}
	}
	want := []envelope.ToolStatus{
		envelope.ToolStatusRunning, envelope.ToolStatusError,
		envelope.ToolStatusRunning, envelope.ToolStatusOK,
	}
	if len(statuses) != len(want) {
		t.Fatalf("tool statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status[%d] = %s, want %s", i, statuses[i], want[i])
		}
	}

	history, err := f.store.Load("test:3")
	if err != nil {
		t.Fatal(err)
	}
	// user, two completed tool envelopes, final agent reply
	if len(history) != 4 {
		t.Fatalf("history has %d envelopes, want 4", len(history))
	}
	if history[1].ToolStatus != envelope.ToolStatusError || history[2].ToolStatus != envelope.ToolStatusOK {
		t.Errorf("persisted tool statuses = %s, %s", history[1].ToolStatus, history[2].ToolStatus)
	}
}

func TestToolIterationLimit(t *testing.T) {
	tools := tool.NewRegistry()
	tools.Register(provider.ToolDef{Name: "spin"}, func(ctx context.Context, args map[string]any) (string, error) {
		return "again", nil
	})

	// Every turn asks for another tool call; the loop must give up.
	p := &scriptedProvider{steps: []scriptStep{
		{reply: provider.Reply{ToolCalls: []provider.ToolCall{{ID: "x", Name: "spin", Args: map[string]any{}}}}},
	}}
	f := newFixture(t, p, tools)

	if err := f.bus.PublishInbound(envelope.NewUser("test", "test:4", "go")); err != nil {
		t.Fatal(err)
	}
	got := collectUntil(t, f.outbound, func(e envelope.Envelope) bool { return e.Role == envelope.RoleSystem })

	var toolRounds int
	for _, e := range got {
		if e.Role == envelope.RoleTool && e.ToolStatus == envelope.ToolStatusRunning {
			toolRounds++
		}
	}
	if toolRounds != 3 {
		t.Errorf("ran %d tool rounds, want 3 (the configured limit)", toolRounds)
	}

	history, err := f.store.Load("test:4")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("aborted exchange persisted %d envelopes, want 0", len(history))
	}
}

func TestSameConversationStaysOrdered(t *testing.T) {
	p := &scriptedProvider{steps: []scriptStep{{reply: provider.Reply{Content: "ok"}}}}
	f := newFixture(t, p, nil)

	for i := 0; i < 5; i++ {
		if err := f.bus.PublishInbound(envelope.NewUser("test", "test:5", fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	finals := 0
	collectUntil(t, f.outbound, func(e envelope.Envelope) bool {
		if e.Final {
			finals++
		}
		return finals == 5
	})

	history, err := f.store.Load("test:5")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 10 {
		t.Fatalf("history has %d envelopes, want 10", len(history))
	}
	for i := 0; i < 5; i++ {
		user := history[i*2]
		if user.Content != fmt.Sprintf("msg-%d", i) {
			t.Errorf("exchange %d persisted out of order: %q", i, user.Content)
		}
	}
}
