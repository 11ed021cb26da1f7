// Package agent runs the exchange loop: inbound envelopes are dispatched to
// per-conversation workers, each exchange streams a provider reply, executes
// requested tools, and persists the completed exchange.
package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/okabe-dev/porter/internal/bus"
	"github.com/okabe-dev/porter/internal/provider"
	"github.com/okabe-dev/porter/internal/session"
	"github.com/okabe-dev/porter/internal/tool"
	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/logger"
)

const (
	defaultWorkers           = 4
	defaultMaxToolIterations = 20
	typingInterval           = 5 * time.Second
)

// Typer shows a typing indicator on a channel while an exchange runs.
type Typer interface {
	SendTyping(ctx context.Context, conversationID string) error
}

// Scheduler lists cron jobs for the !schedules command.
type Scheduler interface {
	Entries() []string
}

type ctxKey int

const conversationCtxKey ctxKey = iota

// WithConversation tags a context with the conversation a tool call belongs
// to.
func WithConversation(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationCtxKey, conversationID)
}

// ConversationFromContext returns the conversation a tool call originated
// from, empty when the call did not come through the loop.
func ConversationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationCtxKey).(string)
	return id
}

// Options tunes the loop. Zero values pick defaults.
type Options struct {
	Workers           int
	MaxToolIterations int

	// ProviderFactory builds a provider from the active configuration.
	// Defaults to provider.New.
	ProviderFactory func(provider.Config) (provider.Provider, error)
}

// Loop consumes inbound envelopes and produces outbound ones. Envelopes of
// the same conversation are processed in order; different conversations run
// concurrently on separate workers.
type Loop struct {
	bus      *bus.MessageBus
	registry *provider.Registry
	tools    *tool.Registry
	builder  *ContextBuilder
	store    *session.Store
	log      *logger.Logger
	opts     Options

	mu          sync.Mutex
	typers      map[string]Typer
	skillByConv map[string]string
	sched       Scheduler

	wg sync.WaitGroup
}

// NewLoop creates an agent loop over the bus.
func NewLoop(b *bus.MessageBus, registry *provider.Registry, tools *tool.Registry, builder *ContextBuilder, store *session.Store, log *logger.Logger, opts Options) *Loop {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = defaultMaxToolIterations
	}
	if opts.ProviderFactory == nil {
		opts.ProviderFactory = provider.New
	}
	return &Loop{
		bus:         b,
		registry:    registry,
		tools:       tools,
		builder:     builder,
		store:       store,
		log:         log.WithComponent("agent"),
		opts:        opts,
		typers:      make(map[string]Typer),
		skillByConv: make(map[string]string),
	}
}

// RegisterTyper attaches a typing indicator for a channel.
func (l *Loop) RegisterTyper(channelID string, t Typer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.typers[channelID] = t
}

// SetScheduler attaches the scheduler consulted by the !schedules command.
func (l *Loop) SetScheduler(s Scheduler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sched = s
}

// Start launches the dispatcher and workers. They exit when the bus closes
// or ctx is cancelled.
func (l *Loop) Start(ctx context.Context) {
	inbound := l.bus.SubscribeInbound()

	workers := make([]chan envelope.Envelope, l.opts.Workers)
	for i := range workers {
		workers[i] = make(chan envelope.Envelope, 32)
		l.wg.Add(1)
		go l.worker(ctx, workers[i])
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			for _, w := range workers {
				close(w)
			}
		}()
		for env := range inbound {
			if env.Role != envelope.RoleUser {
				continue
			}
			select {
			case workers[shard(env.ConversationID, len(workers))] <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the dispatcher and all workers exit.
func (l *Loop) Wait() {
	l.wg.Wait()
}

// shard maps a conversation to a worker so same-conversation envelopes keep
// their order.
func shard(conversationID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return int(h.Sum32() % uint32(n))
}

func (l *Loop) worker(ctx context.Context, in <-chan envelope.Envelope) {
	defer l.wg.Done()
	for env := range in {
		if l.handleCommand(env) {
			continue
		}
		l.processExchange(ctx, env)
	}
}

// processExchange runs one full exchange for an inbound user envelope:
// resolve the provider, stream the reply, run tool rounds, persist. A
// provider failure produces exactly one system envelope and leaves the
// session untouched.
func (l *Loop) processExchange(ctx context.Context, env envelope.Envelope) {
	log := l.log.WithConversation(env.ConversationID)

	cfg, ok := l.registry.Active()
	if !ok {
		l.fail(env, "no provider configured")
		return
	}
	p, err := l.opts.ProviderFactory(cfg)
	if err != nil {
		log.Error("provider setup failed", "provider", cfg.Name, "error", err)
		l.fail(env, fmt.Sprintf("provider %s unavailable: %v", cfg.Name, err))
		return
	}

	if name := l.skillFor(env.ConversationID); name != "" && env.Metadata["skill"] == "" {
		if env.Metadata == nil {
			env.Metadata = make(map[string]string)
		}
		env.Metadata["skill"] = name
	}

	messages, err := l.builder.Build(env)
	if err != nil {
		log.Error("context build failed", "error", err)
		l.fail(env, fmt.Sprintf("could not load conversation: %v", err))
		return
	}
	defs := l.toolDefs(env)

	stopTyping := l.startTyping(ctx, env)
	defer stopTyping()

	handler := provider.StreamHandler{
		OnDelta: func(text string) {
			l.publish(envelope.NewAgentDelta(env.ChannelID, env.ConversationID, text))
		},
		OnReasoning: func(text string) {
			l.publish(envelope.NewReasoningDelta(env.ChannelID, env.ConversationID, text))
		},
	}

	pending := []envelope.Envelope{env}
	start := time.Now()

	for iteration := 0; iteration < l.opts.MaxToolIterations; iteration++ {
		reply, err := p.Chat(ctx, messages, defs, handler)
		if err != nil {
			perr := provider.Classify(p.Name(), err)
			log.Error("provider call failed", "provider", p.Name(), "kind", string(perr.Kind), "error", err)
			l.fail(env, fmt.Sprintf("provider error (%s): %v", perr.Kind, err))
			return
		}

		if len(reply.ToolCalls) == 0 {
			final := envelope.NewAgent(env.ChannelID, env.ConversationID, reply.Content)
			final.ReasoningContent = reply.Reasoning
			final.Final = true
			final.ReplyToID = env.ReplyToID
			l.publish(final)

			pending = append(pending, final)
			if err := l.store.Append(env.ConversationID, pending); err != nil {
				log.Error("session append failed", "error", err)
			}
			log.Info("exchange complete",
				"duration", time.Since(start).Round(time.Millisecond),
				"rounds", iteration+1,
				"input_tokens", reply.InputTokens,
				"output_tokens", reply.OutputTokens)
			return
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   reply.Content,
			Reasoning: reply.Reasoning,
			ToolCalls: reply.ToolCalls,
		})
		for _, call := range reply.ToolCalls {
			done := l.runTool(ctx, env, call)
			pending = append(pending, done)
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    done.ToolResult,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	log.Warn("tool iteration limit reached", "limit", l.opts.MaxToolIterations)
	l.fail(env, fmt.Sprintf("exchange aborted after %d tool rounds", l.opts.MaxToolIterations))
}

// runTool executes one tool call, publishing the running and finished
// envelopes. Failures are carried back as the tool result so the model can
// recover.
func (l *Loop) runTool(ctx context.Context, env envelope.Envelope, call provider.ToolCall) envelope.Envelope {
	callEnv := envelope.NewToolCall(env.ChannelID, env.ConversationID, call.Name, call.Args)
	l.publish(callEnv)

	result, err := l.tools.Execute(WithConversation(ctx, env.ConversationID), call.Name, call.Args)
	status := envelope.ToolStatusOK
	if err != nil {
		result = err.Error()
		status = envelope.ToolStatusError
		l.log.WithConversation(env.ConversationID).Warn("tool failed", "tool", call.Name, "error", err)
	}

	done := callEnv.WithToolResult(result, status)
	l.publish(done)
	return done
}

// toolDefs returns the offered tools, narrowed by the active skill's
// allowlist when one is selected.
func (l *Loop) toolDefs(env envelope.Envelope) []provider.ToolDef {
	defs := l.tools.Defs()
	s := l.builder.ActiveSkill(env)
	if s == nil {
		return defs
	}
	filtered := defs[:0]
	for _, d := range defs {
		if s.Allows(d.Name) {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// fail publishes the single system envelope for a failed exchange.
func (l *Loop) fail(env envelope.Envelope, msg string) {
	l.publish(envelope.NewSystem(env.ChannelID, env.ConversationID, msg))
}

func (l *Loop) publish(env envelope.Envelope) {
	if err := l.bus.PublishOutbound(env); err != nil {
		l.log.Warn("publish outbound failed", "error", err)
	}
}

// startTyping keeps the channel's typing indicator alive until the returned
// stop function is called.
func (l *Loop) startTyping(ctx context.Context, env envelope.Envelope) func() {
	l.mu.Lock()
	typer := l.typers[env.ChannelID]
	l.mu.Unlock()
	if typer == nil {
		return func() {}
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		_ = typer.SendTyping(ctx, env.ConversationID)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = typer.SendTyping(ctx, env.ConversationID)
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}
