// Package app assembles the gateway: bus, providers, sessions, tools,
// channel adapters, agent loop, scheduler, and control surface.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/okabe-dev/porter/internal/agent"
	"github.com/okabe-dev/porter/internal/bus"
	"github.com/okabe-dev/porter/internal/channel"
	"github.com/okabe-dev/porter/internal/config"
	"github.com/okabe-dev/porter/internal/control"
	"github.com/okabe-dev/porter/internal/provider"
	"github.com/okabe-dev/porter/internal/scheduler"
	"github.com/okabe-dev/porter/internal/session"
	"github.com/okabe-dev/porter/internal/skill"
	"github.com/okabe-dev/porter/internal/tool"
	"github.com/okabe-dev/porter/pkg/events"
	"github.com/okabe-dev/porter/pkg/logger"
)

// App is the assembled gateway.
type App struct {
	cfg *config.Config
	log *logger.Logger

	bus       *bus.MessageBus
	registry  *provider.Registry
	store     *session.Store
	memory    *session.Memory
	skills    *skill.Library
	tools     *tool.Registry
	mcp       *tool.MCPManager
	channels  *channel.Manager
	loop      *agent.Loop
	sched     *scheduler.Scheduler
	heartbeat *scheduler.Heartbeat
	control   *control.Server
}

// New wires every component. Nothing runs until Run.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &App{cfg: cfg, log: log.WithComponent("app")}
	a.bus = bus.NewMessageBus(log)

	registry, err := provider.LoadRegistry(cfg.ProvidersPath())
	if err != nil {
		return nil, err
	}
	a.registry = registry
	a.bootstrapProvider()

	a.store = session.NewStore(cfg.SessionsDir())
	a.memory = session.NewMemory(session.MemoryConfig{
		BaseDir:  cfg.MemoryDir(),
		MaxNotes: cfg.Memory.MaxNotes,
	})
	if err := a.memory.EnsureDirectories(); err != nil {
		a.log.Warn("could not create memory directories", "error", err)
	}
	a.skills = skill.NewLibrary(cfg.SkillsDir())

	a.sched, err = scheduler.New(a.bus, log, cfg.SchedulePath())
	if err != nil {
		return nil, err
	}

	a.tools = tool.NewRegistry()
	tool.RegisterMemoryTools(a.tools, a.memory)
	tool.RegisterSkillTools(a.tools, a.skills)
	tool.RegisterScheduleTools(a.tools, a.sched, agent.ConversationFromContext)
	a.mcp = tool.NewMCPManager(a.tools, log)

	a.channels = channel.NewManager(a.bus, log)
	builder := agent.NewContextBuilder(a.store, a.memory, a.skills, cfg.Agent.SystemPrompt, cfg.Agent.HistoryWindow)
	a.loop = agent.NewLoop(a.bus, a.registry, a.tools, builder, a.store, log, agent.Options{
		Workers:           cfg.Agent.Workers,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
	})
	a.loop.SetScheduler(a.sched)
	a.registerAdapters(log)

	if conv := cfg.Scheduler.HeartbeatConversation; conv != "" {
		a.heartbeat = scheduler.NewHeartbeat(a.bus, log, cfg.HeartbeatPath(), conv, cfg.Scheduler.HeartbeatEvery())
	}

	emitter := events.NewEmitter()
	a.control = control.NewServer(cfg.ListenAddr(), a.bus, a.registry, a.channels, a.sched, emitter, log)
	return a, nil
}

// bootstrapProvider activates a default provider from the environment when
// the registry is empty, so a fresh install answers immediately.
func (a *App) bootstrapProvider() {
	if _, ok := a.registry.Active(); ok {
		return
	}
	defaults := []provider.Config{
		{Name: "anthropic", Model: "claude-sonnet-4-5", Streaming: true, Thinking: true},
		{Name: "openai", Model: "gpt-5-mini", Streaming: true},
		{Name: "gemini", Model: "gemini-2.5-flash", Streaming: true},
	}
	for _, cfg := range defaults {
		key := config.LookupProviderKey(cfg.Name)
		if key == "" {
			continue
		}
		cfg.APIKey = key
		if err := a.registry.SetActive(cfg); err != nil {
			a.log.Warn("could not activate default provider", "provider", cfg.Name, "error", err)
			continue
		}
		a.log.Info("activated provider from environment", "provider", cfg.Name, "model", cfg.Model)
		return
	}
	a.log.Warn("no provider configured, use the control API to set one")
}

// registerAdapters builds the adapters that have configuration. Inbound
// messages go straight onto the bus. Each adapter registers a factory so
// the control surface can reconfigure it at runtime: a config payload is
// merged over the file configuration and a fresh adapter is built from it.
func (a *App) registerAdapters(log *logger.Logger) {
	inbound := a.bus.PublishInbound

	if a.cfg.Channels.Telegram.Token != "" {
		base := a.cfg.Channels.Telegram
		tg := channel.NewTelegramAdapter(base, inbound, log)
		a.channels.Register(tg, func(raw json.RawMessage) (channel.Adapter, error) {
			cfg := base
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, fmt.Errorf("parse telegram config: %w", err)
			}
			return channel.NewTelegramAdapter(cfg, inbound, log), nil
		})
		a.loop.RegisterTyper(tg.Name(), tg)
	}
	if a.cfg.Channels.Discord.Token != "" {
		base := a.cfg.Channels.Discord
		dc, err := channel.NewDiscordAdapter(base, inbound, log)
		if err != nil {
			a.log.Warn("could not create discord adapter", "error", err)
		} else {
			a.channels.Register(dc, func(raw json.RawMessage) (channel.Adapter, error) {
				cfg := base
				if err := json.Unmarshal(raw, &cfg); err != nil {
					return nil, fmt.Errorf("parse discord config: %w", err)
				}
				return channel.NewDiscordAdapter(cfg, inbound, log)
			})
			a.loop.RegisterTyper(dc.Name(), dc)
		}
	}
	if a.cfg.Channels.WhatsApp.BridgeURL != "" {
		base := a.cfg.Channels.WhatsApp
		wa := channel.NewWhatsAppAdapter(base, inbound, log)
		a.channels.Register(wa, func(raw json.RawMessage) (channel.Adapter, error) {
			cfg := base
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, fmt.Errorf("parse whatsapp config: %w", err)
			}
			return channel.NewWhatsAppAdapter(cfg, inbound, log), nil
		})
	}
}

// Run starts everything and blocks until ctx is cancelled or the control
// server fails.
func (a *App) Run(ctx context.Context) error {
	a.loop.Start(ctx)

	for _, cfg := range a.cfg.MCP.Servers {
		if err := a.mcp.AddServer(ctx, cfg); err != nil {
			a.log.Warn("could not connect mcp server", "server", cfg.Name, "error", err)
		}
	}

	for _, name := range a.cfg.Channels.Enabled {
		if !a.channels.Enable(ctx, name) {
			a.log.Warn("channel enabled in config but not registered", "channel", name)
		}
	}

	a.sched.Start()
	if a.heartbeat != nil {
		a.heartbeat.Start(ctx)
	}

	a.log.Info("gateway running", "addr", a.cfg.ListenAddr())
	return a.control.Start(ctx)
}

// Close releases everything in dependency order.
func (a *App) Close() {
	if a.heartbeat != nil {
		a.heartbeat.Stop()
	}
	a.sched.Stop()
	a.mcp.Close()
	a.bus.Close()
	a.channels.Wait()
	a.loop.Wait()
}
