// Package control exposes the HTTP management API and the websocket event
// stream used by the desktop client and the CLI.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okabe-dev/porter/internal/bus"
	"github.com/okabe-dev/porter/internal/channel"
	"github.com/okabe-dev/porter/internal/config"
	"github.com/okabe-dev/porter/internal/provider"
	"github.com/okabe-dev/porter/internal/scheduler"
	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/events"
	"github.com/okabe-dev/porter/pkg/logger"
)

// Server is the control surface. All state changes go through the same
// components the agent uses, so a hot-swap here is visible everywhere.
type Server struct {
	bus      *bus.MessageBus
	registry *provider.Registry
	channels *channel.Manager
	sched    *scheduler.Scheduler
	emitter  *events.Emitter
	log      *logger.Logger

	hub  *Hub
	http *http.Server
}

// NewServer wires the control surface. sched may be nil when scheduling is
// disabled.
func NewServer(addr string, b *bus.MessageBus, registry *provider.Registry, channels *channel.Manager, sched *scheduler.Scheduler, emitter *events.Emitter, log *logger.Logger) *Server {
	s := &Server{
		bus:      b,
		registry: registry,
		channels: channels,
		sched:    sched,
		emitter:  emitter,
		log:      log.WithComponent("control"),
		hub:      NewHub(log),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/providers", s.handleProviders)
	mux.HandleFunc("POST /api/config", s.handleSetConfig)
	mux.HandleFunc("GET /api/channels", s.handleChannels)
	mux.HandleFunc("POST /api/channels/{name}", s.handleChannelToggle)
	mux.HandleFunc("POST /api/channels/{name}/test", s.handleChannelTest)
	mux.HandleFunc("POST /api/message", s.handleMessage)
	mux.HandleFunc("GET /api/schedules", s.handleSchedules)
	mux.HandleFunc("GET /api/events", s.hub.HandleUpgrade)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the event pump and the HTTP listener. It returns when the
// listener stops.
func (s *Server) Start(ctx context.Context) error {
	s.emitter.AddHandler(s.hub.Broadcast)

	// Every outbound envelope, any channel, feeds the event stream.
	outbound := s.bus.SubscribeOutbound("")
	go func() {
		for env := range outbound {
			s.emitter.EmitEnvelope(env)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		s.hub.Close()
	}()

	s.log.Info("control server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler returns the HTTP handler, used by tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

type providerView struct {
	Name      string `json:"name"`
	APIBase   string `json:"api_base,omitempty"`
	Model     string `json:"model"`
	Streaming bool   `json:"streaming"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	Thinking  bool   `json:"thinking"`
	HasKey    bool   `json:"has_key"`
}

func viewOf(cfg provider.Config) providerView {
	return providerView{
		Name:      cfg.Name,
		APIBase:   cfg.APIBase,
		Model:     cfg.Model,
		Streaming: cfg.Streaming,
		MaxTokens: cfg.MaxTokens,
		Thinking:  cfg.Thinking,
		HasKey:    cfg.APIKey != "",
	}
}

// handleProviders lists known providers with keys redacted.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	active, _ := s.registry.Active()
	list := s.registry.List()
	views := make([]providerView, 0, len(list))
	for _, cfg := range list {
		views = append(views, viewOf(cfg))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    active.Name,
		"providers": views,
	})
}

// handleSetConfig patches the active provider configuration. Omitted fields
// keep their current value, so `{"model": "..."}` alone switches the model.
// The swap is atomic; in-flight exchanges finish on the old provider.
func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var patch struct {
		Name      *string `json:"name"`
		APIBase   *string `json:"api_base"`
		APIKey    *string `json:"api_key"`
		Model     *string `json:"model"`
		Streaming *bool   `json:"streaming"`
		MaxTokens *int    `json:"max_tokens"`
		Thinking  *bool   `json:"thinking"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse provider config: %w", err))
		return
	}

	cfg, _ := s.registry.Active()
	if patch.Name != nil && *patch.Name != cfg.Name {
		// Switching providers starts from that provider's stored
		// configuration, not the active one's.
		cfg = s.registry.Lookup(*patch.Name)
		cfg.Name = *patch.Name
	}
	if patch.APIBase != nil {
		cfg.APIBase = *patch.APIBase
	}
	if patch.APIKey != nil {
		cfg.APIKey = *patch.APIKey
	}
	if patch.Model != nil {
		cfg.Model = *patch.Model
	}
	if patch.Streaming != nil {
		cfg.Streaming = *patch.Streaming
	}
	if patch.MaxTokens != nil {
		cfg.MaxTokens = *patch.MaxTokens
	}
	if patch.Thinking != nil {
		cfg.Thinking = *patch.Thinking
	}
	if cfg.APIKey == "" {
		cfg.APIKey = config.LookupProviderKey(cfg.Name)
	}
	if err := s.registry.SetActive(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.log.Info("provider activated", "provider", cfg.Name, "model", cfg.Model)
	writeJSON(w, http.StatusOK, viewOf(cfg))
}

// handleChannels reports every adapter's supervisor state.
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.channels.Statuses())
}

// handleChannelToggle enables or disables an adapter, optionally replacing
// its configuration first. A running adapter restarts on the new config.
func (s *Server) handleChannelToggle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}

	if len(body.Config) > 0 {
		if err := s.channels.Reconfigure(r.Context(), name, body.Config); err != nil {
			if errors.Is(err, channel.ErrUnknownChannel) {
				writeError(w, http.StatusNotFound, err)
			} else {
				writeError(w, http.StatusBadRequest, err)
			}
			return
		}
	}

	var ok bool
	if body.Enabled {
		ok = s.channels.Enable(r.Context(), name)
	} else {
		ok = s.channels.Disable(name)
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown channel %s", name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": body.Enabled})
}

// handleChannelTest runs a connection test without touching supervisor
// state. A config in the body tests that candidate configuration instead of
// the stored one.
func (s *Server) handleChannelTest(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Config json.RawMessage `json:"config,omitempty"`
	}
	// The body is optional.
	_ = json.NewDecoder(r.Body).Decode(&body)

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := s.channels.TestWith(ctx, name, body.Config); err != nil {
		if errors.Is(err, channel.ErrUnknownChannel) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleMessage injects an operator message into a conversation.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConversationID string `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}
	if body.ConversationID == "" || body.Content == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("conversation_id and content are required"))
		return
	}

	channelID := envelope.ChannelInternal
	if idx := strings.IndexByte(body.ConversationID, ':'); idx > 0 {
		channelID = body.ConversationID[:idx]
	}
	env := envelope.NewUser(channelID, body.ConversationID, body.Content)
	if err := s.bus.PublishInbound(env); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": env.ID})
}

// handleSchedules lists the cron jobs.
func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, s.sched.Entries())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
