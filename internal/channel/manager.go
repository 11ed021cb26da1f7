package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/okabe-dev/porter/internal/bus"
	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/logger"
)

// State is the supervisor state of one adapter.
type State string

const (
	StateDisabled   State = "disabled"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateDegraded   State = "degraded"
)

// Status is an adapter's supervisor snapshot for the control surface.
type Status struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	Retries   int    `json:"retries"`
	LastError string `json:"last_error,omitempty"`
}

const (
	backoffBase = time.Second
	backoffCap  = time.Minute
	// consecutive send failures before the connection is recycled
	degradedSendLimit = 3
)

// Factory builds a fresh adapter from a raw JSON configuration, used for
// runtime reconfiguration and for testing candidate configurations.
type Factory func(raw json.RawMessage) (Adapter, error)

type entry struct {
	build Factory

	// Supervisor lifecycle, guarded by Manager.mu.
	cancel   context.CancelFunc
	outbound <-chan envelope.Envelope
	stopped  chan struct{}

	mu        sync.Mutex
	adapter   Adapter
	state     State
	retries   int
	lastError string
}

func (e *entry) current() Adapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adapter
}

func (e *entry) setState(s State, err error) {
	e.mu.Lock()
	e.state = s
	if err != nil {
		e.lastError = err.Error()
	}
	e.mu.Unlock()
}

func (e *entry) status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Name:      e.adapter.Name(),
		State:     e.state,
		Retries:   e.retries,
		LastError: e.lastError,
	}
}

// Manager supervises adapters: connect with capped jittered backoff,
// deliver outbound envelopes, recycle degraded connections. Send failures
// become system envelopes on the bus, never crashes.
type Manager struct {
	bus *bus.MessageBus
	log *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
}

// NewManager creates an adapter supervisor over the bus.
func NewManager(b *bus.MessageBus, log *logger.Logger) *Manager {
	return &Manager{
		bus:     b,
		log:     log.WithComponent("channel"),
		entries: make(map[string]*entry),
	}
}

// Register adds an adapter in the disabled state. The factory enables
// runtime reconfiguration; nil disables it for this channel.
func (m *Manager) Register(a Adapter, build Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[a.Name()] = &entry{adapter: a, build: build, state: StateDisabled}
}

// Enable starts supervising an adapter. No-op if already enabled.
func (m *Manager) Enable(ctx context.Context, name string) bool {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if e.cancel != nil {
		m.mu.Unlock()
		return true
	}
	superviseCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.outbound = m.bus.SubscribeOutbound(name)
	e.stopped = make(chan struct{})
	adapter, outbound, stopped := e.current(), e.outbound, e.stopped
	m.mu.Unlock()

	m.wg.Add(1)
	go m.supervise(superviseCtx, e, adapter, outbound, stopped)
	return true
}

// Disable stops supervising an adapter, disconnects it, and detaches its
// bus subscription so queued outbound traffic cannot back up behind it.
func (m *Manager) Disable(name string) bool {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return false
	}
	cancel := e.cancel
	outbound := e.outbound
	e.cancel = nil
	e.outbound = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.bus.UnsubscribeOutbound(outbound)
	}
	return true
}

// Reconfigure rebuilds an adapter from a raw JSON configuration. A running
// adapter is stopped on the old configuration and restarted on the new one.
func (m *Manager) Reconfigure(ctx context.Context, name string, raw json.RawMessage) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	var stopped chan struct{}
	var running bool
	if ok {
		stopped = e.stopped
		running = e.cancel != nil
	}
	m.mu.Unlock()
	if !ok {
		return &Error{Op: OpConnect, Channel: name, Err: ErrUnknownChannel}
	}
	if e.build == nil {
		return &Error{Op: OpConnect, Channel: name, Err: errNoFactory}
	}

	adapter, err := e.build(raw)
	if err != nil {
		return &Error{Op: OpConnect, Channel: name, Err: err}
	}

	if running {
		m.Disable(name)
		<-stopped
	}

	e.mu.Lock()
	e.adapter = adapter
	e.mu.Unlock()

	if running {
		if !m.Enable(ctx, name) {
			return &Error{Op: OpConnect, Channel: name, Err: fmt.Errorf("restart failed")}
		}
	}
	return nil
}

// Test runs an adapter's connection test against its current configuration.
func (m *Manager) Test(ctx context.Context, name string) error {
	return m.TestWith(ctx, name, nil)
}

// TestWith runs a connection test. A non-empty raw configuration tests a
// candidate adapter built from it without touching the registered one.
func (m *Manager) TestWith(ctx context.Context, name string, raw json.RawMessage) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return &Error{Op: OpConnect, Channel: name, Err: ErrUnknownChannel}
	}
	if len(raw) > 0 {
		if e.build == nil {
			return &Error{Op: OpConnect, Channel: name, Err: errNoFactory}
		}
		candidate, err := e.build(raw)
		if err != nil {
			return &Error{Op: OpConnect, Channel: name, Err: err}
		}
		return candidate.TestConnection(ctx)
	}
	return e.current().TestConnection(ctx)
}

// Statuses returns every adapter's supervisor snapshot.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.status())
	}
	return out
}

// Wait blocks until all supervisor goroutines exit.
func (m *Manager) Wait() {
	m.wg.Wait()
}

var (
	ErrUnknownChannel = errors.New("unknown channel")

	errNoFactory = errors.New("channel does not support reconfiguration")
)

// deliverable reports whether an envelope is surfaced on the chat platform.
// Streaming deltas and tool progress feed only the control event stream;
// the user sees one message per exchange plus operator-visible notices.
func deliverable(env envelope.Envelope) bool {
	if env.Partial {
		return false
	}
	switch env.Role {
	case envelope.RoleAgent, envelope.RoleSystem:
		return env.Content != ""
	}
	return false
}

// supervise runs the adapter lifecycle until its context is cancelled.
func (m *Manager) supervise(ctx context.Context, e *entry, adapter Adapter, outbound <-chan envelope.Envelope, stopped chan struct{}) {
	defer m.wg.Done()
	defer close(stopped)
	name := adapter.Name()
	log := m.log.WithChannel(name)

	defer func() {
		e.setState(StateDisabled, nil)
		if err := adapter.Disconnect(); err != nil {
			log.Warn("disconnect failed", "error", err)
		}
		log.Info("adapter disabled")
	}()

	for {
		// Connect with capped jittered exponential backoff.
		if !m.connectWithBackoff(ctx, e, adapter, log) {
			return
		}

		sendFailures := 0
	deliver:
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-outbound:
				if !ok {
					return
				}
				if !deliverable(env) {
					continue
				}
				if err := adapter.Send(ctx, env); err != nil {
					sendFailures++
					cerr := &Error{Op: OpSend, Channel: name, Err: err}
					log.Warn("send failed", "error", err, "consecutive", sendFailures)
					m.reportSendFailure(env, cerr)
					if sendFailures >= degradedSendLimit {
						// Recycle the connection.
						e.setState(StateDegraded, cerr)
						if derr := adapter.Disconnect(); derr != nil {
							log.Warn("disconnect failed", "error", derr)
						}
						break deliver
					}
					continue
				}
				sendFailures = 0
			}
		}
	}
}

// connectWithBackoff keeps trying until connected or cancelled. Returns
// false when the context ended.
func (m *Manager) connectWithBackoff(ctx context.Context, e *entry, adapter Adapter, log *logger.Logger) bool {
	backoff := backoffBase
	for {
		if ctx.Err() != nil {
			return false
		}
		e.setState(StateConnecting, nil)
		err := adapter.Connect(ctx)
		if err == nil {
			e.mu.Lock()
			e.state = StateConnected
			e.retries = 0
			e.lastError = ""
			e.mu.Unlock()
			log.Info("adapter connected")
			return true
		}

		cerr := &Error{Op: OpConnect, Channel: adapter.Name(), Err: err}
		e.mu.Lock()
		e.state = StateDegraded
		e.retries++
		e.lastError = cerr.Error()
		retries := e.retries
		e.mu.Unlock()

		sleep := jitter(backoff)
		log.Warn("connect failed, retrying", "error", err, "attempt", retries, "backoff", sleep)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(sleep):
		}
		if backoff < backoffCap {
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
		}
	}
}

// reportSendFailure publishes a system envelope describing the failure.
// Addressed to the internal channel so it reaches the control stream
// without looping back into the failing adapter.
func (m *Manager) reportSendFailure(env envelope.Envelope, cerr *Error) {
	notice := envelope.NewSystem(envelope.ChannelInternal, env.ConversationID, cerr.Error())
	if err := m.bus.PublishOutbound(notice); err != nil {
		m.log.Warn("could not report send failure", "error", err)
	}
}

// jitter spreads a backoff duration by +-20%.
func jitter(d time.Duration) time.Duration {
	delta := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	return d + delta
}
