package scheduler

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/okabe-dev/porter/internal/bus"
	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/logger"
)

const defaultHeartbeatInterval = 30 * time.Minute

// Heartbeat periodically wakes the agent with the contents of a checklist
// file. When the file is missing or empty no envelope is sent.
type Heartbeat struct {
	bus            *bus.MessageBus
	log            *logger.Logger
	path           string // HEARTBEAT.md
	conversationID string
	interval       time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeat creates a heartbeat for the given checklist file. Replies go
// to conversationID; interval <= 0 uses the default.
func NewHeartbeat(b *bus.MessageBus, log *logger.Logger, path, conversationID string, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &Heartbeat{
		bus:            b,
		log:            log.WithComponent("heartbeat"),
		path:           path,
		conversationID: conversationID,
		interval:       interval,
	}
}

// Start launches the heartbeat loop.
func (h *Heartbeat) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.beat()
			}
		}
	}()
	h.log.Info("heartbeat started", "interval", h.interval, "file", h.path)
}

// Stop halts the loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (h *Heartbeat) beat() {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if !os.IsNotExist(err) {
			h.log.Warn("could not read heartbeat file", "error", err)
		}
		return
	}
	checklist := strings.TrimSpace(string(data))
	if checklist == "" {
		return
	}

	prompt := "Heartbeat check. Work through this checklist and report anything that needs attention:\n\n" + checklist
	env := envelope.NewUser(channelOf(h.conversationID), h.conversationID, prompt)
	env.Metadata = map[string]string{"heartbeat": "true"}

	if err := h.bus.PublishInbound(env); err != nil {
		h.log.Warn("could not publish heartbeat", "error", err)
	}
}
