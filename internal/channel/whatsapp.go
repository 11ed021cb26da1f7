package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/logger"
)

// WhatsAppConfig holds the bridge connection settings. The adapter speaks
// to a local WhatsApp bridge process over a websocket rather than to
// WhatsApp directly.
type WhatsAppConfig struct {
	BridgeURL string `json:"bridge_url" yaml:"bridge_url"`
}

// bridgeFrame is the wire format shared with the bridge in both directions.
type bridgeFrame struct {
	Type       string `json:"type"` // "message"
	ID         string `json:"id,omitempty"`
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Content    string `json:"content"`
	ReplyTo    string `json:"reply_to,omitempty"`
}

// WhatsAppAdapter relays messages through a websocket bridge.
type WhatsAppAdapter struct {
	cfg     WhatsAppConfig
	inbound InboundFunc
	log     *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewWhatsAppAdapter creates a bridge adapter.
func NewWhatsAppAdapter(cfg WhatsAppConfig, inbound InboundFunc, log *logger.Logger) *WhatsAppAdapter {
	return &WhatsAppAdapter{
		cfg:     cfg,
		inbound: inbound,
		log:     log.WithComponent("whatsapp"),
	}
}

func (w *WhatsAppAdapter) Name() string { return "whatsapp" }

// Connect dials the bridge and starts the read loop.
func (w *WhatsAppAdapter) Connect(ctx context.Context) error {
	if w.cfg.BridgeURL == "" {
		return fmt.Errorf("bridge_url is required")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.conn = conn
	w.cancel = cancel
	w.mu.Unlock()

	go w.readLoop(readCtx, conn)
	w.log.Info("connected to bridge", "url", w.cfg.BridgeURL)
	return nil
}

// Disconnect closes the bridge connection.
func (w *WhatsAppAdapter) Disconnect() error {
	w.mu.Lock()
	conn := w.conn
	cancel := w.cancel
	w.conn = nil
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// TestConnection dials the bridge and closes immediately.
func (w *WhatsAppAdapter) TestConnection(ctx context.Context) error {
	if w.cfg.BridgeURL == "" {
		return fmt.Errorf("bridge_url is required")
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge: %w", err)
	}
	return conn.Close()
}

// Send writes a message frame to the bridge.
func (w *WhatsAppAdapter) Send(ctx context.Context, env envelope.Envelope) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("bridge not connected")
	}

	frame := bridgeFrame{
		Type:    "message",
		ChatID:  whatsappChatFromConversation(env.ConversationID),
		Content: env.Content,
		ReplyTo: env.ReplyToID,
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write to bridge: %w", err)
	}
	return nil
}

func (w *WhatsAppAdapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warn("bridge read error", "error", err)
			}
			return
		}

		var frame bridgeFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			w.log.Warn("invalid bridge frame", "error", err)
			continue
		}
		if frame.Type != "message" || frame.Content == "" {
			continue
		}

		env := envelope.NewUser("whatsapp", envelope.ConversationKey("whatsapp", frame.ChatID), frame.Content)
		env.ReplyToID = frame.ID
		env.SenderID = frame.SenderID
		env.SenderName = frame.SenderName

		if err := w.inbound(env); err != nil {
			w.log.Warn("could not publish inbound message", "error", err)
		}
	}
}

func whatsappChatFromConversation(conversationID string) string {
	if idx := strings.IndexByte(conversationID, ':'); idx >= 0 {
		return conversationID[idx+1:]
	}
	return conversationID
}

var _ Adapter = (*WhatsAppAdapter)(nil)
