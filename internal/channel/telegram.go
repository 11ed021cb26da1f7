package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/logger"
)

// TelegramConfig holds Telegram adapter configuration.
type TelegramConfig struct {
	Token string `json:"token" yaml:"token"`
	// AllowedChats restricts which chat ids the bot responds to.
	// Empty means respond to all chats.
	AllowedChats    []int64 `json:"allowed_chats,omitempty" yaml:"allowed_chats,omitempty"`
	RespondToGroups bool    `json:"respond_to_groups" yaml:"respond_to_groups"`
}

// TelegramAdapter talks to the Telegram Bot API over HTTP long polling.
type TelegramAdapter struct {
	cfg     TelegramConfig
	inbound InboundFunc
	log     *logger.Logger
	client  *http.Client
	baseURL string

	connected atomic.Bool
	offset    atomic.Int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	pollDone chan struct{}
}

const telegramMaxMessageLen = 4096

// NewTelegramAdapter creates a Telegram adapter.
func NewTelegramAdapter(cfg TelegramConfig, inbound InboundFunc, log *logger.Logger) *TelegramAdapter {
	return &TelegramAdapter{
		cfg:     cfg,
		inbound: inbound,
		log:     log.WithComponent("telegram"),
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: "https://api.telegram.org/bot" + cfg.Token,
	}
}

func (t *TelegramAdapter) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop. A previous
// polling loop is joined first so two loops never run at once.
func (t *TelegramAdapter) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if t.connected.Load() {
		return nil
	}

	t.mu.Lock()
	done := t.pollDone
	t.mu.Unlock()
	if done != nil {
		<-done
	}

	pollCtx, cancel := context.WithCancel(ctx)
	me, err := t.getMe(pollCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("verify token: %w", err)
	}
	t.log.Info("connected", "bot", me.Username, "id", me.ID)

	done = make(chan struct{})
	t.mu.Lock()
	t.cancel = cancel
	t.pollDone = done
	t.mu.Unlock()
	t.connected.Store(true)

	go t.pollLoop(pollCtx, done)
	return nil
}

// Disconnect stops the polling loop.
func (t *TelegramAdapter) Disconnect() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.connected.Store(false)
	return nil
}

// TestConnection calls getMe without changing adapter state.
func (t *TelegramAdapter) TestConnection(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	_, err := t.getMe(ctx)
	return err
}

// Send delivers a message, splitting on the Telegram length limit.
func (t *TelegramAdapter) Send(ctx context.Context, env envelope.Envelope) error {
	chatID, err := chatIDFromConversation(env.ConversationID)
	if err != nil {
		return err
	}

	for i, chunk := range splitMessage(env.Content, telegramMaxMessageLen) {
		payload := map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		}
		if i == 0 && env.ReplyToID != "" {
			if msgID, e := strconv.ParseInt(env.ReplyToID, 10, 64); e == nil {
				payload["reply_parameters"] = map[string]any{"message_id": msgID}
			}
		}
		if _, err := t.apiCall(ctx, "sendMessage", payload); err != nil {
			return err
		}
	}
	return nil
}

// SendTyping shows the typing indicator while an exchange runs.
func (t *TelegramAdapter) SendTyping(ctx context.Context, conversationID string) error {
	chatID, err := chatIDFromConversation(conversationID)
	if err != nil {
		return nil
	}
	_, err = t.apiCall(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
	return err
}

// chatIDFromConversation strips the "telegram:" prefix.
func chatIDFromConversation(conversationID string) (int64, error) {
	raw := conversationID
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		raw = raw[idx+1:]
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", raw, err)
	}
	return chatID, nil
}

func (t *TelegramAdapter) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t.log.Info("polling started")
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			t.log.Info("polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(ctx, t.offset.Load(), 100, 30)
		if err != nil {
			if ctx.Err() != nil {
				t.log.Info("polling stopped")
				return
			}
			t.log.Warn("getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= t.offset.Load() {
				t.offset.Store(u.UpdateID + 1)
			}
			t.processUpdate(u)
		}
	}
}

// processUpdate converts a Telegram update into an inbound envelope.
func (t *TelegramAdapter) processUpdate(u tgUpdate) {
	msg := u.Message
	if msg == nil {
		// Treat edits as new messages.
		msg = u.EditedMessage
	}
	if msg == nil {
		return
	}

	isGroup := msg.Chat.Type == "group" || msg.Chat.Type == "supergroup"
	if isGroup && !t.cfg.RespondToGroups {
		return
	}
	if len(t.cfg.AllowedChats) > 0 {
		allowed := false
		for _, id := range t.cfg.AllowedChats {
			if id == msg.Chat.ID {
				allowed = true
				break
			}
		}
		if !allowed {
			return
		}
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return
	}

	chatIDStr := strconv.FormatInt(msg.Chat.ID, 10)
	env := envelope.NewUser("telegram", envelope.ConversationKey("telegram", chatIDStr), text)
	env.ReplyToID = strconv.Itoa(msg.MessageID)
	env.Timestamp = time.Unix(int64(msg.Date), 0)
	if msg.From != nil {
		env.SenderID = strconv.FormatInt(msg.From.ID, 10)
		env.SenderName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if env.SenderName == "" {
			env.SenderName = msg.From.Username
		}
	}

	if err := t.inbound(env); err != nil {
		t.log.Warn("could not publish inbound message", "error", err)
	}
}

// Telegram Bot API types

type tgUpdate struct {
	UpdateID      int64      `json:"update_id"`
	Message       *tgMessage `json:"message"`
	EditedMessage *tgMessage `json:"edited_message"`
}

type tgMessage struct {
	MessageID int     `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Date      int     `json:"date"`
	Text      string  `json:"text"`
	Caption   string  `json:"caption"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type tgBotUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// apiCall makes a POST request to the Bot API.
func (t *TelegramAdapter) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("%s: %s", method, result.Description)
	}
	return result.Result, nil
}

func (t *TelegramAdapter) getMe(ctx context.Context) (*tgBotUser, error) {
	data, err := t.apiCall(ctx, "getMe", map[string]any{})
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parse getMe: %w", err)
	}
	return &user, nil
}

// getUpdates fetches new updates using long polling.
func (t *TelegramAdapter) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	payload := map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message", "edited_message"},
	}
	data, err := t.apiCall(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("parse updates: %w", err)
	}
	return updates, nil
}

var (
	_ Adapter = (*TelegramAdapter)(nil)
	_ Typer   = (*TelegramAdapter)(nil)
)
