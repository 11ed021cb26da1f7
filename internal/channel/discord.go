package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/logger"
)

// DiscordConfig holds Discord adapter configuration.
type DiscordConfig struct {
	Token             string   `json:"token" yaml:"token"`
	AllowedGuildIDs   []string `json:"allowed_guild_ids,omitempty" yaml:"allowed_guild_ids,omitempty"`
	AllowedChannelIDs []string `json:"allowed_channel_ids,omitempty" yaml:"allowed_channel_ids,omitempty"`
	AllowedUserIDs    []string `json:"allowed_user_ids,omitempty" yaml:"allowed_user_ids,omitempty"`
	// MentionOnly limits guild-channel replies to messages mentioning the bot.
	MentionOnly bool `json:"mention_only" yaml:"mention_only"`
}

const discordMaxMessageLen = 2000

// DiscordAdapter connects to the Discord gateway via discordgo.
type DiscordAdapter struct {
	cfg     DiscordConfig
	inbound InboundFunc
	log     *logger.Logger

	session     *discordgo.Session
	botUserID   string
	allowGuilds map[string]bool
	allowChans  map[string]bool
	allowUsers  map[string]bool
}

// NewDiscordAdapter creates a Discord adapter.
func NewDiscordAdapter(cfg DiscordConfig, inbound InboundFunc, log *logger.Logger) (*DiscordAdapter, error) {
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	a := &DiscordAdapter{
		cfg:         cfg,
		inbound:     inbound,
		log:         log.WithComponent("discord"),
		session:     dg,
		allowGuilds: toSet(cfg.AllowedGuildIDs),
		allowChans:  toSet(cfg.AllowedChannelIDs),
		allowUsers:  toSet(cfg.AllowedUserIDs),
	}
	dg.AddHandler(a.handleReady)
	dg.AddHandler(a.handleMessage)
	return a, nil
}

func (a *DiscordAdapter) Name() string { return "discord" }

// Connect opens the gateway connection. Receiving happens on discordgo's
// own goroutines.
func (a *DiscordAdapter) Connect(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	return nil
}

// Disconnect closes the gateway connection.
func (a *DiscordAdapter) Disconnect() error {
	return a.session.Close()
}

// TestConnection verifies the token against the REST API.
func (a *DiscordAdapter) TestConnection(ctx context.Context) error {
	_, err := a.session.User("@me", discordgo.WithContext(ctx))
	return err
}

// Send delivers a message, splitting on the Discord length limit. The
// first chunk replies to the original message when ReplyToID is set.
func (a *DiscordAdapter) Send(ctx context.Context, env envelope.Envelope) error {
	channelID := discordChannelFromConversation(env.ConversationID)
	for i, chunk := range splitMessage(env.Content, discordMaxMessageLen) {
		var err error
		if i == 0 && env.ReplyToID != "" {
			ref := &discordgo.MessageReference{MessageID: env.ReplyToID, ChannelID: channelID}
			_, err = a.session.ChannelMessageSendReply(channelID, chunk, ref, discordgo.WithContext(ctx))
		} else {
			_, err = a.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		}
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// SendTyping shows a typing indicator.
func (a *DiscordAdapter) SendTyping(ctx context.Context, conversationID string) error {
	return a.session.ChannelTyping(discordChannelFromConversation(conversationID), discordgo.WithContext(ctx))
}

func (a *DiscordAdapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.botUserID = r.User.ID
	a.log.Info("bot connected", "user", r.User.Username)
}

func (a *DiscordAdapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}
	if len(a.allowUsers) > 0 && !a.allowUsers[m.Author.ID] {
		return
	}
	if m.GuildID != "" && len(a.allowGuilds) > 0 && !a.allowGuilds[m.GuildID] {
		return
	}
	if len(a.allowChans) > 0 && !a.allowChans[m.ChannelID] {
		return
	}
	if m.GuildID != "" && a.cfg.MentionOnly && !isBotMentioned(m.Mentions, a.botUserID) {
		return
	}

	text := m.Content
	if a.botUserID != "" {
		text = strings.ReplaceAll(text, "<@"+a.botUserID+">", "")
		text = strings.ReplaceAll(text, "<@!"+a.botUserID+">", "")
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return
	}

	env := envelope.NewUser("discord", envelope.ConversationKey("discord", m.ChannelID), text)
	env.ReplyToID = m.ID
	env.SenderID = m.Author.ID
	env.SenderName = m.Author.Username
	env.Timestamp = m.Timestamp

	if err := a.inbound(env); err != nil {
		a.log.Warn("could not publish inbound message", "error", err)
	}
}

// discordChannelFromConversation strips the "discord:" prefix.
func discordChannelFromConversation(conversationID string) string {
	if idx := strings.IndexByte(conversationID, ':'); idx >= 0 {
		return conversationID[idx+1:]
	}
	return conversationID
}

func isBotMentioned(mentions []*discordgo.User, botID string) bool {
	for _, u := range mentions {
		if u.ID == botID {
			return true
		}
	}
	return false
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

var (
	_ Adapter = (*DiscordAdapter)(nil)
	_ Typer   = (*DiscordAdapter)(nil)
)
