// Package discord implements the Discord channel for relaybot using discordgo.
//
// Features:
//   - Text messages with reply context
//   - Reaction add/remove events
//   - Guild and channel allowlists
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
)

// maxMessageLength is Discord's per-message character limit.
const maxMessageLength = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot listens in.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot listens in.
	// Empty means all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// Reactions enables forwarding reaction add/remove events.
	Reactions bool `yaml:"reactions"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Reactions: true}
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}
	if d.connected.Load() {
		return nil
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessageReactions

	session.AddHandler(d.onMessageCreate)
	if d.cfg.Reactions {
		session.AddHandler(d.onReactionAdd)
		session.AddHandler(d.onReactionRemove)
	}

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)

	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		if err := d.session.Close(); err != nil {
			d.logger.Warn("discord: close failed", "error", err)
		}
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a text message to the specified channel, splitting content
// that exceeds Discord's limit.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	for i, chunk := range splitDiscordMessage(message.Content, maxMessageLength) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo, ChannelID: to}
		}
		if _, err := d.session.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: send: %w", err)
		}
	}
	return nil
}

// Receive returns the incoming events channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	status := channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
	if d.session != nil {
		status.Details = map[string]any{"latency_ms": d.session.HeartbeatLatency().Milliseconds()}
	}
	return status
}

// ---------- Event Handlers ----------

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	// Ignore bot messages, including our own.
	if m.Author.Bot || m.Author.ID == selfID(s) {
		return
	}
	if m.Content == "" {
		return
	}
	if !d.allowed(m.GuildID, m.ChannelID) {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	if ref := m.ReferencedMessage; ref != nil {
		incoming.ReplyTo = ref.ID
		incoming.QuotedContent = ref.Content
		incoming.ReplyToIsBot = ref.Author != nil && ref.Author.Bot && ref.Author.ID == selfID(s)
	}

	d.emit(incoming)
}

// onReactionAdd forwards a single added reaction.
func (d *Discord) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || r.UserID == selfID(s) {
		return
	}
	d.emitReaction(r.MessageReaction, []channels.ReactionEntry{reactionEntry(r.Emoji)})
}

// onReactionRemove forwards a removal as a reaction change with no new entries.
func (d *Discord) onReactionRemove(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
	if r.MessageReaction == nil || r.UserID == selfID(s) {
		return
	}
	d.emitReaction(r.MessageReaction, nil)
}

func (d *Discord) emitReaction(r *discordgo.MessageReaction, entries []channels.ReactionEntry) {
	if !d.allowed(r.GuildID, r.ChannelID) {
		return
	}
	now := time.Now().UTC()
	d.emit(&channels.IncomingMessage{
		ID:        fmt.Sprintf("reaction-%s-%s-%d", r.ChannelID, r.MessageID, now.UnixNano()),
		Channel:   "discord",
		From:      r.UserID,
		ChatID:    r.ChannelID,
		IsGroup:   r.GuildID != "",
		Type:      channels.MessageReaction,
		Timestamp: now,
		ReplyTo:   r.MessageID,
		Reaction: &channels.ReactionInfo{
			MessageID: r.MessageID,
			From:      r.UserID,
			New:       entries,
		},
	})
}

func (d *Discord) emit(incoming *channels.IncomingMessage) {
	d.lastMsg.Store(time.Now())
	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: event buffer full, dropping", "msg_id", incoming.ID, "type", incoming.Type)
	}
}

// allowed applies the guild and channel allowlists.
func (d *Discord) allowed(guildID, channelID string) bool {
	if len(d.cfg.AllowedGuilds) > 0 && guildID != "" && !contains(d.cfg.AllowedGuilds, guildID) {
		return false
	}
	if len(d.cfg.AllowedChannels) > 0 && !contains(d.cfg.AllowedChannels, channelID) {
		return false
	}
	return true
}

// ---------- Helpers ----------

func selfID(s *discordgo.Session) string {
	if s == nil || s.State == nil || s.State.User == nil {
		return ""
	}
	return s.State.User.ID
}

func reactionEntry(e discordgo.Emoji) channels.ReactionEntry {
	if e.ID != "" {
		return channels.ReactionEntry{Type: "custom_emoji", Emoji: e.Name, CustomEmojiID: e.ID}
	}
	return channels.ReactionEntry{Type: "emoji", Emoji: e.Name}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// splitDiscordMessage splits a message into chunks respecting the character
// limit, preferring to cut after a newline in the second half of a chunk.
func splitDiscordMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(string(runes[:maxLen]), "\n"); idx >= 0 {
			if n := len([]rune(string(runes[:maxLen])[:idx])); n > maxLen/2 {
				cutAt = n + 1
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var _ channels.Channel = (*Discord)(nil)
