// Package telegram implements the Telegram channel for relaybot using the
// Telegram Bot API directly via HTTP.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Text messages with reply context (including whether the replied-to
//     message came from this bot)
//   - Reaction updates (message_reaction, Bot API 7.0+)
//   - Group and DM support with chat allowlists
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
)

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// APIURL overrides the Bot API host. Defaults to https://api.telegram.org.
	APIURL string `yaml:"api_url"`

	// AllowedChats restricts which chat IDs the bot listens to.
	// Empty means all chats.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// RespondToGroups enables handling group chats.
	RespondToGroups bool `yaml:"respond_to_groups"`

	// RespondToDMs enables handling direct messages.
	RespondToDMs bool `yaml:"respond_to_dms"`

	// ParseMode sets the parse mode for outgoing messages ("", "HTML" or
	// "MarkdownV2"). Empty sends plain text, which is safe for model output.
	ParseMode string `yaml:"parse_mode"`

	// ReactionNotifications controls which reactions are forwarded:
	// "off": ignore reactions
	// "own": only reactions to messages sent by the bot
	// "all" (default): all reactions in allowed chats
	ReactionNotifications string `yaml:"reaction_notifications"`

	// PollTimeout is the getUpdates long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:                "https://api.telegram.org",
		RespondToGroups:       true,
		RespondToDMs:          true,
		ReactionNotifications: "all",
		PollTimeout:           30,
	}
}

// Telegram implements channels.Channel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is the Bot API base URL (<api_url>/bot<token>).
	baseURL string

	// messages is the channel for incoming events forwarded to the relay.
	messages chan *channels.IncomingMessage

	connected atomic.Bool

	// lastMsg tracks the last event timestamp for health.
	lastMsg atomic.Value // time.Time

	// errorCount tracks consecutive polling errors.
	errorCount atomic.Int64

	// offset is the last processed update ID + 1.
	offset int64

	// botID is the bot's own user ID, learned from getMe.
	botID atomic.Int64

	// sentMessageIDs tracks chatID:messageID of messages sent by the bot,
	// used for the "own" reaction scope.
	sentMessageIDs map[string]bool
	sentMu         sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new Telegram channel instance.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.APIURL == "" {
		cfg.APIURL = defaults.APIURL
	}
	if cfg.ReactionNotifications == "" {
		cfg.ReactionNotifications = defaults.ReactionNotifications
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaults.PollTimeout
	}
	return &Telegram{
		cfg:    cfg,
		logger: logger.With("component", "telegram"),
		// Client timeout must exceed the long-poll timeout.
		client:         &http.Client{Timeout: time.Duration(cfg.PollTimeout+30) * time.Second},
		baseURL:        strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
		messages:       make(chan *channels.IncomingMessage, 256),
		sentMessageIDs: make(map[string]bool),
		ctx:            context.Background(),
	}
}

// ---------- Channel Interface ----------

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}

	// Prevent double-connect goroutine leak.
	if t.connected.Load() {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe(t.ctx)
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.botID.Store(me.ID)
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)
	t.connected.Store(true)

	t.done = make(chan struct{})
	go t.pollLoop()

	return nil
}

// Disconnect stops the polling loop and closes the event stream.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.connected.Swap(false) && t.done != nil {
		<-t.done
		close(t.messages)
	}
	t.logger.Info("telegram: disconnected")
	return nil
}

// Send sends a text message to the specified chat.
func (t *Telegram) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	payload := map[string]any{
		"chat_id": chatID,
		"text":    message.Content,
	}
	if t.cfg.ParseMode != "" {
		payload["parse_mode"] = t.cfg.ParseMode
	}
	if message.ReplyTo != "" {
		if msgID, e := strconv.ParseInt(message.ReplyTo, 10, 64); e == nil {
			payload["reply_parameters"] = map[string]any{
				"message_id":                  msgID,
				"allow_sending_without_reply": true,
			}
		}
	}

	result, err := t.apiCall(ctx, "sendMessage", payload)
	if err != nil {
		return err
	}

	if t.reactionMode() == "own" && result != nil {
		t.recordSentMessage(chatID, result)
	}
	return nil
}

// Receive returns the incoming events channel.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// IsConnected returns true if the bot is connected.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
		Details:       map[string]any{"offset": t.offset},
	}
}

// ---------- Internal Methods ----------

func (t *Telegram) reactionMode() string {
	mode := strings.ToLower(strings.TrimSpace(t.cfg.ReactionNotifications))
	if mode == "" {
		return "all"
	}
	return mode
}

// chatAllowed applies the AllowedChats filter.
func (t *Telegram) chatAllowed(chatID int64) bool {
	if len(t.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range t.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// processMessageReaction converts a message_reaction update into an event.
func (t *Telegram) processMessageReaction(r *tgMessageReaction) {
	mode := t.reactionMode()
	if mode == "off" {
		return
	}
	if mode == "own" && !t.isBotMessage(r.Chat.ID, r.MessageID) {
		return
	}
	if !t.chatAllowed(r.Chat.ID) {
		return
	}

	fromID := ""
	fromName := ""
	if r.User != nil {
		fromID = strconv.FormatInt(r.User.ID, 10)
		fromName = displayName(r.User)
	}
	if r.ActorChat != nil {
		// Anonymous reaction on behalf of a chat.
		fromID = strconv.FormatInt(r.ActorChat.ID, 10)
		fromName = r.ActorChat.Title
	}

	entries := make([]channels.ReactionEntry, 0, len(r.NewReaction))
	for _, nr := range r.NewReaction {
		entries = append(entries, channels.ReactionEntry{
			Type:          nr.Type,
			Emoji:         nr.Emoji,
			CustomEmojiID: nr.CustomEmojiID,
		})
	}

	chatIDStr := strconv.FormatInt(r.Chat.ID, 10)
	incoming := &channels.IncomingMessage{
		ID:        fmt.Sprintf("reaction-%d-%d-%d", r.Chat.ID, r.MessageID, r.Date),
		Channel:   "telegram",
		From:      fromID,
		FromName:  fromName,
		ChatID:    chatIDStr,
		IsGroup:   r.Chat.Type == "group" || r.Chat.Type == "supergroup",
		Type:      channels.MessageReaction,
		Timestamp: time.Unix(int64(r.Date), 0).UTC(),
		ReplyTo:   strconv.Itoa(r.MessageID),
		Reaction: &channels.ReactionInfo{
			MessageID: strconv.Itoa(r.MessageID),
			From:      fromID,
			New:       entries,
		},
	}

	t.emit(incoming)
}

// recordSentMessage parses the sendMessage result and stores the message ID.
func (t *Telegram) recordSentMessage(chatID int64, result json.RawMessage) {
	var msg struct {
		MessageID int `json:"message_id"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return
	}
	key := fmt.Sprintf("%d:%d", chatID, msg.MessageID)
	t.sentMu.Lock()
	if len(t.sentMessageIDs) >= 5000 {
		// Simple eviction: clear half when full.
		for k := range t.sentMessageIDs {
			delete(t.sentMessageIDs, k)
			if len(t.sentMessageIDs) < 2500 {
				break
			}
		}
	}
	t.sentMessageIDs[key] = true
	t.sentMu.Unlock()
}

// isBotMessage returns true if the given chatID:messageID was sent by the bot.
func (t *Telegram) isBotMessage(chatID int64, messageID int) bool {
	key := fmt.Sprintf("%d:%d", chatID, messageID)
	t.sentMu.RLock()
	ok := t.sentMessageIDs[key]
	t.sentMu.RUnlock()
	return ok
}

// pollLoop runs the getUpdates long-polling loop.
func (t *Telegram) pollLoop() {
	defer close(t.done)
	t.logger.Info("telegram: polling started")
	backoff := time.Second

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("telegram: polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(t.ctx, t.offset, 100, t.cfg.PollTimeout)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.errorCount.Add(1)
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.processUpdate(u)
		}
	}
}

// processUpdate converts a Telegram update into an IncomingMessage.
func (t *Telegram) processUpdate(u tgUpdate) {
	if u.MessageReaction != nil {
		t.processMessageReaction(u.MessageReaction)
		return
	}

	msg := u.Message
	if msg == nil {
		return
	}
	// Only text messages are relayed.
	if msg.Text == "" {
		return
	}

	isGroup := msg.Chat.Type == "group" || msg.Chat.Type == "supergroup"

	if !t.chatAllowed(msg.Chat.ID) {
		return
	}
	if isGroup && !t.cfg.RespondToGroups {
		return
	}
	if !isGroup && !t.cfg.RespondToDMs {
		return
	}

	from := ""
	fromName := ""
	if msg.From != nil {
		from = strconv.FormatInt(msg.From.ID, 10)
		fromName = displayName(msg.From)
	}

	incoming := &channels.IncomingMessage{
		ID:        strconv.FormatInt(int64(msg.MessageID), 10),
		Channel:   "telegram",
		From:      from,
		FromName:  fromName,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		IsGroup:   isGroup,
		Type:      channels.MessageText,
		Content:   msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
	}

	if reply := msg.ReplyToMessage; reply != nil {
		incoming.ReplyTo = strconv.FormatInt(int64(reply.MessageID), 10)
		incoming.QuotedContent = reply.Text
		incoming.ReplyToIsBot = t.isSelf(reply.From)
	}

	t.emit(incoming)
}

// isSelf reports whether u is this bot. Before getMe has run any bot author
// counts.
func (t *Telegram) isSelf(u *tgUser) bool {
	if u == nil || !u.IsBot {
		return false
	}
	id := t.botID.Load()
	return id == 0 || u.ID == id
}

func (t *Telegram) emit(incoming *channels.IncomingMessage) {
	t.lastMsg.Store(time.Now())
	select {
	case t.messages <- incoming:
	default:
		t.logger.Warn("telegram: event buffer full, dropping", "msg_id", incoming.ID, "type", incoming.Type)
	}
}

func displayName(u *tgUser) string {
	if n := strings.TrimSpace(u.FirstName + " " + u.LastName); n != "" {
		return n
	}
	if u.Username != "" {
		return u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID        int64              `json:"update_id"`
	Message         *tgMessage         `json:"message"`
	MessageReaction *tgMessageReaction `json:"message_reaction"`
}

// tgMessageReaction is the MessageReactionUpdated object from the Bot API.
type tgMessageReaction struct {
	Chat        tgChat       `json:"chat"`
	MessageID   int          `json:"message_id"`
	User        *tgUser      `json:"user"`
	ActorChat   *tgChat      `json:"actor_chat"`
	Date        int          `json:"date"`
	OldReaction []tgReaction `json:"old_reaction"`
	NewReaction []tgReaction `json:"new_reaction"`
}

// tgReaction represents a ReactionType (emoji or custom_emoji).
type tgReaction struct {
	Type          string `json:"type"`            // "emoji", "custom_emoji" or "paid"
	Emoji         string `json:"emoji"`           // for type "emoji"
	CustomEmojiID string `json:"custom_emoji_id"` // for type "custom_emoji"
}

type tgMessage struct {
	MessageID      int        `json:"message_id"`
	From           *tgUser    `json:"from"`
	Chat           tgChat     `json:"chat"`
	Date           int        `json:"date"`
	Text           string     `json:"text"`
	ReplyToMessage *tgMessage `json:"reply_to_message"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

// ---------- API Helpers ----------

// apiCall makes a POST request to the Telegram Bot API.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	url := t.baseURL + "/" + method
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

// getMe verifies the bot token and returns bot info.
func (t *Telegram) getMe(ctx context.Context) (*tgUser, error) {
	data, err := t.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

// getUpdates fetches new updates using long polling.
func (t *Telegram) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	payload := map[string]any{
		"offset":  offset,
		"limit":   limit,
		"timeout": timeoutSecs,
		"allowed_updates": []string{
			"message", "message_reaction",
		},
	}
	data, err := t.apiCall(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// Compile-time interface verification.
var _ channels.Channel = (*Telegram)(nil)
