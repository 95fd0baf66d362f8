// Package console implements a local terminal channel backed by readline.
// It lets `relaybot chat` drive the full relay pipeline without a chat
// platform: every line typed becomes a text message, bot replies are printed,
// and ":react <emoji>" reacts to the last bot reply.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
)

// ChatID is the single conversation the console exposes.
const ChatID = "local"

// Config holds console channel configuration.
type Config struct {
	// Prompt is shown before each input line.
	Prompt string

	// HistoryFile persists input history between sessions. Empty disables it.
	HistoryFile string

	// User is the sender identity attached to typed messages.
	User string
}

// lineReader is the subset of *readline.Instance the console uses.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

// Console implements channels.Channel over a terminal.
type Console struct {
	cfg    Config
	logger *slog.Logger

	reader lineReader
	out    io.Writer
	outMu  sync.Mutex

	messages chan *channels.IncomingMessage

	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	seq       atomic.Int64

	// lastBotMsg is the ID of the most recent message the bot printed.
	lastBotMsg atomic.Value // string

	done chan struct{}
}

// New creates a console channel.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "you> "
	}
	if cfg.User == "" {
		cfg.User = "local-user"
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		out:      os.Stdout,
		messages: make(chan *channels.IncomingMessage, 16),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect opens the readline instance and starts reading input.
func (c *Console) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	if c.reader == nil {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          c.cfg.Prompt,
			HistoryFile:     c.cfg.HistoryFile,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return fmt.Errorf("console: init readline: %w", err)
		}
		c.reader = rl
		c.out = rl.Stdout()
	}

	c.connected.Store(true)
	c.done = make(chan struct{})
	go c.readLoop(ctx)
	return nil
}

// Disconnect closes the terminal reader.
func (c *Console) Disconnect() error {
	if !c.connected.Swap(false) {
		return nil
	}
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

// Done is closed when the user ends the session (EOF, Ctrl+C or ":quit").
func (c *Console) Done() <-chan struct{} {
	return c.done
}

// Send prints a bot message.
func (c *Console) Send(_ context.Context, to string, message *channels.OutgoingMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	id := "bot-" + strconv.FormatInt(c.seq.Add(1), 10)
	c.lastBotMsg.Store(id)

	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintf(c.out, "bot> %s\n", message.Content)
	return err
}

// Receive returns the incoming events channel.
func (c *Console) Receive() <-chan *channels.IncomingMessage {
	return c.messages
}

// IsConnected returns true while the terminal is open.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{Connected: c.connected.Load(), LastMessageAt: lastAt}
}

func (c *Console) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.messages)
	for {
		line, err := c.reader.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) && line != "" {
				continue
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == ":quit" || line == ":q" {
			return
		}
		msg := c.parseLine(line)
		if msg == nil {
			continue
		}
		c.lastMsg.Store(time.Now())
		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// parseLine turns one input line into an event. Lines typed after the bot has
// replied count as replies to that message; ":react <emoji>" and ":unreact"
// produce reaction changes on it.
func (c *Console) parseLine(line string) *channels.IncomingMessage {
	id := "in-" + strconv.FormatInt(c.seq.Add(1), 10)
	now := time.Now().UTC()
	lastBot, _ := c.lastBotMsg.Load().(string)

	if strings.HasPrefix(line, ":react") || line == ":unreact" {
		if lastBot == "" {
			c.printf("nothing to react to yet\n")
			return nil
		}
		info := &channels.ReactionInfo{MessageID: lastBot, From: c.cfg.User}
		if emoji := strings.TrimSpace(strings.TrimPrefix(line, ":react")); line != ":unreact" && emoji != "" {
			info.New = []channels.ReactionEntry{{Type: "emoji", Emoji: emoji}}
		}
		return &channels.IncomingMessage{
			ID:        id,
			Channel:   "console",
			From:      c.cfg.User,
			ChatID:    ChatID,
			Type:      channels.MessageReaction,
			Timestamp: now,
			ReplyTo:   lastBot,
			Reaction:  info,
		}
	}

	return &channels.IncomingMessage{
		ID:           id,
		Channel:      "console",
		From:         c.cfg.User,
		FromName:     c.cfg.User,
		ChatID:       ChatID,
		Type:         channels.MessageText,
		Content:      line,
		Timestamp:    now,
		ReplyTo:      lastBot,
		ReplyToIsBot: lastBot != "",
	}
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

var _ channels.Channel = (*Console)(nil)
