// Package config loads relaybot's YAML configuration, expands environment
// references, resolves secrets from the OS keyring or the environment and
// validates the result before anything connects.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels/discord"
	"github.com/jholhewres/relaybot/pkg/relaybot/channels/telegram"
	"github.com/jholhewres/relaybot/pkg/relaybot/llm"
	"github.com/jholhewres/relaybot/pkg/relaybot/relay"
	"github.com/jholhewres/relaybot/pkg/relaybot/scheduler"
)

// Config is the top-level relaybot configuration.
type Config struct {
	// Name is the bot's display name, used in logs and the setup wizard.
	Name string `yaml:"name"`

	// Model is the completion model identifier.
	Model string `yaml:"model"`

	API APIConfig `yaml:"api"`

	// DefaultBranch labels conversations that never selected a branch.
	DefaultBranch string `yaml:"default_branch"`

	Intent    IntentConfig    `yaml:"intent"`
	Reply     ReplyConfig     `yaml:"reply"`
	Reactions ReactionsConfig `yaml:"reactions"`
	State     StateConfig     `yaml:"state"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig configures the completion endpoint.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"max_tokens"`
}

// IntentConfig overrides the intent filter trigger sets. Omitted lists keep
// the defaults.
type IntentConfig struct {
	Prefixes []string `yaml:"prefixes,omitempty"`
	Mentions []string `yaml:"mentions,omitempty"`
}

// ReplyConfig tunes reply delivery.
type ReplyConfig struct {
	// MaxLength is the segment ceiling in characters.
	MaxLength int `yaml:"max_length"`
}

// ReactionsConfig toggles the reaction track.
type ReactionsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StateConfig selects the conversation state backend.
type StateConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the SQLite file for the sqlite backend.
	Path string `yaml:"path"`
}

// ChannelsConfig holds per-transport settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// TelegramConfig enables and configures the Telegram channel.
type TelegramConfig struct {
	Enabled         bool `yaml:"enabled"`
	telegram.Config `yaml:",inline"`
}

// DiscordConfig enables and configures the Discord channel.
type DiscordConfig struct {
	Enabled        bool `yaml:"enabled"`
	discord.Config `yaml:",inline"`
}

// MetricsConfig configures the Prometheus/health HTTP server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// HeartbeatConfig configures the periodic channel health log.
type HeartbeatConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() *Config {
	return &Config{
		Name:  "relaybot",
		Model: llm.DefaultModel,
		API: APIConfig{
			BaseURL:   llm.DefaultBaseURL,
			Timeout:   llm.DefaultTimeout,
			MaxTokens: llm.DefaultMaxTokens,
		},
		DefaultBranch: "main",
		Reply:         ReplyConfig{MaxLength: relay.MaxSegmentLength},
		Reactions:     ReactionsConfig{Enabled: true},
		State:         StateConfig{Backend: "memory", Path: "./data/relaybot.db"},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{Enabled: true, Config: telegram.DefaultConfig()},
			Discord:  DiscordConfig{Enabled: true, Config: discord.DefaultConfig()},
		},
		Metrics:   MetricsConfig{Enabled: false, Address: "127.0.0.1:9090"},
		Heartbeat: HeartbeatConfig{Enabled: true, Schedule: "@every 5m"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Errors returned by Validate.
var (
	ErrMissingAPIKey       = errors.New("missing completion API key (set DS_TOKEN, RELAYBOT_API_KEY or run `relaybot config set-key api`)")
	ErrNoChannelToken      = errors.New("no chat platform credential (set BOT_TOKEN, RELAYBOT_TELEGRAM_TOKEN or RELAYBOT_DISCORD_TOKEN)")
	ErrUnknownStateBackend = errors.New("unknown state backend")
	ErrReplyLength         = fmt.Errorf("reply.max_length must be between 0 and %d", relay.MaxSegmentLength)
)

// ValidateOptions relaxes checks for modes that don't need every credential.
type ValidateOptions struct {
	// Console skips the chat platform credential check.
	Console bool
}

// TelegramActive reports whether the Telegram channel should be started.
func (c *Config) TelegramActive() bool {
	t := c.Channels.Telegram
	return t.Enabled && t.Token != "" && !IsEnvReference(t.Token)
}

// DiscordActive reports whether the Discord channel should be started.
func (c *Config) DiscordActive() bool {
	d := c.Channels.Discord
	return d.Enabled && d.Token != "" && !IsEnvReference(d.Token)
}

// Validate fails fast when required credentials are missing or values are
// out of range.
func (c *Config) Validate(opts ValidateOptions) error {
	var errs []error

	if c.API.APIKey == "" || IsEnvReference(c.API.APIKey) {
		errs = append(errs, ErrMissingAPIKey)
	}

	if !opts.Console {
		if !c.TelegramActive() && !c.DiscordActive() {
			errs = append(errs, ErrNoChannelToken)
		}
	}

	switch c.State.Backend {
	case "memory", "":
	case "sqlite":
		if c.State.Path == "" {
			errs = append(errs, fmt.Errorf("state.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("%w %q", ErrUnknownStateBackend, c.State.Backend))
	}

	if c.Reply.MaxLength < 0 || c.Reply.MaxLength > relay.MaxSegmentLength {
		errs = append(errs, fmt.Errorf("%w, got %d", ErrReplyLength, c.Reply.MaxLength))
	}

	if c.Heartbeat.Enabled {
		if err := scheduler.ValidateSchedule(c.Heartbeat.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("heartbeat.schedule: %w", err))
		}
	}

	switch strings.ToLower(c.Channels.Telegram.ReactionNotifications) {
	case "", "off", "own", "all":
	default:
		errs = append(errs, fmt.Errorf("channels.telegram.reaction_notifications must be off, own or all"))
	}

	return errors.Join(errs...)
}
