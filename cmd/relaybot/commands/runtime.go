package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels"
	"github.com/jholhewres/relaybot/pkg/relaybot/config"
	"github.com/jholhewres/relaybot/pkg/relaybot/llm"
	"github.com/jholhewres/relaybot/pkg/relaybot/metrics"
	"github.com/jholhewres/relaybot/pkg/relaybot/relay"
	"github.com/jholhewres/relaybot/pkg/relaybot/state"
)

// runtime bundles the components shared by `serve` and `chat`.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   state.Store
	manager *channels.Manager
	metrics *metrics.Metrics
	bot     *relay.Bot
}

// newRuntime wires the store, completion client, channel manager and bot.
// Channels are registered by the caller.
func newRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	store, err := openStore(cfg.State)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	client := llm.NewClient(llm.Config{
		BaseURL:   cfg.API.BaseURL,
		APIKey:    cfg.API.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.API.MaxTokens,
		Timeout:   cfg.API.Timeout,
	}, logger)

	manager := channels.NewManager(logger)
	dispatcher := relay.NewDispatcher(client, manager, store, relay.Options{
		DefaultBranch:  cfg.DefaultBranch,
		MaxReplyLength: cfg.Reply.MaxLength,
		Reactions:      cfg.Reactions.Enabled,
		Filter:         relay.NewIntentFilter(cfg.Intent.Prefixes, cfg.Intent.Mentions),
		Observer:       m,
	}, logger)

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		manager: manager,
		metrics: m,
		bot:     relay.NewBot(dispatcher, manager, logger),
	}, nil
}

func (r *runtime) close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("failed to close state store", "error", err)
	}
}

// openStore creates the configured conversation state backend.
func openStore(cfg config.StateConfig) (state.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return state.NewMemoryStore(), nil
	case "sqlite":
		s, err := state.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening state store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// resolveConfig loads the config from --config, an auto-discovered file, or
// falls back to defaults so an environment-only setup keeps working.
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		return cfg, configPath, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadConfigFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, found, nil
	}

	return config.DefaultConfig(), "", nil
}

// newLogger builds the slog logger from the logging section and --verbose.
func newLogger(cmd *cobra.Command, cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := parseLevel(cfg.Level)
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// shouldEnable checks if a channel passes the --channel filter.
func shouldEnable(name string, filter []string, defaultEnabled bool) bool {
	if len(filter) == 0 {
		return defaultEnabled
	}
	for _, f := range filter {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return true
		}
	}
	return false
}

func homeFile(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, name)
}
