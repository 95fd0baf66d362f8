package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels/discord"
	"github.com/jholhewres/relaybot/pkg/relaybot/channels/telegram"
	"github.com/jholhewres/relaybot/pkg/relaybot/config"
	"github.com/jholhewres/relaybot/pkg/relaybot/metrics"
	"github.com/jholhewres/relaybot/pkg/relaybot/scheduler"
)

// newServeCmd creates the `relaybot serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay with the configured chat channels",
		Long: `Start relaybot as a long-running service, connecting to every chat
channel that has a credential (Telegram, Discord) and relaying messages.

Examples:
  relaybot serve
  relaybot serve --channel telegram
  relaybot serve --config ./relaybot.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, discord)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, path, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg.Logging, os.Stdout)
	if path != "" {
		logger.Info("config loaded", "path", path)
	} else {
		logger.Info("no config file found, using defaults and environment", "hint", "run 'relaybot setup'")
	}

	// ── Resolve secrets ──
	config.ResolveSecrets(cfg, logger)
	if err := cfg.Validate(config.ValidateOptions{}); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	// ── Register channels ──
	channelFilter, _ := cmd.Flags().GetStringSlice("channel")

	if cfg.TelegramActive() && shouldEnable("telegram", channelFilter, true) {
		if err := rt.manager.Register(telegram.New(cfg.Channels.Telegram.Config, logger)); err != nil {
			logger.Error("failed to register Telegram", "error", err)
		}
	}
	if cfg.DiscordActive() && shouldEnable("discord", channelFilter, true) {
		if err := rt.manager.Register(discord.New(cfg.Channels.Discord.Config, logger)); err != nil {
			logger.Error("failed to register Discord", "error", err)
		}
	}
	if len(rt.manager.Names()) == 0 {
		return fmt.Errorf("no channel enabled (filter: %v)", channelFilter)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Start ──
	if err := rt.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Address, rt.metrics, rt.manager.HealthAll, logger)
		if err := metricsSrv.Start(); err != nil {
			logger.Error("metrics server not started", "error", err)
			metricsSrv = nil
		}
	}

	sched := scheduler.New(logger)
	if cfg.Heartbeat.Enabled {
		if err := sched.Add(scheduler.Heartbeat(cfg.Heartbeat.Schedule, rt.manager.HealthAll, logger)); err != nil {
			logger.Error("heartbeat not scheduled", "error", err)
		}
	}
	sched.Start(ctx)

	logger.Info("relaybot running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"model", cfg.Model,
		"channels", rt.manager.Names(),
	)

	// Blocks until a signal arrives.
	_ = rt.bot.Run(ctx, rt.manager.Messages())

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		sched.Stop()
		rt.manager.Stop()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsSrv.Shutdown(shutdownCtx)
			cancel()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}
