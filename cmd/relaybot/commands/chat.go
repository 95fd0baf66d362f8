package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/relaybot/pkg/relaybot/channels/console"
	"github.com/jholhewres/relaybot/pkg/relaybot/config"
)

// newChatCmd creates the `relaybot chat` command: the full relay pipeline
// over the local terminal.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the relay from the terminal",
		Long: `Run the relay over a local console channel. Messages go through the same
intent filter, commands and completion calls as on chat platforms.

Inside the session:
  !question          ask something
  /switch release-2  change branch
  :react 👍          react to the last answer
  :unreact           remove the reaction
  :quit              leave`,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// Logs go to stderr at warn level so they don't interleave with the chat.
	logCfg := cfg.Logging
	if logCfg.Level == "" || logCfg.Level == "info" {
		logCfg.Level = "warn"
	}
	logger := newLogger(cmd, logCfg, os.Stderr)

	config.ResolveSecrets(cfg, logger)
	if err := cfg.Validate(config.ValidateOptions{Console: true}); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	username := "local-user"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	con := console.New(console.Config{
		HistoryFile: homeFile(".relaybot_history"),
		User:        username,
	}, logger)
	if err := rt.manager.Register(con); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := rt.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start console: %w", err)
	}

	fmt.Printf("relaybot chat (model %s, branch %s). Type :quit to leave.\n", cfg.Model, cfg.DefaultBranch)

	runDone := make(chan struct{})
	go func() {
		_ = rt.bot.Run(ctx, rt.manager.Messages())
		close(runDone)
	}()

	select {
	case <-con.Done():
	case <-ctx.Done():
	}

	rt.manager.Stop()
	<-runDone
	return nil
}
