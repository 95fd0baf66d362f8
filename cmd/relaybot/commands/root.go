// Package commands implements the relaybot CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relaybot",
		Short: "relaybot - chat platform relay for an LLM completion service",
		Long: `relaybot relays chat messages addressed to it (Telegram, Discord or the
local console) to an OpenAI-compatible completion endpoint and posts the
answers back. Emoji reactions are forwarded as context notes.

Examples:
  relaybot serve
  relaybot serve --channel telegram
  relaybot chat
  relaybot setup
  relaybot config set-key api`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
