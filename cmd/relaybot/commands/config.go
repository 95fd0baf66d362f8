package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/relaybot/pkg/relaybot/config"
)

// newConfigCmd creates `relaybot config` for managing configuration.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage relaybot configuration",
		Long: `Manage relaybot configuration and secrets.

Examples:
  relaybot config show
  relaybot config set-key api
  relaybot config set-key telegram`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			config.ResolveSecrets(cfg, newLogger(cmd, config.LoggingConfig{Level: "error"}, os.Stderr))

			data, err := yaml.Marshal(cfg.Masked())
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			if path == "" {
				path = "(defaults)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", path, data)
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-key <api|telegram|discord>",
		Short:     "Store a secret in the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.SecretNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			value, err := readSecret(fmt.Sprintf("Enter %s secret: ", name), os.Stdin)
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty secret, nothing stored")
			}
			if err := config.StoreSecret(name, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s secret stored in the OS keyring (%s)\n", name, config.MaskSecret(value))
			return nil
		},
	}
}

// readSecret reads a secret without echo from a terminal, or one line from
// piped input.
func readSecret(prompt string, in *os.File) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return readLine(in)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
