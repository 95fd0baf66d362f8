package commands

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jholhewres/relaybot/pkg/relaybot/config"
)

// setupAnswers collects the wizard's input.
type setupAnswers struct {
	Name          string
	BaseURL       string
	Model         string
	APIKey        string
	TelegramToken string
	DiscordToken  string
	DefaultBranch string
	StateBackend  string
	Metrics       bool
	UseKeyring    bool
}

// newSetupCmd creates the `relaybot setup` interactive wizard.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create a configuration file interactively",
		Long: `Walk through the settings relaybot needs and write them to a YAML file.
Secrets are stored in the OS keyring or in a .env file next to the config;
the YAML itself only holds ${VAR} references.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("output")
			return runInteractiveSetup(out)
		},
	}
	cmd.Flags().StringP("output", "o", "relaybot.yaml", "where to write the configuration")
	return cmd
}

func runInteractiveSetup(output string) error {
	defaults := config.DefaultConfig()
	a := setupAnswers{
		Name:          defaults.Name,
		BaseURL:       defaults.API.BaseURL,
		Model:         defaults.Model,
		DefaultBranch: defaults.DefaultBranch,
		StateBackend:  defaults.State.Backend,
		UseKeyring:    true,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Bot name").Value(&a.Name),
			huh.NewInput().Title("Completion API base URL").Value(&a.BaseURL),
			huh.NewInput().Title("Model").Value(&a.Model),
			huh.NewInput().Title("Completion API key").EchoMode(huh.EchoModePassword).Value(&a.APIKey),
		),
		huh.NewGroup(
			huh.NewInput().Title("Telegram bot token (empty to skip)").EchoMode(huh.EchoModePassword).Value(&a.TelegramToken),
			huh.NewInput().Title("Discord bot token (empty to skip)").EchoMode(huh.EchoModePassword).Value(&a.DiscordToken),
		),
		huh.NewGroup(
			huh.NewInput().Title("Default branch").Value(&a.DefaultBranch),
			huh.NewSelect[string]().
				Title("Conversation state").
				Options(
					huh.NewOption("In memory (lost on restart)", "memory"),
					huh.NewOption("SQLite file", "sqlite"),
				).
				Value(&a.StateBackend),
			huh.NewConfirm().Title("Expose Prometheus metrics?").Value(&a.Metrics),
			huh.NewConfirm().Title("Store secrets in the OS keyring?").Value(&a.UseKeyring),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	cfg, env := buildSetupConfig(a)

	if a.UseKeyring {
		for name, value := range map[string]string{
			config.SecretAPIKey:        a.APIKey,
			config.SecretTelegramToken: a.TelegramToken,
			config.SecretDiscordToken:  a.DiscordToken,
		} {
			if value == "" {
				continue
			}
			if err := config.StoreSecret(name, value); err != nil {
				return err
			}
		}
	} else if len(env) > 0 {
		if err := godotenv.Write(env, ".env"); err != nil {
			return fmt.Errorf("writing .env: %w", err)
		}
		fmt.Println("Secrets written to .env (keep it out of version control).")
	}

	if err := config.SaveConfigToFile(cfg, output); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s. Start with: relaybot serve\n", output)
	return nil
}

// buildSetupConfig turns wizard answers into a config whose secrets are
// environment references, plus the variables to put in .env.
func buildSetupConfig(a setupAnswers) (*config.Config, map[string]string) {
	cfg := config.DefaultConfig()
	env := map[string]string{}

	cfg.Name = a.Name
	cfg.Model = a.Model
	cfg.API.BaseURL = a.BaseURL
	cfg.DefaultBranch = a.DefaultBranch
	cfg.State.Backend = a.StateBackend
	cfg.Metrics.Enabled = a.Metrics

	cfg.API.APIKey = "${RELAYBOT_API_KEY}"
	if a.APIKey != "" {
		env["RELAYBOT_API_KEY"] = a.APIKey
	}

	cfg.Channels.Telegram.Enabled = a.TelegramToken != ""
	if a.TelegramToken != "" {
		cfg.Channels.Telegram.Token = "${RELAYBOT_TELEGRAM_TOKEN}"
		env["RELAYBOT_TELEGRAM_TOKEN"] = a.TelegramToken
	}
	cfg.Channels.Discord.Enabled = a.DiscordToken != ""
	if a.DiscordToken != "" {
		cfg.Channels.Discord.Token = "${RELAYBOT_DISCORD_TOKEN}"
		env["RELAYBOT_DISCORD_TOKEN"] = a.DiscordToken
	}

	if a.Metrics {
		env["RELAYBOT_METRICS_PORT"] = strconv.Itoa(9090)
		cfg.Metrics.Address = "127.0.0.1:${RELAYBOT_METRICS_PORT:-9090}"
	}
	return cfg, env
}
