package config

// Secrets are resolved in priority order:
//  1. OS keyring (service "relaybot")
//  2. Environment variable (RELAYBOT_*, then the legacy DS_TOKEN / BOT_TOKEN)
//  3. .env file (loaded into the environment by godotenv)
//  4. config file value

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "relaybot"

// Secret names, used both as keyring keys and `config set-key` arguments.
const (
	SecretAPIKey        = "api"
	SecretTelegramToken = "telegram"
	SecretDiscordToken  = "discord"
)

// secretEnv lists the environment variables consulted for each secret.
var secretEnv = map[string][]string{
	SecretAPIKey:        {"RELAYBOT_API_KEY", "DS_TOKEN"},
	SecretTelegramToken: {"RELAYBOT_TELEGRAM_TOKEN", "BOT_TOKEN"},
	SecretDiscordToken:  {"RELAYBOT_DISCORD_TOKEN"},
}

// SecretNames returns the names accepted by StoreSecret.
func SecretNames() []string {
	return []string{SecretAPIKey, SecretTelegramToken, SecretDiscordToken}
}

// StoreSecret saves a secret to the OS keyring.
func StoreSecret(name, value string) error {
	if _, ok := secretEnv[name]; !ok {
		return fmt.Errorf("unknown secret %q (want one of %s)", name, strings.Join(SecretNames(), ", "))
	}
	if err := keyring.Set(keyringService, name, value); err != nil {
		return fmt.Errorf("storing %s in keyring: %w", name, err)
	}
	return nil
}

// DeleteSecret removes a secret from the OS keyring.
func DeleteSecret(name string) error {
	return keyring.Delete(keyringService, name)
}

// getKeyring retrieves a secret, returning "" when absent or unavailable.
func getKeyring(name string) string {
	val, err := keyring.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return val
}

// ResolveSecrets fills the completion key and chat tokens from the keyring
// or the environment, overriding empty or placeholder config values.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.API.APIKey = resolveSecret(SecretAPIKey, cfg.API.APIKey, logger)
	cfg.Channels.Telegram.Token = resolveSecret(SecretTelegramToken, cfg.Channels.Telegram.Token, logger)
	cfg.Channels.Discord.Token = resolveSecret(SecretDiscordToken, cfg.Channels.Discord.Token, logger)
}

func resolveSecret(name, current string, logger *slog.Logger) string {
	if val := getKeyring(name); val != "" {
		logger.Debug("secret loaded from OS keyring", "secret", name)
		return val
	}
	for _, env := range secretEnv[name] {
		if val := os.Getenv(env); val != "" {
			logger.Debug("secret loaded from environment", "secret", name, "env", env)
			return val
		}
	}
	if current != "" && !IsEnvReference(current) {
		return current
	}
	return ""
}

// MaskSecret hides all but the last four characters of a secret.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// Masked returns a copy of cfg with secrets masked, for display.
func (c *Config) Masked() *Config {
	m := *c
	m.API.APIKey = MaskSecret(c.API.APIKey)
	m.Channels.Telegram.Token = MaskSecret(c.Channels.Telegram.Token)
	m.Channels.Discord.Token = MaskSecret(c.Channels.Discord.Token)
	return &m
}
