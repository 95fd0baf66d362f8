package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, vars := range secretEnv {
		for _, v := range vars {
			t.Setenv(v, "")
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("RB_SET", "value")
	os.Unsetenv("RB_UNSET")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"braced", "key: ${RB_SET}", "key: value", false},
		{"bare", "key: $RB_SET", "key: value", false},
		{"unset kept", "key: ${RB_UNSET}", "key: ${RB_UNSET}", false},
		{"default", "key: ${RB_UNSET:-fallback}", "key: fallback", false},
		{"default ignored when set", "key: ${RB_SET:-fallback}", "key: value", false},
		{"required set", "key: ${RB_SET:?need it}", "key: value", false},
		{"required unset", "key: ${RB_UNSET:?need it}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !strings.Contains(err.Error(), "RB_UNSET: need it") {
					t.Errorf("error = %q", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("name: helper\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Name != "helper" || cfg.DefaultBranch != "main" || cfg.Reply.MaxLength != 4096 {
		t.Errorf("defaults not kept: %+v", cfg)
	}
	if cfg.API.MaxTokens != 2000 || cfg.API.Timeout != 120*time.Second {
		t.Errorf("api defaults = %+v", cfg.API)
	}
	if !cfg.Reactions.Enabled || cfg.Channels.Telegram.ReactionNotifications != "all" {
		t.Error("reaction defaults not applied")
	}
	if cfg.Intent.Prefixes != nil || cfg.Intent.Mentions != nil {
		t.Error("intent sets should stay nil so the filter uses its defaults")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("RB_TEST_TG", "123:abc")

	dir := t.TempDir()
	path := filepath.Join(dir, "relaybot.yaml")
	yaml := `
model: deepseek-reasoner
api:
  base_url: http://localhost:8080/v1
  api_key: ${RB_TEST_API:-from-default}
  timeout: 30s
default_branch: trunk
intent:
  prefixes: ["!", "?"]
  mentions: ["helper"]
state:
  backend: sqlite
  path: data/state.db
channels:
  telegram:
    enabled: true
    token: ${RB_TEST_TG}
    allowed_chats: [1, -100200]
    reaction_notifications: own
  discord:
    enabled: false
metrics:
  enabled: true
  address: ":9200"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}

	if cfg.Model != "deepseek-reasoner" || cfg.API.APIKey != "from-default" || cfg.API.Timeout != 30*time.Second {
		t.Errorf("api = %+v model=%q", cfg.API, cfg.Model)
	}
	if cfg.DefaultBranch != "trunk" || len(cfg.Intent.Prefixes) != 2 || cfg.Intent.Mentions[0] != "helper" {
		t.Errorf("branch/intent = %q %+v", cfg.DefaultBranch, cfg.Intent)
	}
	if cfg.State.Path != filepath.Join(dir, "data/state.db") {
		t.Errorf("state path = %q", cfg.State.Path)
	}
	tg := cfg.Channels.Telegram
	if tg.Token != "123:abc" || len(tg.AllowedChats) != 2 || tg.AllowedChats[1] != -100200 || tg.ReactionNotifications != "own" {
		t.Errorf("telegram = %+v", tg)
	}
	if !tg.RespondToGroups || tg.PollTimeout != 30 {
		t.Errorf("telegram defaults lost: %+v", tg)
	}
	if cfg.DiscordActive() || !cfg.TelegramActive() {
		t.Error("channel activity wrong")
	}
	if err := cfg.Validate(ValidateOptions{}); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigRequiredVar(t *testing.T) {
	os.Unsetenv("RB_MISSING")
	path := filepath.Join(t.TempDir(), "c.yaml")
	_ = os.WriteFile(path, []byte("api:\n  api_key: ${RB_MISSING:?set the key}\n"), 0o600)

	if _, err := LoadConfigFromFile(path); err == nil || !strings.Contains(err.Error(), "set the key") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		opts   ValidateOptions
		want   error
	}{
		{"ok", func(c *Config) {}, ValidateOptions{}, nil},
		{"missing key", func(c *Config) { c.API.APIKey = "" }, ValidateOptions{}, ErrMissingAPIKey},
		{"placeholder key", func(c *Config) { c.API.APIKey = "${DS_TOKEN}" }, ValidateOptions{}, ErrMissingAPIKey},
		{"no chat token", func(c *Config) { c.Channels.Telegram.Token = "" }, ValidateOptions{}, ErrNoChannelToken},
		{"console needs no token", func(c *Config) { c.Channels.Telegram.Token = "" }, ValidateOptions{Console: true}, nil},
		{"disabled channel", func(c *Config) { c.Channels.Telegram.Enabled = false }, ValidateOptions{}, ErrNoChannelToken},
		{"bad backend", func(c *Config) { c.State.Backend = "redis" }, ValidateOptions{}, ErrUnknownStateBackend},
		{"reply at ceiling", func(c *Config) { c.Reply.MaxLength = 4096 }, ValidateOptions{}, nil},
		{"reply unset", func(c *Config) { c.Reply.MaxLength = 0 }, ValidateOptions{}, nil},
		{"reply over ceiling", func(c *Config) { c.Reply.MaxLength = 4097 }, ValidateOptions{}, ErrReplyLength},
		{"negative reply", func(c *Config) { c.Reply.MaxLength = -1 }, ValidateOptions{}, ErrReplyLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.API.APIKey = "sk-test"
			cfg.Channels.Telegram.Token = "1:x"
			tt.mutate(cfg)

			err := cfg.Validate(tt.opts)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.API.APIKey = "k"
	cfg.Channels.Telegram.Token = "t"
	cfg.Heartbeat.Schedule = "whenever"
	if err := cfg.Validate(ValidateOptions{}); err == nil {
		t.Error("expected invalid heartbeat schedule error")
	}
}

func TestResolveSecrets(t *testing.T) {
	keyring.MockInit()
	clearSecretEnv(t)

	cfg := DefaultConfig()
	cfg.API.APIKey = "${DS_TOKEN}"
	cfg.Channels.Discord.Token = "from-file"

	t.Setenv("DS_TOKEN", "env-key")
	t.Setenv("BOT_TOKEN", "env-bot")
	if err := StoreSecret(SecretDiscordToken, "keyring-discord"); err != nil {
		t.Fatalf("StoreSecret: %v", err)
	}
	defer DeleteSecret(SecretDiscordToken)

	ResolveSecrets(cfg, nil)

	if cfg.API.APIKey != "env-key" {
		t.Errorf("api key = %q", cfg.API.APIKey)
	}
	if cfg.Channels.Telegram.Token != "env-bot" {
		t.Errorf("telegram token = %q", cfg.Channels.Telegram.Token)
	}
	if cfg.Channels.Discord.Token != "keyring-discord" {
		t.Errorf("discord token = %q, keyring should win", cfg.Channels.Discord.Token)
	}

	t.Setenv("RELAYBOT_API_KEY", "preferred")
	ResolveSecrets(cfg, nil)
	if cfg.API.APIKey != "preferred" {
		t.Errorf("RELAYBOT_API_KEY should take precedence, got %q", cfg.API.APIKey)
	}

	if err := StoreSecret("nope", "x"); err == nil {
		t.Error("expected error for unknown secret name")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	clearSecretEnv(t)
	t.Setenv("RELAYBOT_API_KEY", "sk-live")

	cfg := DefaultConfig()
	cfg.API.APIKey = "sk-live"
	cfg.Channels.Telegram.Token = "plain-token"
	cfg.DefaultBranch = "dev"

	path := filepath.Join(t.TempDir(), "out", "relaybot.yaml")
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigToFile: %v", err)
	}

	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "${RELAYBOT_API_KEY}") || strings.Contains(string(raw), "sk-live") {
		t.Errorf("api key not replaced by reference:\n%s", raw)
	}
	if info, _ := os.Stat(path); info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}

	loaded, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.API.APIKey != "sk-live" || loaded.DefaultBranch != "dev" || loaded.API.Timeout != cfg.API.Timeout {
		t.Errorf("reloaded = %+v", loaded.API)
	}
}

func TestMaskSecret(t *testing.T) {
	for in, want := range map[string]string{
		"":                 "",
		"short":            "****",
		"sk-1234567890abcd": "****abcd",
	} {
		if got := MaskSecret(in); got != want {
			t.Errorf("MaskSecret(%q) = %q, want %q", in, got, want)
		}
	}

	cfg := DefaultConfig()
	cfg.API.APIKey = "sk-1234567890abcd"
	if m := cfg.Masked(); m.API.APIKey != "****abcd" || cfg.API.APIKey != "sk-1234567890abcd" {
		t.Error("Masked must not modify the original")
	}
}
