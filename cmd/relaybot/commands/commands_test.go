package commands

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/relaybot/pkg/relaybot/config"
	"github.com/jholhewres/relaybot/pkg/relaybot/state"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	want := []string{"serve", "chat", "setup", "config", "health"}
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	if cmd, _, err := root.Find([]string{"config", "set-key"}); err != nil || cmd.Name() != "set-key" {
		t.Error("config set-key not registered")
	}
	if root.PersistentFlags().Lookup("config") == nil || root.PersistentFlags().Lookup("verbose") == nil {
		t.Error("global flags missing")
	}
}

func TestShouldEnable(t *testing.T) {
	tests := []struct {
		name   string
		filter []string
		def    bool
		want   bool
	}{
		{"telegram", nil, true, true},
		{"telegram", nil, false, false},
		{"telegram", []string{"discord"}, true, false},
		{"telegram", []string{"discord", " Telegram"}, false, true},
	}
	for _, tt := range tests {
		if got := shouldEnable(tt.name, tt.filter, tt.def); got != tt.want {
			t.Errorf("shouldEnable(%q, %v, %v) = %v", tt.name, tt.filter, tt.def, got)
		}
	}
}

func TestNewLogger(t *testing.T) {
	root := NewRootCmd("test")
	var buf bytes.Buffer

	logger := newLogger(root, config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output = %q", out)
	}

	_ = root.PersistentFlags().Set("verbose", "true")
	if !newLogger(root, config.LoggingConfig{Level: "error"}, &buf).Enabled(context.Background(), slog.LevelDebug) {
		t.Error("--verbose should force debug")
	}
}

func TestOpenStore(t *testing.T) {
	s, err := openStore(config.StateConfig{Backend: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*state.MemoryStore); !ok {
		t.Errorf("memory backend = %T", s)
	}

	s, err = openStore(config.StateConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	s.Close()

	if _, err := openStore(config.StateConfig{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestNewRuntime(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.APIKey = "k"
	rt, err := newRuntime(cfg, slog.Default())
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.close()
	if rt.bot == nil || rt.manager == nil || rt.metrics == nil {
		t.Error("runtime not fully wired")
	}
}

func TestBuildSetupConfig(t *testing.T) {
	cfg, env := buildSetupConfig(setupAnswers{
		Name: "helper", Model: "deepseek-chat", BaseURL: "https://api.deepseek.com/v1",
		APIKey: "sk-1", TelegramToken: "1:t", DefaultBranch: "main", StateBackend: "sqlite",
	})

	if cfg.API.APIKey != "${RELAYBOT_API_KEY}" || env["RELAYBOT_API_KEY"] != "sk-1" {
		t.Errorf("api key = %q env=%v", cfg.API.APIKey, env)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Discord.Enabled {
		t.Error("channel enablement should follow provided tokens")
	}
	if _, ok := env["RELAYBOT_DISCORD_TOKEN"]; ok {
		t.Error("empty discord token should not be written")
	}
	if cfg.State.Backend != "sqlite" || cfg.Name != "helper" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestHealthURL(t *testing.T) {
	for in, want := range map[string]string{
		"127.0.0.1:9090":     "http://127.0.0.1:9090/health",
		":9090":              "http://127.0.0.1:9090/health",
		"http://host:1/":     "http://host:1/health",
		"https://example.io": "https://example.io/health",
	} {
		if got := healthURL(in); got != want {
			t.Errorf("healthURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheckHealth(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	body, err := checkHealth(srv.URL+"/health", time.Second)
	if err != nil || !strings.Contains(body, "healthy") {
		t.Fatalf("checkHealth = %q, %v", body, err)
	}

	status = http.StatusServiceUnavailable
	if _, err := checkHealth(srv.URL+"/health", time.Second); err == nil {
		t.Error("expected error for 503")
	}
}

func TestReadLine(t *testing.T) {
	got, err := readLine(strings.NewReader("  secret-value \nignored"))
	if err != nil || got != "secret-value" {
		t.Errorf("readLine = %q, %v", got, err)
	}
}
