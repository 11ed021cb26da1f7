package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 8586 {
		t.Errorf("port = %d, want default 8586", cfg.Gateway.Port)
	}
	if cfg.Agent.MaxToolIterations != 20 {
		t.Errorf("max_tool_iterations = %d, want 20", cfg.Agent.MaxToolIterations)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
gateway:
  port: 9000
agent:
  log_level: debug
channels:
  enabled: [telegram]
  telegram:
    token: abc
    allowed_chats: [42, 43]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Gateway.Port)
	}
	if cfg.Agent.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.Agent.LogLevel)
	}
	// Untouched values keep their defaults.
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("host = %q", cfg.Gateway.Host)
	}
	if len(cfg.Channels.Telegram.AllowedChats) != 2 || cfg.Channels.Telegram.AllowedChats[0] != 42 {
		t.Errorf("allowed_chats = %v", cfg.Channels.Telegram.AllowedChats)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
gateway:
  port: 9000
`)
	t.Setenv("PORTER__GATEWAY__PORT", "9100")
	t.Setenv("PORTER__AGENT__LOG_LEVEL", "warn")
	t.Setenv("PORTER__CHANNELS__TELEGRAM__TOKEN", "env-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Gateway.Port)
	}
	if cfg.Agent.LogLevel != "warn" {
		t.Errorf("log_level = %q, want warn", cfg.Agent.LogLevel)
	}
	if cfg.Channels.Telegram.Token != "env-token" {
		t.Errorf("token = %q", cfg.Channels.Telegram.Token)
	}
}

func TestEnvOverrideLists(t *testing.T) {
	t.Setenv("PORTER__CHANNELS__TELEGRAM__ALLOWED_CHATS", "1, 2, 3")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	got := cfg.Channels.Telegram.AllowedChats
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("allowed_chats = %v", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		kind   ErrorKind
	}{
		{"port out of range", func(c *Config) { c.Gateway.Port = 0 }, ErrInvalid},
		{"empty data dir", func(c *Config) { c.Gateway.DataDir = "" }, ErrMissing},
		{"bad log level", func(c *Config) { c.Agent.LogLevel = "loud" }, ErrInvalid},
		{"unknown channel", func(c *Config) { c.Channels.Enabled = []string{"irc"} }, ErrInvalid},
		{"bad heartbeat interval", func(c *Config) { c.Scheduler.HeartbeatInterval = "soonish" }, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			cerr, ok := err.(*Error)
			if !ok {
				t.Fatalf("err = %v, want *Error", err)
			}
			if cerr.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", cerr.Kind, tt.kind)
			}
		})
	}
}

func TestHeartbeatEvery(t *testing.T) {
	if got := (SchedulerSettings{HeartbeatInterval: "1h"}).HeartbeatEvery(); got != time.Hour {
		t.Errorf("got %v", got)
	}
	if got := (SchedulerSettings{}).HeartbeatEvery(); got != 30*time.Minute {
		t.Errorf("default = %v", got)
	}
}

func TestLookupProviderKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "AIza-test")

	tests := []struct {
		provider string
		want     string
	}{
		{"anthropic", "sk-ant-test"},
		{"claude-relay", "sk-ant-test"},
		{"openrouter", "sk-or-test"},
		{"gemini", "AIza-test"},
		{"local-ollama", ""},
	}
	for _, tt := range tests {
		if got := LookupProviderKey(tt.provider); got != tt.want {
			t.Errorf("LookupProviderKey(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}
