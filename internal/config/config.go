// Package config loads the gateway configuration: defaults, then the YAML
// config file, then PORTER__ environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/okabe-dev/porter/internal/channel"
	"github.com/okabe-dev/porter/internal/tool"
)

// ErrorKind classifies configuration failures.
type ErrorKind string

const (
	ErrInvalid ErrorKind = "invalid"
	ErrMissing ErrorKind = "missing"
)

// Error reports a bad or absent configuration value.
type Error struct {
	Kind  ErrorKind
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s: %s", e.Kind, e.Field, e.Msg)
}

// EnvPrefix marks environment variables that override config file values.
// PORTER__GATEWAY__PORT=9000 overrides gateway.port.
const EnvPrefix = "PORTER__"

// Config is the full gateway configuration.
type Config struct {
	Gateway   GatewaySettings   `yaml:"gateway"`
	Agent     AgentSettings     `yaml:"agent"`
	Memory    MemorySettings    `yaml:"memory"`
	Channels  ChannelSettings   `yaml:"channels"`
	MCP       MCPSettings       `yaml:"mcp"`
	Scheduler SchedulerSettings `yaml:"scheduler"`
}

// GatewaySettings configures the control surface and data directory.
type GatewaySettings struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// AgentSettings configures the exchange loop.
type AgentSettings struct {
	SystemPrompt      string `yaml:"system_prompt"`
	MaxToolIterations int    `yaml:"max_tool_iterations"`
	HistoryWindow     int    `yaml:"history_window"`
	Workers           int    `yaml:"workers"`
	LogLevel          string `yaml:"log_level"`
}

// MemorySettings configures long-term memory.
type MemorySettings struct {
	MaxNotes int `yaml:"max_notes"`
}

// ChannelSettings holds per-adapter configuration. Enabled lists the
// adapters to start at boot.
type ChannelSettings struct {
	Enabled  []string               `yaml:"enabled"`
	Telegram channel.TelegramConfig `yaml:"telegram"`
	Discord  channel.DiscordConfig  `yaml:"discord"`
	WhatsApp channel.WhatsAppConfig `yaml:"whatsapp"`
}

// MCPSettings lists the MCP servers whose tools are offered to the agent.
type MCPSettings struct {
	Servers []tool.MCPServerConfig `yaml:"servers"`
}

// SchedulerSettings configures the heartbeat.
type SchedulerSettings struct {
	// HeartbeatInterval is a duration string ("30m", "1h").
	HeartbeatInterval     string `yaml:"heartbeat_interval"`
	HeartbeatConversation string `yaml:"heartbeat_conversation"`
}

// HeartbeatEvery parses the heartbeat interval, falling back to 30 minutes.
func (s SchedulerSettings) HeartbeatEvery() time.Duration {
	d, err := time.ParseDuration(s.HeartbeatInterval)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewaySettings{
			Host:    "127.0.0.1",
			Port:    8586,
			DataDir: "~/.porter",
		},
		Agent: AgentSettings{
			SystemPrompt:      "You are Porter, a personal assistant reachable over chat.",
			MaxToolIterations: 20,
			HistoryWindow:     50,
			Workers:           4,
			LogLevel:          "info",
		},
		Memory: MemorySettings{MaxNotes: 30},
		Scheduler: SchedulerSettings{
			HeartbeatInterval: "30m",
		},
	}
}

// Load builds the configuration from path. A missing file is not an error;
// defaults plus environment overrides still apply. A .env file next to the
// working directory is read first so PORTER__ variables can live there.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &Error{Kind: ErrInvalid, Field: path, Msg: err.Error()}
		}
	}

	if err := applyEnvOverrides(cfg, os.Environ()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return &Error{Kind: ErrInvalid, Field: "gateway.port", Msg: fmt.Sprintf("%d out of range", c.Gateway.Port)}
	}
	if c.Gateway.DataDir == "" {
		return &Error{Kind: ErrMissing, Field: "gateway.data_dir", Msg: "data directory is required"}
	}
	switch c.Agent.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &Error{Kind: ErrInvalid, Field: "agent.log_level", Msg: c.Agent.LogLevel}
	}
	if c.Agent.MaxToolIterations <= 0 {
		return &Error{Kind: ErrInvalid, Field: "agent.max_tool_iterations", Msg: "must be positive"}
	}
	if c.Agent.Workers <= 0 {
		return &Error{Kind: ErrInvalid, Field: "agent.workers", Msg: "must be positive"}
	}
	for _, name := range c.Channels.Enabled {
		switch name {
		case "telegram", "discord", "whatsapp":
		default:
			return &Error{Kind: ErrInvalid, Field: "channels.enabled", Msg: "unknown channel " + name}
		}
	}
	if s := c.Scheduler.HeartbeatInterval; s != "" {
		if _, err := time.ParseDuration(s); err != nil {
			return &Error{Kind: ErrInvalid, Field: "scheduler.heartbeat_interval", Msg: s}
		}
	}
	for _, srv := range c.MCP.Servers {
		if srv.Name == "" {
			return &Error{Kind: ErrMissing, Field: "mcp.servers.name", Msg: "server name is required"}
		}
		switch srv.Type {
		case tool.MCPServerTypeStdio:
			if srv.Command == "" {
				return &Error{Kind: ErrMissing, Field: "mcp.servers." + srv.Name, Msg: "command is required for stdio servers"}
			}
		case tool.MCPServerTypeSSE:
			if srv.URL == "" {
				return &Error{Kind: ErrMissing, Field: "mcp.servers." + srv.Name, Msg: "url is required for sse servers"}
			}
		default:
			return &Error{Kind: ErrInvalid, Field: "mcp.servers." + srv.Name, Msg: "unknown server type " + string(srv.Type)}
		}
	}
	return nil
}

// DataDir returns the expanded data directory.
func (c *Config) DataDir() string {
	return expandHome(c.Gateway.DataDir)
}

// SessionsDir is where conversation logs live.
func (c *Config) SessionsDir() string { return filepath.Join(c.DataDir(), "sessions") }

// MemoryDir holds MEMORY.md and daily notes.
func (c *Config) MemoryDir() string { return filepath.Join(c.DataDir(), "memory") }

// SkillsDir holds one skill per subdirectory.
func (c *Config) SkillsDir() string { return filepath.Join(c.DataDir(), "skills") }

// ProvidersPath is the persisted provider registry.
func (c *Config) ProvidersPath() string { return filepath.Join(c.DataDir(), "providers.json") }

// SchedulePath is the persisted cron job set.
func (c *Config) SchedulePath() string { return filepath.Join(c.DataDir(), "schedule.json") }

// HeartbeatPath is the heartbeat checklist file.
func (c *Config) HeartbeatPath() string { return filepath.Join(c.DataDir(), "HEARTBEAT.md") }

// ListenAddr is the control server bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// applyEnvOverrides patches cfg with PORTER__SECTION__KEY variables. The
// config is round-tripped through a YAML map so the override lands on the
// right nested key with the right type.
func applyEnvOverrides(cfg *Config, environ []string) error {
	overrides := make(map[string]string)
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		overrides[kv[:eq]] = kv[eq+1:]
	}
	if len(overrides) == 0 {
		return nil
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	for key, value := range overrides {
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__")
		if err := setPath(tree, path, coerce(value)); err != nil {
			return &Error{Kind: ErrInvalid, Field: key, Msg: err.Error()}
		}
	}

	patched, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}
	if err := yaml.Unmarshal(patched, cfg); err != nil {
		return &Error{Kind: ErrInvalid, Field: "environment overrides", Msg: err.Error()}
	}
	return nil
}

func setPath(tree map[string]any, path []string, value any) error {
	if len(path) == 0 || path[0] == "" {
		return fmt.Errorf("empty key path")
	}
	for _, seg := range path[:len(path)-1] {
		child, ok := tree[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			tree[seg] = child
		}
		tree = child
	}
	tree[path[len(path)-1]] = value
	return nil
}

// coerce parses an override value: booleans and integers keep their type,
// comma-separated values become lists, everything else stays a string.
func coerce(value string) any {
	if strings.Contains(value, ",") {
		parts := strings.Split(value, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, coerce(strings.TrimSpace(p)))
		}
		return out
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	return value
}

// providerKeyAliases maps well-known provider name fragments to the
// conventional API key environment variables.
var providerKeyAliases = []struct {
	fragment string
	envVars  []string
}{
	{"anthropic", []string{"ANTHROPIC_API_KEY"}},
	{"claude", []string{"ANTHROPIC_API_KEY"}},
	{"openrouter", []string{"OPENROUTER_API_KEY"}},
	{"deepseek", []string{"DEEPSEEK_API_KEY"}},
	{"gemini", []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}},
	{"google", []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}},
	{"openai", []string{"OPENAI_API_KEY"}},
}

// LookupProviderKey resolves an API key for a provider whose configuration
// carries none, using the conventional environment variables.
func LookupProviderKey(providerName string) string {
	name := strings.ToLower(providerName)
	for _, alias := range providerKeyAliases {
		if strings.Contains(name, alias.fragment) {
			for _, v := range alias.envVars {
				if key := os.Getenv(v); key != "" {
					return key
				}
			}
		}
	}
	return ""
}
