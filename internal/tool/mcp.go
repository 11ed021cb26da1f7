package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpapi "github.com/mark3labs/mcp-go/mcp"

	"github.com/okabe-dev/porter/internal/provider"
	"github.com/okabe-dev/porter/pkg/logger"
)

// MCPServerType selects the MCP transport.
type MCPServerType string

const (
	MCPServerTypeStdio MCPServerType = "stdio"
	MCPServerTypeSSE   MCPServerType = "sse"
)

// MCPServerConfig describes one MCP server to connect to.
type MCPServerConfig struct {
	Name         string        `json:"name" yaml:"name"`
	Type         MCPServerType `json:"type" yaml:"type"`
	Command      string        `json:"command,omitempty" yaml:"command,omitempty"`
	Args         []string      `json:"args,omitempty" yaml:"args,omitempty"`
	Env          []string      `json:"env,omitempty" yaml:"env,omitempty"`
	URL          string        `json:"url,omitempty" yaml:"url,omitempty"`
	AllowedTools []string      `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
}

// MCPManager connects MCP servers and registers their tools in a Registry.
// Tool names are prefixed with the server name to avoid collisions.
type MCPManager struct {
	registry *Registry
	log      *logger.Logger

	mu      sync.Mutex
	clients map[string]*client.Client
	tools   map[string][]string // server -> registered tool names
}

// NewMCPManager creates a manager registering into r.
func NewMCPManager(r *Registry, log *logger.Logger) *MCPManager {
	return &MCPManager{
		registry: r,
		log:      log.WithComponent("mcp"),
		clients:  make(map[string]*client.Client),
		tools:    make(map[string][]string),
	}
}

// AddServer connects a server, initializes the session, and registers its
// tools.
func (m *MCPManager) AddServer(ctx context.Context, cfg MCPServerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[cfg.Name]; exists {
		return fmt.Errorf("mcp server %s already connected", cfg.Name)
	}

	c, err := newMCPClient(cfg)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start mcp client %s: %w", cfg.Name, err)
	}

	initRequest := mcpapi.InitializeRequest{
		Params: mcpapi.InitializeParams{
			ProtocolVersion: "2024-11-05",
			Capabilities:    mcpapi.ClientCapabilities{},
			ClientInfo: mcpapi.Implementation{
				Name:    "porter",
				Version: "1.0.0",
			},
		},
	}
	if _, err := c.Initialize(ctx, initRequest); err != nil {
		_ = c.Close()
		return fmt.Errorf("initialize mcp client %s: %w", cfg.Name, err)
	}

	m.clients[cfg.Name] = c
	if err := m.registerToolsLocked(ctx, cfg, c); err != nil {
		m.log.Warn("failed to load tools from mcp server", "server", cfg.Name, "error", err)
	}
	m.log.Info("connected to mcp server", "server", cfg.Name, "tools", len(m.tools[cfg.Name]))
	return nil
}

// RemoveServer disconnects a server and unregisters its tools.
func (m *MCPManager) RemoveServer(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[name]; ok {
		if err := c.Close(); err != nil {
			m.log.Warn("error closing mcp server", "server", name, "error", err)
		}
		delete(m.clients, name)
	}
	for _, toolName := range m.tools[name] {
		m.registry.Unregister(toolName)
	}
	delete(m.tools, name)
}

// Close disconnects every server.
func (m *MCPManager) Close() {
	m.mu.Lock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	m.mu.Unlock()
	for _, name := range names {
		m.RemoveServer(name)
	}
}

func newMCPClient(cfg MCPServerConfig) (*client.Client, error) {
	switch cfg.Type {
	case MCPServerTypeStdio:
		c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio mcp client: %w", err)
		}
		return c, nil
	case MCPServerTypeSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("url is required for sse mcp server")
		}
		c, err := client.NewSSEMCPClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("create sse mcp client: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unsupported mcp server type: %s", cfg.Type)
}

func (m *MCPManager) registerToolsLocked(ctx context.Context, cfg MCPServerConfig, c *client.Client) error {
	result, err := c.ListTools(ctx, mcpapi.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}

	var allowed map[string]bool
	if len(cfg.AllowedTools) > 0 {
		allowed = make(map[string]bool, len(cfg.AllowedTools))
		for _, name := range cfg.AllowedTools {
			allowed[name] = true
		}
	}

	var registered []string
	for _, mcpTool := range result.Tools {
		if allowed != nil && !allowed[mcpTool.Name] {
			continue
		}
		def := mcpToolDef(cfg.Name, mcpTool)
		remoteName := mcpTool.Name
		m.registry.Register(def, func(ctx context.Context, args map[string]any) (string, error) {
			return m.callTool(ctx, cfg.Name, remoteName, args)
		})
		registered = append(registered, def.Name)
	}
	m.tools[cfg.Name] = registered
	return nil
}

func (m *MCPManager) callTool(ctx context.Context, server, name string, args map[string]any) (string, error) {
	m.mu.Lock()
	c, ok := m.clients[server]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("mcp server %s not connected", server)
	}

	req := mcpapi.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call mcp tool %s on %s: %w", name, server, err)
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(mcpapi.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	out := strings.Join(parts, "\n")
	if result.IsError {
		return "", fmt.Errorf("%s", out)
	}
	return out, nil
}

// mcpToolDef converts an MCP tool description, prefixing the name with the
// server ("github__create_issue").
func mcpToolDef(server string, t mcpapi.Tool) provider.ToolDef {
	def := provider.ToolDef{
		Name:        server + "__" + t.Name,
		Description: t.Description,
		Properties:  make(map[string]provider.Property),
		Required:    t.InputSchema.Required,
	}
	for name, raw := range t.InputSchema.Properties {
		prop := provider.Property{Type: "string"}
		if obj, ok := raw.(map[string]any); ok {
			if typ, ok := obj["type"].(string); ok {
				prop.Type = typ
			}
			if desc, ok := obj["description"].(string); ok {
				prop.Description = desc
			}
			if enum, ok := obj["enum"].([]any); ok {
				for _, v := range enum {
					prop.Enum = append(prop.Enum, fmt.Sprintf("%v", v))
				}
			}
		}
		def.Properties[name] = prop
	}
	return def
}
