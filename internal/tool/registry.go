// Package tool manages the tools offered to the agent: built-ins registered
// locally and tools discovered from MCP servers.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okabe-dev/porter/internal/provider"
)

// ErrorKind classifies tool failures.
type ErrorKind string

const (
	ErrNotFound        ErrorKind = "not_found"
	ErrExecutionFailed ErrorKind = "execution_failed"
)

// Error wraps a tool failure with its classification. Tool errors are fed
// back to the model, not surfaced to the user directly.
type Error struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Handler executes a tool call and returns its textual result.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Def     provider.ToolDef
	Handler Handler
}

const defaultTimeout = 60 * time.Second

// Registry holds the available tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
}

// NewRegistry creates an empty registry with the default execution timeout.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: defaultTimeout,
	}
}

// SetTimeout overrides the per-call execution timeout.
func (r *Registry) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def provider.ToolDef, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = Tool{Def: def, Handler: handler}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Defs returns the tool definitions sorted by name, ready to hand to a
// provider.
func (r *Registry) Defs() []provider.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a tool under the registry timeout. An unknown name or a
// failed handler returns a classified *Error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", &Error{Kind: ErrNotFound, Tool: name, Err: fmt.Errorf("no such tool")}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := t.Handler(ctx, args)
	if err != nil {
		return "", &Error{Kind: ErrExecutionFailed, Tool: name, Err: err}
	}
	return result, nil
}
