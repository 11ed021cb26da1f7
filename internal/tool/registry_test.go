package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okabe-dev/porter/internal/provider"
	"github.com/okabe-dev/porter/internal/session"
)

func echoDef(name string) provider.ToolDef {
	return provider.ToolDef{
		Name:        name,
		Description: "echoes its input",
		Properties: map[string]provider.Property{
			"text": {Type: "string", Description: "text to echo"},
		},
		Required: []string{"text"},
	}
}

func TestExecute(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDef("echo"), func(ctx context.Context, args map[string]any) (string, error) {
		return fmt.Sprintf("%v", args["text"]), nil
	})

	out, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "hi" {
		t.Errorf("got %q, want %q", out, "hi")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", nil)

	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != ErrNotFound {
		t.Fatalf("got %v, want not_found tool error", err)
	}
}

func TestExecuteHandlerFailure(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDef("broken"), func(ctx context.Context, args map[string]any) (string, error) {
		return "", fmt.Errorf("backend unavailable")
	})

	_, err := r.Execute(context.Background(), "broken", nil)
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != ErrExecutionFailed {
		t.Fatalf("got %v, want execution_failed tool error", err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	r := NewRegistry()
	r.SetTimeout(20 * time.Millisecond)
	r.Register(echoDef("slow"), func(ctx context.Context, args map[string]any) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	})

	start := time.Now()
	_, err := r.Execute(context.Background(), "slow", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout did not cut execution short")
	}
}

func TestDefsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(echoDef("zeta"), nil)
	r.Register(echoDef("alpha"), nil)

	defs := r.Defs()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Errorf("defs = %+v", defs)
	}
}

func TestDefFromStruct(t *testing.T) {
	def := DefFromStruct("search_memory", "search", searchMemoryParams{})
	if def.Name != "search_memory" {
		t.Errorf("Name = %q", def.Name)
	}
	prop, ok := def.Properties["query"]
	if !ok {
		t.Fatalf("missing query property: %+v", def.Properties)
	}
	if prop.Type != "string" {
		t.Errorf("query type = %q", prop.Type)
	}
	if len(def.Required) != 1 || def.Required[0] != "query" {
		t.Errorf("Required = %v", def.Required)
	}
}

func TestMemoryTools(t *testing.T) {
	mem := session.NewMemory(session.MemoryConfig{BaseDir: t.TempDir()})
	r := NewRegistry()
	RegisterMemoryTools(r, mem)

	if _, err := r.Execute(context.Background(), "append_daily_note", map[string]any{"text": "water the plants"}); err != nil {
		t.Fatal(err)
	}
	out, err := r.Execute(context.Background(), "search_memory", map[string]any{"query": "plants"})
	if err != nil {
		t.Fatal(err)
	}
	if out == "No matching memory entries." {
		t.Error("expected daily note to be found")
	}
}
