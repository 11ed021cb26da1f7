package provider

import (
	"path/filepath"
	"testing"
)

func TestRegistryActiveSwap(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Active(); ok {
		t.Fatal("empty registry reported an active provider")
	}

	first := Config{Name: "anthropic", Model: "claude-sonnet-4-5"}
	if err := r.SetActive(first); err != nil {
		t.Fatal(err)
	}

	got, ok := r.Active()
	if !ok || got.Name != "anthropic" {
		t.Fatalf("active = %+v, ok = %v", got, ok)
	}

	// A snapshot taken before a swap is unaffected by it.
	snapshot, _ := r.Active()
	second := Config{Name: "ollama", Model: "qwen3"}
	if err := r.SetActive(second); err != nil {
		t.Fatal(err)
	}
	if snapshot.Name != "anthropic" {
		t.Errorf("snapshot mutated by swap: %+v", snapshot)
	}
	got, _ = r.Active()
	if got.Name != "ollama" {
		t.Errorf("active after swap = %q, want ollama", got.Name)
	}
}

func TestRegistryRejectsInvalidConfig(t *testing.T) {
	r := NewRegistry()
	if err := r.SetActive(Config{Model: "m"}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := r.SetActive(Config{Name: "n"}); err == nil {
		t.Error("expected error for missing model")
	}
	if _, ok := r.Active(); ok {
		t.Error("rejected config became active")
	}
}

func TestRegistryPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")

	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add(Config{Name: "gemini", Model: "gemini-2.5-flash"}); err != nil {
		t.Fatal(err)
	}
	if err := r.SetActive(Config{Name: "openrouter", APIBase: "https://openrouter.ai/api/v1", Model: "deepseek/deepseek-chat"}); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	active, ok := reloaded.Active()
	if !ok || active.Name != "openrouter" {
		t.Fatalf("reloaded active = %+v, ok = %v", active, ok)
	}
	if len(reloaded.List()) != 2 {
		t.Errorf("reloaded %d providers, want 2", len(reloaded.List()))
	}
}
