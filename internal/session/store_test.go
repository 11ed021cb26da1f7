package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/okabe-dev/porter/pkg/envelope"
)

func TestAppendAndLoad(t *testing.T) {
	s := NewStore(t.TempDir())
	conv := "telegram:42"

	user := envelope.NewUser("telegram", conv, "hello")
	agent := envelope.NewAgent("telegram", conv, "hi there")
	agent.Final = true

	if err := s.Append(conv, []envelope.Envelope{user, agent}); err != nil {
		t.Fatal(err)
	}

	history, err := s.Load(conv)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("loaded %d envelopes, want 2", len(history))
	}
	if history[0].Role != envelope.RoleUser || history[0].Content != "hello" {
		t.Errorf("first record = %+v", history[0])
	}
	if history[1].Role != envelope.RoleAgent || !history[1].Final {
		t.Errorf("second record = %+v", history[1])
	}
}

func TestLoadSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	conv := "discord:7"

	s1 := NewStore(dir)
	if err := s1.Append(conv, []envelope.Envelope{envelope.NewUser("discord", conv, "persisted")}); err != nil {
		t.Fatal(err)
	}

	// A fresh store reads back from disk.
	s2 := NewStore(dir)
	history, err := s2.Load(conv)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "persisted" {
		t.Fatalf("history = %+v", history)
	}
}

func TestAppendUpdatesCache(t *testing.T) {
	s := NewStore(t.TempDir())
	conv := "telegram:1"

	if _, err := s.Load(conv); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(conv, []envelope.Envelope{envelope.NewUser("telegram", conv, "one")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(conv, []envelope.Envelope{envelope.NewUser("telegram", conv, "two")}); err != nil {
		t.Fatal(err)
	}

	history, err := s.Load(conv)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("loaded %d envelopes, want 2", len(history))
	}
	if history[0].Content != "one" || history[1].Content != "two" {
		t.Errorf("order wrong: %+v", history)
	}
}

func TestClear(t *testing.T) {
	s := NewStore(t.TempDir())
	conv := "telegram:9"

	if err := s.Append(conv, []envelope.Envelope{envelope.NewUser("telegram", conv, "bye")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(conv); err != nil {
		t.Fatal(err)
	}
	history, err := s.Load(conv)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("history after clear: %+v", history)
	}

	// Clearing an unknown conversation is not an error.
	if err := s.Clear("never:seen"); err != nil {
		t.Error(err)
	}
}

func TestTornTrailingLineSkipped(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	conv := "telegram:3"

	if err := s.Append(conv, []envelope.Envelope{envelope.NewUser("telegram", conv, "good")}); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-write.
	path := filepath.Join(dir, "telegram_3.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"id":"truncat`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	history, err := NewStore(dir).Load(conv)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "good" {
		t.Fatalf("history = %+v", history)
	}
}

func TestMemorySearch(t *testing.T) {
	dir := t.TempDir()
	m := NewMemory(MemoryConfig{BaseDir: dir})
	if err := m.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(m.MemoryPath(), []byte("User prefers metric units.\nBirthday: May 4.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendDailyNote("discussed birthday plans"); err != nil {
		t.Fatal(err)
	}

	results, err := m.Search("birthday")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %v", len(results), results)
	}
	if results[0] != "Birthday: May 4." {
		t.Errorf("memory document match should rank first, got %q", results[0])
	}

	if results, _ := m.Search(""); results != nil {
		t.Error("empty query should return nothing")
	}
}
