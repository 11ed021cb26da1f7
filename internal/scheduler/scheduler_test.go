package scheduler

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okabe-dev/porter/internal/bus"
	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewLoggerWithConsoleWriter(logger.LogLevelError, io.Discard)
}

func TestScheduleListRemove(t *testing.T) {
	b := bus.NewMessageBus(testLogger())
	defer b.Close()

	s, err := New(b, testLogger(), "")
	if err != nil {
		t.Fatal(err)
	}

	id, err := s.Schedule("0 9 * * *", "telegram:42", "morning briefing")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty job id")
	}

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if !strings.Contains(entries[0], "morning briefing") || !strings.Contains(entries[0], "telegram:42") {
		t.Errorf("entry = %q", entries[0])
	}

	if !s.Remove(id) {
		t.Error("remove of existing job failed")
	}
	if s.Remove(id) {
		t.Error("second remove should report missing")
	}
	if len(s.Entries()) != 0 {
		t.Error("entries not empty after remove")
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	b := bus.NewMessageBus(testLogger())
	defer b.Close()

	s, err := New(b, testLogger(), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule("not a cron spec", "telegram:1", "x"); err == nil {
		t.Error("bad cron spec accepted")
	}
}

func TestJobsSurviveRestart(t *testing.T) {
	b := bus.NewMessageBus(testLogger())
	defer b.Close()
	path := filepath.Join(t.TempDir(), "jobs.json")

	s1, err := New(b, testLogger(), path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s1.Schedule("*/5 * * * *", "discord:7", "check the queue")
	if err != nil {
		t.Fatal(err)
	}

	s2, err := New(b, testLogger(), path)
	if err != nil {
		t.Fatal(err)
	}
	entries := s2.Entries()
	if len(entries) != 1 {
		t.Fatalf("restored %d jobs, want 1", len(entries))
	}
	if !strings.Contains(entries[0], id) {
		t.Errorf("restored entry lost its id: %q", entries[0])
	}
}

func TestFirePublishesSyntheticInbound(t *testing.T) {
	b := bus.NewMessageBus(testLogger())
	defer b.Close()
	inbound := b.SubscribeInbound()

	s, err := New(b, testLogger(), "")
	if err != nil {
		t.Fatal(err)
	}
	s.fire(&Job{ID: "abc123", ConversationID: "telegram:42", Prompt: "water the plants"})

	select {
	case env := <-inbound:
		if env.Role != envelope.RoleUser {
			t.Errorf("role = %s, want user", env.Role)
		}
		if env.ChannelID != "telegram" {
			t.Errorf("channel = %q, want telegram", env.ChannelID)
		}
		if env.Content != "water the plants" {
			t.Errorf("content = %q", env.Content)
		}
		if env.Metadata["scheduled"] != "abc123" {
			t.Errorf("metadata = %v", env.Metadata)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound envelope published")
	}
}

func TestChannelOf(t *testing.T) {
	tests := []struct {
		conversation string
		want         string
	}{
		{"telegram:42", "telegram"},
		{"discord:abc", "discord"},
		{"plain", envelope.ChannelInternal},
		{":odd", envelope.ChannelInternal},
	}
	for _, tt := range tests {
		if got := channelOf(tt.conversation); got != tt.want {
			t.Errorf("channelOf(%q) = %q, want %q", tt.conversation, got, tt.want)
		}
	}
}

func TestHeartbeatSkipsEmptyChecklist(t *testing.T) {
	b := bus.NewMessageBus(testLogger())
	defer b.Close()
	inbound := b.SubscribeInbound()

	path := filepath.Join(t.TempDir(), "HEARTBEAT.md")
	h := NewHeartbeat(b, testLogger(), path, "telegram:1", time.Hour)

	// Missing file, then an empty one: neither should publish.
	h.beat()
	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.beat()

	select {
	case env := <-inbound:
		t.Fatalf("unexpected envelope: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("- check backups\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.beat()

	select {
	case env := <-inbound:
		if !strings.Contains(env.Content, "check backups") {
			t.Errorf("content = %q", env.Content)
		}
		if env.Metadata["heartbeat"] != "true" {
			t.Errorf("metadata = %v", env.Metadata)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat envelope published")
	}
}
