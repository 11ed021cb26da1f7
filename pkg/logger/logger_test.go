package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestFanoutDuplicatesRecords(t *testing.T) {
	var a, b bytes.Buffer
	f := fanout{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}

	log := slog.New(f)
	log.Info("hello", "key", "value")

	for name, buf := range map[string]*bytes.Buffer{"first": &a, "second": &b} {
		if !strings.Contains(buf.String(), "hello") || !strings.Contains(buf.String(), "key=value") {
			t.Errorf("%s handler missed the record: %q", name, buf.String())
		}
	}
}

func TestFanoutRespectsHandlerLevels(t *testing.T) {
	var quiet, verbose bytes.Buffer
	f := fanout{
		slog.NewTextHandler(&quiet, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&verbose, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}

	if !f.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("fanout must be enabled when any handler is")
	}

	log := slog.New(f)
	log.Debug("noise")
	if quiet.Len() != 0 {
		t.Errorf("error-level handler received a debug record: %q", quiet.String())
	}
	if !strings.Contains(verbose.String(), "noise") {
		t.Errorf("debug-level handler missed the record: %q", verbose.String())
	}
}

func TestFanoutWithAttrsBindsToAllHandlers(t *testing.T) {
	var a, b bytes.Buffer
	f := fanout{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	}

	log := slog.New(f).With("component", "test")
	log.Info("bound")

	for _, buf := range []*bytes.Buffer{&a, &b} {
		if !strings.Contains(buf.String(), "component=test") {
			t.Errorf("bound attribute missing: %q", buf.String())
		}
	}
}
