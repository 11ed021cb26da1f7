// Package session persists conversation history as append-only JSONL logs,
// one file per conversation, plus the long-term memory documents.
package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/okabe-dev/porter/pkg/envelope"
)

// Store reads and writes conversation logs. Loads are cached for the
// process lifetime; appends are all-or-nothing per exchange.
type Store struct {
	baseDir string

	mu    sync.Mutex
	cache map[string][]envelope.Envelope
}

// NewStore creates a store rooted at baseDir (one .jsonl file per
// conversation underneath it).
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir: baseDir,
		cache:   make(map[string][]envelope.Envelope),
	}
}

// filePath maps a conversation id to its log file. Conversation ids embed
// the channel name ("discord:123"), so the separator is made path-safe.
func (s *Store) filePath(conversationID string) string {
	name := strings.NewReplacer(":", "_", "/", "_").Replace(conversationID)
	return filepath.Join(s.baseDir, name+".jsonl")
}

// Append writes the envelopes of one completed exchange. The lines are
// assembled first and written with a single call so a failed exchange never
// leaves a partial record.
func (s *Store) Append(conversationID string, envelopes []envelope.Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	var buf strings.Builder
	for _, env := range envelopes {
		line, err := json.Marshal(env)
		if err != nil {
			return errors.Wrap(err, "encode session record")
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return errors.Wrap(err, "create session dir")
	}
	f, err := os.OpenFile(s.filePath(conversationID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open session log")
	}
	defer f.Close()

	if _, err := f.WriteString(buf.String()); err != nil {
		return errors.Wrap(err, "append session log")
	}

	if cached, ok := s.cache[conversationID]; ok {
		s.cache[conversationID] = append(cached, envelopes...)
	}
	return nil
}

// Load returns the full history for a conversation, reading the log file
// on first access and serving from cache afterwards.
func (s *Store) Load(conversationID string) ([]envelope.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[conversationID]; ok {
		out := make([]envelope.Envelope, len(cached))
		copy(out, cached)
		return out, nil
	}

	f, err := os.Open(s.filePath(conversationID))
	if os.IsNotExist(err) {
		s.cache[conversationID] = nil
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "open session log")
	}
	defer f.Close()

	var history []envelope.Envelope
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var env envelope.Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			// A torn trailing line from a crash is skipped, not fatal.
			continue
		}
		history = append(history, env)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read session log")
	}

	s.cache[conversationID] = history
	out := make([]envelope.Envelope, len(history))
	copy(out, history)
	return out, nil
}

// Clear removes a conversation's history. Explicit user action only.
func (s *Store) Clear(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, conversationID)
	err := os.Remove(s.filePath(conversationID))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove session log")
	}
	return nil
}

// List returns the conversation ids that have history on disk.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session dir")
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".jsonl") {
			out = append(out, strings.TrimSuffix(name, ".jsonl"))
		}
	}
	return out, nil
}
