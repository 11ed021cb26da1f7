package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MemoryConfig holds long-term memory configuration.
type MemoryConfig struct {
	BaseDir  string `json:"base_dir" yaml:"base_dir"`
	MaxNotes int    `json:"max_notes" yaml:"max_notes"`
}

// Memory manages MEMORY.md and the daily notes directory. Read-mostly;
// writes go through AppendDailyNote.
type Memory struct {
	config MemoryConfig
}

// NewMemory creates a memory manager.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.MaxNotes <= 0 {
		cfg.MaxNotes = 30
	}
	return &Memory{config: cfg}
}

// MemoryPath returns the path to MEMORY.md.
func (m *Memory) MemoryPath() string {
	return filepath.Join(m.config.BaseDir, "MEMORY.md")
}

// TodayNotePath returns the path to today's daily note.
func (m *Memory) TodayNotePath() string {
	date := time.Now().Format("2006-01-02")
	return filepath.Join(m.config.BaseDir, "daily", date+".md")
}

// Read returns the current MEMORY.md content for prompt injection.
func (m *Memory) Read() (string, error) {
	data, err := os.ReadFile(m.MemoryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// RecentDailyNotes returns the last n daily notes, oldest first.
func (m *Memory) RecentDailyNotes(n int) ([]string, error) {
	dir := filepath.Join(m.config.BaseDir, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	// Date-formatted names, lexicographic is chronological
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	start := len(entries) - n
	if start < 0 {
		start = 0
	}

	var notes []string
	for _, e := range entries[start:] {
		if !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		notes = append(notes, fmt.Sprintf("## %s\n%s", strings.TrimSuffix(e.Name(), ".md"), string(data)))
	}
	return notes, nil
}

// AppendDailyNote appends a timestamped entry to today's note.
func (m *Memory) AppendDailyNote(text string) error {
	if err := m.EnsureDirectories(); err != nil {
		return err
	}
	f, err := os.OpenFile(m.TodayNotePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "- %s %s\n", time.Now().Format("15:04"), text)
	return err
}

// Search returns excerpts mentioning the query, MEMORY.md matches first,
// then daily-note matches newest first.
func (m *Memory) Search(query string) ([]string, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	var results []string

	memory, err := m.Read()
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(memory, "\n") {
		if strings.Contains(strings.ToLower(line), needle) {
			results = append(results, line)
		}
	}

	notes, err := m.RecentDailyNotes(m.config.MaxNotes)
	if err != nil {
		return nil, err
	}
	for i := len(notes) - 1; i >= 0; i-- {
		for _, line := range strings.Split(notes[i], "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				results = append(results, line)
			}
		}
	}
	return results, nil
}

// BuildPrompt constructs a memory context block for the system prompt.
func (m *Memory) BuildPrompt() string {
	memory, err := m.Read()
	if err != nil || memory == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("[MEMORY CONTEXT]\n")
	sb.WriteString(memory)

	notes, err := m.RecentDailyNotes(3)
	if err == nil && len(notes) > 0 {
		sb.WriteString("\n\n## Recent Daily Notes\n")
		sb.WriteString(strings.Join(notes, "\n\n"))
	}

	sb.WriteString("\n[END MEMORY CONTEXT]\n\n")
	return sb.String()
}

// EnsureDirectories creates the memory base directory and daily subdirectory.
func (m *Memory) EnsureDirectories() error {
	return os.MkdirAll(filepath.Join(m.config.BaseDir, "daily"), 0o755)
}
