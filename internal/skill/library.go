package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Library serves skills from the workspace skills directory, reloading
// when the directory changes.
type Library struct {
	dir string

	mu      sync.Mutex
	skills  Map
	modTime time.Time
	loaded  bool
}

// NewLibrary creates a library over dir. The directory may not exist yet.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// Skills returns the current skill map, reloading if the directory's
// mtime moved since the last load.
func (l *Library) Skills() (Map, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.dir)
	if os.IsNotExist(err) {
		l.skills = Map{}
		l.loaded = true
		return l.skills, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat skills dir: %w", err)
	}

	if l.loaded && info.ModTime().Equal(l.modTime) {
		return l.skills, nil
	}

	skills, err := loadFromDir(l.dir)
	if err != nil {
		return nil, err
	}
	l.skills = skills
	l.modTime = info.ModTime()
	l.loaded = true
	return skills, nil
}

// Get returns a skill by name, case-insensitive.
func (l *Library) Get(name string) (*Skill, bool) {
	skills, err := l.Skills()
	if err != nil {
		return nil, false
	}
	s, ok := skills[strings.ToLower(name)]
	return s, ok
}

// Catalog returns the prompt-ready catalog of the current skills.
func (l *Library) Catalog() string {
	skills, err := l.Skills()
	if err != nil {
		return ""
	}
	return BuildCatalog(skills)
}

// loadFromDir reads one skill per subdirectory containing a SKILL.md.
func loadFromDir(dir string) (Map, error) {
	result := make(Map)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read skills dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillFile := filepath.Join(dir, entry.Name(), "SKILL.md")
		data, err := os.ReadFile(skillFile)
		if err != nil {
			continue
		}
		s, err := Parse(data, skillFile)
		if err != nil {
			return nil, fmt.Errorf("parse skill %s: %w", skillFile, err)
		}
		result[strings.ToLower(s.Name)] = s
	}
	return result, nil
}
