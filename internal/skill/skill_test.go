package skill

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseWithFrontmatter(t *testing.T) {
	data := []byte(`---
name: reminders
description: Manage reminders and timers
allowed-tools: schedule, list_schedules
---
# Reminders

Use the scheduler to set reminders.
`)
	s, err := Parse(data, "/skills/reminders/SKILL.md")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "reminders" {
		t.Errorf("Name = %q", s.Name)
	}
	if s.Description != "Manage reminders and timers" {
		t.Errorf("Description = %q", s.Description)
	}
	if len(s.AllowedTools) != 2 || s.AllowedTools[0] != "schedule" {
		t.Errorf("AllowedTools = %v", s.AllowedTools)
	}
	if !strings.Contains(s.Content, "# Reminders") {
		t.Errorf("Content = %q", s.Content)
	}
}

func TestParseWithoutFrontmatter(t *testing.T) {
	data := []byte("Helps with shopping lists.\n\nMore detail here.\n")
	s, err := Parse(data, "/skills/shopping/SKILL.md")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "shopping" {
		t.Errorf("Name = %q, want directory default", s.Name)
	}
	if s.Description != "Helps with shopping lists." {
		t.Errorf("Description = %q", s.Description)
	}
}

func TestParseBadFrontmatter(t *testing.T) {
	data := []byte("---\nname: [broken\n---\nbody\n")
	if _, err := Parse(data, "/skills/x/SKILL.md"); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestAllows(t *testing.T) {
	open := &Skill{}
	if !open.Allows("anything") {
		t.Error("empty allow list should permit all tools")
	}
	restricted := &Skill{AllowedTools: []string{"search_memory"}}
	if !restricted.Allows("search_memory") || restricted.Allows("schedule") {
		t.Error("allow list not enforced")
	}
}

func writeSkill(t *testing.T, dir, name, body string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLibraryLoadsAndReloads(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "notes", "Take notes.\n")

	lib := NewLibrary(dir)
	skills, err := lib.Skills()
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 1 {
		t.Fatalf("loaded %d skills, want 1", len(skills))
	}

	// Bump the directory mtime past filesystem resolution, then add a skill.
	writeSkill(t, dir, "recipes", "Find recipes.\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(dir, future, future); err != nil {
		t.Fatal(err)
	}

	skills, err = lib.Skills()
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 2 {
		t.Errorf("after reload: %d skills, want 2", len(skills))
	}
	if _, ok := lib.Get("Recipes"); !ok {
		t.Error("Get should be case-insensitive")
	}
}

func TestLibraryMissingDir(t *testing.T) {
	lib := NewLibrary(filepath.Join(t.TempDir(), "absent"))
	skills, err := lib.Skills()
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 0 {
		t.Errorf("got %d skills from missing dir", len(skills))
	}
	if lib.Catalog() != "" {
		t.Error("catalog of empty library should be empty")
	}
}

func TestBuildCatalogSorted(t *testing.T) {
	m := Map{
		"b-skill": {Name: "b-skill", Description: "second"},
		"a-skill": {Name: "a-skill", Description: "first"},
	}
	catalog := BuildCatalog(m)
	if strings.Index(catalog, "a-skill") > strings.Index(catalog, "b-skill") {
		t.Error("catalog not sorted by name")
	}
}
