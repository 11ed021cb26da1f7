// Package skill loads SKILL.md documents from the assistant workspace and
// builds the catalog injected into the agent context.
package skill

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is a parsed SKILL.md document.
type Skill struct {
	Name         string   // from frontmatter or directory name
	Description  string   // from frontmatter or first paragraph
	AllowedTools []string // empty = all tools
	Content      string   // markdown body after frontmatter
	SourcePath   string
}

type frontmatter struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	AllowedTools string `yaml:"allowed-tools"`
}

// Parse parses SKILL.md content: optional YAML frontmatter between "---"
// delimiters, then a markdown body.
func Parse(data []byte, sourcePath string) (*Skill, error) {
	content := string(data)
	s := &Skill{SourcePath: sourcePath}

	trimmed := strings.TrimLeft(content, " \t\n\r")
	if strings.HasPrefix(trimmed, "---") {
		afterFirst := trimmed[3:]
		idx := strings.Index(afterFirst, "\n")
		if idx < 0 {
			return s.withDefaults(), nil
		}
		afterFirst = afterFirst[idx+1:]

		closingIdx := strings.Index(afterFirst, "\n---")
		if closingIdx < 0 {
			// No closing delimiter, treat the whole file as markdown
			s.Content = content
			return s.withDefaults(), nil
		}

		yamlBlock := afterFirst[:closingIdx]
		rest := afterFirst[closingIdx+4:]
		if nl := strings.Index(rest, "\n"); nl >= 0 {
			s.Content = rest[nl+1:]
		}

		var fm frontmatter
		if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
			return nil, fmt.Errorf("parse skill frontmatter: %w", err)
		}
		s.Name = fm.Name
		s.Description = fm.Description
		for _, part := range strings.Split(fm.AllowedTools, ",") {
			if part = strings.TrimSpace(part); part != "" {
				s.AllowedTools = append(s.AllowedTools, part)
			}
		}
		return s.withDefaults(), nil
	}

	s.Content = content
	return s.withDefaults(), nil
}

func (s *Skill) withDefaults() *Skill {
	if s.Name == "" {
		s.Name = filepath.Base(filepath.Dir(s.SourcePath))
	}
	if s.Description == "" && s.Content != "" {
		paragraphs := strings.SplitN(strings.TrimSpace(s.Content), "\n\n", 2)
		s.Description = strings.TrimSpace(paragraphs[0])
	}
	return s
}

// Allows reports whether the skill permits a tool. An empty allow list
// permits everything.
func (s *Skill) Allows(toolName string) bool {
	if len(s.AllowedTools) == 0 {
		return true
	}
	for _, name := range s.AllowedTools {
		if name == toolName {
			return true
		}
	}
	return false
}

// Map indexes skills by lowercase name.
type Map map[string]*Skill

// BuildCatalog generates the skill listing for system prompt injection.
func BuildCatalog(skills Map) string {
	if len(skills) == 0 {
		return ""
	}

	names := make([]string, 0, len(skills))
	for name := range skills {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Available Skills\n\n")
	for _, name := range names {
		desc := skills[name].Description
		if desc == "" {
			desc = "(no description)"
		}
		b.WriteString(fmt.Sprintf("- **%s**: %s\n", name, desc))
	}
	return b.String()
}
