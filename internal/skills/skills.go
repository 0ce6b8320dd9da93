// Package skills discovers SKILL.md definitions in configured directories
// and exposes them to the session system prompt. Skills are descriptive
// only: the runtime advertises their name and description, the model asks
// for the body by reading the file.
package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SkillFilename is the expected filename for skill definitions.
	SkillFilename = "SKILL.md"

	// frontmatterDelimiter marks the beginning and end of YAML frontmatter.
	frontmatterDelimiter = "---"
)

// Skill is one discovered skill.
type Skill struct {
	// Name is the unique skill identifier (lowercase, hyphens allowed).
	Name string `json:"name" yaml:"name"`

	// Description explains what the skill does and when to use it.
	Description string `json:"description" yaml:"description"`

	// Path is the SKILL.md file the skill was parsed from.
	Path string `json:"path" yaml:"-"`

	// Source is the configured directory the skill was found under.
	Source string `json:"source" yaml:"-"`
}

// ParseFile parses a SKILL.md file.
func ParseFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill: %w", err)
	}
	skill, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	skill.Path = path
	return skill, nil
}

// Parse parses SKILL.md content: YAML frontmatter with name and description,
// followed by a markdown body the parser ignores.
func Parse(data []byte) (*Skill, error) {
	frontmatter, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	var skill Skill
	if err := yaml.Unmarshal(frontmatter, &skill); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if skill.Name == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	if skill.Description == "" {
		return nil, fmt.Errorf("skill description is required")
	}
	return &skill, nil
}

func splitFrontmatter(data []byte) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var lines []string
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == frontmatterDelimiter {
			return []byte(strings.Join(lines, "\n")), nil
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("missing closing frontmatter delimiter")
}

// discoverDir finds skills under dir: a SKILL.md directly inside it or one
// per immediate subdirectory.
func discoverDir(dir string) []*Skill {
	var out []*Skill
	if skill, err := ParseFile(filepath.Join(dir, SkillFilename)); err == nil {
		skill.Source = dir
		out = append(out, skill)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skill, err := ParseFile(filepath.Join(dir, entry.Name(), SkillFilename))
		if err != nil {
			continue
		}
		skill.Source = dir
		out = append(out, skill)
	}
	return out
}
