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
	// BundleFilename is the expected filename for a skill bundle.
	BundleFilename = "SKILL.md"

	frontmatterDelimiter = "---"
)

// ParseFile reads and parses a SKILL.md file at path.
func ParseFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse splits frontmatter from a SKILL.md body and builds a Bundle.
func Parse(data []byte, path string) (*Bundle, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var meta Metadata
	if err := yaml.Unmarshal(frontmatter, &meta); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	b := &Bundle{Metadata: meta, Content: strings.TrimSpace(string(body)), Path: path}
	if err := validateMetadata(&b.Metadata); err != nil {
		return nil, err
	}
	if err := b.compileTriggers(); err != nil {
		return nil, err
	}
	return b, nil
}

func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty bundle")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		frontLines = append(frontLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	return []byte(strings.Join(frontLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

func validateMetadata(m *Metadata) error {
	if m.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	for _, r := range m.Name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("skill name must be lowercase alphanumeric with hyphens: got %q", m.Name)
		}
	}
	if m.Description == "" {
		return fmt.Errorf("skill %q: description is required", m.Name)
	}
	switch m.Type {
	case TypeAutonomous, TypeProcedural:
	case "":
		m.Type = TypeProcedural
	default:
		return fmt.Errorf("skill %q: unknown type %q", m.Name, m.Type)
	}
	if m.MaxTurns < 0 || m.MaxTokens < 0 || m.TimeoutMs < 0 {
		return fmt.Errorf("skill %q: maxTurns/maxTokens/timeoutMs must not be negative", m.Name)
	}
	return nil
}

// ValidateTools checks that every tool the bundle declares exists in names.
// A bundle referencing an unregistered tool is rejected at load time rather
// than failing the first time an agent tries to invoke it.
func (b *Bundle) ValidateTools(names func(string) bool) error {
	for _, tool := range b.Tools {
		if !names(tool) {
			return fmt.Errorf("skill %q: unknown tool %q", b.Name, tool)
		}
	}
	return nil
}
