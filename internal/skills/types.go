// Package skills implements file-based skill bundle discovery, metadata
// validation, trigger matching, and hot-reload. A bundle is a directory
// holding a SKILL.md whose YAML frontmatter declares how it runs and which
// tools and triggers it owns.
package skills

// Type discriminates how a bundle's handler is executed.
type Type string

const (
	// TypeAutonomous runs the bundle's content as the system-prompt
	// preamble for a full nested Agent Loop, scoped to the bundle's
	// declared tools — for tasks needing multi-turn reasoning and tool
	// use.
	TypeAutonomous Type = "autonomous"

	// TypeProcedural runs a single Brain completion over the bundle's
	// content and the task, with no tool loop — for fixed, single-pass
	// responses.
	TypeProcedural Type = "procedural"
)

// Metadata is a bundle's YAML frontmatter.
type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Type        Type     `yaml:"type"`
	Tools       []string `yaml:"tools"`
	Triggers    []string `yaml:"triggers"`
	Tier        string   `yaml:"tier"`
	MaxTurns    int      `yaml:"maxTurns"`
	MaxTokens   int      `yaml:"maxTokens"`
	TimeoutMs   int      `yaml:"timeoutMs"`
}

// Bundle is one discovered, parsed skill.
type Bundle struct {
	Metadata
	Content string // markdown body, used as the handler's system-prompt preamble
	Path    string // source directory

	matchers []triggerMatcher
}
