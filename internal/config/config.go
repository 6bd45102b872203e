// Package config loads the runtime's YAML configuration and overlays
// environment-variable secrets on top of it. The config surface here is
// small enough to live in a single file with no $include support.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	APIPort     int    `yaml:"apiPort"`
	MCPPort     int    `yaml:"mcpPort"`
	MemoryPort  int    `yaml:"memoryPort"`
	KVURL       string `yaml:"kvUrl"`
	LLMAPIKey   string `yaml:"-"`
	InternalKey string `yaml:"-"`
	JWTSecret   string `yaml:"-"`

	DefaultModel     string        `yaml:"defaultModel"`
	SkillsDir        string        `yaml:"skillsDir"`
	ApprovalPolicy   string        `yaml:"approvalPolicy"`
	DefaultPrompt    string        `yaml:"defaultSystemPrompt"`
	HeartbeatEvery   time.Duration `yaml:"-"`
	MaxSessionsPerClient int        `yaml:"maxSessionsPerClient"`
}

// Default returns the runtime's default configuration before file/env
// overlay.
func Default() Config {
	return Config{
		APIPort:              8900,
		MCPPort:              8901,
		MemoryPort:           8902,
		KVURL:                "localhost:6379",
		DefaultModel:         "claude-sonnet-4-20250514",
		SkillsDir:            "./skills",
		ApprovalPolicy:       "destructive",
		DefaultPrompt:        "You are a helpful autonomous agent.",
		HeartbeatEvery:       30 * time.Second,
		MaxSessionsPerClient: 5,
	}
}

// Load reads a YAML file (if path is non-empty and exists) over the
// defaults, then overlays environment variables so secrets never need to
// live in the file on disk.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	overlayEnv(&cfg)
	return cfg, cfg.Validate()
}

func overlayEnv(cfg *Config) {
	if v := os.Getenv("API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APIPort = n
		}
	}
	if v := os.Getenv("MCP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MCPPort = n
		}
	}
	if v := os.Getenv("MEMORY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MemoryPort = n
		}
	}
	if v := os.Getenv("KV_URL"); v != "" {
		cfg.KVURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("API_KEY_INTERNAL"); v != "" {
		cfg.InternalKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
}

// Validate reports a configuration error, which the CLI surfaces as a
// non-zero exit code before any component starts.
func (c Config) Validate() error {
	if c.KVURL == "" {
		return fmt.Errorf("config: KV_URL is required")
	}
	if c.LLMAPIKey == "" {
		return fmt.Errorf("config: LLM_API_KEY is required")
	}
	if c.InternalKey == "" {
		return fmt.Errorf("config: API_KEY_INTERNAL is required")
	}
	return nil
}
