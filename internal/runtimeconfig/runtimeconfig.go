// Package runtimeconfig loads the lifemodel-core runtime's single root
// Config, composing the per-subsystem config structs the way the teacher's
// internal/config.Config composes ServerConfig, CronConfig, memory.Config,
// and friends.
package runtimeconfig

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shady2k/lifemodel/internal/container"
	"github.com/shady2k/lifemodel/internal/energy"
	"github.com/shady2k/lifemodel/internal/loop"
	"github.com/shady2k/lifemodel/internal/memory"
	"github.com/shady2k/lifemodel/internal/wake"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the lifemodel-core runtime.
type Config struct {
	Recipients   []string      `yaml:"recipients"`
	TickInterval time.Duration `yaml:"tick_interval"`

	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Logging  LoggingConfig  `yaml:"logging"`

	Energy    energy.Config    `yaml:"energy"`
	Wake      wake.Config      `yaml:"wake"`
	Loop      loop.Config      `yaml:"loop"`
	Container container.Config `yaml:"container"`
	Memory    memory.Config    `yaml:"memory"`

	Skills []SkillConfig `yaml:"skills"`
}

// DatabaseConfig locates the SQLite files backing durable state. Empty
// paths fall back to in-memory stores, which is the default for local runs
// and tests.
type DatabaseConfig struct {
	SchedulePath string `yaml:"schedule_path"`
	MemoryPath   string `yaml:"memory_path"`
}

// LLMConfig selects and authenticates the completion provider the agentic
// loop runs against.
type LLMConfig struct {
	Provider     string `yaml:"provider"` // "anthropic" or "openai"
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// LoggingConfig controls the root slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// SkillConfig describes one container.SkillTool to register against the
// tools registry at startup.
type SkillConfig struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Command        string   `yaml:"command"`
	WorkspaceDir   string   `yaml:"workspace_dir"`
	AllowedDomains []string `yaml:"allowed_domains"`
	TimeoutMs      int      `yaml:"timeout_ms"`
}

// Load reads, expands, decodes, and defaults a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runtimeconfig: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("runtimeconfig: parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("runtimeconfig: expected a single YAML document")
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.Energy.MaxEnergy == 0 {
		cfg.Energy = energy.DefaultConfig()
	}
	if cfg.Wake.ContactUrgeBaseThreshold == 0 {
		cfg.Wake = wake.DefaultConfig()
	}
	if cfg.Loop.MaxIterations == 0 {
		cfg.Loop = loop.DefaultConfig()
	}
	if cfg.Container.Image == "" {
		cfg.Container = container.DefaultConfig()
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	if len(cfg.Recipients) == 0 {
		return fmt.Errorf("runtimeconfig: at least one recipient is required")
	}
	switch cfg.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("runtimeconfig: unsupported llm provider %q", cfg.LLM.Provider)
	}
	return nil
}
