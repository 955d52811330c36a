// Package config loads the YAML configuration describing agents, their
// HTTP-backed tools, storage, and logging.
package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"chatloop/logging"
	"chatloop/tool"
)

// ModelConfig selects a provider and its generation parameters.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
}

// HTTPToolConfig declares one HTTP-backed tool.
type HTTPToolConfig struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	URL         string            `yaml:"url"`
	Method      string            `yaml:"method"`
	Headers     map[string]string `yaml:"headers"`
	Schema      map[string]any    `yaml:"schema"`
}

// AgentConfig describes one agent.
type AgentConfig struct {
	Name             string           `yaml:"name"`
	SystemPrompts    []string         `yaml:"system_prompts"`
	MaxLookupHistory int              `yaml:"max_lookup_history"`
	UseBuiltinTools  *bool            `yaml:"use_builtin_tools"`
	Model            ModelConfig      `yaml:"model"`
	Tools            []HTTPToolConfig `yaml:"tools"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration document.
type Config struct {
	DefaultAgent string        `yaml:"default_agent"`
	Agents       []AgentConfig `yaml:"agents"`
	Storage      StorageConfig `yaml:"storage"`
	Logging      LoggingConfig `yaml:"logging"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads and validates a configuration document.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: at least one agent is required")
	}
	seen := map[string]bool{}
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("config: agent %d has no name", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("config: duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true
		for _, t := range a.Tools {
			if t.Name == "" {
				return fmt.Errorf("config: agent %q has a tool without a name", a.Name)
			}
			if t.URL == "" {
				return fmt.Errorf("config: tool %q has no url", t.Name)
			}
		}
	}
	if c.DefaultAgent != "" && !seen[c.DefaultAgent] {
		return fmt.Errorf("config: default agent %q is not defined", c.DefaultAgent)
	}
	return nil
}

// Agent returns the named agent, or the default one when name is empty.
func (c *Config) Agent(name string) (AgentConfig, error) {
	if name == "" {
		name = c.DefaultAgent
	}
	if name == "" && len(c.Agents) > 0 {
		return c.Agents[0], nil
	}
	for _, a := range c.Agents {
		if a.Name == name {
			return a, nil
		}
	}
	return AgentConfig{}, fmt.Errorf("config: agent %q is not defined", name)
}

// BuildTools converts the agent's HTTP tool declarations into tools ready
// for registration.
func (a AgentConfig) BuildTools() []tool.Tool {
	tools := make([]tool.Tool, 0, len(a.Tools))
	for _, t := range a.Tools {
		id := t.ID
		if id == "" {
			id = "http:" + t.Name
		}
		tools = append(tools, tool.NewHTTPTool(id, t.Name, t.Title, t.Description, t.Schema, tool.HTTPToolSpec{
			URL:     t.URL,
			Method:  t.Method,
			Headers: t.Headers,
		}))
	}
	return tools
}

// LogLevel maps the configured level to the logging package's scale,
// defaulting to info.
func (l LoggingConfig) LogLevel() logging.LogLevel {
	switch l.Level {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
