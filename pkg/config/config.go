package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the runtime configuration.
type Config struct {
	// Server
	Port  int  `yaml:"port"`
	Debug bool `yaml:"debug"`

	// Control plane
	ControlPlaneURL string `yaml:"control_plane_url"`
	APIKey          string `yaml:"api_key"`

	// Reply correlation
	ReplyTTL  string `yaml:"reply_ttl"` // e.g. "5m"
	RedisAddr string `yaml:"redis_addr"`

	// Tracing
	Tracing TracingConfig `yaml:"tracing"`

	// Agents hosted by this process
	Agents []AgentConfig `yaml:"agents"`
}

// TracingConfig controls the trace exporter.
type TracingConfig struct {
	Exporter    string `yaml:"exporter"` // otlp, stdout, none
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// AgentConfig holds the declaration for a single hosted agent.
type AgentConfig struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	ProjectID   string         `yaml:"project_id"`
	Schedule    string         `yaml:"schedule"` // cron expression, empty = no schedule
	Prompts     []PromptConfig `yaml:"prompts"`
}

// PromptConfig is one example prompt advertised on the welcome endpoint.
type PromptConfig struct {
	Data        string `yaml:"data"`
	ContentType string `yaml:"content_type"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		if p, err := strconv.Atoi(os.Getenv("AGENTUITY_PORT")); err == nil {
			c.Port = p
		} else {
			c.Port = 3500
		}
	}
	if c.ControlPlaneURL == "" {
		c.ControlPlaneURL = os.Getenv("AGENTUITY_TRANSPORT_URL")
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("AGENTUITY_API_KEY")
	}
	if c.RedisAddr == "" {
		c.RedisAddr = os.Getenv("AGENTUITY_REDIS_ADDR")
	}
	if !c.Debug {
		c.Debug = os.Getenv("AGENTUITY_DEBUG") == "true"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
	for i := range c.Agents {
		for j := range c.Agents[i].Prompts {
			if c.Agents[i].Prompts[j].ContentType == "" {
				c.Agents[i].Prompts[j].ContentType = "text/plain"
			}
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent %q: id is required", a.Name)
		}
		if a.Name == "" {
			return fmt.Errorf("agent %q: name is required", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}

	return nil
}

// ReplyTTLDuration parses ReplyTTL. Zero means use the correlator default.
func (c *Config) ReplyTTLDuration() (time.Duration, error) {
	if c.ReplyTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ReplyTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid reply_ttl %q: %w", c.ReplyTTL, err)
	}
	return d, nil
}

// Agent returns the configured agent with the given id, or nil.
func (c *Config) Agent(id string) *AgentConfig {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i]
		}
	}
	return nil
}
