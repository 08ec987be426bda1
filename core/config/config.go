// Package config loads server configuration from a YAML file, environment
// variables, and defaults, in that order of increasing precedence for
// defaults and decreasing for explicit values: file beats env beats
// defaults only where the file actually sets a value.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/casehub/core/providers"
)

var (
	// ErrMissingWorkspace indicates no workspace root was configured.
	ErrMissingWorkspace = errors.New("workspace root is required")
)

// Config is the full server configuration.
type Config struct {
	Workspace WorkspaceConfig  `yaml:"workspace"`
	Server    ServerConfig     `yaml:"server"`
	Watcher   WatcherConfig    `yaml:"watcher"`
	Providers providers.Config `yaml:"providers"`
	Tickets   TicketsConfig    `yaml:"tickets"`
}

// WorkspaceConfig locates the on-disk workspace.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WatcherConfig tunes change detection.
type WatcherConfig struct {
	Debounce        time.Duration `yaml:"debounce"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ExcludePatterns []string      `yaml:"exclude_patterns"`
}

// TicketsConfig configures the external ticket system.
type TicketsConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Email         string        `yaml:"email"`
	APIToken      string        `yaml:"api_token"`
	ProjectPrefix string        `yaml:"project_prefix"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    uint64        `yaml:"max_retries"`
}

// Load reads configuration from path (optional) and overlays environment
// variables and defaults. An empty path loads from env and defaults alone.
// Callers apply any flag overrides and then Validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Workspace.Root == "" {
		c.Workspace.Root = os.Getenv("CASEHUB_WORKSPACE")
	}
	if c.Tickets.BaseURL == "" {
		c.Tickets.BaseURL = os.Getenv("ATLASSIAN_BASE_URL")
	}
	if c.Tickets.Email == "" {
		c.Tickets.Email = os.Getenv("ATLASSIAN_EMAIL")
	}
	if c.Tickets.APIToken == "" {
		c.Tickets.APIToken = os.Getenv("ATLASSIAN_API_TOKEN")
	}
	c.Providers.ApplyEnv()
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5001
	}
	if c.Tickets.ProjectPrefix == "" {
		c.Tickets.ProjectPrefix = "SCRS-"
	}
	c.Providers.ApplyDefaults()
}

// Validate checks the configuration is coherent.
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return ErrMissingWorkspace
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Watcher.Debounce < 0 {
		return fmt.Errorf("debounce cannot be negative")
	}
	if c.Watcher.PollInterval < 0 {
		return fmt.Errorf("poll interval cannot be negative")
	}
	return nil
}
