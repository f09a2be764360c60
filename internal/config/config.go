// Package config loads and validates the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kiarashplusplus/fiml/internal/provider"
)

// Config is the complete process configuration.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Logging   LoggingConfig     `yaml:"logging"`
	Engine    EngineConfig      `yaml:"engine"`
	Providers []provider.Config `yaml:"providers"`
}

// ServerConfig holds the HTTP/websocket listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds the zerolog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// EngineConfig holds arbitration defaults.
type EngineConfig struct {
	UserRegion          string  `yaml:"user_region"`
	MaxStalenessSeconds float64 `yaml:"max_staleness_seconds"`
}

// Load reads, expands and validates the configuration file. Credential
// fields support ${ENV_VAR} interpolation so keys stay out of the file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Engine.UserRegion == "" {
		c.Engine.UserRegion = "US"
	}
	if c.Engine.MaxStalenessSeconds <= 0 {
		c.Engine.MaxStalenessSeconds = 300
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.RateLimitPerMinute <= 0 {
			p.RateLimitPerMinute = 60
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = 10
		}
	}
}

func (c *Config) expandEnv() {
	for i := range c.Providers {
		c.Providers[i].APIKey = expand(c.Providers[i].APIKey)
		c.Providers[i].APISecret = expand(c.Providers[i].APISecret)
	}
}

// expand resolves ${VAR} references against the environment; anything
// else passes through untouched. An unset variable expands to empty,
// which downstream treats as a missing credential.
func expand(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider entry missing name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if p.TimeoutSeconds < 0 {
			return fmt.Errorf("provider %s: negative timeout", p.Name)
		}
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
