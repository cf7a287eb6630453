// ABOUTME: Configuration loading and parsing for fleet-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fleet-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Agents   AgentsConfig   `yaml:"agents"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentsConfig holds fleet timing configuration.
// LivenessTimeout defaults to 3x PollInterval when not set: an agent is
// reported offline only after missing several poll cycles, not one.
type AgentsConfig struct {
	PollInterval    time.Duration `yaml:"-"`
	LivenessTimeout time.Duration `yaml:"-"`
	CommandTimeout  time.Duration `yaml:"-"`
	SweepInterval   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw    string `yaml:"poll_interval"`
	LivenessTimeoutRaw string `yaml:"liveness_timeout"`
	CommandTimeoutRaw  string `yaml:"command_timeout"`
	SweepIntervalRaw   string `yaml:"sweep_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Timing defaults applied when the config file leaves them unset.
const (
	DefaultPollInterval   = 30 * time.Second
	DefaultCommandTimeout = 5 * time.Minute
	DefaultSweepInterval  = 10 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Agents.PollInterval <= 0 {
		return fmt.Errorf("agents.poll_interval must be positive")
	}

	if c.Agents.LivenessTimeout < c.Agents.PollInterval {
		return fmt.Errorf("agents.liveness_timeout %s is shorter than poll_interval %s",
			c.Agents.LivenessTimeout, c.Agents.PollInterval)
	}

	return nil
}

// applyDefaults fills in timing fields that were absent from the file.
func (c *Config) applyDefaults() {
	if c.Agents.PollInterval == 0 {
		c.Agents.PollInterval = DefaultPollInterval
	}
	if c.Agents.LivenessTimeout == 0 {
		c.Agents.LivenessTimeout = 3 * c.Agents.PollInterval
	}
	if c.Agents.CommandTimeout == 0 {
		c.Agents.CommandTimeout = DefaultCommandTimeout
	}
	if c.Agents.SweepInterval == 0 {
		c.Agents.SweepInterval = DefaultSweepInterval
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agents.PollIntervalRaw != "" {
		cfg.Agents.PollInterval, err = time.ParseDuration(cfg.Agents.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Agents.PollIntervalRaw, err)
		}
	}

	if cfg.Agents.LivenessTimeoutRaw != "" {
		cfg.Agents.LivenessTimeout, err = time.ParseDuration(cfg.Agents.LivenessTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing liveness_timeout %q: %w", cfg.Agents.LivenessTimeoutRaw, err)
		}
	}

	if cfg.Agents.CommandTimeoutRaw != "" {
		cfg.Agents.CommandTimeout, err = time.ParseDuration(cfg.Agents.CommandTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing command_timeout %q: %w", cfg.Agents.CommandTimeoutRaw, err)
		}
	}

	if cfg.Agents.SweepIntervalRaw != "" {
		cfg.Agents.SweepInterval, err = time.ParseDuration(cfg.Agents.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Agents.SweepIntervalRaw, err)
		}
	}

	return nil
}
