// ABOUTME: Configuration loading and parsing for the waypost gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete waypost gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Liveness LivenessConfig `yaml:"liveness"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Queue    QueueConfig    `yaml:"queue"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds queue database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LivenessConfig holds heartbeat timing configuration
type LivenessConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout"`
}

// DispatchConfig holds delivery path configuration
type DispatchConfig struct {
	ReplyTimeout time.Duration `yaml:"-"`

	ReplyTimeoutRaw string `yaml:"reply_timeout"`
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	// ClaimLimit caps how many messages one poll cycle may claim
	ClaimLimit int `yaml:"claim_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves fields unset.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 90 * time.Second
	DefaultReplyTimeout      = 30 * time.Second
	DefaultClaimLimit        = 10
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
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

// applyDefaults fills unset timing and limit fields.
func (c *Config) applyDefaults() {
	if c.Liveness.HeartbeatInterval == 0 {
		c.Liveness.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Liveness.HeartbeatTimeout == 0 {
		c.Liveness.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Dispatch.ReplyTimeout == 0 {
		c.Dispatch.ReplyTimeout = DefaultReplyTimeout
	}
	if c.Queue.ClaimLimit == 0 {
		c.Queue.ClaimLimit = DefaultClaimLimit
	}
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

	if c.Liveness.HeartbeatTimeout <= c.Liveness.HeartbeatInterval {
		return fmt.Errorf("liveness.heartbeat_timeout (%s) must exceed heartbeat_interval (%s)",
			c.Liveness.HeartbeatTimeout, c.Liveness.HeartbeatInterval)
	}

	if c.Queue.ClaimLimit < 0 {
		return fmt.Errorf("queue.claim_limit must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Liveness.HeartbeatIntervalRaw != "" {
		cfg.Liveness.HeartbeatInterval, err = time.ParseDuration(cfg.Liveness.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", cfg.Liveness.HeartbeatIntervalRaw, err)
		}
	}

	if cfg.Liveness.HeartbeatTimeoutRaw != "" {
		cfg.Liveness.HeartbeatTimeout, err = time.ParseDuration(cfg.Liveness.HeartbeatTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_timeout %q: %w", cfg.Liveness.HeartbeatTimeoutRaw, err)
		}
	}

	if cfg.Dispatch.ReplyTimeoutRaw != "" {
		cfg.Dispatch.ReplyTimeout, err = time.ParseDuration(cfg.Dispatch.ReplyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing reply_timeout %q: %w", cfg.Dispatch.ReplyTimeoutRaw, err)
		}
	}

	return nil
}
