// ABOUTME: Configuration loading and parsing for mcpgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mcpgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Endpoint  EndpointConfig  `yaml:"endpoint"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Settings  SettingsConfig  `yaml:"settings"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// EndpointConfig describes how generated client configs address the hub.
// This is the externally visible address, not the listen address.
type EndpointConfig struct {
	Protocol      string `yaml:"protocol"` // http or https
	Domain        string `yaml:"domain"`
	Port          int    `yaml:"port"`
	CustomSSEPath string `yaml:"custom_sse_path"`
}

// UpstreamConfig holds the upstream application the router forwards
// group, unified, and passthrough traffic to.
type UpstreamConfig struct {
	URL string `yaml:"url"`

	HealthTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	HealthTimeoutRaw string `yaml:"health_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	CertFile  string `yaml:"cert_file"` // TLS cert file (generate via: tailscale cert <hostname>)
	KeyFile   string `yaml:"key_file"`  // TLS key file
	Funnel    bool   `yaml:"funnel"`    // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// SettingsConfig holds settings store tuning
type SettingsConfig struct {
	CacheTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	CacheTTLRaw string `yaml:"cache_ttl"`
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
	// A listen address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if p := c.Endpoint.Protocol; p != "" && p != "http" && p != "https" {
		return fmt.Errorf("endpoint.protocol must be http or https, got %q", p)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Upstream.HealthTimeoutRaw != "" {
		cfg.Upstream.HealthTimeout, err = time.ParseDuration(cfg.Upstream.HealthTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing health_timeout %q: %w", cfg.Upstream.HealthTimeoutRaw, err)
		}
	}

	if cfg.Settings.CacheTTLRaw != "" {
		cfg.Settings.CacheTTL, err = time.ParseDuration(cfg.Settings.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache_ttl %q: %w", cfg.Settings.CacheTTLRaw, err)
		}
	}

	return nil
}
