// Package config resolves the fabric's runtime configuration: connection
// details, timeouts, concurrency limits, and the channel namespace, loaded
// from YAML with built-in defaults for everything left unspecified.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized option of the RPC fabric.
type Config struct {
	ConnectionString          string `yaml:"connection_string"`
	DefaultTimeoutMs          int64  `yaml:"default_timeout_ms"`
	MaxConcurrentRequests     int    `yaml:"max_concurrent_requests"`
	ChannelPrefix             string `yaml:"channel_prefix"`
	IncludeStackTraceInErrors bool   `yaml:"include_stack_trace_in_errors"`
	Database                  int    `yaml:"database"`
	MaxPayloadBytes           int    `yaml:"max_payload_bytes"`
	Debug                     bool   `yaml:"debug"`
}

// EnvConfigPath names the environment variable consulted when no explicit
// path is given to Load.
const EnvConfigPath = "REDISRPC_CONFIG_PATH"

// DefaultConfigPath is tried after EnvConfigPath and before falling back to
// built-in defaults.
const DefaultConfigPath = "./config/redisrpc.yaml"

// Defaults returns a Config populated with every built-in default from the
// configuration options table.
func Defaults() *Config {
	return &Config{
		ConnectionString:          "localhost:6379",
		DefaultTimeoutMs:          30000,
		MaxConcurrentRequests:     100,
		ChannelPrefix:             "redis-rpc",
		IncludeStackTraceInErrors: false,
		Database:                  0,
		MaxPayloadBytes:           65536,
	}
}

// Load resolves a Config by priority: an explicit non-empty path, then the
// REDISRPC_CONFIG_PATH environment variable, then DefaultConfigPath, then
// built-in defaults if none of those paths exist. Any path that is given
// explicitly (via path or the env var) must exist and parse; only the
// default path is allowed to be silently absent.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	candidate, required := resolvePath(path)
	if candidate == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(candidate)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", candidate, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", candidate, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePath picks the path Load should read, and whether that path was
// explicitly requested (in which case a missing file is an error) versus
// merely the conventional default (in which case a missing file just means
// "use built-in defaults").
func resolvePath(explicit string) (path string, required bool) {
	if explicit != "" {
		return explicit, true
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env, true
	}
	return DefaultConfigPath, false
}

func (c *Config) validate() error {
	if c.ConnectionString == "" {
		return fmt.Errorf("config: connection_string must not be empty")
	}
	if c.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("config: default_timeout_ms must be positive, got %d", c.DefaultTimeoutMs)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("config: max_concurrent_requests must be positive, got %d", c.MaxConcurrentRequests)
	}
	if c.ChannelPrefix == "" {
		return fmt.Errorf("config: channel_prefix must not be empty")
	}
	if c.MaxPayloadBytes < 0 {
		return fmt.Errorf("config: max_payload_bytes must not be negative, got %d", c.MaxPayloadBytes)
	}
	return nil
}
