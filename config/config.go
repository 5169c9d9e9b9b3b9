// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Bridge       BridgeConfig       `yaml:"bridge"`
	Admin        AdminConfig        `yaml:"admin"`
	Journal      JournalConfig      `yaml:"journal"`
	Locks        LocksConfig        `yaml:"locks"`
	Verification VerificationConfig `yaml:"verification"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// BridgeConfig configures the connection to the host editor.
// Use "websocket" for a live session or "mock" for detached development.
type BridgeConfig struct {
	Mode           string        `yaml:"mode"` // "websocket" or "mock"
	URL            string        `yaml:"url"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// AdminConfig configures the diagnostics HTTP server.
type AdminConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// JournalConfig configures the dispatch audit trail.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LocksConfig configures the lock registry. The standard locks are
// always registered; Extra adds deployment-specific domains for plugin
// actions.
type LocksConfig struct {
	Extra []string `yaml:"extra"`
}

// VerificationConfig configures post-settlement consistency checks.
type VerificationConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	DESIGNBRIDGE_BRIDGE_MODE      - Bridge mode: websocket or mock (default: websocket)
//	DESIGNBRIDGE_BRIDGE_URL       - Host scripting endpoint (required for websocket mode)
//	DESIGNBRIDGE_ADMIN_HOST       - Admin server host (default: 127.0.0.1)
//	DESIGNBRIDGE_ADMIN_PORT       - Admin server port (default: 7340)
//	DESIGNBRIDGE_JOURNAL_PATH     - Journal database path (default: designbridge.db)
//	DESIGNBRIDGE_LOG_LEVEL        - Log level: debug, info, warn, error (default: info)
//	DESIGNBRIDGE_LOG_FORMAT       - Log format: json or console (default: json)
//	DESIGNBRIDGE_METRICS_ENABLED  - Enable /metrics endpoint (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if os.Getenv("DESIGNBRIDGE_BRIDGE_URL") != "" || os.Getenv("DESIGNBRIDGE_BRIDGE_MODE") == "mock" {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set DESIGNBRIDGE_BRIDGE_URL")
}

// applyEnvOverrides applies DESIGNBRIDGE_* environment variables.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DESIGNBRIDGE_BRIDGE_MODE"); v != "" {
		cfg.Bridge.Mode = v
	}
	if v := os.Getenv("DESIGNBRIDGE_BRIDGE_URL"); v != "" {
		cfg.Bridge.URL = v
	}
	if v := os.Getenv("DESIGNBRIDGE_BRIDGE_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bridge.CallTimeout = d
		}
	}

	if v := os.Getenv("DESIGNBRIDGE_ADMIN_HOST"); v != "" {
		cfg.Admin.Host = v
	}
	if v := os.Getenv("DESIGNBRIDGE_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Admin.Port = port
		}
	}

	if v := os.Getenv("DESIGNBRIDGE_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = parseBool(v)
	}
	if v := os.Getenv("DESIGNBRIDGE_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	if v := os.Getenv("DESIGNBRIDGE_VERIFICATION_ENABLED"); v != "" {
		cfg.Verification.Enabled = parseBool(v)
	}

	if v := os.Getenv("DESIGNBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DESIGNBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("DESIGNBRIDGE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.ToLower(v))
	return err == nil && b
}

func setDefaults(cfg *Config) {
	if cfg.Bridge.Mode == "" {
		cfg.Bridge.Mode = "websocket"
	}
	if cfg.Bridge.CallTimeout == 0 {
		cfg.Bridge.CallTimeout = 30 * time.Second
	}
	if cfg.Bridge.ConnectTimeout == 0 {
		cfg.Bridge.ConnectTimeout = 10 * time.Second
	}

	if cfg.Admin.Host == "" {
		cfg.Admin.Host = "127.0.0.1"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 7340
	}
	if cfg.Admin.ReadTimeout == 0 {
		cfg.Admin.ReadTimeout = 30 * time.Second
	}
	if cfg.Admin.WriteTimeout == 0 {
		cfg.Admin.WriteTimeout = 60 * time.Second
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "designbridge.db"
	}
	if cfg.Journal.BatchSize == 0 {
		cfg.Journal.BatchSize = 100
	}
	if cfg.Journal.FlushInterval == 0 {
		cfg.Journal.FlushInterval = 5 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	validBridgeModes := map[string]bool{"websocket": true, "mock": true}
	if !validBridgeModes[cfg.Bridge.Mode] {
		return fmt.Errorf("bridge.mode must be 'websocket' or 'mock', got %q", cfg.Bridge.Mode)
	}
	if cfg.Bridge.Mode == "websocket" && cfg.Bridge.URL == "" {
		return fmt.Errorf("bridge.url is required when bridge.mode is 'websocket'")
	}
	if cfg.Bridge.URL != "" &&
		!strings.HasPrefix(cfg.Bridge.URL, "ws://") && !strings.HasPrefix(cfg.Bridge.URL, "wss://") {
		return fmt.Errorf("bridge.url must be a ws:// or wss:// URL, got %q", cfg.Bridge.URL)
	}

	if cfg.Admin.Port < 0 || cfg.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be a valid port, got %d", cfg.Admin.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	seen := make(map[string]bool)
	for i, name := range cfg.Locks.Extra {
		if name == "" {
			return fmt.Errorf("locks.extra[%d] is empty", i)
		}
		if seen[name] {
			return fmt.Errorf("locks.extra names %q twice", name)
		}
		seen[name] = true
	}

	return nil
}
