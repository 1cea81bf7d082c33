// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

// Package config loads daemon configuration with a three-layer precedence:
// built-in defaults, then an optional YAML config file, then environment
// variables. ENV > file > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order. The
// first file found wins.
var DefaultConfigPaths = []string{
	"signalbridge.yaml",
	"signalbridge.yml",
	"/etc/signalbridge/config.yaml",
	"/etc/signalbridge/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "SIGNALBRIDGE_CONFIG"

// envPrefix scopes environment overrides: SIGNALBRIDGE_RPC_CALL_TIMEOUT
// maps to rpc.call_timeout.
const envPrefix = "SIGNALBRIDGE_"

// Config is the full daemon configuration.
type Config struct {
	// Account is the E.164 account identifier the daemon is registered
	// under.
	Account string `koanf:"account" validate:"required,e164"`

	// DataDir holds the audit store and any other local state.
	DataDir string `koanf:"data_dir" validate:"required"`

	Log        LogConfig        `koanf:"log"`
	RPC        RPCConfig        `koanf:"rpc"`
	Sync       SyncConfig       `koanf:"sync"`
	RateLimits RateLimitConfig  `koanf:"rate_limits"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	AI         AIConfig         `koanf:"ai"`
	Admin      AdminConfig      `koanf:"admin"`
	Retention  RetentionConfig  `koanf:"retention"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RPCConfig controls the daemon socket transport.
type RPCConfig struct {
	// SocketPath is the Unix socket the external messaging process
	// listens on.
	SocketPath string `koanf:"socket_path" validate:"required"`

	CallTimeout      time.Duration `koanf:"call_timeout"`
	ReconnectInitial time.Duration `koanf:"reconnect_initial"`
	ReconnectMax     time.Duration `koanf:"reconnect_max"`
	StabilityWindow  time.Duration `koanf:"stability_window"`

	// WriteRate caps outbound frames per second.
	WriteRate int `koanf:"write_rate"`
}

// SyncConfig controls the periodic membership sync.
type SyncConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// RateLimitConfig sets per-minute command ceilings by class.
type RateLimitConfig struct {
	Default    int `koanf:"default" validate:"gte=1"`
	AI         int `koanf:"ai" validate:"gte=1"`
	Membership int `koanf:"membership" validate:"gte=1"`
	BulkLookup int `koanf:"bulk_lookup" validate:"gte=1"`
}

// DispatcherConfig tunes envelope processing.
type DispatcherConfig struct {
	Workers        int           `koanf:"workers"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
}

// AIConfig points at the completion collaborator. Disabled when the
// endpoint is empty.
type AIConfig struct {
	Endpoint      string        `koanf:"endpoint" validate:"omitempty,url"`
	APIKey        string        `koanf:"api_key"`
	Model         string        `koanf:"model"`
	Timeout       time.Duration `koanf:"timeout"`
	FallbackReply string        `koanf:"fallback_reply"`
}

// AdminConfig controls the local admin/metrics HTTP listener.
type AdminConfig struct {
	// Listen is the host:port to bind. Empty disables the listener.
	Listen string `koanf:"listen"`

	// RequestsPerMinute throttles admin API clients per IP.
	RequestsPerMinute int `koanf:"requests_per_minute"`
}

// RetentionConfig controls audit store cleanup.
type RetentionConfig struct {
	// MaxAge is how long usage/audit records are kept.
	MaxAge time.Duration `koanf:"max_age"`

	// SweepInterval is how often expired records are pruned.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// defaultConfig returns the built-in defaults applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/signalbridge",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RPC: RPCConfig{
			SocketPath:       "/run/signald/signald.sock",
			CallTimeout:      30 * time.Second,
			ReconnectInitial: time.Second,
			ReconnectMax:     32 * time.Second,
			StabilityWindow:  30 * time.Second,
			WriteRate:        50,
		},
		Sync: SyncConfig{
			Interval: 5 * time.Minute,
		},
		RateLimits: RateLimitConfig{
			Default:    10,
			AI:         3,
			Membership: 5,
			BulkLookup: 2,
		},
		Dispatcher: DispatcherConfig{
			Workers:        4,
			HandlerTimeout: 60 * time.Second,
		},
		AI: AIConfig{
			Timeout: 30 * time.Second,
		},
		Admin: AdminConfig{
			Listen:            "127.0.0.1:8427",
			RequestsPerMinute: 120,
		},
		Retention: RetentionConfig{
			MaxAge:        90 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// SIGNALBRIDGE_* environment variables, then validates it. An explicit
// non-empty path skips the search and must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// configSections are the known top-level sections, used to split
// environment variable names: SIGNALBRIDGE_RPC_SOCKET_PATH maps to
// rpc.socket_path, SIGNALBRIDGE_RATE_LIMITS_AI to rate_limits.ai.
var configSections = []string{
	"rate_limits", "log", "rpc", "sync", "dispatcher", "ai", "admin", "retention",
}

func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	for _, section := range configSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	// Top-level scalars: account, data_dir.
	return key
}

// Validate checks required fields and formats.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			invalid := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				invalid = append(invalid, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid fields: %s", strings.Join(invalid, ", "))
		}
		return err
	}

	if c.Sync.Interval < time.Second {
		return fmt.Errorf("sync.interval must be at least 1s, got %s", c.Sync.Interval)
	}
	if c.RPC.ReconnectInitial > c.RPC.ReconnectMax {
		return fmt.Errorf("rpc.reconnect_initial (%s) exceeds rpc.reconnect_max (%s)",
			c.RPC.ReconnectInitial, c.RPC.ReconnectMax)
	}
	return nil
}

// AIEnabled reports whether the completion collaborator is configured.
func (c *Config) AIEnabled() bool {
	return c.AI.Endpoint != ""
}
