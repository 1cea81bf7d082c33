// Signalbridge - Signal Messaging Daemon Integration Layer
// Copyright 2026 IrregularChat
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/irregularchat/signalbridge

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signalbridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

const minimalYAML = `
account: "+15550001111"
rpc:
  socket_path: /tmp/daemon.sock
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RPC.CallTimeout != 30*time.Second {
		t.Errorf("call timeout default = %s, want 30s", cfg.RPC.CallTimeout)
	}
	if cfg.RPC.ReconnectMax != 32*time.Second {
		t.Errorf("reconnect max default = %s, want 32s", cfg.RPC.ReconnectMax)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("sync interval default = %s, want 5m", cfg.Sync.Interval)
	}
	if cfg.RateLimits.AI != 3 {
		t.Errorf("AI rate limit default = %d, want 3", cfg.RateLimits.AI)
	}
	if cfg.Retention.MaxAge != 90*24*time.Hour {
		t.Errorf("retention default = %s, want 2160h", cfg.Retention.MaxAge)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
sync:
  interval: 90s
rate_limits:
  ai: 7
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sync.Interval != 90*time.Second {
		t.Errorf("sync interval = %s, want 90s", cfg.Sync.Interval)
	}
	if cfg.RateLimits.AI != 7 {
		t.Errorf("AI rate limit = %d, want 7", cfg.RateLimits.AI)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("SIGNALBRIDGE_RPC_SOCKET_PATH", "/run/override.sock")
	t.Setenv("SIGNALBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("SIGNALBRIDGE_ACCOUNT", "+15559990000")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RPC.SocketPath != "/run/override.sock" {
		t.Errorf("socket path = %q, want env override", cfg.RPC.SocketPath)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Account != "+15559990000" {
		t.Errorf("account = %q, want env override", cfg.Account)
	}
}

func TestLoadRejectsMissingAccount(t *testing.T) {
	_, err := Load(writeConfig(t, `
rpc:
  socket_path: /tmp/daemon.sock
`))
	if err == nil {
		t.Fatal("expected validation failure for missing account")
	}
	if !strings.Contains(err.Error(), "Account") {
		t.Errorf("error should name the invalid field: %v", err)
	}
}

func TestLoadRejectsNonE164Account(t *testing.T) {
	_, err := Load(writeConfig(t, `
account: "not-a-number"
rpc:
  socket_path: /tmp/daemon.sock
`))
	if err == nil {
		t.Fatal("expected validation failure for malformed account")
	}
}

func TestLoadRejectsInvertedBackoffBounds(t *testing.T) {
	_, err := Load(writeConfig(t, `
account: "+15550001111"
rpc:
  socket_path: /tmp/daemon.sock
  reconnect_initial: 60s
  reconnect_max: 10s
`))
	if err == nil {
		t.Fatal("expected validation failure for reconnect_initial > reconnect_max")
	}
}

func TestAIEnabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.AIEnabled() {
		t.Error("AI should be disabled without an endpoint")
	}

	cfg, err = Load(writeConfig(t, minimalYAML+`
ai:
  endpoint: http://localhost:11434/api/generate
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.AIEnabled() {
		t.Error("AI should be enabled with an endpoint")
	}
}

func TestEnvTransform(t *testing.T) {
	cases := map[string]string{
		"SIGNALBRIDGE_ACCOUNT":           "account",
		"SIGNALBRIDGE_DATA_DIR":          "data_dir",
		"SIGNALBRIDGE_RPC_SOCKET_PATH":   "rpc.socket_path",
		"SIGNALBRIDGE_LOG_LEVEL":         "log.level",
		"SIGNALBRIDGE_SYNC_INTERVAL":     "sync.interval",
		"SIGNALBRIDGE_ADMIN_LISTEN":      "admin.listen",
		"SIGNALBRIDGE_RETENTION_MAX_AGE": "retention.max_age",
		"SIGNALBRIDGE_RATE_LIMITS_AI":    "rate_limits.ai",
	}
	for in, want := range cases {
		if got := envTransform(in); got != want {
			t.Errorf("envTransform(%q) = %q, want %q", in, got, want)
		}
	}
}
