// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

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
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

liveness:
  heartbeat_interval: "15s"
  heartbeat_timeout: "45s"

dispatch:
  reply_timeout: "20s"

queue:
  claim_limit: 25

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Liveness.HeartbeatInterval != 15*time.Second {
		t.Errorf("Liveness.HeartbeatInterval = %v, want %v", cfg.Liveness.HeartbeatInterval, 15*time.Second)
	}
	if cfg.Liveness.HeartbeatTimeout != 45*time.Second {
		t.Errorf("Liveness.HeartbeatTimeout = %v, want %v", cfg.Liveness.HeartbeatTimeout, 45*time.Second)
	}
	if cfg.Dispatch.ReplyTimeout != 20*time.Second {
		t.Errorf("Dispatch.ReplyTimeout = %v, want %v", cfg.Dispatch.ReplyTimeout, 20*time.Second)
	}
	if cfg.Queue.ClaimLimit != 25 {
		t.Errorf("Queue.ClaimLimit = %d, want 25", cfg.Queue.ClaimLimit)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Liveness.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v, want default %v", cfg.Liveness.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if cfg.Liveness.HeartbeatTimeout != DefaultHeartbeatTimeout {
		t.Errorf("HeartbeatTimeout = %v, want default %v", cfg.Liveness.HeartbeatTimeout, DefaultHeartbeatTimeout)
	}
	if cfg.Dispatch.ReplyTimeout != DefaultReplyTimeout {
		t.Errorf("ReplyTimeout = %v, want default %v", cfg.Dispatch.ReplyTimeout, DefaultReplyTimeout)
	}
	if cfg.Queue.ClaimLimit != DefaultClaimLimit {
		t.Errorf("ClaimLimit = %d, want default %d", cfg.Queue.ClaimLimit, DefaultClaimLimit)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("WAYPOST_TEST_DB", "/var/lib/waypost/queue.db")

	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "${WAYPOST_TEST_DB}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/var/lib/waypost/queue.db" {
		t.Errorf("Database.Path = %q, want expanded env value", cfg.Database.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "./test.db"
liveness:
  heartbeat_timeout: "ninety seconds"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "heartbeat_timeout") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing http_addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "timeout not above interval",
			mutate:  func(c *Config) { c.Liveness.HeartbeatTimeout = c.Liveness.HeartbeatInterval },
			wantErr: "heartbeat_timeout",
		},
		{
			name:    "negative claim limit",
			mutate:  func(c *Config) { c.Queue.ClaimLimit = -1 },
			wantErr: "claim_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080"},
				Database: DatabaseConfig{Path: "./test.db"},
				Liveness: LivenessConfig{
					HeartbeatInterval: DefaultHeartbeatInterval,
					HeartbeatTimeout:  DefaultHeartbeatTimeout,
				},
				Dispatch: DispatchConfig{ReplyTimeout: DefaultReplyTimeout},
				Queue:    QueueConfig{ClaimLimit: DefaultClaimLimit},
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
