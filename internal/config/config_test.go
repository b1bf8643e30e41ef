package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Realtime.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.Realtime.HeartbeatInterval)
	}
	if cfg.HTTP.Timeout != 15*time.Second {
		t.Errorf("HTTP.Timeout = %v, want 15s", cfg.HTTP.Timeout)
	}
	if cfg.SessionFile == "" {
		t.Error("SessionFile is empty")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
url: "https://project.example.co/"
anon_key: "file-key"
reader_id: "door-1"
realtime:
  heartbeat_interval: 10s
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.URL != "https://project.example.co" {
		t.Errorf("URL = %q, want trailing slash trimmed", cfg.URL)
	}
	if cfg.AnonKey != "file-key" || cfg.ReaderID != "door-1" {
		t.Errorf("AnonKey, ReaderID = %q, %q", cfg.AnonKey, cfg.ReaderID)
	}
	if cfg.Realtime.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 10s", cfg.Realtime.HeartbeatInterval)
	}
	// Untouched keys keep their defaults.
	if cfg.Realtime.JoinTimeout != 10*time.Second {
		t.Errorf("JoinTimeout = %v, want default 10s", cfg.Realtime.JoinTimeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("url: https://file.example.co\nanon_key: file-key\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ATTENDANCE_ANON_KEY", "env-key")
	t.Setenv("ATTENDANCE_HEARTBEAT_INTERVAL", "5s")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.URL != "https://file.example.co" {
		t.Errorf("URL = %q, want file value", cfg.URL)
	}
	if cfg.AnonKey != "env-key" {
		t.Errorf("AnonKey = %q, want env-key", cfg.AnonKey)
	}
	if cfg.Realtime.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 5s", cfg.Realtime.HeartbeatInterval)
	}
}

func TestLoadBadYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("url: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() error = nil for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		key     string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", "https://project.example.co", "key", nil, ""},
		{"missing url", "", "key", nil, "url is required"},
		{"missing key", "https://project.example.co", "", nil, "anon key is required"},
		{"bad scheme", "ftp://project.example.co", "key", nil, "must be an http(s) URL"},
		{"zero refresh check", "https://project.example.co", "key", func(c *Config) { c.Auth.RefreshCheck = 0 }, "auth.refresh_check must be positive"},
		{"negative refresh check", "https://project.example.co", "key", func(c *Config) { c.Auth.RefreshCheck = -time.Second }, "auth.refresh_check must be positive"},
		{"zero heartbeat", "https://project.example.co", "key", func(c *Config) { c.Realtime.HeartbeatInterval = 0 }, "heartbeat_interval must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.URL, cfg.AnonKey = tt.url, tt.key
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRefreshCheckFromEnv(t *testing.T) {
	t.Setenv("ATTENDANCE_URL", "https://project.example.co")
	t.Setenv("ATTENDANCE_ANON_KEY", "key")
	t.Setenv("ATTENDANCE_REFRESH_CHECK", "0s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ATTENDANCE_REFRESH_CHECK") {
		t.Errorf("Validate() error = %v, want refresh check error", err)
	}
}

func TestDerivedURLs(t *testing.T) {
	cfg := &Config{URL: "https://project.example.co"}
	if got := cfg.RESTURL(); got != "https://project.example.co/rest/v1" {
		t.Errorf("RESTURL() = %q", got)
	}
	if got := cfg.AuthURL(); got != "https://project.example.co/auth/v1" {
		t.Errorf("AuthURL() = %q", got)
	}
	if got := cfg.StorageURL(); got != "https://project.example.co/storage/v1" {
		t.Errorf("StorageURL() = %q", got)
	}
	if got := cfg.RealtimeURL(); got != "wss://project.example.co/realtime/v1/websocket" {
		t.Errorf("RealtimeURL() = %q", got)
	}

	local := &Config{URL: "http://localhost:54321"}
	if got := local.RealtimeURL(); got != "ws://localhost:54321/realtime/v1/websocket" {
		t.Errorf("RealtimeURL() = %q", got)
	}

	local.Realtime.URL = "ws://127.0.0.1:4000/socket"
	if got := local.RealtimeURL(); got != "ws://127.0.0.1:4000/socket" {
		t.Errorf("RealtimeURL() with override = %q", got)
	}
}
