// Package config loads the client configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// URL is the project base URL, e.g. https://project.example.co.
	URL      string `yaml:"url" env:"ATTENDANCE_URL"`
	AnonKey  string `yaml:"anon_key" env:"ATTENDANCE_ANON_KEY"`
	ReaderID string `yaml:"reader_id" env:"ATTENDANCE_READER_ID"`
	// SessionFile is the SQLite file holding the signed-in session.
	SessionFile string `yaml:"session_file" env:"ATTENDANCE_SESSION_FILE"`

	HTTP     HTTPConfig     `yaml:"http"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Auth     AuthConfig     `yaml:"auth"`
}

type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"ATTENDANCE_HTTP_TIMEOUT"`
}

type RealtimeConfig struct {
	// URL overrides the websocket endpoint derived from the project URL.
	URL               string        `yaml:"url" env:"ATTENDANCE_REALTIME_URL"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"ATTENDANCE_HEARTBEAT_INTERVAL"`
	JoinTimeout       time.Duration `yaml:"join_timeout" env:"ATTENDANCE_JOIN_TIMEOUT"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay" env:"ATTENDANCE_RECONNECT_MAX_DELAY"`
}

type AuthConfig struct {
	// RefreshCheck is how often the session expiry is checked.
	RefreshCheck time.Duration `yaml:"refresh_check" env:"ATTENDANCE_REFRESH_CHECK"`
}

func defaultConfig() *Config {
	return &Config{
		SessionFile: defaultSessionFile(),
		HTTP:        HTTPConfig{Timeout: 15 * time.Second},
		Realtime: RealtimeConfig{
			HeartbeatInterval: 30 * time.Second,
			JoinTimeout:       10 * time.Second,
			ReconnectMaxDelay: 30 * time.Second,
		},
		Auth: AuthConfig{RefreshCheck: 30 * time.Second},
	}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "attendance-session.db"
	}
	return filepath.Join(dir, "attendance", "session.db")
}

// Load reads path over the defaults and applies environment overrides. An
// empty path or a missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return cfg, nil
}

// Validate reports missing or malformed settings.
func (c *Config) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("url is required (ATTENDANCE_URL)"))
	} else if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("url %q must be an http(s) URL", c.URL))
	}
	if c.AnonKey == "" {
		errs = append(errs, errors.New("anon key is required (ATTENDANCE_ANON_KEY)"))
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("realtime.heartbeat_interval must be positive"))
	}
	if c.Auth.RefreshCheck <= 0 {
		errs = append(errs, errors.New("auth.refresh_check must be positive (ATTENDANCE_REFRESH_CHECK)"))
	}
	return errors.Join(errs...)
}

func (c *Config) RESTURL() string    { return c.URL + "/rest/v1" }
func (c *Config) AuthURL() string    { return c.URL + "/auth/v1" }
func (c *Config) StorageURL() string { return c.URL + "/storage/v1" }

// RealtimeURL is the websocket endpoint, wss for https projects.
func (c *Config) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	u := c.URL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime/v1/websocket"
}
