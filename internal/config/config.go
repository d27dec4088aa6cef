// Package config provides configuration management for the Kamui CLI.
// Settings are read from the config file, then overridden by the environment
// (including a .env file) and finally by command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultAPIURL is the default Kamui API endpoint
	DefaultAPIURL = "https://api.kamui-platform.com"

	// DefaultRedirectURI is used until a sign-in records the real one
	DefaultRedirectURI = "http://127.0.0.1:9876/callback"

	// ConfigDirName is the name of the config directory
	ConfigDirName = ".kamui"

	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"

	// StoreFileName is the name of the encrypted token store
	StoreFileName = "tokens.enc"
)

// Environment variables that override file settings
const (
	EnvAPIURL          = "KAMUI_API_URL"
	EnvClientID        = "KAMUI_CLIENT_ID"
	EnvClientSecret    = "KAMUI_CLIENT_SECRET"
	EnvRedirectURI     = "KAMUI_REDIRECT_URI"
	EnvStorePath       = "KAMUI_STORE_PATH"
	EnvStorePassphrase = "KAMUI_STORE_PASSPHRASE"
	EnvLogLevel        = "KAMUI_LOG_LEVEL"
	EnvLogFormat       = "KAMUI_LOG_FORMAT"
	EnvMaxAttempts     = "KAMUI_MAX_ATTEMPTS"
	EnvTelemetry       = "KAMUI_TELEMETRY"
)

// Telemetry exporters
const (
	TelemetryOff    = "off"
	TelemetryStderr = "stderr"
)

// Duration is a time.Duration written as a Go duration string ("5m")
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5m\": %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Refresh tunes the token refresh policy. Zero values use the built-in defaults.
type Refresh struct {
	LeadTime           Duration `json:"lead_time,omitempty"`
	MinRefreshInterval Duration `json:"min_refresh_interval,omitempty"`
	MaxAttempts        int      `json:"max_attempts,omitempty"`
	RequestTimeout     Duration `json:"request_timeout,omitempty"`
}

// Config represents the CLI configuration stored on disk
type Config struct {
	// APIURL is the base URL of the Kamui API
	APIURL string `json:"api_url,omitempty"`

	// ClientID is the OAuth client ID from dynamic registration
	ClientID string `json:"client_id,omitempty"`

	// ClientSecret is the OAuth client secret from dynamic registration
	ClientSecret string `json:"client_secret,omitempty"`

	// RedirectURI is the redirect URI the session was authorized with.
	// The token endpoint requires it on refresh.
	RedirectURI string `json:"redirect_uri,omitempty"`

	// StorePath is the encrypted token store file
	StorePath string `json:"store_path,omitempty"`

	// LogLevel and LogFormat configure diagnostics on stderr
	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	// Telemetry selects where traces and metrics go: "off" (default) or
	// "stderr"
	Telemetry string `json:"telemetry,omitempty"`

	Refresh Refresh `json:"refresh"`

	// StorePassphrase unlocks the token store. Never written to disk.
	StorePassphrase string `json:"-"`
}

// Manager handles configuration file operations
type Manager struct {
	configPath string
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(homeDir, ConfigDirName, ConfigFileName)
	return &Manager{configPath: configPath}, nil
}

// NewManagerWithPath creates a new configuration manager with a custom path
// This is useful for testing
func NewManagerWithPath(configPath string) *Manager {
	return &Manager{configPath: configPath}
}

// Load reads the configuration from disk
// Returns a default config if the file doesn't exist
func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := &Config{}
			m.applyDefaults(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", m.configPath, err)
	}

	m.applyDefaults(&config)
	return &config, nil
}

// LoadEffective reads the config file, the .env files and the environment,
// in increasing order of precedence
func (m *Manager) LoadEffective(envFiles ...string) (*Config, error) {
	cfg, err := m.Load()
	if err != nil {
		return nil, err
	}
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) applyDefaults(cfg *Config) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = DefaultRedirectURI
	}
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(filepath.Dir(m.configPath), StoreFileName)
	}
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with KAMUI_* environment variables
func ApplyEnv(cfg *Config) error {
	for env, field := range map[string]*string{
		EnvAPIURL:          &cfg.APIURL,
		EnvClientID:        &cfg.ClientID,
		EnvClientSecret:    &cfg.ClientSecret,
		EnvRedirectURI:     &cfg.RedirectURI,
		EnvStorePath:       &cfg.StorePath,
		EnvStorePassphrase: &cfg.StorePassphrase,
		EnvLogLevel:        &cfg.LogLevel,
		EnvLogFormat:       &cfg.LogFormat,
		EnvTelemetry:       &cfg.Telemetry,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}

	if v, ok := os.LookupEnv(EnvMaxAttempts); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive integer, got %q", EnvMaxAttempts, v)
		}
		cfg.Refresh.MaxAttempts = n
	}
	return ValidateTelemetry(cfg.Telemetry)
}

// ValidateTelemetry rejects unknown exporter names. Empty means off.
func ValidateTelemetry(exporter string) error {
	switch exporter {
	case "", TelemetryOff, TelemetryStderr:
		return nil
	}
	return fmt.Errorf("unknown telemetry exporter %q (want %s or %s)", exporter, TelemetryOff, TelemetryStderr)
}

// Save writes the configuration to disk
func (m *Manager) Save(config *Config) error {
	// Ensure the config directory exists
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	// Write with restricted permissions (owner read/write only)
	return os.WriteFile(m.configPath, data, 0600)
}

// Delete removes the config file entirely
func (m *Manager) Delete() error {
	err := os.Remove(m.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// GetClientCredentials returns the stored OAuth client credentials
// Returns empty strings if not registered
func (m *Manager) GetClientCredentials() (clientID, clientSecret string, err error) {
	config, err := m.Load()
	if err != nil {
		return "", "", err
	}

	return config.ClientID, config.ClientSecret, nil
}

// SaveClientCredentials saves OAuth client credentials to the config
func (m *Manager) SaveClientCredentials(clientID, clientSecret string) error {
	config, err := m.Load()
	if err != nil {
		return err
	}

	config.ClientID = clientID
	config.ClientSecret = clientSecret

	return m.Save(config)
}

// SaveRedirectURI records the redirect URI used by the last sign-in
func (m *Manager) SaveRedirectURI(redirectURI string) error {
	config, err := m.Load()
	if err != nil {
		return err
	}

	config.RedirectURI = redirectURI

	return m.Save(config)
}

// ConfigPath returns the path to the config file
func (m *Manager) ConfigPath() string {
	return m.configPath
}
