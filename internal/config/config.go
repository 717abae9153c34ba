package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	UserUID         string         `yaml:"user_uid"`
	CredentialsFile string         `yaml:"credentials_file"` // Firebase service account key
	CredentialDir   string         `yaml:"credential_dir"`   // pairing credential storage
	Device          DeviceConfig   `yaml:"device"`
	Location        LocationConfig `yaml:"location"`
	Alert           AlertConfig    `yaml:"alert"`
	LogLevel        string         `yaml:"log_level"`
}

// DeviceConfig holds BLE discovery and authentication settings.
type DeviceConfig struct {
	NamePrefix      string `yaml:"name_prefix"`
	ScanTimeoutSecs int    `yaml:"scan_timeout_seconds"`
	AuthGraceMillis int    `yaml:"auth_grace_ms"`
}

// LocationConfig holds telemetry upload settings. Lat and Lng are the
// reported position for stationary installs.
type LocationConfig struct {
	IntervalSecs int     `yaml:"interval_seconds"`
	Lat          float64 `yaml:"lat"`
	Lng          float64 `yaml:"lng"`
}

// AlertConfig holds alert reporting settings.
type AlertConfig struct {
	DebounceSecs int `yaml:"debounce_seconds"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "visionwalkhelper")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		CredentialDir: DefaultConfigDir(),
		Device: DeviceConfig{
			NamePrefix:      "VisionWalkHelper",
			ScanTimeoutSecs: 10,
			AuthGraceMillis: 2000,
		},
		Location: LocationConfig{
			IntervalSecs: 10,
		},
		Alert: AlertConfig{
			DebounceSecs: 30,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in file paths is expanded to the user's home
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.CredentialsFile = expandTilde(cfg.CredentialsFile)
	cfg.CredentialDir = expandTilde(cfg.CredentialDir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.CredentialsFile == "" {
		return fmt.Errorf("credentials_file must not be empty")
	}

	if c.CredentialDir == "" {
		return fmt.Errorf("credential_dir must not be empty")
	}

	if c.Device.NamePrefix == "" {
		return fmt.Errorf("device.name_prefix must not be empty")
	}

	if c.Device.ScanTimeoutSecs <= 0 {
		return fmt.Errorf("device.scan_timeout_seconds must be > 0")
	}

	if c.Device.AuthGraceMillis <= 0 {
		return fmt.Errorf("device.auth_grace_ms must be > 0")
	}

	if c.Location.IntervalSecs <= 0 {
		return fmt.Errorf("location.interval_seconds must be > 0")
	}

	if c.Alert.DebounceSecs < 0 {
		return fmt.Errorf("alert.debounce_seconds must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
