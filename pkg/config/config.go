// Package config loads and saves the bridge's TOML configuration: listening
// ports, timeouts, and two behavior flags that trade off conservative vs.
// permissive defaults (forwarding of untracked attach events, legacy
// per-page discovery).
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

// Config is the top-level bridge configuration.
type Config struct {
	// Ports the bridge listens on.
	BROPPort      int `toml:"brop_port"`
	ExtensionPort int `toml:"extension_port"`
	CDPPort       int `toml:"cdp_port"`

	// LogStream selects where the textual log goes: "stdout" or "stderr".
	// This setting is the only selector; no command-line flag or runtime
	// mode overrides it.
	LogStream string `toml:"log_stream"`

	// LogBufferSize bounds the in-memory ring buffer exposed over /logs.
	LogBufferSize int `toml:"log_buffer_size"`

	Debug bool `toml:"debug"`

	// Timeouts for outstanding requests.
	CDPRequestTimeout  Duration `toml:"cdp_request_timeout"`
	BROPRequestTimeout Duration `toml:"brop_request_timeout"`

	// QueueGrace bounds how long a BROP command may sit in the offline
	// command queue before it is failed with extension-offline.
	QueueGrace Duration `toml:"queue_grace"`

	// KeepaliveInterval is loaded and saved but not passed on by serve; the
	// framed transport pings at a fixed 10s interval.
	KeepaliveInterval Duration `toml:"keepalive_interval"`

	// ReconnectGrace is loaded and saved but not passed on by serve; on an
	// extension disconnect, pending requests not marked KeepAcrossReconnect
	// fail at once with transport-lost.
	ReconnectGrace Duration `toml:"reconnect_grace"`

	// CDP holds the two CDP session-manager behavior flags.
	CDP CDPOptions `toml:"cdp"`
}

// CDPOptions groups the CDP session-manager behavior flags that the design
// preserves as configuration rather than guessing at.
type CDPOptions struct {
	// ForwardUntrackedAttach controls whether an extension-sourced
	// Target.attachedToTarget for a target the bridge did not create is
	// forwarded to the browser-level clients. Default false
	// (suppress all), the conservative choice that avoids duplicate
	// attach events downstream.
	ForwardUntrackedAttach bool `toml:"forward_untracked_attach"`

	// LegacyPageDiscovery re-enables advertising page targets (with
	// per-page debugger URLs) in GET /json/list once they are created. Off by
	// default: the current design intentionally advertises only the
	// synthetic browser target to avoid duplicate-target errors in
	// downstream CDP clients.
	LegacyPageDiscovery bool `toml:"legacy_page_discovery"`
}

// Duration wraps time.Duration so it round-trips through TOML as a human
// readable string ("30s", "2m") instead of an integer count of nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// GetDefaultConfig returns the bridge's built-in defaults.
func GetDefaultConfig() *Config {
	return &Config{
		BROPPort:           9225,
		ExtensionPort:      9224,
		CDPPort:            9222,
		LogStream:          "stdout",
		LogBufferSize:      1000,
		CDPRequestTimeout:  Duration{30 * time.Second},
		BROPRequestTimeout: Duration{10 * time.Second},
		QueueGrace:         Duration{2 * time.Second},
		KeepaliveInterval:  Duration{10 * time.Second},
		ReconnectGrace:     Duration{2 * time.Second},
	}
}

// LoadConfig reads configPath, falling back to GetDefaultConfig if the file
// does not exist. Zero-valued fields in a loaded file are backfilled with
// defaults so partial configs remain usable.
func LoadConfig(configPath string) (*Config, error) {
	defaults := GetDefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return defaults, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := *defaults
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.BROPPort == 0 {
		cfg.BROPPort = defaults.BROPPort
	}
	if cfg.ExtensionPort == 0 {
		cfg.ExtensionPort = defaults.ExtensionPort
	}
	if cfg.CDPPort == 0 {
		cfg.CDPPort = defaults.CDPPort
	}
	if cfg.LogStream == "" {
		cfg.LogStream = defaults.LogStream
	}
	if cfg.LogBufferSize == 0 {
		cfg.LogBufferSize = defaults.LogBufferSize
	}
	if cfg.CDPRequestTimeout.Duration == 0 {
		cfg.CDPRequestTimeout = defaults.CDPRequestTimeout
	}
	if cfg.BROPRequestTimeout.Duration == 0 {
		cfg.BROPRequestTimeout = defaults.BROPRequestTimeout
	}
	if cfg.QueueGrace.Duration == 0 {
		cfg.QueueGrace = defaults.QueueGrace
	}
	if cfg.KeepaliveInterval.Duration == 0 {
		cfg.KeepaliveInterval = defaults.KeepaliveInterval
	}
	if cfg.ReconnectGrace.Duration == 0 {
		cfg.ReconnectGrace = defaults.ReconnectGrace
	}

	return &cfg, nil
}

// SaveConfig marshals c as TOML to configPath, creating parent directories
// as needed.
func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveTemplateConfig writes the embedded commented sample template, useful
// for `cdpbridge init`.
func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(configPath, []byte(configTemplate), 0644)
}

// GetConfigDir returns the configuration directory for cdpbridge, creating
// it if necessary.
func GetConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	bridgeConfigDir := filepath.Join(configDir, "cdpbridge")
	if err := os.MkdirAll(bridgeConfigDir, 0755); err != nil {
		return "."
	}
	return bridgeConfigDir
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.toml")
}
