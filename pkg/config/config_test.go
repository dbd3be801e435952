package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defaults := GetDefaultConfig()
	if cfg.BROPPort != defaults.BROPPort || cfg.CDPPort != defaults.CDPPort {
		t.Fatalf("expected default ports, got %+v", cfg)
	}
}

func TestSaveAndLoadConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := GetDefaultConfig()
	cfg.BROPPort = 9999
	cfg.CDP.ForwardUntrackedAttach = true
	cfg.CDPRequestTimeout = Duration{45 * time.Second}

	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.BROPPort != 9999 {
		t.Fatalf("expected brop_port 9999, got %d", loaded.BROPPort)
	}
	if !loaded.CDP.ForwardUntrackedAttach {
		t.Fatalf("expected forward_untracked_attach true")
	}
	if loaded.CDPRequestTimeout.Duration != 45*time.Second {
		t.Fatalf("expected cdp_request_timeout 45s, got %s", loaded.CDPRequestTimeout.Duration)
	}
}

func TestLoadConfigBackfillsZeroFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	partial := []byte("brop_port = 1234\n")
	if err := os.WriteFile(path, partial, 0644); err != nil {
		t.Fatalf("writing partial config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BROPPort != 1234 {
		t.Fatalf("expected brop_port 1234, got %d", cfg.BROPPort)
	}
	defaults := GetDefaultConfig()
	if cfg.CDPPort != defaults.CDPPort {
		t.Fatalf("expected backfilled cdp_port %d, got %d", defaults.CDPPort, cfg.CDPPort)
	}
	if cfg.CDPRequestTimeout.Duration != defaults.CDPRequestTimeout.Duration {
		t.Fatalf("expected backfilled cdp_request_timeout, got %s", cfg.CDPRequestTimeout.Duration)
	}
}

func TestDurationRoundTripsAsString(t *testing.T) {
	d := Duration{2 * time.Minute}
	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "2m0s" {
		t.Fatalf("expected 2m0s, got %s", text)
	}

	var got Duration
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if got.Duration != d.Duration {
		t.Fatalf("expected %s, got %s", d.Duration, got.Duration)
	}
}

func TestGetDefaultConfigPathUnderXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := GetDefaultConfigPath()
	if filepath.Base(path) != "config.toml" {
		t.Fatalf("expected config.toml basename, got %s", path)
	}
}
