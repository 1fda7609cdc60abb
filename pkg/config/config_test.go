package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	content := `
[satellite]
  type = "Sensor"
  name = "sat1"
  group = "constellation"

[network]
  bind_address = "192.168.1.10"
  broadcast_address = "192.168.1.255"
  chirp_port = 7200

[log]
  level = "debug"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Satellite.Type != "Sensor" {
		t.Errorf("Satellite.Type: got %s, want Sensor", cfg.Satellite.Type)
	}
	if cfg.Network.BindAddress != "192.168.1.10" {
		t.Errorf("Network.BindAddress: got %s, want 192.168.1.10", cfg.Network.BindAddress)
	}
	if cfg.Network.CHIRPPort != 7200 {
		t.Errorf("Network.CHIRPPort: got %d, want 7200", cfg.Network.CHIRPPort)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %s, want debug", cfg.Log.Level)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	content := `
[satellite]
  type = "Sensor"
  name = "sat1"
  group = "constellation"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Network.BindAddress != "0.0.0.0" {
		t.Errorf("default BindAddress: got %s, want 0.0.0.0", cfg.Network.BindAddress)
	}
	if cfg.Network.BroadcastAddress != "255.255.255.255" {
		t.Errorf("default BroadcastAddress: got %s, want 255.255.255.255", cfg.Network.BroadcastAddress)
	}
	if cfg.Network.CHIRPPort != 7123 {
		t.Errorf("default CHIRPPort: got %d, want 7123", cfg.Network.CHIRPPort)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level: got %s, want info", cfg.Log.Level)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(cfgPath, []byte("invalid [[[ toml"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}
