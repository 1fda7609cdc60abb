// Package config provides TOML configuration loading for a satellite
// process. It covers only the process-level surface (type, name, group,
// addressing, log level); the payload of the initialize transition is a
// wire.Configuration, loaded separately by whoever sends it.
package config

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level process configuration structure.
type Config struct {
	Satellite SatelliteConfig `toml:"satellite"`
	Network   NetworkConfig   `toml:"network"`
	Log       LogConfig       `toml:"log"`
}

// SatelliteConfig identifies this process: its class, instance name and
// group.
type SatelliteConfig struct {
	Type  string `toml:"type"`
	Name  string `toml:"name"`
	Group string `toml:"group"`
}

// NetworkConfig controls the addresses CHIRP binds and broadcasts on.
type NetworkConfig struct {
	BindAddress      string `toml:"bind_address"`
	BroadcastAddress string `toml:"broadcast_address"`
	CHIRPPort        int    `toml:"chirp_port"`
}

// LogConfig controls the process-wide logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// Load reads and parses a TOML config file, applying defaults for unset
// values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Network.BindAddress == "" {
		cfg.Network.BindAddress = "0.0.0.0"
	}
	if cfg.Network.BroadcastAddress == "" {
		cfg.Network.BroadcastAddress = "255.255.255.255"
	}
	if cfg.Network.CHIRPPort == 0 {
		cfg.Network.CHIRPPort = 7123
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
