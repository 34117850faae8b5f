package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration
type Config struct {
	Endpoint   string `toml:"endpoint"`   // Default agent endpoint for new sessions
	Credential string `toml:"credential"` // Optional credential attached as a query parameter
	DBPath     string `toml:"db_path"`    // SQLite file holding the persisted session list
	LogDir     string `toml:"log_dir"`    // Directory for rotated logs, traces and metrics
	Debug      bool   `toml:"debug"`      // Enable debug logging
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Endpoint: "ws://localhost:9000/agent",
		DBPath:   "agentchat.db",
		LogDir:   "logs",
	}
}

// Load reads a TOML config file over the defaults. A missing file is not an
// error; flags still override the result in main.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
