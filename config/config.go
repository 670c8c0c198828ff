// Package config loads and watches the daemon's configuration file.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// DefaultSocketPath is where the sample socket lives unless configured
// otherwise.
const DefaultSocketPath = "/run/sensord.sock"

// Config is the daemon configuration. Only the log level is honoured on a
// live reload; everything else requires a restart.
type Config struct {
	// SocketPath locates the sample socket.
	SocketPath string `json:"socket_path"`
	// BusName overrides the well-known control-service name.
	BusName string `json:"bus_name"`
	// SessionBus selects the session bus over the system bus, for
	// development runs.
	SessionBus bool `json:"session_bus"`
	// Plugins lists the plugin sets loaded at startup.
	Plugins []string `json:"plugins"`
	// LogLevel is "debug", "info" or "warn".
	LogLevel string `json:"log_level"`
	// Adaptors carries per-adaptor property overrides merged over each
	// plugin's registered bag.
	Adaptors map[string]map[string]int `json:"adaptors"`
	// CalibrationSchedule is a cron expression for the background
	// calibration poll.
	CalibrationSchedule string `json:"calibration_schedule"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		SocketPath: DefaultSocketPath,
		LogLevel:   "info",
	}
}

// Read loads a configuration file, filling defaults for absent fields.
func Read(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", path)
	}
	return FromBytes(raw)
}

// FromBytes parses a configuration document.
func FromBytes(raw []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn":
	default:
		return nil, errors.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return cfg, nil
}
