package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and
// environment variables to fill in any missing values.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(cfg)
	applyConsoleDefaults(&cfg.Console)
	applySessionDefaults(&cfg.Session)
	applyDirDefaults(cfg)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *Config) {
	if cfg.ListenPort == 0 {
		cfg.ListenPort = 8032
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func applyConsoleDefaults(cfg *ConsoleConfig) {
	if cfg.Port == 0 {
		cfg.Port = 10023
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.IdleWindow == 0 {
		cfg.IdleWindow = 10 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.ProbeRetries == 0 {
		cfg.ProbeRetries = 3
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 500 * time.Millisecond
	}
}

// applyDirDefaults resolves the scene sandbox and the backup directory.
// The backup directory falls back to the scene directory.
func applyDirDefaults(cfg *Config) {
	if cfg.SceneDir == "" {
		cfg.SceneDir = defaultSceneDir()
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = cfg.SceneDir
	}
}

// defaultSceneDir returns $XDG_DATA_HOME/x32mgr/scenes, falling back to
// ~/.local/share/x32mgr/scenes, or ./scenes as a last resort.
func defaultSceneDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "x32mgr", "scenes")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "scenes"
	}
	return filepath.Join(home, ".local", "share", "x32mgr", "scenes")
}

// GetDefaultConfig returns a fully populated default configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
