package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.ListenPort != 8032 {
		t.Errorf("expected default listen port 8032, got %d", cfg.ListenPort)
	}
	if cfg.Console.Port != 10023 {
		t.Errorf("expected default console port 10023, got %d", cfg.Console.Port)
	}
	if cfg.Session.IdleWindow != 10*time.Second {
		t.Errorf("expected default idle window 10s, got %v", cfg.Session.IdleWindow)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default log level INFO, got %s", cfg.Logging.Level)
	}
	if cfg.BackupDir != cfg.SceneDir {
		t.Errorf("backup dir should default to scene dir, got %s vs %s", cfg.BackupDir, cfg.SceneDir)
	}
	if cfg.MockMode {
		t.Error("mock mode should default to false")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
listen_port: 9000
scene_dir: /tmp/x32-scenes
mock_mode: true
console:
  ip: 192.168.1.32
  port: 10024
session:
  idle_window: 30s
  request_timeout: 250ms
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenPort != 9000 {
		t.Errorf("expected listen port 9000, got %d", cfg.ListenPort)
	}
	if cfg.Console.IP != "192.168.1.32" {
		t.Errorf("unexpected console ip %q", cfg.Console.IP)
	}
	if cfg.Console.Port != 10024 {
		t.Errorf("unexpected console port %d", cfg.Console.Port)
	}
	if !cfg.MockMode {
		t.Error("mock mode not read from file")
	}
	if cfg.Session.IdleWindow != 30*time.Second {
		t.Errorf("duration hook failed for idle_window: %v", cfg.Session.IdleWindow)
	}
	if cfg.Session.RequestTimeout != 250*time.Millisecond {
		t.Errorf("duration hook failed for request_timeout: %v", cfg.Session.RequestTimeout)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("log level not normalized: %s", cfg.Logging.Level)
	}
	if cfg.BackupDir != "/tmp/x32-scenes" {
		t.Errorf("backup dir should fall back to scene dir, got %s", cfg.BackupDir)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "listen_port: 9000\nscene_dir: /tmp/x\nconsole:\n  ip: 192.168.1.32\n")

	t.Setenv("X32MGR_LISTEN_PORT", "9100")
	t.Setenv("X32MGR_CONSOLE_IP", "10.0.0.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenPort != 9100 {
		t.Errorf("env should win over file, got %d", cfg.ListenPort)
	}
	if cfg.Console.IP != "10.0.0.5" {
		t.Errorf("nested env override failed, got %q", cfg.Console.IP)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "LOUD" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad listen port", func(c *Config) { c.ListenPort = 70000 }},
		{"bad console ip", func(c *Config) { c.Console.IP = "not-an-ip" }},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Console.IP = "192.168.1.32"
	cfg.MockMode = true

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Console.IP != cfg.Console.IP {
		t.Errorf("console ip lost in round trip: %q", loaded.Console.IP)
	}
	if !loaded.MockMode {
		t.Error("mock mode lost in round trip")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	if !strings.Contains(string(data), "listen_port") {
		t.Error("saved yaml should use snake_case tags")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := MustLoad("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
