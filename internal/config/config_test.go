package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every HISTD_* override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied when the backend is empty.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "missing.json")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.History.DefaultPageSize != 10 || cfg.History.MaxPageSize != 100 {
		t.Errorf("History = %+v, want 10/100", cfg.History)
	}
	if cfg.API.ScanRate != 20 || cfg.API.ScanBurst != 40 {
		t.Errorf("API = %+v, want 20/40", cfg.API)
	}
	if cfg.MCP.Stdio {
		t.Error("MCP.Stdio should default to false")
	}
	if cfg.Reconcile.Every() != 0 {
		t.Errorf("reconciler should be disabled by default, got %v", cfg.Reconcile.Every())
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, "histd") && cfg.Storage.DataDir != "histd-data" {
		t.Errorf("Storage.DataDir = %q, want a histd directory", cfg.Storage.DataDir)
	}
}

// TestFileParsing verifies that all fields are correctly read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{
  "server.host": "0.0.0.0",
  "server.port": 9090,
  "storage.data_dir": "/tmp/histd-test",
  "log.level": "debug",
  "history.default_page_size": 20,
  "history.max_page_size": "50",
  "api.scan_rate": 2.5,
  "api.scan_burst": 5,
  "mcp.stdio": "true",
  "reconcile.interval": "15m"
}`)

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("Server.Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Storage.DataDir != "/tmp/histd-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.History.DefaultPageSize != 20 || cfg.History.MaxPageSize != 50 {
		t.Errorf("History = %+v", cfg.History)
	}
	if cfg.API.ScanRate != 2.5 || cfg.API.ScanBurst != 5 {
		t.Errorf("API = %+v", cfg.API)
	}
	if !cfg.MCP.Stdio {
		t.Error("MCP.Stdio = false, want true")
	}
	if cfg.Reconcile.Every() != 15*time.Minute {
		t.Errorf("Reconcile.Every() = %v, want 15m", cfg.Reconcile.Every())
	}
}

// TestEnvOverride verifies that environment variables override file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 9090, "log.level": "warn"}`)

	t.Setenv("HISTD_SERVER_PORT", "7070")
	t.Setenv("HISTD_MCP_STDIO", "1")
	t.Setenv("HISTD_API_SCAN_RATE", "0")

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	if !cfg.MCP.Stdio {
		t.Error("MCP.Stdio = false, want true")
	}
	if cfg.API.ScanRate != 0 {
		t.Errorf("API.ScanRate = %v, want 0", cfg.API.ScanRate)
	}
}

// TestEnvOverride_Unparseable keeps the previous value when an env var is malformed.
func TestEnvOverride_Unparseable(t *testing.T) {
	clearEnv(t)
	t.Setenv("HISTD_SERVER_PORT", "eighty")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "none.json")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
}

func TestFileBackend_InvalidInt(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"server.port": 80.5}`)

	if _, err := loadWith(newFileBackend(path)); err == nil {
		t.Fatal("expected error for non-integer port")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"empty data dir", func(c *Config) { c.Storage.DataDir = " " }, "storage.data_dir"},
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"zero default page", func(c *Config) { c.History.DefaultPageSize = 0 }, "history.default_page_size"},
		{"zero max page", func(c *Config) { c.History.MaxPageSize = 0 }, "history.max_page_size"},
		{"default above max", func(c *Config) { c.History.DefaultPageSize = 200 }, "exceeds"},
		{"negative rate", func(c *Config) { c.API.ScanRate = -1 }, "api.scan_rate"},
		{"rate without burst", func(c *Config) { c.API.ScanBurst = 0 }, "api.scan_burst"},
		{"bad interval", func(c *Config) { c.Reconcile.Interval = "often" }, "reconcile.interval"},
		{"negative interval", func(c *Config) { c.Reconcile.Interval = "-1m" }, "reconcile.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.Storage.DataDir = "/tmp/histd"
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}

	cfg := defaults()
	cfg.Storage.DataDir = "/tmp/histd"
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	b := newFileBackend(path)

	for _, kv := range [][2]string{
		{"server.port", "9999"},
		{"log.level", "debug"},
		{"mcp.stdio", "TRUE"},
		{"api.scan_rate", "7.5"},
		{"reconcile.interval", "1h"},
	} {
		if err := setKeyWith(b, kv[0], kv[1]); err != nil {
			t.Fatalf("setKeyWith(%s, %s): %v", kv[0], kv[1], err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	var stored map[string]any
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("parsing config file: %v", err)
	}
	if stored["server.port"] != float64(9999) || stored["mcp.stdio"] != "true" {
		t.Errorf("stored = %v", stored)
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("loading saved config: %v", err)
	}
	if cfg.Server.Port != 9999 || cfg.Log.Level != "debug" || !cfg.MCP.Stdio || cfg.API.ScanRate != 7.5 || cfg.Reconcile.Every() != time.Hour {
		t.Errorf("reloaded config = %+v", cfg)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.json"))

	tests := []struct{ key, value string }{
		{"nope.key", "1"},
		{"server.port", "abc"},
		{"mcp.stdio", "sometimes"},
		{"api.scan_rate", "fast"},
		{"reconcile.interval", "soon"},
	}
	for _, tt := range tests {
		if err := setKeyWith(b, tt.key, tt.value); err == nil {
			t.Errorf("setKeyWith(%s, %s) succeeded, want error", tt.key, tt.value)
		}
	}
}

func TestUnsetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	b := newFileBackend(path)
	setKeyWith(b, "server.port", "9999")

	if err := unsetKeyWith(b, "server.port"); err != nil {
		t.Fatalf("unsetKeyWith: %v", err)
	}
	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}

	if err := unsetKeyWith(b, "nope.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAll(t *testing.T) {
	cfg := defaults()
	infos := ShowAll(cfg)

	if len(infos) != len(ValidKeys()) {
		t.Fatalf("ShowAll returned %d keys, ValidKeys %d", len(infos), len(ValidKeys()))
	}
	for _, info := range infos {
		if !strings.HasPrefix(info.EnvVar, "HISTD_") {
			t.Errorf("%s has env var %q, want HISTD_ prefix", info.Key, info.EnvVar)
		}
		if info.Key == "server.port" && info.Value != "8080" {
			t.Errorf("server.port value = %q, want 8080", info.Value)
		}
	}
}
