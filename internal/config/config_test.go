package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syncd.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromFile("")
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.Sync.MaxRetries)
	}
	if cfg.Sync.SyncInterval.Std() != 5*time.Minute {
		t.Errorf("sync interval = %v", cfg.Sync.SyncInterval.Std())
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
data_dir = "/var/lib/syncd"
log_level = "debug"

[server]
api_base_url = "https://api.example.com"
request_timeout = "10s"

[sync]
max_retries = 5
sync_interval = "1m"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.DataDir != "/var/lib/syncd" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
	if cfg.Server.APIBaseURL != "https://api.example.com" {
		t.Errorf("api base url = %q", cfg.Server.APIBaseURL)
	}
	if cfg.Server.RequestTimeout.Std() != 10*time.Second {
		t.Errorf("request timeout = %v", cfg.Server.RequestTimeout.Std())
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("max retries = %d", cfg.Sync.MaxRetries)
	}
	// Unset values keep their defaults.
	if cfg.Sync.Retention.Std() != 7*24*time.Hour {
		t.Errorf("retention = %v", cfg.Sync.Retention.Std())
	}
	if cfg.Server.StatusAddr != "127.0.0.1:9090" {
		t.Errorf("status addr = %q", cfg.Server.StatusAddr)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `
[sync]
max_retries = -1
`)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("negative max_retries must be rejected")
	}

	bad := writeConfig(t, `data_dir = ""`)
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("empty data_dir must be rejected")
	}

	malformed := writeConfig(t, `not toml ===`)
	if _, err := LoadFromFile(malformed); err == nil {
		t.Error("malformed TOML must be rejected")
	}
}
