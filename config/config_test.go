package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsApplied(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path == "" {
		t.Error("expected a default database path")
	}
	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("expected default port %d, got %d", DefaultServerPort, cfg.Server.Port)
	}
	if cfg.Files.Dir == "" {
		t.Error("expected a default files dir")
	}
	if cfg.Server.UploadsPerMinute <= 0 {
		t.Error("expected a positive default upload rate")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "convhub.toml")
	content := `
[database]
path = "/tmp/test-convhub.db"

[server]
port = 9999
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Database.Path != "/tmp/test-convhub.db" {
		t.Errorf("unexpected database path: %s", cfg.Database.Path)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("unexpected port: %d", cfg.Server.Port)
	}
	// Values not in the file fall back to defaults.
	if cfg.Files.Dir == "" {
		t.Error("expected default files dir to survive partial config")
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestEnvOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("CONVHUB_SERVER_PORT", "7777")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("env override not applied, got port %d", cfg.Server.Port)
	}
}
