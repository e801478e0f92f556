package config

import (
	"os"
	"path/filepath"
	"testing"
)

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoad(t *testing.T) {
	content := `
server:
  port: 9000
  cors_origins:
    - "https://example.org"
data:
  store_path: "/data/maps"
cache:
  tile_size_mb: 256
  plan_cache_size: 64
render:
  image_size: 512
jobs:
  sqlite_path: "/data/jobs.db"
  max_concurrent: 2
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://example.org" {
		t.Errorf("cors_origins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Data.StorePath != "/data/maps" {
		t.Errorf("store_path = %q", cfg.Data.StorePath)
	}
	if cfg.Cache.TileSizeMB != 256 {
		t.Errorf("tile_size_mb = %d", cfg.Cache.TileSizeMB)
	}
	if cfg.Cache.PlanCacheSize != 64 {
		t.Errorf("plan_cache_size = %d", cfg.Cache.PlanCacheSize)
	}
	if cfg.Render.ImageSize != 512 {
		t.Errorf("image_size = %d", cfg.Render.ImageSize)
	}
	if cfg.Jobs.SQLitePath != "/data/jobs.db" {
		t.Errorf("sqlite_path = %q", cfg.Jobs.SQLitePath)
	}
	if cfg.Jobs.MaxConcurrent != 2 {
		t.Errorf("max_concurrent = %d", cfg.Jobs.MaxConcurrent)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	content := `
server:
  port: 9000
`
	cfg := loadFromString(t, content)

	defaults := DefaultConfig()
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Cache.TileSizeMB != defaults.Cache.TileSizeMB {
		t.Errorf("tile_size_mb = %d, want default %d", cfg.Cache.TileSizeMB, defaults.Cache.TileSizeMB)
	}
	if cfg.Render.DefaultColormap != defaults.Render.DefaultColormap {
		t.Errorf("default_colormap = %q", cfg.Render.DefaultColormap)
	}
	if cfg.Jobs.RetentionDays != defaults.Jobs.RetentionDays {
		t.Errorf("retention_days = %d", cfg.Jobs.RetentionDays)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defaults := DefaultConfig()
	if cfg.Server.Port != defaults.Server.Port {
		t.Errorf("port = %d, want default %d", cfg.Server.Port, defaults.Server.Port)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a mapping"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}
