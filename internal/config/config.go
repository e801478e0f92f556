// Package config handles configuration loading for the MapSmooth server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Jobs   JobsConfig   `yaml:"jobs"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DataConfig contains data source settings.
type DataConfig struct {
	StorePath  string `yaml:"store_path"`
	TileDBPath string `yaml:"tiledb_path"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB     int `yaml:"tile_size_mb"`
	TileTTLMinutes int `yaml:"tile_ttl_minutes"`
	PlanCacheSize  int `yaml:"plan_cache_size"`
	MapCacheSize   int `yaml:"map_cache_size"`
}

// RenderConfig contains heatmap rendering settings.
type RenderConfig struct {
	ImageSize       int    `yaml:"image_size"`
	DefaultColormap string `yaml:"default_colormap"`
}

// JobsConfig contains batch smoothing job settings.
type JobsConfig struct {
	SQLitePath    string `yaml:"sqlite_path"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			StorePath: "./data/maps",
		},
		Cache: CacheConfig{
			TileSizeMB:     512,
			TileTTLMinutes: 10,
			PlanCacheSize:  256,
			MapCacheSize:   512,
		},
		Render: RenderConfig{
			ImageSize:       256,
			DefaultColormap: "viridis",
		},
		Jobs: JobsConfig{
			SQLitePath:    "./data/jobs.db",
			MaxConcurrent: 1,
			RetentionDays: 7,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Data.StorePath == "" {
		cfg.Data.StorePath = defaults.Data.StorePath
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.PlanCacheSize == 0 {
		cfg.Cache.PlanCacheSize = defaults.Cache.PlanCacheSize
	}
	if cfg.Cache.MapCacheSize == 0 {
		cfg.Cache.MapCacheSize = defaults.Cache.MapCacheSize
	}
	if cfg.Render.ImageSize == 0 {
		cfg.Render.ImageSize = defaults.Render.ImageSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Jobs.SQLitePath == "" {
		cfg.Jobs.SQLitePath = defaults.Jobs.SQLitePath
	}
	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = defaults.Jobs.MaxConcurrent
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = defaults.Jobs.RetentionDays
	}
}
