// Package config loads storage-core configuration from an optional YAML
// file layered with environment variables. Environment always wins, so a
// deployment can override a checked-in config file without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the storage core.
type Config struct {
	// DataDir is the directory holding admin.db and the tenants/ subtree.
	DataDir string `yaml:"data_dir"`

	// FastStart lets calls proceed while bootstrap runs in the background.
	// Callers must tolerate transient not-found errors in that window.
	FastStart bool `yaml:"fast_start"`

	Log  LogConfig  `yaml:"log"`
	Seed SeedConfig `yaml:"seed"`

	// ConnectMaxElapsed bounds reconnection backoff before a connection
	// failure becomes fatal.
	ConnectMaxElapsed time.Duration `yaml:"connect_max_elapsed"`
}

// LogConfig selects log level and encoder.
type LogConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"`
}

// SeedConfig controls the default administrator seeded into an empty
// administrative store.
type SeedConfig struct {
	AdminEmail string `yaml:"admin_email"`
	AdminName  string `yaml:"admin_name"`
}

// Load reads configuration from an optional YAML file at path, then applies
// environment overrides. A missing file is not an error; a missing .env is
// not an error either.
func Load(path string) (*Config, error) {
	// Best effort: pick up a local .env for development.
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir must not be empty")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		DataDir:           "./data",
		Log:               LogConfig{Level: "info", Environment: "development"},
		Seed:              SeedConfig{AdminEmail: "admin@krapi.local", AdminName: "Administrator"},
		ConnectMaxElapsed: 30 * time.Second,
	}
}

func applyEnv(cfg *Config) {
	cfg.DataDir = getEnv("KRAPI_DATA_DIR", cfg.DataDir)
	cfg.FastStart = getEnvBool("KRAPI_FAST_START", cfg.FastStart)
	cfg.Log.Level = getEnv("KRAPI_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Environment = getEnv("KRAPI_ENV", cfg.Log.Environment)
	cfg.Seed.AdminEmail = getEnv("KRAPI_SEED_ADMIN_EMAIL", cfg.Seed.AdminEmail)
	cfg.Seed.AdminName = getEnv("KRAPI_SEED_ADMIN_NAME", cfg.Seed.AdminName)
	cfg.ConnectMaxElapsed = getEnvDuration("KRAPI_CONNECT_MAX_ELAPSED", cfg.ConnectMaxElapsed)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
