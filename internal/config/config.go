// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Store backend names accepted by VANTAGE_STORE.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// Config holds application configuration
type Config struct {
	DataDir                 string // Base directory for the experiments datastore (always absolute)
	Store                   string // Datastore backend: memory, sqlite or badger
	LogLevel                string
	Collecting              bool // Persist assignments and conversions (off in dev/test hosts)
	ExperimentsStartEnabled bool // Default enabled flag stamped on new experiments
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("VANTAGE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "vantage")
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:                 absDataDir,
		Store:                   getEnv("VANTAGE_STORE", StoreSQLite),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		Collecting:              getEnvAsBool("VANTAGE_COLLECTING", true),
		ExperimentsStartEnabled: getEnvAsBool("VANTAGE_EXPERIMENTS_START_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreBadger:
	default:
		return fmt.Errorf("unknown store backend %q (expected %s, %s or %s)",
			c.Store, StoreMemory, StoreSQLite, StoreBadger)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
