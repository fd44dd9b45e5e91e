package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the autoloop service
type Config struct {
	// Server settings
	Port int

	// Workspace settings
	WorkspaceRoot string

	// Control API auth settings
	AuthSecret   string
	AuthAudience string
	TokenTTL     time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	root := getEnv("AUTOLOOP_WORKSPACE", ".")

	cfg := &Config{
		Port:          getEnvInt("PORT", 8000),
		WorkspaceRoot: root,
		AuthSecret:    os.Getenv("AUTOLOOP_AUTH_SECRET"),
		AuthAudience:  getEnv("AUTOLOOP_AUTH_AUDIENCE", "autoloop-control"),
		TokenTTL:      time.Duration(getEnvInt("AUTOLOOP_TOKEN_TTL_SECONDS", 3600)) * time.Second,
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that all required configuration is present
func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	abs, err := filepath.Abs(c.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("AUTOLOOP_WORKSPACE is invalid: %w", err)
	}
	c.WorkspaceRoot = abs
	if c.TokenTTL <= 0 {
		return fmt.Errorf("AUTOLOOP_TOKEN_TTL_SECONDS must be greater than 0")
	}
	return nil
}

// AuthEnabled reports whether bearer-token auth is configured. An empty
// secret leaves the control API open, which is the expected local setup.
func (c *Config) AuthEnabled() bool {
	return c.AuthSecret != ""
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

