package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the server
type Config struct {
	// Server settings
	Port        int
	CORSOrigins []string

	// Database
	DatabaseDSN    string
	DatabaseDriver string // "postgres" or "sqlite", auto-detected from DSN

	// Security
	JWTSecret []byte
	TokenTTL  time.Duration

	// AI completion provider
	AIKey      string
	AIModel    string
	AIEndpoint string

	// File tree persistence
	FileTreeSaveDebounce time.Duration

	// Sandbox
	SandboxWorkdir string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	// Server
	cfg.Port = getEnvInt("PORT", 3000)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"})

	// Database
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "sqlite://./devroom.db")
	cfg.DatabaseDriver = detectDriver(cfg.DatabaseDSN)

	// Security - the socket gate and HTTP auth both verify against this secret
	secret := getEnv("JWT_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	cfg.JWTSecret = []byte(secret)
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 24*time.Hour)

	// AI provider
	cfg.AIKey = getEnv("GOOGLE_AI_KEY", "")
	cfg.AIModel = getEnv("GOOGLE_AI_MODEL", "gemini-1.5-flash")
	cfg.AIEndpoint = getEnv("GOOGLE_AI_ENDPOINT", "https://generativelanguage.googleapis.com/v1beta")

	// File tree persistence quiet window
	cfg.FileTreeSaveDebounce = getEnvDuration("FILETREE_SAVE_DEBOUNCE", time.Second)

	// Sandbox working directory (empty = per-boot temp dir)
	cfg.SandboxWorkdir = getEnv("SANDBOX_WORKDIR", "")

	return cfg, nil
}

// detectDriver determines the database driver from DSN
func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "sqlite3://") || strings.HasPrefix(dsn, "sqlite://") {
		return "sqlite"
	}
	// Default to sqlite for file paths
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") {
		return "sqlite"
	}
	return "postgres"
}

// CleanDSN removes the driver prefix from DSN for the database layer
func (c *Config) CleanDSN() string {
	dsn := c.DatabaseDSN
	dsn = strings.TrimPrefix(dsn, "postgres://")
	dsn = strings.TrimPrefix(dsn, "postgresql://")
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	// For postgres, add the prefix back
	if c.DatabaseDriver == "postgres" {
		return "postgres://" + dsn
	}
	return dsn
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
