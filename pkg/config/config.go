package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the complete server configuration. It is populated once at
// startup from the environment; the server never re-reads it at runtime.
type Config struct {
	// HTTP
	Port int

	// Postgres
	PostgresUser                          string
	PostgresPassword                      string
	PostgresDB                            string
	PostgresHost                          string
	PostgresPort                          int
	PostgresMinPoolSize                   int32
	PostgresMaxPoolSize                   int32
	PostgresTimeout                       time.Duration
	PostgresCommandTimeout                time.Duration
	PostgresMaxInactiveConnectionLifetime time.Duration

	// Filesystem layout root
	DataPath string

	// Background tasks
	WorkspaceCacheWarmUpInterval time.Duration

	// Secrets
	CookieSecret         string
	ContactEncryptionKey string
}

// Load builds a Config from the environment. A .env file in the working
// directory is honored when present.
func Load() (*Config, error) {
	// Best effort; the environment wins over the file.
	_ = godotenv.Load()

	cfg := &Config{
		Port:                                  envInt("PORT", 5057),
		PostgresUser:                          envString("POSTGRES_USER", "postgres"),
		PostgresPassword:                      envString("POSTGRES_PASSWORD", ""),
		PostgresDB:                            envString("POSTGRES_DB", "invigo"),
		PostgresHost:                          envString("POSTGRES_HOST", "localhost"),
		PostgresPort:                          envInt("POSTGRES_PORT", 5434),
		PostgresMinPoolSize:                   int32(envInt("POSTGRES_MIN_POOL_SIZE", 5)),
		PostgresMaxPoolSize:                   int32(envInt("POSTGRES_MAX_POOL_SIZE", 20)),
		PostgresTimeout:                       envSeconds("POSTGRES_TIMEOUT", 60),
		PostgresCommandTimeout:                envSeconds("POSTGRES_COMMAND_TIMEOUT", 60),
		PostgresMaxInactiveConnectionLifetime: envSeconds("POSTGRES_MAX_INACTIVE_CONNECTION_LIFETIME", 60),
		DataPath:                              envString("DATA_PATH", "."),
		WorkspaceCacheWarmUpInterval:          envSeconds("WORKSPACE_BACKGROUND_CACHE_WARM_UP_INTERVAL", 60),
		CookieSecret:                          envString("COOKIE_SECRET", ""),
		ContactEncryptionKey:                  envString("CONTACT_ENCRYPTION_KEY", ""),
	}

	if cfg.PostgresDB == "" {
		return nil, fmt.Errorf("POSTGRES_DB is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d", cfg.Port)
	}
	if cfg.PostgresMinPoolSize > cfg.PostgresMaxPoolSize {
		return nil, fmt.Errorf("POSTGRES_MIN_POOL_SIZE (%d) exceeds POSTGRES_MAX_POOL_SIZE (%d)",
			cfg.PostgresMinPoolSize, cfg.PostgresMaxPoolSize)
	}

	return cfg, nil
}

// DataDir returns a subdirectory of the data root, creating it if needed.
func (c *Config) DataDir(parts ...string) string {
	dir := filepath.Join(append([]string{c.DataPath}, parts...)...)
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// LogFile returns the path of the active server log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir("logs"), "server.log")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}
