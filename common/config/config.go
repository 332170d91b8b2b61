package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds service-level configuration for the graphflow server and CLI.
// Workflow-level configuration lives in the workflow document itself.
type Config struct {
	Service ServiceConfig
	Storage StorageConfig
	Cache   CacheConfig
}

// ServiceConfig holds service-specific settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// StorageConfig holds persistence settings for the server process.
type StorageConfig struct {
	Backend string // "sqlite" or "postgres"
	Path    string // sqlite file path
	URL     string // postgres connection URL
}

// CacheConfig holds compiled-workflow cache settings.
type CacheConfig struct {
	Backend    string // "memory" or "redis"
	RedisAddr  string
	DefaultTTL time.Duration
}

// Load loads configuration from environment variables.
func Load(serviceName string) *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        envInt("GRAPHFLOW_PORT", 8080),
			Environment: envStr("GRAPHFLOW_ENV", "development"),
			LogLevel:    envStr("GRAPHFLOW_LOG_LEVEL", "info"),
			LogFormat:   envStr("GRAPHFLOW_LOG_FORMAT", "console"),
		},
		Storage: StorageConfig{
			Backend: envStr("GRAPHFLOW_STORAGE_BACKEND", "sqlite"),
			Path:    envStr("GRAPHFLOW_STORAGE_PATH", "graphflow.db"),
			URL:     envStr("GRAPHFLOW_STORAGE_URL", ""),
		},
		Cache: CacheConfig{
			Backend:    envStr("GRAPHFLOW_CACHE_BACKEND", "memory"),
			RedisAddr:  envStr("GRAPHFLOW_REDIS_ADDR", "localhost:6379"),
			DefaultTTL: envDuration("GRAPHFLOW_CACHE_TTL", time.Hour),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
