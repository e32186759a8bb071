// Package config reads the gateway's settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every runtime setting for the tool gateway server.
type Config struct {
	LogLevel string
	HTTPPort string
	GRPCPort string

	CheckTimeout time.Duration
	RulesFile    string

	PostgresDSN        string
	ClickHouseDSN      string
	PermissionCacheTTL time.Duration
	PermissionFailOpen bool

	HistoryCap        int
	SessionCap        int
	Retention         time.Duration
	CacheExpiration   time.Duration
	StaleOperationAge time.Duration
	CleanupInterval   time.Duration
}

// Load reads Config from TOOL_GATEWAY_* variables plus the shared
// POSTGRES_DSN and CLICKHOUSE_DSN. Malformed values fall back to defaults.
func Load() Config {
	return Config{
		LogLevel: envOrDefault("TOOL_GATEWAY_LOG_LEVEL", "info"),
		HTTPPort: envOrDefault("TOOL_GATEWAY_HTTP_PORT", "8080"),
		GRPCPort: envOrDefault("TOOL_GATEWAY_GRPC_PORT", "50054"),

		CheckTimeout: envOrDefaultMillis("TOOL_GATEWAY_CHECK_TIMEOUT_MS", 250),
		RulesFile:    os.Getenv("TOOL_GATEWAY_RULES_FILE"),

		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN:      os.Getenv("CLICKHOUSE_DSN"),
		PermissionCacheTTL: envOrDefaultSeconds("TOOL_GATEWAY_PERMISSION_CACHE_TTL_S", 30),
		PermissionFailOpen: envOrDefaultBool("TOOL_GATEWAY_PERMISSION_FAIL_OPEN", false),

		HistoryCap:        envOrDefaultInt("TOOL_GATEWAY_HISTORY_CAP", 10000),
		SessionCap:        envOrDefaultInt("TOOL_GATEWAY_SESSION_CAP", 1000),
		Retention:         envOrDefaultSeconds("TOOL_GATEWAY_RETENTION_S", 24*60*60),
		CacheExpiration:   envOrDefaultSeconds("TOOL_GATEWAY_CACHE_EXPIRATION_S", 300),
		StaleOperationAge: envOrDefaultSeconds("TOOL_GATEWAY_STALE_OPERATION_AGE_S", 600),
		CleanupInterval:   envOrDefaultSeconds("TOOL_GATEWAY_CLEANUP_INTERVAL_S", 300),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envOrDefaultMillis(key string, defaultVal int) time.Duration {
	return time.Duration(envOrDefaultInt(key, defaultVal)) * time.Millisecond
}

func envOrDefaultSeconds(key string, defaultVal int) time.Duration {
	return time.Duration(envOrDefaultInt(key, defaultVal)) * time.Second
}
