package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("CLICKHOUSE_DSN", "")

	cfg := Load()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 250*time.Millisecond, cfg.CheckTimeout)
	assert.Equal(t, 10000, cfg.HistoryCap)
	assert.Equal(t, 1000, cfg.SessionCap)
	assert.Equal(t, 24*time.Hour, cfg.Retention)
	assert.Equal(t, 5*time.Minute, cfg.CacheExpiration)
	assert.False(t, cfg.PermissionFailOpen)
	assert.Empty(t, cfg.PostgresDSN)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TOOL_GATEWAY_LOG_LEVEL", "debug")
	t.Setenv("TOOL_GATEWAY_CHECK_TIMEOUT_MS", "40")
	t.Setenv("TOOL_GATEWAY_HISTORY_CAP", "50")
	t.Setenv("TOOL_GATEWAY_PERMISSION_FAIL_OPEN", "true")
	t.Setenv("TOOL_GATEWAY_RETENTION_S", "60")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/gateway")

	cfg := Load()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 40*time.Millisecond, cfg.CheckTimeout)
	assert.Equal(t, 50, cfg.HistoryCap)
	assert.True(t, cfg.PermissionFailOpen)
	assert.Equal(t, time.Minute, cfg.Retention)
	assert.Equal(t, "postgres://localhost/gateway", cfg.PostgresDSN)
}

func TestLoad_MalformedFallsBack(t *testing.T) {
	t.Setenv("TOOL_GATEWAY_SESSION_CAP", "lots")
	t.Setenv("TOOL_GATEWAY_PERMISSION_FAIL_OPEN", "maybe")

	cfg := Load()
	assert.Equal(t, 1000, cfg.SessionCap)
	assert.False(t, cfg.PermissionFailOpen)
}
