package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadEnv(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadEnv(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.GRPCPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendMemory, cfg.EventBus)
	assert.Equal(t, BackendMemory, cfg.Archive)
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, 50, cfg.Jobs.Concurrency)
	assert.Equal(t, 10, cfg.Jobs.DefaultPriority)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.ArchiveTTL)
	assert.Equal(t, 5*time.Second, cfg.HTTP.JobWait)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.ShutdownTimeout)
	assert.Empty(t, cfg.DisabledModules)
	assert.Empty(t, cfg.Tracing.Endpoint)
	assert.Equal(t, "modjob", cfg.Tracing.ServiceName)
	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := loadEnv(map[string]string{
		"MODJOB_HTTP_PORT":            "8000",
		"MODJOB_EVENT_BUS":            "redis",
		"JOBS_CONCURRENCY":            "5",
		"JOBS_DEFAULT_PRIORITY":       "3",
		"MODJOB_DISABLED_MODULES":     "grpc,http",
		"API_TOKENS":                  "s3cret:admin,t0ken:user",
		"REDIS_ADDR":                  "redis:6379",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "otel-collector:4317",
	})
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, 5, cfg.Jobs.Concurrency)
	assert.Equal(t, 3, cfg.Jobs.DefaultPriority)
	assert.Equal(t, []string{"grpc", "http"}, cfg.DisabledModules)
	assert.Equal(t, map[string]string{"s3cret": "admin", "t0ken": "user"}, cfg.HTTP.Tokens)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "otel-collector:4317", cfg.Tracing.Endpoint)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"port out of range", map[string]string{"MODJOB_HTTP_PORT": "70000"}},
		{"same ports", map[string]string{"MODJOB_HTTP_PORT": "9090"}},
		{"unknown bus", map[string]string{"MODJOB_EVENT_BUS": "kafka"}},
		{"unknown archive", map[string]string{"MODJOB_ARCHIVE": "s3"}},
		{"zero concurrency", map[string]string{"JOBS_CONCURRENCY": "0"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "trace"}},
		{"not a number", map[string]string{"JOBS_CONCURRENCY": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadEnv(tt.vars)
			assert.Error(t, err)
		})
	}
}
