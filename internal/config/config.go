package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v10"
)

// Backend names accepted for the event bus and the job archive
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for modjob
type Config struct {
	// Server configuration
	HTTPPort int    `env:"MODJOB_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"MODJOB_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Adapter selection
	EventBus string `env:"MODJOB_EVENT_BUS" envDefault:"memory"`
	Archive  string `env:"MODJOB_ARCHIVE" envDefault:"memory"`

	// Modules that start as DISABLED
	DisabledModules []string `env:"MODJOB_DISABLED_MODULES" envSeparator:","`

	Redis    RedisConfig
	Jobs     JobsConfig
	HTTP     HTTPConfig
	Tracing  TracingConfig
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Consumer group of this instance; defaults to a per-process name
	ConsumerGroup string `env:"REDIS_CONSUMER_GROUP"`
}

// JobsConfig holds job queue configuration
type JobsConfig struct {
	Concurrency     int           `env:"JOBS_CONCURRENCY" envDefault:"50"`
	DefaultPriority int           `env:"JOBS_DEFAULT_PRIORITY" envDefault:"10"`
	MonitorInterval time.Duration `env:"JOBS_MONITOR_INTERVAL" envDefault:"30s"`
	StaleAfter      time.Duration `env:"JOBS_STALE_AFTER" envDefault:"5m"`
	ArchiveTTL      time.Duration `env:"JOBS_ARCHIVE_TTL" envDefault:"24h"`
}

// HTTPConfig holds HTTP API configuration
type HTTPConfig struct {
	// How long POST /api/v1/jobs waits for a result before answering 202
	JobWait   time.Duration `env:"HTTP_JOB_WAIT" envDefault:"5s"`
	RateLimit float64       `env:"HTTP_RATE_LIMIT" envDefault:"20"`
	RateBurst int           `env:"HTTP_RATE_BURST" envDefault:"40"`
	// Bearer tokens, "token:role,token:role"
	Tokens map[string]string `env:"API_TOKENS" envSeparator:"," envKeyValSeparator:":"`
}

// TracingConfig holds OpenTelemetry export settings. Tracing is off while
// the endpoint is empty.
type TracingConfig struct {
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"modjob"`
}

// TimeoutConfig holds lifecycle timeouts
type TimeoutConfig struct {
	StartupTimeout  time.Duration `env:"TIMEOUT_STARTUP" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("HTTP and gRPC ports must differ: %d", c.HTTPPort)
	}

	backends := []string{BackendMemory, BackendRedis}
	if !slices.Contains(backends, c.EventBus) {
		return fmt.Errorf("unsupported event bus: %s (must be memory or redis)", c.EventBus)
	}
	if !slices.Contains(backends, c.Archive) {
		return fmt.Errorf("unsupported archive: %s (must be memory or redis)", c.Archive)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Jobs.Concurrency < 1 {
		return fmt.Errorf("job concurrency must be at least 1")
	}
	if c.Jobs.MonitorInterval <= 0 {
		return fmt.Errorf("job monitor interval must be positive")
	}
	if c.HTTP.RateLimit <= 0 || c.HTTP.RateBurst < 1 {
		return fmt.Errorf("invalid HTTP rate limit: %v/s burst %d", c.HTTP.RateLimit, c.HTTP.RateBurst)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any adapter needs the redis module
func (c *Config) UsesRedis() bool {
	return c.EventBus == BackendRedis || c.Archive == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
