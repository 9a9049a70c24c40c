package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/modjob/internal/application/jobs"
	"github.com/aescanero/modjob/internal/application/orchestrator"
	"github.com/aescanero/modjob/internal/application/system"
	"github.com/aescanero/modjob/internal/config"
	"github.com/aescanero/modjob/internal/observability"
	"github.com/aescanero/modjob/internal/subsystems"
	memoryevents "github.com/aescanero/modjob/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/modjob/pkg/adapters/events/redis"
	zapsink "github.com/aescanero/modjob/pkg/adapters/logging/zap"
	"github.com/aescanero/modjob/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/aescanero/modjob/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/modjob/pkg/adapters/storage/redis"
	"github.com/aescanero/modjob/pkg/api/grpc"
	"github.com/aescanero/modjob/pkg/api/http"
	"github.com/aescanero/modjob/pkg/api/websocket"
	"github.com/aescanero/modjob/pkg/domain"
	"github.com/aescanero/modjob/pkg/ports"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting modjob",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Tracing must be installed before the queue picks up the global provider
	shutdownTracer, err := observability.InitTracer(context.Background(), cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, logger)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	// Metrics live on their own registry so /metrics only shows what we export
	registry := promclient.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := prometheus.NewCollector(registry)

	// Optional Redis client, owned by the redis module
	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
	}

	// Initialize adapters
	eventBus, eventDeps := newEventBus(cfg, redisClient, logger)
	archive := newArchive(cfg, redisClient, logger)

	// Initialize application components
	manager := orchestrator.NewManager(orchestrator.NewValidator(), logger)

	defaultPriority := cfg.Jobs.DefaultPriority
	queue := jobs.NewQueue(&jobs.Config{
		Concurrency:     cfg.Jobs.Concurrency,
		DefaultPriority: &defaultPriority,
		Resolver:        manager,
		Stats:           metricsCollector,
		Logs:            zapsink.NewSink(logger),
		Events:          eventBus,
		Archive:         archive,
		Logger:          logger,
	})
	manager.SetScheduler(queue)

	monitor := jobs.NewMonitor(queue, cfg.Jobs.MonitorInterval, cfg.Jobs.StaleAfter, metricsCollector, logger)

	// Initialize API servers
	hub := websocket.NewHub(&websocket.Config{
		Jobs:      queue,
		RateLimit: cfg.HTTP.RateLimit,
		RateBurst: cfg.HTTP.RateBurst,
		Logger:    logger,
	})

	httpServer := http.NewServer(&http.Config{
		Port:      cfg.HTTPPort,
		Jobs:      queue,
		Modules:   manager,
		Tokens:    cfg.HTTP.Tokens,
		JobWait:   cfg.HTTP.JobWait,
		RateLimit: cfg.HTTP.RateLimit,
		RateBurst: cfg.HTTP.RateBurst,
		Metrics:   metricsCollector,
		Gatherer:  registry,
		WebSocket: hub.HandleConnection,
		Logger:    logger,
	})

	grpcServer := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})

	manager.OnStatusChange(func(module string, status domain.ModuleStatus) {
		metricsCollector.SetModuleStatus(module, status)
		grpcServer.SetModuleStatus(module, status)
		grpcServer.SetOverall(manager.Status())
	})

	// Register modules
	var modules []orchestrator.Module
	if redisClient != nil {
		modules = append(modules, subsystems.NewRedis(redisClient, logger))
	}
	modules = append(modules,
		subsystems.NewEvents(eventBus, jobs.DefaultTopic, hub.HandleEvent, logger, eventDeps...),
		subsystems.NewService(subsystems.HTTPModule,
			httpServer.Start,
			func(ctx context.Context) error {
				hub.Close()
				return httpServer.Shutdown(ctx)
			},
			logger, subsystems.EventsModule),
		subsystems.NewServer(subsystems.GRPCModule, grpcServer, logger),
		subsystems.NewMonitor(monitor, logger),
		system.NewUtils(manager, queue),
	)
	if err := manager.Register(modules...); err != nil {
		logger.Fatal("failed to register modules", zap.Error(err))
	}

	for _, name := range cfg.DisabledModules {
		if err := manager.Disable(name); err != nil {
			logger.Warn("cannot disable module", zap.String("module", name), zap.Error(err))
		}
	}

	// Start modules in dependency order; the queue resumes once all are up
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.Timeouts.StartupTimeout)
	err = manager.Startup(startupCtx)
	cancelStartup()
	if err != nil {
		logger.Fatal("failed to start modjob", zap.Error(err))
	}

	logger.Info("modjob started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("concurrency", queue.Concurrency()),
		zap.String("event_bus", cfg.EventBus),
		zap.String("archive", cfg.Archive))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", zap.Error(err))
	}

	logger.Info("modjob shut down complete")
}

// newEventBus selects the configured event bus and the modules it needs
func newEventBus(cfg *config.Config, client *goredis.Client, logger *zap.Logger) (ports.EventBus, []string) {
	if cfg.EventBus != config.BackendRedis {
		return memoryevents.NewEventBus(logger), nil
	}

	// every instance reads every result so it can reach its own websocket clients
	group := cfg.Redis.ConsumerGroup
	if group == "" {
		hostname, _ := os.Hostname()
		group = fmt.Sprintf("modjob-%s-%d", hostname, os.Getpid())
	}

	bus, err := redisevents.NewStreamsEventBus(client, group, fmt.Sprintf("modjob-%d", os.Getpid()), logger)
	if err != nil {
		logger.Fatal("failed to create event bus", zap.Error(err))
	}
	return bus, []string{subsystems.RedisModule}
}

// newArchive selects the configured completed-job archive
func newArchive(cfg *config.Config, client *goredis.Client, logger *zap.Logger) ports.JobArchive {
	if cfg.Archive == config.BackendRedis {
		return redisstorage.NewJobArchive(client, cfg.Jobs.ArchiveTTL, logger)
	}
	return memorystorage.NewJobArchive(cfg.Jobs.ArchiveTTL)
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
