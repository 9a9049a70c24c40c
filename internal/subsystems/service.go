package subsystems

import (
	"context"
	"fmt"

	"github.com/aescanero/modjob/internal/application/jobs"
	"github.com/aescanero/modjob/internal/application/orchestrator"
	"github.com/aescanero/modjob/pkg/ports"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Module names of the infrastructure subsystems
const (
	RedisModule   = "redis"
	EventsModule  = "events"
	HTTPModule    = "http"
	GRPCModule    = "grpc"
	MonitorModule = "monitor"
)

// Hook starts or stops a subsystem
type Hook func(ctx context.Context) error

// Service is a module whose lifecycle is a pair of hooks
type Service struct {
	*orchestrator.Base
	start  Hook
	stop   Hook
	logger *zap.Logger
}

// NewService creates a module named name that runs start on startup and
// stop on shutdown. Either hook may be nil.
func NewService(name string, start, stop Hook, logger *zap.Logger, dependencies ...string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Base:   orchestrator.NewBase(name, dependencies...),
		start:  start,
		stop:   stop,
		logger: logger.With(zap.String("module", name)),
	}
}

// Startup runs the start hook
func (s *Service) Startup(ctx context.Context) error {
	if s.start == nil {
		return nil
	}
	s.logger.Debug("starting subsystem")
	if err := s.start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.Name(), err)
	}
	return nil
}

// Shutdown runs the stop hook
func (s *Service) Shutdown(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	s.logger.Debug("stopping subsystem")
	if err := s.stop(ctx); err != nil {
		return fmt.Errorf("failed to stop %s: %w", s.Name(), err)
	}
	return nil
}

// NewRedis wraps a redis client: startup pings it, shutdown closes it
func NewRedis(client goredis.UniversalClient, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewService(RedisModule,
		func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to Redis: %w", err)
			}
			logger.Info("connected to Redis")
			return nil
		},
		func(ctx context.Context) error {
			return client.Close()
		},
		logger)
}

// Events subscribes a handler to the job result topic for as long as the
// module runs, and closes the bus on shutdown
type Events struct {
	*Service
	bus     ports.EventBus
	topic   string
	handler ports.EventHandler
	cancel  context.CancelFunc
}

// NewEvents creates the events module
func NewEvents(bus ports.EventBus, topic string, handler ports.EventHandler, logger *zap.Logger, dependencies ...string) *Events {
	e := &Events{bus: bus, topic: topic, handler: handler}
	e.Service = NewService(EventsModule, e.subscribe, e.close, logger, dependencies...)
	return e
}

func (e *Events) subscribe(ctx context.Context) error {
	// the subscription outlives the startup context
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := e.bus.Subscribe(subCtx, e.topic, e.handler); err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", e.topic, err)
	}
	e.cancel = cancel
	return nil
}

func (e *Events) close(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.bus.Close()
}

// Server is a network server with background serving
type Server interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// NewServer wraps a server as a module
func NewServer(name string, srv Server, logger *zap.Logger, dependencies ...string) *Service {
	return NewService(name, srv.Start, srv.Shutdown, logger, dependencies...)
}

// NewMonitor runs the queue monitor while the module is started
func NewMonitor(monitor *jobs.Monitor, logger *zap.Logger) *Service {
	return NewService(MonitorModule,
		func(ctx context.Context) error {
			monitor.Start()
			return nil
		},
		func(ctx context.Context) error {
			monitor.Stop()
			return nil
		},
		logger)
}
