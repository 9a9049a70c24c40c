package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aescanero/modjob/internal/application/jobs"
	"github.com/aescanero/modjob/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// JobService is the job queue as seen by the API
type JobService interface {
	Submit(ctx context.Context, module, operation string, payload domain.Payload, opts ...jobs.Option) (*jobs.Handle, error)
	Queued() []*domain.JobRecord
	Active() []*domain.JobRecord
	Job(ctx context.Context, id string) (*domain.JobRecord, error)
	Stats() []domain.OperationStats
}

// ModuleService is the orchestrator as seen by the API
type ModuleService interface {
	Modules() []domain.ModuleInfo
	Status() domain.ModuleStatus
	SetStatus(name string, status domain.ModuleStatus) error
}

// RequestObserver records served requests
type RequestObserver interface {
	ObserveHTTPRequest(method, route string, code int, d time.Duration)
}

// Server represents the HTTP API server
type Server struct {
	router  *gin.Engine
	server  *http.Server
	jobs    JobService
	modules ModuleService
	jobWait time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// Config holds HTTP server configuration
type Config struct {
	Port      int
	Jobs      JobService
	Modules   ModuleService
	Tokens    map[string]string
	JobWait   time.Duration
	RateLimit float64
	RateBurst int
	Metrics   RequestObserver
	Gatherer  prometheus.Gatherer
	WebSocket gin.HandlerFunc
	Logger    *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger, cfg.Metrics))
	router.Use(corsMiddleware())
	router.Use(AuthMiddleware(cfg.Tokens))

	s := &Server{
		router:  router,
		jobs:    cfg.Jobs,
		modules: cfg.Modules,
		jobWait: cfg.JobWait,
		logger:  cfg.Logger,
	}

	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(cfg *Config) {
	s.router.GET("/health", s.handleHealth)

	metrics := promhttp.Handler()
	if cfg.Gatherer != nil {
		metrics = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	}
	s.router.GET("/metrics", gin.WrapH(metrics))

	v1 := s.router.Group("/api/v1")
	{
		submit := v1.Group("", RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst, 5*time.Minute))
		submit.POST("/jobs", s.handleSubmitJob)
		if cfg.WebSocket != nil {
			submit.GET("/ws", cfg.WebSocket)
		}

		admin := v1.Group("", RequireRole("admin"))
		admin.GET("/jobs/:id", s.handleGetJob)
		admin.GET("/queue", s.handleQueued)
		admin.GET("/queue/active", s.handleActive)
		admin.GET("/stats", s.handleStats)
		admin.GET("/modules", s.handleModules)
		admin.POST("/modules/:name/status", s.handleSetModuleStatus)
	}
}

// Handler returns the root handler, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", zap.String("addr", listener.Addr().String()))

	go func() {
		defer close(done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger, observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))

		if observer != nil {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			observer.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), duration)
		}
	}
}
