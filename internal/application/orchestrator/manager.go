package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aescanero/modjob/internal/application/jobs"
	"github.com/aescanero/modjob/pkg/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Scheduler is the part of the job queue the manager drives
type Scheduler interface {
	Pause()
	Resume()
	Dispatch()
	Drain(ctx context.Context) error
}

// StatusListener is called after every module status transition
type StatusListener func(module string, status domain.ModuleStatus)

// Manager starts and stops modules in dependency order
type Manager struct {
	validator *Validator
	logger    *zap.Logger
	starts    singleflight.Group

	mu        sync.RWMutex
	modules   map[string]Module
	order     []string
	listeners []StatusListener
	scheduler Scheduler
}

// NewManager creates a new orchestrator manager
func NewManager(validator *Validator, logger *zap.Logger) *Manager {
	return &Manager{
		validator: validator,
		logger:    logger,
		modules:   make(map[string]Module),
	}
}

// SetScheduler attaches the job queue that is resumed once every module
// has started and drained before modules stop
func (m *Manager) SetScheduler(s Scheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduler = s
}

// OnStatusChange registers a status listener
func (m *Manager) OnStatusChange(fn StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Register adds modules. Names must be unique.
func (m *Manager) Register(modules ...Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mod := range modules {
		if _, exists := m.modules[mod.Name()]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, mod.Name())
		}
		m.modules[mod.Name()] = mod
		m.order = append(m.order, mod.Name())
	}
	return nil
}

// Disable marks a module that has not started yet as DISABLED.
// Disabled modules are skipped at startup; dependants fail to start.
func (m *Manager) Disable(name string) error {
	mod, ok := m.Module(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	if status := mod.Status(); status != domain.ModuleStatusUninitialized {
		return fmt.Errorf("cannot disable module %s in status %s", name, status)
	}
	m.setStatus(mod, domain.ModuleStatusDisabled)
	return nil
}

// Module returns a registered module
func (m *Manager) Module(name string) (Module, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mod, ok := m.modules[name]
	return mod, ok
}

// Target implements jobs.Resolver
func (m *Manager) Target(name string) (jobs.Target, bool) {
	mod, ok := m.Module(name)
	if !ok {
		return nil, false
	}
	return mod, true
}

// Modules returns a view of every module in registration order
func (m *Manager) Modules() []domain.ModuleInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]domain.ModuleInfo, 0, len(m.order))
	for _, name := range m.order {
		mod := m.modules[name]
		infos = append(infos, domain.ModuleInfo{
			Name:         name,
			Status:       mod.Status(),
			Dependencies: mod.Dependencies(),
			Operations:   mod.Operations(),
		})
	}
	return infos
}

// Startup validates the dependency graph and starts every module that is
// not disabled. Any failure stops whatever did start and is returned.
func (m *Manager) Startup(ctx context.Context) error {
	m.mu.RLock()
	modules := make(map[string]Module, len(m.modules))
	for name, mod := range m.modules {
		modules[name] = mod
	}
	names := slices.Clone(m.order)
	scheduler := m.scheduler
	m.mu.RUnlock()

	if err := m.validator.Validate(modules, names); err != nil {
		m.logger.Error("module graph validation failed", zap.Error(err))
		return err
	}

	m.logger.Info("starting modules", zap.Int("count", len(names)))

	for _, name := range names {
		if modules[name].Status() == domain.ModuleStatusDisabled {
			m.logger.Info("module disabled, skipping", zap.String("module", name))
			continue
		}
		if err := m.startModule(ctx, name); err != nil {
			m.logger.Error("module startup failed",
				zap.String("module", name),
				zap.Error(err))

			if shutdownErr := m.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
				m.logger.Error("shutdown after failed startup reported errors", zap.Error(shutdownErr))
			}
			return fmt.Errorf("failed to start module %s: %w", name, err)
		}
	}

	m.logger.Info("all modules started")

	if scheduler != nil {
		scheduler.Resume()
	}
	return nil
}

// startModule starts a module once, joining any start already in flight
func (m *Manager) startModule(ctx context.Context, name string) error {
	_, err, _ := m.starts.Do(name, func() (interface{}, error) {
		return nil, m.doStart(ctx, name)
	})
	return err
}

func (m *Manager) doStart(ctx context.Context, name string) error {
	mod, ok := m.Module(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	switch status := mod.Status(); status {
	case domain.ModuleStatusStarted:
		return nil
	case domain.ModuleStatusUninitialized:
	default:
		return fmt.Errorf("%w: %s is %s", ErrModuleUnavailable, name, status)
	}

	for _, dep := range mod.Dependencies() {
		depMod, ok := m.Module(dep)
		if !ok {
			return fmt.Errorf("%w: %s depends on %s", ErrMissingDependency, name, dep)
		}
		switch status := depMod.Status(); status {
		case domain.ModuleStatusError, domain.ModuleStatusStopping,
			domain.ModuleStatusStopped, domain.ModuleStatusDisabled:
			return fmt.Errorf("%w: %s depends on %s which is %s", ErrDependencyUnavailable, name, dep, status)
		}
		if err := m.startModule(ctx, dep); err != nil {
			return fmt.Errorf("dependency %s of %s: %w", dep, name, err)
		}
	}

	m.setStatus(mod, domain.ModuleStatusStarting)
	m.logger.Info("starting module", zap.String("module", name))

	startedAt := time.Now()
	if err := mod.Startup(ctx); err != nil {
		m.setStatus(mod, domain.ModuleStatusError)
		return fmt.Errorf("module %s startup failed: %w", name, err)
	}
	m.setStatus(mod, domain.ModuleStatusStarted)

	m.logger.Info("module started",
		zap.String("module", name),
		zap.Duration("duration", time.Since(startedAt)))
	return nil
}

// Shutdown pauses the job queue, waits for active jobs, then stops running
// modules in ShutdownOrder. A module that fails to stop does not prevent the
// others from stopping; all failures are returned together.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down modules")

	m.mu.RLock()
	scheduler := m.scheduler
	m.mu.RUnlock()

	if scheduler != nil {
		scheduler.Pause()
		if err := scheduler.Drain(ctx); err != nil {
			m.logger.Warn("active jobs did not finish before shutdown", zap.Error(err))
		}
	}

	var errs error
	for _, name := range m.ShutdownOrder() {
		mod, ok := m.Module(name)
		if !ok {
			continue
		}

		m.setStatus(mod, domain.ModuleStatusStopping)
		m.logger.Info("stopping module", zap.String("module", name))

		if err := mod.Shutdown(ctx); err != nil {
			m.logger.Error("module shutdown failed",
				zap.String("module", name),
				zap.Error(err))
			m.setStatus(mod, domain.ModuleStatusError)
			errs = multierr.Append(errs, fmt.Errorf("module %s shutdown failed: %w", name, err))
			continue
		}
		m.setStatus(mod, domain.ModuleStatusStopped)
	}

	m.logger.Info("module shutdown complete")
	return errs
}

// ShutdownOrder returns the running modules (STARTED, STARTING or ERROR)
// ordered so that every module comes before the modules it depends on.
func (m *Manager) ShutdownOrder() []string {
	m.mu.RLock()
	modules := make(map[string]Module, len(m.modules))
	for name, mod := range m.modules {
		modules[name] = mod
	}
	names := slices.Clone(m.order)
	m.mu.RUnlock()

	running := make(map[string]bool, len(names))
	for _, name := range names {
		switch modules[name].Status() {
		case domain.ModuleStatusStarted, domain.ModuleStatusStarting, domain.ModuleStatusError:
			running[name] = true
		}
	}

	visited := make(map[string]bool, len(names))
	order := make([]string, 0, len(running))

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		mod, ok := modules[name]
		if !ok {
			return
		}
		for _, dep := range mod.Dependencies() {
			visit(dep)
		}
		if running[name] {
			order = append(order, name)
		}
	}
	for _, name := range names {
		visit(name)
	}

	slices.Reverse(order)
	return order
}

// SetStatus forces a module into status, for operators recovering a module
// by hand. Any transition triggers a dispatch pass.
func (m *Manager) SetStatus(name string, status domain.ModuleStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid module status: %s", status)
	}
	mod, ok := m.Module(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	m.logger.Warn("module status set manually",
		zap.String("module", name),
		zap.String("from", string(mod.Status())),
		zap.String("to", string(status)))

	m.setStatus(mod, status)
	return nil
}

func (m *Manager) setStatus(mod Module, status domain.ModuleStatus) {
	mod.setStatus(status)

	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	scheduler := m.scheduler
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(mod.Name(), status)
	}
	if scheduler != nil {
		scheduler.Dispatch()
	}
}

// Status returns the aggregate status of all modules that are not disabled
func (m *Manager) Status() domain.ModuleStatus {
	counts := make(map[domain.ModuleStatus]int)
	total := 0
	for _, info := range m.Modules() {
		if info.Status == domain.ModuleStatusDisabled {
			continue
		}
		counts[info.Status]++
		total++
	}

	switch {
	case total == 0:
		return domain.ModuleStatusUninitialized
	case counts[domain.ModuleStatusError] > 0:
		return domain.ModuleStatusError
	case counts[domain.ModuleStatusStarted] == total:
		return domain.ModuleStatusStarted
	case counts[domain.ModuleStatusStopped] == total:
		return domain.ModuleStatusStopped
	case counts[domain.ModuleStatusStopping] > 0:
		return domain.ModuleStatusStopping
	case counts[domain.ModuleStatusStarting] > 0, counts[domain.ModuleStatusStarted] > 0:
		return domain.ModuleStatusStarting
	case counts[domain.ModuleStatusStopped] > 0:
		return domain.ModuleStatusStopping
	default:
		return domain.ModuleStatusUninitialized
	}
}
