package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aescanero/modjob/internal/application/jobs"
	"github.com/aescanero/modjob/pkg/domain"
)

// Module is a named subsystem managed by the Manager.
// Implementations embed *Base and override Startup and Shutdown.
type Module interface {
	jobs.Target
	Status() domain.ModuleStatus
	Dependencies() []string
	Operations() []string
	Startup(ctx context.Context) error
	Shutdown(ctx context.Context) error

	setStatus(status domain.ModuleStatus)
}

// Base implements the bookkeeping half of Module
type Base struct {
	name         string
	dependencies []string

	mu         sync.RWMutex
	status     domain.ModuleStatus
	operations map[string]jobs.OperationFactory
}

// NewBase creates a module base with the given dependencies
func NewBase(name string, dependencies ...string) *Base {
	return &Base{
		name:         name,
		dependencies: dependencies,
		status:       domain.ModuleStatusUninitialized,
		operations:   make(map[string]jobs.OperationFactory),
	}
}

// Name returns the module name
func (b *Base) Name() string { return b.name }

// Dependencies returns the names of the modules this module needs
func (b *Base) Dependencies() []string {
	return slices.Clone(b.dependencies)
}

// Status returns the current status
func (b *Base) Status() domain.ModuleStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *Base) setStatus(status domain.ModuleStatus) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
}

// CanRunJobs reports whether jobs targeting this module may become active
func (b *Base) CanRunJobs() bool {
	return b.Status() == domain.ModuleStatusStarted
}

// RegisterOperation adds a job type to the module
func (b *Base) RegisterOperation(name string, factory jobs.OperationFactory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.operations[name] = factory
}

// Operation returns the factory for a registered job type
func (b *Base) Operation(name string) (jobs.OperationFactory, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	factory, ok := b.operations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", jobs.ErrOperationNotFound, b.name, name)
	}
	return factory, nil
}

// Operations returns the sorted names of all registered job types
func (b *Base) Operations() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.operations))
	for name := range b.operations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Startup is a no-op by default
func (b *Base) Startup(ctx context.Context) error { return nil }

// Shutdown is a no-op by default
func (b *Base) Shutdown(ctx context.Context) error { return nil }
