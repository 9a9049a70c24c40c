package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks fatal problems with the module graph
	ErrConfiguration = errors.New("configuration error")
	// ErrCyclicDependency is returned when the dependency graph has a cycle
	ErrCyclicDependency = fmt.Errorf("%w: cyclic dependency", ErrConfiguration)
	// ErrMissingDependency is returned when a dependency is not registered
	ErrMissingDependency = fmt.Errorf("%w: missing dependency", ErrConfiguration)
	// ErrDuplicateModule is returned when two modules share a name
	ErrDuplicateModule = fmt.Errorf("%w: duplicate module", ErrConfiguration)

	// ErrModuleNotFound is returned for unknown module names
	ErrModuleNotFound = errors.New("module not found")
	// ErrModuleUnavailable is returned when a module cannot be started
	ErrModuleUnavailable = errors.New("module unavailable")
	// ErrDependencyUnavailable is returned when a dependency is in ERROR,
	// STOPPING, STOPPED or DISABLED
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
