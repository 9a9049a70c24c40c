package orchestrator

import (
	"fmt"
	"slices"
	"strings"
)

// Validator validates module dependency graphs
type Validator struct{}

// NewValidator creates a new graph validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that every dependency is registered and that the graph
// has no cycle. names fixes the traversal order so errors are deterministic.
func (v *Validator) Validate(modules map[string]Module, names []string) error {
	if len(modules) == 0 {
		return fmt.Errorf("%w: no modules registered", ErrConfiguration)
	}

	for _, name := range names {
		mod := modules[name]
		if name == "" {
			return fmt.Errorf("%w: module name is required", ErrConfiguration)
		}
		for _, dep := range mod.Dependencies() {
			if _, exists := modules[dep]; !exists {
				return fmt.Errorf("%w: %s depends on %s", ErrMissingDependency, name, dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(modules))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			start := slices.Index(stack, name)
			cycle := append(slices.Clone(stack[start:]), name)
			return fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(cycle, " -> "))
		}

		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range modules[name].Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}

	return nil
}
