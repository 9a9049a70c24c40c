// Package orchestrator implements module lifecycle management.
//
// The orchestrator manager coordinates modules by:
//   - Validating the dependency graph (no missing dependencies, no cycles)
//   - Starting modules in dependency order, coalescing concurrent starts
//   - Resuming the job queue once every module is started
//   - Stopping modules in reverse dependency order on shutdown
//
// Modules embed Base, which owns the status and the operation registry.
package orchestrator
