// Package subsystems adapts infrastructure (redis, the event bus, the API
// servers and the queue monitor) into orchestrator modules, so they start
// and stop in dependency order with everything else.
package subsystems
