// Package ports defines the interfaces the core consumes from its
// collaborators: the event bus, the completed-job archive, and the
// statistics and log sinks.
package ports
