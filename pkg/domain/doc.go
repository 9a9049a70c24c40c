// Package domain holds the plain data types shared by the orchestrator, the
// job queue, the adapters and the transports.
//
// Nothing in this package has behaviour beyond small helpers; the types are
// safe to serialize as JSON and travel over the event bus or the HTTP API.
package domain
