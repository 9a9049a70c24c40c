package domain

import "time"

// EventType identifies the kind of event published on the bus
type EventType string

const (
	EventTypeJobCompleted EventType = "job.completed"
	EventTypeJobFailed    EventType = "job.failed"
)

// Event is published on the event bus. Target is the connection id the event
// must be routed to; an empty target means broadcast.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	JobID     string                 `json:"job_id"`
	Target    string                 `json:"target,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// LogLevel is the severity of a job log entry
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarn    LogLevel = "warn"
	LogLevelError   LogLevel = "error"
)

// LogEntry is a structured entry written to the log sink
type LogEntry struct {
	Message  string                 `json:"message"`
	Level    LogLevel               `json:"level"`
	Category string                 `json:"category"`
	Data     map[string]interface{} `json:"data,omitempty"`
}
