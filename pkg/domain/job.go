package domain

import "time"

// JobStatus represents the lifecycle status of a job.
// COMPLETED covers both success and failure; the outcome lives in the result.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusActive    JobStatus = "ACTIVE"
	JobStatusCompleted JobStatus = "COMPLETED"
)

// ResultStatus is the outcome of a completed job
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusFailure ResultStatus = "failure"
)

// Payload is the opaque job input. Transports decode JSON objects into it.
type Payload map[string]interface{}

// Requester describes who asked for a job and where an asynchronous result
// should be routed. A nil requester means an internal caller.
type Requester struct {
	SessionID     string `json:"session_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	Role          string `json:"role,omitempty"`
	ConnectionID  string `json:"connection_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Anonymous reports whether the requester carries no identity
func (r *Requester) Anonymous() bool {
	return r == nil || (r.UserID == "" && r.SessionID == "")
}

// Async reports whether the result must be pushed to a connected client
func (r *Requester) Async() bool {
	return r != nil && r.ConnectionID != ""
}

// JobResult is the serializable outcome of a job
type JobResult struct {
	Status    ResultStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Data      interface{}   `json:"data,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// JobRecord is a point-in-time snapshot of a job, used by introspection and
// by the completed-job archive.
type JobRecord struct {
	ID          string     `json:"id"`
	ParentID    string     `json:"parent_id,omitempty"`
	Module      string     `json:"module"`
	Operation   string     `json:"operation"`
	Priority    int        `json:"priority"`
	Status      JobStatus  `json:"status"`
	Payload     Payload    `json:"payload,omitempty"`
	Requester   *Requester `json:"requester,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      *JobResult `json:"result,omitempty"`
}

// Path returns the statistics key of the job, "module.operation"
func (r *JobRecord) Path() string {
	return r.Module + "." + r.Operation
}

// OperationStats aggregates outcomes for a single module.operation path
type OperationStats struct {
	Path        string        `json:"path"`
	Constructed int64         `json:"constructed"`
	Successful  int64         `json:"successful"`
	Failed      int64         `json:"failed"`
	TotalTime   time.Duration `json:"total_time"`
	AverageTime time.Duration `json:"average_time"`
}
