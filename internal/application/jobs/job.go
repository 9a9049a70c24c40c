package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Job is a single unit of work. It is created by the Queue and executes at
// most once; retried work is always a new Job with a new id.
type Job struct {
	id        string
	parentID  string
	module    string
	operation string
	priority  int
	payload   domain.Payload
	requester *domain.Requester
	factory   OperationFactory
	queue     *Queue
	sequence  uint64
	handle    *Handle

	mu          sync.RWMutex
	status      domain.JobStatus
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	result      *Result
	ran         bool
}

func newJob(q *Queue, module, operation string, payload domain.Payload, factory OperationFactory, o *submitOptions) *Job {
	id := uuid.New().String()
	return &Job{
		id:        id,
		parentID:  o.parentID,
		module:    module,
		operation: operation,
		priority:  o.priority,
		payload:   payload,
		requester: o.requester,
		factory:   factory,
		queue:     q,
		handle:    newHandle(id),
		status:    domain.JobStatusQueued,
		createdAt: time.Now(),
	}
}

// ID returns the job id
func (j *Job) ID() string { return j.id }

// ParentID returns the id of the job that spawned this one, if any
func (j *Job) ParentID() string { return j.parentID }

// Module returns the target module name
func (j *Job) Module() string { return j.module }

// Operation returns the operation name
func (j *Job) Operation() string { return j.operation }

// Path returns "module.operation"
func (j *Job) Path() string { return j.module + "." + j.operation }

// Priority returns the scheduling priority; lower runs sooner
func (j *Job) Priority() int { return j.priority }

// Payload returns the job input
func (j *Job) Payload() domain.Payload { return j.payload }

// Requester returns the requester context, nil for internal callers
func (j *Job) Requester() *domain.Requester { return j.requester }

// Status returns the current lifecycle status
func (j *Job) Status() domain.JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Logger returns the queue logger annotated with the job identity
func (j *Job) Logger() *zap.Logger {
	return j.queue.logger.With(
		zap.String("job_id", j.id),
		zap.String("path", j.Path()))
}

// RunChild submits a new job on behalf of this one and waits for its result.
// The child inherits the requester and the priority of its parent. The
// parent keeps its slot while it waits, so RunChild returns ErrNoCapacity
// instead of submitting when every slot is held by a parent waiting on a
// child.
func (j *Job) RunChild(ctx context.Context, module, operation string, payload domain.Payload, opts ...Option) (*Result, error) {
	release, err := j.queue.awaitChild(j)
	if err != nil {
		return nil, err
	}
	defer release()

	opts = append([]Option{WithPriority(j.priority), WithRequester(j.requester), withParent(j.id)}, opts...)
	return j.queue.Run(ctx, module, operation, payload, opts...)
}

// Record returns a snapshot of the job
func (j *Job) Record() *domain.JobRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rec := &domain.JobRecord{
		ID:        j.id,
		ParentID:  j.parentID,
		Module:    j.module,
		Operation: j.operation,
		Priority:  j.priority,
		Status:    j.status,
		Payload:   j.payload,
		Requester: j.requester,
		CreatedAt: j.createdAt,
	}
	if !j.startedAt.IsZero() {
		started := j.startedAt
		rec.StartedAt = &started
	}
	if !j.completedAt.IsZero() {
		completed := j.completedAt
		rec.CompletedAt = &completed
	}
	if j.result != nil {
		res := j.result.Record()
		rec.Result = &res
	}
	return rec
}

// activate moves the job from QUEUED to ACTIVE
func (j *Job) activate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != domain.JobStatusQueued {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyStarted, j.id, j.status)
	}
	j.status = domain.JobStatusActive
	j.startedAt = time.Now()
	return nil
}

// run executes the lifecycle. Operation failures never surface as an error;
// the only error is a second execution of the same job.
func (j *Job) run(ctx context.Context) (*Result, error) {
	j.mu.Lock()
	if j.ran || j.status == domain.JobStatusCompleted {
		j.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStarted, j.id)
	}
	j.ran = true
	if j.status == domain.JobStatusQueued {
		j.status = domain.JobStatusActive
		j.startedAt = time.Now()
	}
	started := j.startedAt
	j.mu.Unlock()

	ctx, span := j.queue.tracer.Start(ctx, "job "+j.Path(), trace.WithAttributes(
		attribute.String("job.id", j.id),
		attribute.String("job.module", j.module),
		attribute.String("job.operation", j.operation),
		attribute.Int("job.priority", j.priority)))
	defer span.End()

	data, err := j.phases(ctx)

	completed := time.Now()
	result := &Result{
		JobID:    j.id,
		Status:   domain.ResultStatusSuccess,
		Data:     data,
		Duration: completed.Sub(started),
	}
	if err != nil {
		result.Status = domain.ResultStatusFailure
		result.Data = nil
		result.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	j.mu.Lock()
	j.status = domain.JobStatusCompleted
	j.completedAt = completed
	j.result = result
	j.mu.Unlock()

	j.report(ctx, result)
	return result, nil
}

// phases runs validate, authorize and execute in order. Panics are converted
// into a failure of the phase that raised them.
func (j *Job) phases(ctx context.Context) (data interface{}, err error) {
	path := j.Path()
	kind := KindExecution

	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = classify(kind, path, fmt.Errorf("panic: %v", r))
		}
	}()

	op := j.factory()
	if op == nil {
		return nil, classify(KindExecution, path, fmt.Errorf("operation factory returned nil"))
	}

	kind = KindValidation
	if err := op.Validate(ctx, j); err != nil {
		return nil, classify(KindValidation, path, err)
	}

	kind = KindAuthorization
	if authorize := j.queue.authorizer; authorize != nil {
		if err := authorize(ctx, j); err != nil {
			return nil, classify(KindAuthorization, path, err)
		}
	}
	if err := op.Authorize(ctx, j); err != nil {
		return nil, classify(KindAuthorization, path, err)
	}

	kind = KindExecution
	data, err = op.Execute(ctx, j)
	if err != nil {
		return nil, classify(KindExecution, path, err)
	}
	return data, nil
}

// report records statistics, writes the log entry and pushes the result to
// the requester's connection when there is one
func (j *Job) report(ctx context.Context, result *Result) {
	q := j.queue
	path := j.Path()

	recordOutcome(q.stats, path, result.Success(), result.Duration)

	entry := domain.LogEntry{
		Category: "jobs",
		Data: map[string]interface{}{
			"job_id":      j.id,
			"path":        path,
			"priority":    j.priority,
			"duration_ms": result.Duration.Milliseconds(),
		},
	}
	if j.parentID != "" {
		entry.Data["parent_id"] = j.parentID
	}
	if result.Success() {
		entry.Level = domain.LogLevelSuccess
		entry.Message = fmt.Sprintf("job %s completed", path)
	} else {
		entry.Level = domain.LogLevelError
		entry.Message = fmt.Sprintf("job %s failed", path)
		entry.Data["error"] = result.Err.Error()
		entry.Data["error_kind"] = string(KindOf(result.Err))
	}
	if q.logs != nil {
		q.logs.Log(entry)
	}

	if !j.requester.Async() || q.events == nil {
		return
	}

	eventType := domain.EventTypeJobCompleted
	if !result.Success() {
		eventType = domain.EventTypeJobFailed
	}
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		JobID:     j.id,
		Target:    j.requester.ConnectionID,
		Data: map[string]interface{}{
			"correlation_id": j.requester.CorrelationID,
			"result":         result.Record(),
		},
	}
	if err := q.events.Publish(ctx, q.topic, event); err != nil {
		q.logger.Error("failed to publish job result",
			zap.String("job_id", j.id),
			zap.String("connection_id", j.requester.ConnectionID),
			zap.Error(err))
	}
}
