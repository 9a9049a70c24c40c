package system

import (
	"context"
	"time"

	"github.com/aescanero/modjob/internal/application/jobs"
	"github.com/aescanero/modjob/internal/application/orchestrator"
	"github.com/aescanero/modjob/pkg/domain"
)

// ModuleName is the name the utils module registers under
const ModuleName = "utils"

// AdminRole is required by the introspection operations
const AdminRole = "admin"

// MaxSleep bounds the sleep operation
const MaxSleep = 10 * time.Second

// ModuleLister lists registered modules
type ModuleLister interface {
	Modules() []domain.ModuleInfo
}

// JobInspector exposes the queue introspection API
type JobInspector interface {
	Queued() []*domain.JobRecord
	Active() []*domain.JobRecord
	Job(ctx context.Context, id string) (*domain.JobRecord, error)
	Stats() []domain.OperationStats
}

// Utils is the built-in module exposing liveness and introspection as jobs
type Utils struct {
	*orchestrator.Base
	modules ModuleLister
	jobs    JobInspector
	now     func() time.Time
}

// NewUtils creates the utils module and registers its operations
func NewUtils(modules ModuleLister, inspector JobInspector) *Utils {
	u := &Utils{
		Base:    orchestrator.NewBase(ModuleName),
		modules: modules,
		jobs:    inspector,
		now:     time.Now,
	}

	u.RegisterOperation("ping", jobs.Simple(u.ping))
	u.RegisterOperation("sleep", func() jobs.Operation { return &sleepOp{} })
	u.RegisterOperation("getModules", u.admin(func(ctx context.Context, job *jobs.Job) (interface{}, error) {
		return u.modules.Modules(), nil
	}))
	u.RegisterOperation("getQueue", u.admin(func(ctx context.Context, job *jobs.Job) (interface{}, error) {
		return u.jobs.Queued(), nil
	}))
	u.RegisterOperation("getActive", u.admin(func(ctx context.Context, job *jobs.Job) (interface{}, error) {
		return u.jobs.Active(), nil
	}))
	u.RegisterOperation("getStats", u.admin(func(ctx context.Context, job *jobs.Job) (interface{}, error) {
		return u.jobs.Stats(), nil
	}))
	u.RegisterOperation("getJob", func() jobs.Operation { return &getJobOp{inspector: u.jobs} })

	return u
}

// PingResult is returned by the ping operation
type PingResult struct {
	Pong      bool      `json:"pong"`
	Timestamp time.Time `json:"timestamp"`
}

func (u *Utils) ping(ctx context.Context, job *jobs.Job) (interface{}, error) {
	return PingResult{Pong: true, Timestamp: u.now()}, nil
}

type adminOp struct {
	jobs.BaseOperation
	execute func(ctx context.Context, job *jobs.Job) (interface{}, error)
}

func (o *adminOp) Authorize(ctx context.Context, job *jobs.Job) error {
	return jobs.RequireRole(job, AdminRole)
}

func (o *adminOp) Execute(ctx context.Context, job *jobs.Job) (interface{}, error) {
	return o.execute(ctx, job)
}

func (u *Utils) admin(execute func(ctx context.Context, job *jobs.Job) (interface{}, error)) jobs.OperationFactory {
	return func() jobs.Operation {
		return &adminOp{execute: execute}
	}
}

type getJobPayload struct {
	ID string `json:"id" validate:"required,uuid4"`
}

type getJobOp struct {
	jobs.BaseOperation
	inspector JobInspector
	payload   getJobPayload
}

func (o *getJobOp) Validate(ctx context.Context, job *jobs.Job) error {
	return jobs.Bind(job.Payload(), &o.payload)
}

func (o *getJobOp) Authorize(ctx context.Context, job *jobs.Job) error {
	return jobs.RequireRole(job, AdminRole)
}

func (o *getJobOp) Execute(ctx context.Context, job *jobs.Job) (interface{}, error) {
	return o.inspector.Job(ctx, o.payload.ID)
}

type sleepPayload struct {
	Milliseconds int64 `json:"ms" validate:"gte=0,lte=10000"`
}

type sleepOp struct {
	jobs.BaseOperation
	payload sleepPayload
}

func (o *sleepOp) Validate(ctx context.Context, job *jobs.Job) error {
	return jobs.Bind(job.Payload(), &o.payload)
}

func (o *sleepOp) Execute(ctx context.Context, job *jobs.Job) (interface{}, error) {
	d := time.Duration(o.payload.Milliseconds) * time.Millisecond
	if d > MaxSleep {
		d = MaxSleep
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]interface{}{"slept_ms": d.Milliseconds()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
