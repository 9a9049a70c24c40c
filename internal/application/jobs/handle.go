package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
)

// Result is the outcome of a completed job
type Result struct {
	JobID    string
	Status   domain.ResultStatus
	Data     interface{}
	Err      error
	Duration time.Duration
}

// Success reports whether the job succeeded
func (r *Result) Success() bool {
	return r.Status == domain.ResultStatusSuccess
}

// Message returns the failure message, or "" on success
func (r *Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Record converts the result into its serializable form
func (r *Result) Record() domain.JobResult {
	return domain.JobResult{
		Status:    r.Status,
		Message:   r.Message(),
		ErrorKind: string(KindOf(r.Err)),
		Data:      r.Data,
		Duration:  r.Duration,
	}
}

// Handle is the pending result of a submitted job
type Handle struct {
	id     string
	done   chan struct{}
	once   sync.Once
	result *Result
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// ID returns the id of the job behind the handle
func (h *Handle) ID() string { return h.id }

// Done is closed once the result is available
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the result, or nil while the job is still pending
func (h *Handle) Result() *Result {
	select {
	case <-h.done:
		return h.result
	default:
		return nil
	}
}

// Wait blocks until the job completes or ctx is done. Giving up on the wait
// does not cancel the job.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) resolve(r *Result) {
	h.once.Do(func() {
		h.result = r
		close(h.done)
	})
}

// Option customizes a submission
type Option func(*submitOptions)

type submitOptions struct {
	priority  int
	requester *domain.Requester
	parentID  string
	callbacks []func(*Result)
}

// WithPriority overrides the default priority; lower runs sooner
func WithPriority(priority int) Option {
	return func(o *submitOptions) { o.priority = priority }
}

// WithRequester attaches the requester context
func WithRequester(r *domain.Requester) Option {
	return func(o *submitOptions) { o.requester = r }
}

// WithCallback registers fn to be called with the result on completion
func WithCallback(fn func(*Result)) Option {
	return func(o *submitOptions) {
		if fn != nil {
			o.callbacks = append(o.callbacks, fn)
		}
	}
}

func withParent(id string) Option {
	return func(o *submitOptions) { o.parentID = id }
}
