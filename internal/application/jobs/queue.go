package jobs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/aescanero/modjob/pkg/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultConcurrency bounds the number of active jobs across all modules
	DefaultConcurrency = 50
	// DefaultPriority is used when a submission sets no priority
	DefaultPriority = 10
	// DefaultTopic is the event bus topic job results are published on
	DefaultTopic = "job.results"

	tracerName = "github.com/aescanero/modjob/jobs"
)

// Target is the module-side view the queue needs to route a job
type Target interface {
	Name() string
	CanRunJobs() bool
	Operation(name string) (OperationFactory, error)
}

// Resolver looks up targets by module name
type Resolver interface {
	Target(name string) (Target, bool)
}

// Config holds job queue configuration. Only Resolver is required.
type Config struct {
	Concurrency     int
	DefaultPriority *int
	Resolver        Resolver
	Stats           ports.StatsSink
	Logs            ports.LogSink
	Events          ports.EventBus
	Topic           string
	Archive         ports.JobArchive
	Authorizer      Authorizer
	Logger          *zap.Logger

	// TracerProvider defaults to the global provider
	TracerProvider trace.TracerProvider
}

// Queue schedules jobs under a global concurrency bound. It starts paused;
// the orchestrator resumes it once every module is started.
type Queue struct {
	resolver        Resolver
	concurrency     int
	defaultPriority int
	statistics      *Statistics
	stats           ports.StatsSink
	logs            ports.LogSink
	events          ports.EventBus
	topic           string
	archive         ports.JobArchive
	authorizer      Authorizer
	tracer          trace.Tracer
	logger          *zap.Logger
	ctx             context.Context

	mu          sync.Mutex
	paused      bool
	dispatching bool
	rescan      bool
	sequence    uint64
	queued      []*Job
	active      map[string]*Job
	callbacks   map[string][]func(*Result)

	// running counts activated jobs until their results are delivered
	running int
	idle    chan struct{}

	// waiting counts active jobs blocked in RunChild
	waiting int
}

// NewQueue creates a paused job queue
func NewQueue(cfg *Config) *Queue {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	priority := DefaultPriority
	if cfg.DefaultPriority != nil {
		priority = *cfg.DefaultPriority
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	provider := cfg.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	statistics := NewStatistics()

	return &Queue{
		resolver:        cfg.Resolver,
		concurrency:     concurrency,
		defaultPriority: priority,
		statistics:      statistics,
		stats:           MultiStats(statistics, cfg.Stats),
		logs:            cfg.Logs,
		events:          cfg.Events,
		topic:           topic,
		archive:         cfg.Archive,
		authorizer:      cfg.Authorizer,
		tracer:          provider.Tracer(tracerName),
		logger:          logger,
		ctx:             context.Background(),
		paused:          true,
		active:          make(map[string]*Job),
		callbacks:       make(map[string][]func(*Result)),
	}
}

// Submit creates a job and queues it. It never waits for the job to run;
// the result is delivered through the returned Handle and any callbacks.
// Unknown modules and operations fail immediately.
func (q *Queue) Submit(ctx context.Context, module, operation string, payload domain.Payload, opts ...Option) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, ok := q.resolver.Target(module)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, module)
	}
	factory, err := target.Operation(operation)
	if err != nil {
		if errors.Is(err, ErrOperationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s.%s: %v", ErrOperationNotFound, module, operation, err)
	}

	o := &submitOptions{priority: q.defaultPriority}
	for _, opt := range opts {
		opt(o)
	}
	if payload == nil {
		payload = domain.Payload{}
	}

	job := newJob(q, module, operation, payload, factory, o)
	q.stats.RecordConstructed(job.Path())

	q.mu.Lock()
	q.sequence++
	job.sequence = q.sequence
	if len(o.callbacks) > 0 {
		q.callbacks[job.id] = o.callbacks
	}
	q.queued = append(q.queued, job)
	q.mu.Unlock()

	q.logger.Debug("job queued",
		zap.String("job_id", job.id),
		zap.String("path", job.Path()),
		zap.Int("priority", job.priority))

	q.Dispatch()
	return job.handle, nil
}

// Run submits a job and waits for its result
func (q *Queue) Run(ctx context.Context, module, operation string, payload domain.Payload, opts ...Option) (*Result, error) {
	handle, err := q.Submit(ctx, module, operation, payload, opts...)
	if err != nil {
		return nil, err
	}
	return handle.Wait(ctx)
}

// Pause stops new jobs from becoming active. Active jobs run to completion.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.logger.Info("job queue paused")
}

// Resume lifts a pause and dispatches waiting jobs
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.logger.Info("job queue resumed")
	q.Dispatch()
}

// Paused reports whether the queue is paused
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Dispatch moves eligible jobs from queued to active, highest priority
// first, until the concurrency bound is reached. Jobs whose module cannot
// run jobs stay queued. A call made while a pass is running returns at once;
// the running pass then scans the queue again before it finishes.
func (q *Queue) Dispatch() {
	q.mu.Lock()
	if q.dispatching {
		q.rescan = true
		q.mu.Unlock()
		return
	}
	q.dispatching = true
	q.mu.Unlock()

	for {
		started, again := q.pass()
		for _, job := range started {
			go q.execute(job)
		}
		if !again {
			return
		}
	}
}

// pass runs one dispatch scan and reports whether another was requested
// meanwhile. Module readiness is read without holding the queue lock.
func (q *Queue) pass() ([]*Job, bool) {
	q.mu.Lock()
	q.rescan = false
	var modules []string
	if !q.paused && len(q.queued) > 0 && len(q.active) < q.concurrency {
		modules = q.queuedModules()
	}
	q.mu.Unlock()

	ready := make(map[string]bool, len(modules))
	for _, module := range modules {
		target, found := q.resolver.Target(module)
		ready[module] = found && target.CanRunJobs()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var started []*Job
	if len(modules) > 0 && !q.paused {
		started = q.activateReady(ready)
	}
	if q.rescan {
		return started, true
	}
	q.dispatching = false
	return started, false
}

// queuedModules lists the distinct modules of queued jobs. Callers hold q.mu.
func (q *Queue) queuedModules() []string {
	seen := make(map[string]bool)
	var modules []string
	for _, job := range q.queued {
		if !seen[job.module] {
			seen[job.module] = true
			modules = append(modules, job.module)
		}
	}
	return modules
}

// activateReady moves queued jobs of ready modules to the active set in
// dispatch order. Modules submitted after the readiness scan are not in
// ready; their Submit triggers another pass. Callers hold q.mu.
func (q *Queue) activateReady(ready map[string]bool) []*Job {
	slices.SortStableFunc(q.queued, compareJobs)

	var started []*Job
	remaining := q.queued[:0]
	for _, job := range q.queued {
		if len(q.active) >= q.concurrency || !ready[job.module] {
			remaining = append(remaining, job)
			continue
		}
		if err := job.activate(); err != nil {
			q.logger.Error("dropping job that is no longer queued",
				zap.String("job_id", job.id),
				zap.Error(err))
			continue
		}
		q.active[job.id] = job
		q.running++
		started = append(started, job)
	}
	clear(q.queued[len(remaining):])
	q.queued = remaining
	return started
}

func compareJobs(a, b *Job) int {
	if c := cmp.Compare(a.priority, b.priority); c != 0 {
		return c
	}
	return cmp.Compare(a.sequence, b.sequence)
}

// execute runs an active job and always triggers the next dispatch pass
func (q *Queue) execute(job *Job) {
	defer q.Dispatch()

	result, err := job.run(q.ctx)
	if err != nil {
		q.logger.Error("job executed twice", zap.String("job_id", job.id), zap.Error(err))
		result = &Result{JobID: job.id, Status: domain.ResultStatusFailure, Err: err}
	}
	q.complete(job, result)
}

// complete archives the job, removes it from the active set and delivers
// the result to the handle and callbacks
func (q *Queue) complete(job *Job, result *Result) {
	defer q.finish()

	if q.archive != nil {
		if err := q.archive.Save(q.ctx, job.Record()); err != nil {
			q.logger.Error("failed to archive job",
				zap.String("job_id", job.id),
				zap.Error(err))
		}
	}

	q.mu.Lock()
	delete(q.active, job.id)
	callbacks := q.callbacks[job.id]
	delete(q.callbacks, job.id)
	q.mu.Unlock()

	for _, cb := range callbacks {
		q.invoke(job, cb, result)
	}
	job.handle.resolve(result)
}

// finish releases a delivered job and wakes Drain callers once none remain
func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	if q.running == 0 && q.idle != nil {
		close(q.idle)
		q.idle = nil
	}
}

// awaitChild registers parent as blocked on a child job and returns the
// matching release. It fails when every active slot would then belong to a
// waiting parent, since the child could never become active.
func (q *Queue) awaitChild(parent *Job) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.active[parent.id]; !ok {
		return func() {}, nil
	}
	if len(q.active) >= q.concurrency && q.waiting+1 >= len(q.active) {
		return nil, fmt.Errorf("%w: every slot is held by a job waiting on a child (%s)", ErrNoCapacity, parent.Path())
	}
	q.waiting++

	return func() {
		q.mu.Lock()
		q.waiting--
		q.mu.Unlock()
	}, nil
}

func (q *Queue) invoke(job *Job, cb func(*Result), result *Result) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job callback panicked",
				zap.String("job_id", job.id),
				zap.Any("panic", r))
		}
	}()
	cb(result)
}

// Drain waits until every activated job has delivered its result
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.running == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.idle == nil {
		q.idle = make(chan struct{})
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain timeout: %w", ctx.Err())
	}
}

// Concurrency returns the active job bound
func (q *Queue) Concurrency() int {
	return q.concurrency
}

// Len returns the number of queued and active jobs
func (q *Queue) Len() (queued, active int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued), len(q.active)
}

// Queued returns snapshots of queued jobs in dispatch order
func (q *Queue) Queued() []*domain.JobRecord {
	q.mu.Lock()
	jobs := slices.Clone(q.queued)
	q.mu.Unlock()

	slices.SortStableFunc(jobs, compareJobs)
	return records(jobs)
}

// Active returns snapshots of active jobs, oldest first
func (q *Queue) Active() []*domain.JobRecord {
	q.mu.Lock()
	jobs := make([]*Job, 0, len(q.active))
	for _, job := range q.active {
		jobs = append(jobs, job)
	}
	q.mu.Unlock()

	slices.SortFunc(jobs, func(a, b *Job) int { return cmp.Compare(a.sequence, b.sequence) })
	return records(jobs)
}

// Job looks up a job by id in the live sets, then in the archive
func (q *Queue) Job(ctx context.Context, id string) (*domain.JobRecord, error) {
	q.mu.Lock()
	job, ok := q.active[id]
	if !ok {
		for _, queued := range q.queued {
			if queued.id == id {
				job, ok = queued, true
				break
			}
		}
	}
	q.mu.Unlock()

	if ok {
		return job.Record(), nil
	}

	if q.archive == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	rec, err := q.archive.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to load archived job: %w", err)
	}
	return rec, nil
}

// Stats returns per-operation statistics sorted by path
func (q *Queue) Stats() []domain.OperationStats {
	return q.statistics.Snapshot()
}

func records(jobs []*Job) []*domain.JobRecord {
	out := make([]*domain.JobRecord, len(jobs))
	for i, job := range jobs {
		out[i] = job.Record()
	}
	return out
}
