package prometheus

import (
	"strconv"
	"strings"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.StatsSink and the queue gauges using Prometheus
type Collector struct {
	jobsConstructed *prometheus.CounterVec
	jobsCompleted   *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	activeJobs      prometheus.Gauge
	moduleStatus    *prometheus.GaugeVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewCollector registers the modjob metrics on reg. A nil reg uses the
// default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		jobsConstructed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modjob_jobs_constructed_total",
				Help: "Total number of jobs submitted",
			},
			[]string{"module", "operation"},
		),
		jobsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modjob_jobs_completed_total",
				Help: "Total number of jobs completed by outcome",
			},
			[]string{"module", "operation", "status"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modjob_job_duration_seconds",
				Help:    "Job duration from activation to completion in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"module", "operation"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "modjob_queue_depth",
				Help: "Current number of jobs per queue set",
			},
			[]string{"queue"},
		),
		activeJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "modjob_active_jobs",
				Help: "Number of currently active jobs",
			},
		),
		moduleStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "modjob_module_status",
				Help: "1 for the current status of each module, 0 otherwise",
			},
			[]string{"module", "status"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modjob_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modjob_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func splitPath(path string) (module, operation string) {
	module, operation, _ = strings.Cut(path, ".")
	return module, operation
}

// RecordConstructed counts a submitted job
func (c *Collector) RecordConstructed(path string) {
	module, operation := splitPath(path)
	c.jobsConstructed.WithLabelValues(module, operation).Inc()
}

// RecordSuccess counts a successful job
func (c *Collector) RecordSuccess(path string) {
	module, operation := splitPath(path)
	c.jobsCompleted.WithLabelValues(module, operation, string(domain.ResultStatusSuccess)).Inc()
}

// RecordFailure counts a failed job
func (c *Collector) RecordFailure(path string) {
	module, operation := splitPath(path)
	c.jobsCompleted.WithLabelValues(module, operation, string(domain.ResultStatusFailure)).Inc()
}

// RecordDuration observes a job duration
func (c *Collector) RecordDuration(path string, d time.Duration) {
	module, operation := splitPath(path)
	c.jobDuration.WithLabelValues(module, operation).Observe(d.Seconds())
}

// SetQueueDepth sets the current depth of a queue set
func (c *Collector) SetQueueDepth(queueName string, depth int) {
	c.queueDepth.WithLabelValues(queueName).Set(float64(depth))
}

// SetActiveExecutions sets the number of currently active jobs
func (c *Collector) SetActiveExecutions(count int) {
	c.activeJobs.Set(float64(count))
}

var moduleStatuses = []domain.ModuleStatus{
	domain.ModuleStatusUninitialized,
	domain.ModuleStatusStarting,
	domain.ModuleStatusStarted,
	domain.ModuleStatusError,
	domain.ModuleStatusStopping,
	domain.ModuleStatusStopped,
	domain.ModuleStatusDisabled,
}

// SetModuleStatus marks status as the current status of module
func (c *Collector) SetModuleStatus(module string, status domain.ModuleStatus) {
	for _, s := range moduleStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		c.moduleStatus.WithLabelValues(module, string(s)).Set(value)
	}
}

// ObserveHTTPRequest records a served HTTP request
func (c *Collector) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
