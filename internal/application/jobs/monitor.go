package jobs

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// QueueGauges receives periodic queue depth readings
type QueueGauges interface {
	SetQueueDepth(queueName string, depth int)
	SetActiveExecutions(count int)
}

// Monitor periodically logs queue depth and reports jobs that have been
// queued for longer than staleAfter
type Monitor struct {
	queue      *Queue
	interval   time.Duration
	staleAfter time.Duration
	gauges     QueueGauges
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// MonitorStatus is a point-in-time view of the queue
type MonitorStatus struct {
	Queued      int
	Active      int
	Concurrency int
	Paused      bool
	Stale       []string
	Healthy     bool
	Timestamp   time.Time
}

// NewMonitor creates a queue monitor. gauges may be nil.
func NewMonitor(queue *Queue, interval, staleAfter time.Duration, gauges QueueGauges, logger *zap.Logger) *Monitor {
	return &Monitor{
		queue:      queue,
		interval:   interval,
		staleAfter: staleAfter,
		gauges:     gauges,
		logger:     logger,
	}
}

// Start starts the monitor loop
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	go m.run(m.stopCh)
}

// Stop stops the monitor loop
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
}

func (m *Monitor) run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Monitor) check() {
	status := m.GetStatus()

	m.logger.Info("job queue status",
		zap.Int("queued", status.Queued),
		zap.Int("active", status.Active),
		zap.Int("concurrency", status.Concurrency),
		zap.Bool("paused", status.Paused))

	if m.gauges != nil {
		m.gauges.SetQueueDepth("queued", status.Queued)
		m.gauges.SetQueueDepth("active", status.Active)
		m.gauges.SetActiveExecutions(status.Active)
	}

	if len(status.Stale) > 0 {
		m.logger.Warn("jobs waiting longer than expected",
			zap.Strings("job_ids", status.Stale),
			zap.Duration("stale_after", m.staleAfter))
	}

	if status.Active == status.Concurrency {
		m.logger.Warn("job queue at capacity",
			zap.Int("concurrency", status.Concurrency))
	}
}

// GetStatus returns the current queue status
func (m *Monitor) GetStatus() *MonitorStatus {
	now := time.Now()
	queued := m.queue.Queued()
	_, active := m.queue.Len()

	var stale []string
	if m.staleAfter > 0 {
		for _, rec := range queued {
			if now.Sub(rec.CreatedAt) > m.staleAfter {
				stale = append(stale, rec.ID)
			}
		}
	}

	return &MonitorStatus{
		Queued:      len(queued),
		Active:      active,
		Concurrency: m.queue.Concurrency(),
		Paused:      m.queue.Paused(),
		Stale:       stale,
		Healthy:     len(stale) == 0,
		Timestamp:   now,
	}
}

// IsHealthy reports whether no job is stale
func (m *Monitor) IsHealthy() bool {
	return m.GetStatus().Healthy
}
