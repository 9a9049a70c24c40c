package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGauges struct {
	mu     sync.Mutex
	depth  map[string]int
	active int
}

func (g *fakeGauges) SetQueueDepth(queueName string, depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.depth == nil {
		g.depth = make(map[string]int)
	}
	g.depth[queueName] = depth
}

func (g *fakeGauges) SetActiveExecutions(count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = count
}

func (g *fakeGauges) queued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.depth["queued"]
}

func TestMonitor_ReportsStaleJobs(t *testing.T) {
	target := newFakeTarget("math")
	target.ops["echo"] = echo()
	q := newTestQueue(t, &Config{}, target)

	gauges := &fakeGauges{}
	m := NewMonitor(q, 5*time.Millisecond, 10*time.Millisecond, gauges, zap.NewNop())

	handle, err := q.Submit(context.Background(), "math", "echo", nil)
	require.NoError(t, err)

	status := m.GetStatus()
	assert.Equal(t, 1, status.Queued)
	assert.True(t, status.Paused)
	assert.Equal(t, DefaultConcurrency, status.Concurrency)
	assert.True(t, status.Healthy)

	time.Sleep(15 * time.Millisecond)
	status = m.GetStatus()
	assert.Equal(t, []string{handle.ID()}, status.Stale)
	assert.False(t, m.IsHealthy())

	m.Start()
	m.Start()
	require.Eventually(t, func() bool { return gauges.queued() == 1 }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()

	q.Resume()
	_, err = handle.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, m.IsHealthy())
}
