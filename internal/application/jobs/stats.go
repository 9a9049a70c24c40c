package jobs

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/aescanero/modjob/pkg/ports"
)

// Statistics aggregates per-operation counters in memory for introspection
type Statistics struct {
	mu  sync.Mutex
	ops map[string]*domain.OperationStats
}

// NewStatistics creates an empty aggregate
func NewStatistics() *Statistics {
	return &Statistics{ops: make(map[string]*domain.OperationStats)}
}

func (s *Statistics) entry(path string) *domain.OperationStats {
	st, ok := s.ops[path]
	if !ok {
		st = &domain.OperationStats{Path: path}
		s.ops[path] = st
	}
	return st
}

// RecordConstructed counts a created job
func (s *Statistics) RecordConstructed(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(path).Constructed++
}

// RecordSuccess counts a successful job
func (s *Statistics) RecordSuccess(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(path).Successful++
}

// RecordFailure counts a failed job
func (s *Statistics) RecordFailure(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(path).Failed++
}

// RecordDuration adds d to the total and refreshes the average
func (s *Statistics) RecordDuration(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.entry(path)
	st.TotalTime += d
	if finished := st.Successful + st.Failed; finished > 0 {
		st.AverageTime = st.TotalTime / time.Duration(finished)
	}
}

// RecordOutcome counts a finished job and adds its duration in one step, so
// readers never see a count without its duration
func (s *Statistics) RecordOutcome(path string, success bool, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.entry(path)
	if success {
		st.Successful++
	} else {
		st.Failed++
	}
	st.TotalTime += d
	st.AverageTime = st.TotalTime / time.Duration(st.Successful+st.Failed)
}

// Get returns the statistics of a single path
func (s *Statistics) Get(path string) (domain.OperationStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.ops[path]
	if !ok {
		return domain.OperationStats{}, false
	}
	return *st, true
}

// Snapshot returns a copy of every path's statistics sorted by path
func (s *Statistics) Snapshot() []domain.OperationStats {
	s.mu.Lock()
	out := make([]domain.OperationStats, 0, len(s.ops))
	for _, st := range s.ops {
		out = append(out, *st)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.OperationStats) int { return cmp.Compare(a.Path, b.Path) })
	return out
}

// outcomeRecorder is implemented by sinks that record a finished job
// atomically
type outcomeRecorder interface {
	RecordOutcome(path string, success bool, d time.Duration)
}

// recordOutcome reports a finished job to sink, in one call when it supports it
func recordOutcome(sink ports.StatsSink, path string, success bool, d time.Duration) {
	if r, ok := sink.(outcomeRecorder); ok {
		r.RecordOutcome(path, success, d)
		return
	}
	if success {
		sink.RecordSuccess(path)
	} else {
		sink.RecordFailure(path)
	}
	sink.RecordDuration(path, d)
}

type multiStats []ports.StatsSink

// MultiStats fans statistics out to every non-nil sink
func MultiStats(sinks ...ports.StatsSink) ports.StatsSink {
	out := make(multiStats, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiStats) RecordConstructed(path string) {
	for _, s := range m {
		s.RecordConstructed(path)
	}
}

func (m multiStats) RecordSuccess(path string) {
	for _, s := range m {
		s.RecordSuccess(path)
	}
}

func (m multiStats) RecordFailure(path string) {
	for _, s := range m {
		s.RecordFailure(path)
	}
}

func (m multiStats) RecordDuration(path string, d time.Duration) {
	for _, s := range m {
		s.RecordDuration(path, d)
	}
}

func (m multiStats) RecordOutcome(path string, success bool, d time.Duration) {
	for _, s := range m {
		recordOutcome(s, path, success, d)
	}
}
