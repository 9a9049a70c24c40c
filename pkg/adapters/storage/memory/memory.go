package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/aescanero/modjob/pkg/ports"
)

type entry struct {
	record    domain.JobRecord
	expiresAt time.Time
}

// JobArchive implements ports.JobArchive using an in-memory map.
// Expired records are dropped lazily on access.
type JobArchive struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	records map[string]entry
}

// NewJobArchive creates a new in-memory archive. A ttl of zero keeps
// records forever.
func NewJobArchive(ttl time.Duration) *JobArchive {
	return &JobArchive{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]entry),
	}
}

// Save stores a copy of record
func (a *JobArchive) Save(ctx context.Context, record *domain.JobRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("job record id is required")
	}

	e := entry{record: *record}
	if a.ttl > 0 {
		e.expiresAt = a.now().Add(a.ttl)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[record.ID] = e
	return nil
}

// Get returns the archived record
func (a *JobArchive) Get(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	a.mu.RLock()
	e, ok := a.records[jobID]
	a.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: job %s", ports.ErrNotFound, jobID)
	}
	if a.expired(e) {
		a.mu.Lock()
		delete(a.records, jobID)
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s", ports.ErrNotFound, jobID)
	}

	rec := e.record
	return &rec, nil
}

// Delete removes a record
func (a *JobArchive) Delete(ctx context.Context, jobID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, jobID)
	return nil
}

// List returns the ids of all live records, sorted
func (a *JobArchive) List(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.records))
	for id, e := range a.records {
		if a.expired(e) {
			delete(a.records, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *JobArchive) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !a.now().Before(e.expiresAt)
}
