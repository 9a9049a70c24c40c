package ports

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
)

// ErrNotFound is returned by archives when a record does not exist
var ErrNotFound = errors.New("not found")

// EventHandler processes a single event delivered by the bus
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes events and fans them out to subscribers
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	// Subscribe registers handler until ctx is cancelled
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// JobArchive keeps completed job snapshots for later inspection
type JobArchive interface {
	Save(ctx context.Context, record *domain.JobRecord) error
	Get(ctx context.Context, jobID string) (*domain.JobRecord, error)
	Delete(ctx context.Context, jobID string) error
	List(ctx context.Context) ([]string, error)
}

// StatsSink records per-operation statistics. path is "module.operation".
type StatsSink interface {
	RecordConstructed(path string)
	RecordSuccess(path string)
	RecordFailure(path string)
	RecordDuration(path string, d time.Duration)
}

// LogSink receives one structured entry per completed job
type LogSink interface {
	Log(entry domain.LogEntry)
}
