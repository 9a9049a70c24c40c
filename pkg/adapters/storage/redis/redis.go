package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/aescanero/modjob/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "modjob:jobs:"
	scanCount = 100
)

// JobArchive implements ports.JobArchive using Redis
type JobArchive struct {
	client redis.UniversalClient
	logger *zap.Logger
	ttl    time.Duration
}

// NewJobArchive creates a new Redis job archive. Records expire after ttl;
// zero keeps them until deleted.
func NewJobArchive(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *JobArchive {
	return &JobArchive{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists a completed job record
func (a *JobArchive) Save(ctx context.Context, record *domain.JobRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("job record id is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	if err := a.client.Set(ctx, jobKey(record.ID), data, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save job record: %w", err)
	}

	a.logger.Debug("job archived",
		zap.String("job_id", record.ID),
		zap.String("path", record.Path()))

	return nil
}

// Get loads an archived job record
func (a *JobArchive) Get(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	data, err := a.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: job %s", ports.ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}

	var record domain.JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job record: %w", err)
	}

	return &record, nil
}

// Delete removes an archived job record
func (a *JobArchive) Delete(ctx context.Context, jobID string) error {
	if err := a.client.Del(ctx, jobKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete job record: %w", err)
	}
	return nil
}

// List returns the ids of all archived jobs
func (a *JobArchive) List(ctx context.Context) ([]string, error) {
	var cursor uint64
	var ids []string

	for {
		keys, next, err := a.client.Scan(ctx, cursor, keyPrefix+"*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range keys {
			if id := strings.TrimPrefix(key, keyPrefix); id != "" {
				ids = append(ids, id)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return ids, nil
}

func jobKey(jobID string) string {
	return keyPrefix + jobID
}
