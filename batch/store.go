// Package batch processes bulk threat submissions as asynchronous jobs
// with queryable progress.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"argus/core"
)

// ErrJobNotFound is returned when a job id is unknown or expired.
var ErrJobNotFound = errors.New("batch job not found")

// JobStore persists batch job state. Jobs expire after a TTL so the
// store does not grow without bound.
type JobStore interface {
	Put(ctx context.Context, job *core.BatchJob) error
	Get(ctx context.Context, jobID string) (*core.BatchJob, error)
}

// MemoryJobStore keeps jobs in process memory with TTL expiry. It is
// the fallback when Redis is not configured or unreachable.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]memoryEntry
	ttl  time.Duration
}

type memoryEntry struct {
	job      *core.BatchJob
	storedAt time.Time
}

// NewMemoryJobStore creates an in-memory job store with the given TTL.
func NewMemoryJobStore(ttl time.Duration) *MemoryJobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryJobStore{
		jobs: make(map[string]memoryEntry),
		ttl:  ttl,
	}
}

// Put stores a snapshot of the job.
func (m *MemoryJobStore) Put(_ context.Context, job *core.BatchJob) error {
	snapshot := cloneJob(job)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.JobID] = memoryEntry{job: snapshot, storedAt: time.Now()}
	m.expireLocked()
	return nil
}

// Get returns a copy of the stored job, or ErrJobNotFound.
func (m *MemoryJobStore) Get(_ context.Context, jobID string) (*core.BatchJob, error) {
	m.mu.RLock()
	entry, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok || time.Since(entry.storedAt) > m.ttl {
		return nil, ErrJobNotFound
	}
	return cloneJob(entry.job), nil
}

func (m *MemoryJobStore) expireLocked() {
	for id, entry := range m.jobs {
		if time.Since(entry.storedAt) > m.ttl {
			delete(m.jobs, id)
		}
	}
}

func cloneJob(job *core.BatchJob) *core.BatchJob {
	snapshot := *job
	snapshot.Results = append([]core.BatchItemResult(nil), job.Results...)
	return &snapshot
}

// RedisJobStore persists jobs in Redis so progress queries survive a
// process restart and can be served by another instance.
type RedisJobStore struct {
	cache *core.RedisCache
	ttl   time.Duration
}

// NewRedisJobStore wraps a Redis cache as a job store.
func NewRedisJobStore(cache *core.RedisCache, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisJobStore{cache: cache, ttl: ttl}
}

func jobKey(jobID string) string {
	return "batch_job:" + jobID
}

func (r *RedisJobStore) Put(ctx context.Context, job *core.BatchJob) error {
	if err := r.cache.Set(ctx, jobKey(job.JobID), job, r.ttl); err != nil {
		return fmt.Errorf("failed to store batch job %s: %w", job.JobID, err)
	}
	return nil
}

func (r *RedisJobStore) Get(ctx context.Context, jobID string) (*core.BatchJob, error) {
	var job core.BatchJob
	found, err := r.cache.Get(ctx, jobKey(jobID), &job)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch job %s: %w", jobID, err)
	}
	if !found {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

// NewJobStore picks the Redis store when a cache is reachable, falling
// back to process memory otherwise.
func NewJobStore(cache *core.RedisCache, ttl time.Duration, logger *zap.SugaredLogger) JobStore {
	if cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.Ping(ctx); err == nil {
			logger.Info("Batch job store backed by Redis")
			return NewRedisJobStore(cache, ttl)
		}
		logger.Warn("Redis unreachable, batch jobs held in process memory")
	}
	return NewMemoryJobStore(ttl)
}
