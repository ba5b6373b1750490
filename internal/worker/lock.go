package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Locker grants at most one in-flight run per report id.
type Locker interface {
	Acquire(ctx context.Context, reportID uuid.UUID) (bool, error)
	Release(ctx context.Context, reportID uuid.UUID) error
}

// RunLockCache is the part of cache.Cache a CacheLocker needs.
type RunLockCache interface {
	AcquireRunLock(ctx context.Context, reportID uuid.UUID, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, reportID uuid.UUID) error
}

// CacheLocker holds run locks in a shared cache so they span processes.
// The TTL bounds how long a crashed worker can block a report.
type CacheLocker struct {
	cache RunLockCache
	ttl   time.Duration
}

func NewCacheLocker(c RunLockCache, ttl time.Duration) *CacheLocker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CacheLocker{cache: c, ttl: ttl}
}

func (l *CacheLocker) Acquire(ctx context.Context, reportID uuid.UUID) (bool, error) {
	return l.cache.AcquireRunLock(ctx, reportID, l.ttl)
}

func (l *CacheLocker) Release(ctx context.Context, reportID uuid.UUID) error {
	return l.cache.ReleaseRunLock(ctx, reportID)
}

// MemoryLocker holds run locks in process memory.
type MemoryLocker struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{active: make(map[uuid.UUID]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, reportID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.active[reportID]; ok {
		return false, nil
	}
	l.active[reportID] = struct{}{}
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, reportID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, reportID)
	return nil
}
