package repository

import (
	"context"
	"sync"
	"time"

	"appointly/internal/models"
)

// MemoryRuntimeStore is the single-process runtime store used when Redis is
// not configured or unreachable.
type MemoryRuntimeStore struct {
	mu          sync.Mutex
	lastRestart time.Time
	expiresAt   time.Time
	locks       map[string]time.Time
	now         func() time.Time
}

func NewMemoryRuntimeStore() *MemoryRuntimeStore {
	return &MemoryRuntimeStore{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (r *MemoryRuntimeStore) LastRestart(_ context.Context, now time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastRestart.IsZero() || !now.Before(r.expiresAt) {
		r.lastRestart = now
		r.expiresAt = now.Add(models.LastRestartTTL)
	}
	return r.lastRestart, nil
}

func (r *MemoryRuntimeStore) AcquireLock(_ context.Context, name string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if until, ok := r.locks[name]; ok && now.Before(until) {
		return false, nil
	}
	r.locks[name] = now.Add(ttl)
	return true, nil
}

func (r *MemoryRuntimeStore) ReleaseLock(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, name)
	return nil
}
