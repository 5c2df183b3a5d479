package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"appointly/internal/domain"

	"github.com/rs/zerolog"
)

const recheckInterval = time.Minute

// FailoverRuntimeStore prefers the primary store and switches to the fallback
// after the first primary error. The primary is retried once per minute.
type FailoverRuntimeStore struct {
	primary   domain.RuntimeStore
	fallback  domain.RuntimeStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverRuntimeStore(primary, fallback domain.RuntimeStore, logger *zerolog.Logger) *FailoverRuntimeStore {
	return &FailoverRuntimeStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to the primary store.
func (r *FailoverRuntimeStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.lastCheck) > recheckInterval
}

func (r *FailoverRuntimeStore) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary runtime store failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

func (r *FailoverRuntimeStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary runtime store recovered")
	}
}

func (r *FailoverRuntimeStore) LastRestart(ctx context.Context, now time.Time) (time.Time, error) {
	if r.usePrimary() {
		t, err := r.primary.LastRestart(ctx, now)
		if err == nil {
			r.markUp()
			return t, nil
		}
		r.markDown(err)
	}
	return r.fallback.LastRestart(ctx, now)
}

func (r *FailoverRuntimeStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.AcquireLock(ctx, name, ttl)
		if err == nil {
			r.markUp()
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.AcquireLock(ctx, name, ttl)
}

// ReleaseLock releases on both stores, since the lock may have been taken on either.
func (r *FailoverRuntimeStore) ReleaseLock(ctx context.Context, name string) error {
	if err := r.primary.ReleaseLock(ctx, name); err != nil {
		r.markDown(err)
	}
	return r.fallback.ReleaseLock(ctx, name)
}
