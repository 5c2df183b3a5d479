package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) LastRestart(ctx context.Context, now time.Time) (time.Time, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *mockStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, name, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ReleaseLock(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func TestFailoverRuntimeStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverRuntimeStore(primary, fallback, &logger)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	t.Run("PrimarySuccess", func(t *testing.T) {
		restart := now.Add(-time.Hour)
		primary.On("LastRestart", ctx, now).Return(restart, nil).Once()

		got, err := repo.LastRestart(ctx, now)
		assert.NoError(t, err)
		assert.Equal(t, restart, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("AcquireLock", ctx, "sweep", time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("AcquireLock", ctx, "sweep", time.Minute).Return(true, nil).Once()

		ok, err := repo.AcquireLock(ctx, "sweep", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDownSkipsPrimary", func(t *testing.T) {
		repo.now = func() time.Time { return repo.lastCheck.Add(30 * time.Second) }
		fallback.On("LastRestart", ctx, now).Return(now, nil).Once()

		got, err := repo.LastRestart(ctx, now)
		assert.NoError(t, err)
		assert.Equal(t, now, got)
		primary.AssertNotCalled(t, "LastRestart", ctx, now)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = now.Add(-2 * time.Minute)
		repo.now = func() time.Time { return now }

		primary.On("AcquireLock", ctx, "recover", time.Minute).Return(true, nil).Once()

		ok, err := repo.AcquireLock(ctx, "recover", time.Minute)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = now.Add(-2 * time.Minute)

		primary.On("AcquireLock", ctx, "still", time.Minute).Return(false, errors.New("still fail")).Once()
		fallback.On("AcquireLock", ctx, "still", time.Minute).Return(true, nil).Once()

		_, err := repo.AcquireLock(ctx, "still", time.Minute)
		assert.NoError(t, err)
		assert.True(t, repo.isDown.Load())
		assert.Equal(t, now, repo.lastCheck)
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("ReleaseHitsBothStores", func(t *testing.T) {
		repo.isDown.Store(false)
		primary.On("ReleaseLock", ctx, "sweep").Return(nil).Once()
		fallback.On("ReleaseLock", ctx, "sweep").Return(nil).Once()

		assert.NoError(t, repo.ReleaseLock(ctx, "sweep"))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("ReleasePrimaryFailure", func(t *testing.T) {
		repo.isDown.Store(false)
		primary.On("ReleaseLock", ctx, "x").Return(errors.New("fail")).Once()
		fallback.On("ReleaseLock", ctx, "x").Return(nil).Once()

		assert.NoError(t, repo.ReleaseLock(ctx, "x"))
		assert.True(t, repo.isDown.Load())
	})
}

func TestFailoverWithRealStores(t *testing.T) {
	logger := zerolog.New(io.Discard)
	broken := NewRedisRuntimeStore(nil)
	repo := NewFailoverRuntimeStore(broken, NewMemoryRuntimeStore(), &logger)
	ctx := context.Background()
	now := time.Now()

	got, err := repo.LastRestart(ctx, now)
	assert.NoError(t, err)
	assert.Equal(t, now, got)

	ok, err := repo.AcquireLock(ctx, "sweep:no_show", time.Minute)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AcquireLock(ctx, "sweep:no_show", time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)
}
