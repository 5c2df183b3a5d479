package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appointly/internal/config"
	"appointly/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lastRestartKey = "app:last_restart"
	lockKeyPrefix  = "lock:"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRuntimeStore keeps the last-restart record and sweep locks in Redis,
// shared by every replica.
type RedisRuntimeStore struct {
	client *redis.Client
	owner  string
}

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisRuntimeStore(client *redis.Client) *RedisRuntimeStore {
	return &RedisRuntimeStore{client: client, owner: uuid.NewString()}
}

// LastRestart returns the recorded restart instant, recording now when absent.
func (r *RedisRuntimeStore) LastRestart(ctx context.Context, now time.Time) (time.Time, error) {
	if r.client == nil {
		return time.Time{}, fmt.Errorf("redis client is nil")
	}

	value := now.UTC().Format(time.RFC3339Nano)
	if err := r.client.SetNX(ctx, lastRestartKey, value, models.LastRestartTTL).Err(); err != nil {
		return time.Time{}, fmt.Errorf("failed to record last restart: %w", err)
	}

	raw, err := r.client.Get(ctx, lastRestartKey).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return now, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last restart: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid last restart value %q: %w", raw, err)
	}
	return t, nil
}

// AcquireLock takes a named lock for ttl. It returns false when another
// owner holds it.
func (r *RedisRuntimeStore) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SetNX(ctx, lockKeyPrefix+name, r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock frees the lock only if this store still owns it.
func (r *RedisRuntimeStore) ReleaseLock(ctx context.Context, name string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := releaseLockScript.Run(ctx, r.client, []string{lockKeyPrefix + name}, r.owner).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the client if it was created.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
