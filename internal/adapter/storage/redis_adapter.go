package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/tablesync/internal/port"
)

const (
	lockKeyPrefix     = "lock:"
	dedupKeyTTL       = 24 * time.Hour
	lockRetryInterval = 25 * time.Millisecond
	lockReleaseWait   = 2 * time.Second
)

// releaseLockScript deletes the lock only if we still own it.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

type RedisAdapter struct {
	client  *redis.Client
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewRedisAdapter builds the adapter. lockTTL bounds how long a crashed
// holder can block an order.
func NewRedisAdapter(client *redis.Client, lockTTL time.Duration, logger *slog.Logger) *RedisAdapter {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &RedisAdapter{client: client, lockTTL: lockTTL, logger: logger.With("component", "redis")}
}

// Lock takes a lease on key, polling until ctx ends.
func (r *RedisAdapter) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.lockTTL).Result()
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", port.ErrLockTimeout, key, ctx.Err())
		}
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", port.ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), lockReleaseWait)
			defer cancel()

			if err := releaseLockScript.Run(releaseCtx, r.client, []string{lockKey}, token).Err(); err != nil {
				r.logger.Warn("lock release failed, lease will expire", "key", key, "error", err)
			}
		})
	}, nil
}

// Claim sets key if absent, returns false if it already exists.
func (r *RedisAdapter) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, dedupKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}
