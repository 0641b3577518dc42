package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 15 * time.Second

// ErrNotAcquired is returned when another owner holds the lock.
var ErrNotAcquired = errors.New("lock held by another owner")

// redisStore defines the operations used by RedisLock.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error)
	LockKey(parts ...string) string
}

// RedisLocker hands out SETNX-based locks scoped by name.
type RedisLocker struct {
	client redisStore
	ttl    time.Duration
}

// NewRedisLocker constructs a Redis-backed locker.
func NewRedisLocker(client redisStore, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

// Acquire takes the lock named by parts or fails fast with ErrNotAcquired.
// The returned release func only deletes the key while this caller owns it.
func (l *RedisLocker) Acquire(ctx context.Context, parts ...string) (func(context.Context) error, error) {
	if len(parts) == 0 {
		return nil, errors.New("lock key is required")
	}
	key := l.client.LockKey(parts...)
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("setnx %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return func(ctx context.Context) error {
		if _, err := l.client.ReleaseIfOwner(ctx, key, owner); err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		return nil
	}, nil
}
