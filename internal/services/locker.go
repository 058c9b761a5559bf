package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockTaken is returned when another holder owns the lock
var ErrLockTaken = errors.New("lock is held elsewhere")

// Locker hands out short-lived exclusive locks. The returned func releases
// the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// RedisLocker is a Locker backed by redsync. It tries once; any failure to
// acquire, including an unreachable Redis, is reported as ErrLockTaken.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewRedsync(client *redis.Client) *redsync.Redsync {
	return redsync.New(goredis.NewPool(client))
}

func NewRedisLocker(rs *redsync.Redsync, expiry time.Duration) *RedisLocker {
	return &RedisLocker{rs: rs, expiry: expiry}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(
		"lock:"+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLockTaken, key, err)
	}
	return func() {
		_, _ = mutex.UnlockContext(context.WithoutCancel(ctx))
	}, nil
}
