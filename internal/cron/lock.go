package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const minLeaseTTL = 30 * time.Second

// Locker grants one worker at a time the right to run a named job.
type Locker interface {
	Acquire(ctx context.Context, job string) (Lease, bool, error)
}

// Lease is a held job lock.
type Lease interface {
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

// LeaseTTL keeps a job lease just under one scan interval, so a worker that
// dies mid-run never blocks the next tick.
func LeaseTTL(interval time.Duration) time.Duration {
	ttl := interval - interval/10
	if ttl < minLeaseTTL {
		return minLeaseTTL
	}
	return ttl
}

// LockName scopes a job lock to one deployment environment.
func LockName(env, job string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("cron:%s:%s", env, job)
}

// RedisLocker issues per-job leases backed by SETNX with a TTL.
type RedisLocker struct {
	store lockStore
	env   string
	ttl   time.Duration
}

func NewRedisLocker(store lockStore, env string, interval time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("redis client required for cron locks")
	}
	return &RedisLocker{store: store, env: env, ttl: LeaseTTL(interval)}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, job string) (Lease, bool, error) {
	if job == "" {
		return nil, false, errors.New("job name required")
	}
	key := l.store.LockKey(LockName(l.env, job))
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", job, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{store: l.store, key: key, owner: owner}, true, nil
}

type redisLease struct {
	store lockStore
	key   string
	owner string
}

// Release deletes the key only while this lease still owns it. An expired
// lease that another worker picked up is left alone.
func (l *redisLease) Release(ctx context.Context) error {
	value, err := l.store.Get(ctx, l.key)
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock owner: %w", err)
	}
	if value != l.owner {
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	return nil
}
