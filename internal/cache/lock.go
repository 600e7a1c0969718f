package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("cache: lock held by another holder")

// Lock is an obtained named lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out named, expiring mutual-exclusion locks.
type Locker interface {
	// Obtain takes key for ttl without waiting. It returns ErrLockHeld when
	// the key is already locked.
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type redisLocker struct {
	client *redislock.Client
}

// NewRedisLocker returns a locker shared by every process on the same redis.
func NewRedisLocker(client goredis.UniversalClient) Locker {
	return &redisLocker{client: redislock.New(client)}
}

func (l *redisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, ErrLockHeld)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return lock, nil
}

// localLocker serializes holders inside one process.
type localLocker struct {
	mu    sync.Mutex
	held  map[string]localLease
	seq   uint64
	clock func() time.Time
}

type localLease struct {
	token    uint64
	deadline time.Time
}

// NewLocalLocker returns an in-process locker.
func NewLocalLocker() Locker {
	return &localLocker{held: make(map[string]localLease), clock: time.Now}
}

func (l *localLocker) Obtain(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if lease, ok := l.held[key]; ok && now.Before(lease.deadline) {
		return nil, fmt.Errorf("%s: %w", key, ErrLockHeld)
	}
	l.seq++
	l.held[key] = localLease{token: l.seq, deadline: now.Add(ttl)}
	return &localLock{owner: l, key: key, token: l.seq}, nil
}

type localLock struct {
	owner *localLocker
	key   string
	token uint64
}

func (k *localLock) Release(context.Context) error {
	k.owner.mu.Lock()
	defer k.owner.mu.Unlock()

	// an expired lease may already belong to someone else
	if lease, ok := k.owner.held[k.key]; ok && lease.token == k.token {
		delete(k.owner.held, k.key)
	}
	return nil
}
