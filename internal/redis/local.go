package redisclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// localLocker gives the same set-if-absent semantics as the Redis locker
// inside one process. Used when no Redis address is configured.
type localLocker struct {
	mu    sync.Mutex
	held  map[string]localLease
	opts  LockOptions
	clock func() time.Time
}

type localLease struct {
	token   string
	expires time.Time
}

func NewLocalLocker(opts LockOptions) Locker {
	return &localLocker{
		held:  make(map[string]localLease),
		opts:  opts.withDefaults(),
		clock: time.Now,
	}
}

func (l *localLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	err := acquire(ctx, l.opts, func() (bool, error) {
		return l.setNX(key, token), nil
	})
	if err != nil {
		return err
	}
	defer l.release(key, token)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.opts.TTL)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *localLocker) setNX(key, token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if lease, ok := l.held[key]; ok && now.Before(lease.expires) {
		return false
	}
	l.held[key] = localLease{token: token, expires: now.Add(l.opts.TTL)}
	return true
}

func (l *localLocker) release(key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, ok := l.held[key]; ok && lease.token == token {
		delete(l.held, key)
	}
}
