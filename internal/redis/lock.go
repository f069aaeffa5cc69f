package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Locker guards critical sections per key. fn runs only while the lock is
// held and receives a context bounded by the lock TTL.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type LockOptions struct {
	TTL time.Duration
	// Attempts is how many times acquisition is tried before
	// ErrLockNotAcquired is returned.
	Attempts   int
	RetryDelay time.Duration
}

func (o LockOptions) withDefaults() LockOptions {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Second
	}
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 25 * time.Millisecond
	}
	return o
}

func SlotKey(doctorID int64, start, end time.Time) string {
	return fmt.Sprintf("lock:slot:%d:%d:%d", doctorID, start.Unix(), end.Unix())
}

func BillKey(processID int64) string {
	return fmt.Sprintf("lock:bill:%d", processID)
}

func AppointmentKey(appointmentID int64) string {
	return fmt.Sprintf("lock:appointment:%d", appointmentID)
}

func PatientKey(patientID int64) string {
	return fmt.Sprintf("lock:patient:%d", patientID)
}

func ResourceKey(resourceID int64) string {
	return fmt.Sprintf("lock:resource:%d", resourceID)
}

type redisLocker struct {
	client *redis.Client
	opts   LockOptions
}

// NewRedisLocker creates a locker backed by one Redis key per lock.
func NewRedisLocker(client *redis.Client, opts LockOptions) Locker {
	return &redisLocker{
		client: client,
		opts:   opts.withDefaults(),
	}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	err := acquire(ctx, l.opts, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return false, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		return ok, nil
	})
	if err != nil {
		return err
	}

	defer func() {
		// release with a fresh context so a cancelled caller still frees the key
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(relCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.opts.TTL)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// acquire calls try up to opts.Attempts times, sleeping RetryDelay between
// attempts.
func acquire(ctx context.Context, opts LockOptions, try func() (bool, error)) error {
	for attempt := 1; ; attempt++ {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt >= opts.Attempts {
			return ErrLockNotAcquired
		}

		timer := time.NewTimer(opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
