// Package guard runs an atomic unit under a keyed lock: the keyed lock
// queues same-key callers, the store transaction makes the unit all or
// nothing.
package guard

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/apperr"
	"github.com/hackgods/medisync-core/internal/metrics"
	redisclient "github.com/hackgods/medisync-core/internal/redis"
	"github.com/hackgods/medisync-core/internal/storage"
)

type Guard struct {
	store  storage.Store
	locker redisclient.Locker
	log    zerolog.Logger
}

func New(store storage.Store, locker redisclient.Locker, logger zerolog.Logger) *Guard {
	return &Guard{store: store, locker: locker, log: logger}
}

// Do runs fn in one transaction while holding the lock for key. Contention
// that outlasts the configured retries comes back as apperr.ErrBusy.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context, tx storage.Tx) error) error {
	err := g.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		return g.store.WithTx(lockCtx, func(tx storage.Tx) error {
			return fn(lockCtx, tx)
		})
	})
	return g.translate(key, err)
}

// Tx runs fn in one transaction with no keyed lock, for units that create
// rows nobody else can reference yet.
func (g *Guard) Tx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	err := g.store.WithTx(ctx, func(tx storage.Tx) error {
		return fn(ctx, tx)
	})
	return g.translate("tx", err)
}

func (g *Guard) translate(key string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		metrics.RecordLockFailure(scope(key))
		g.log.Warn().Str("key", key).Msg("lock not acquired")
		return apperr.ErrBusy.WithError(err)
	case errors.Is(err, storage.ErrBusy):
		metrics.RecordLockFailure("store")
		g.log.Warn().Err(err).Str("key", key).Msg("row lock contention")
		return apperr.ErrBusy.WithError(err)
	}
	return err
}

// scope turns "lock:slot:1:2:3" into "slot".
func scope(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return key
	}
	return parts[1]
}
