// Package sqlstore implements storage.Store on database/sql for postgres
// (through the pgx stdlib adapter) and sqlite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medisync-core/internal/metrics"
	"github.com/hackgods/medisync-core/internal/storage"
)

type Options struct {
	// TxTimeout bounds one attempt of an atomic unit, including the wait
	// for a connection.
	TxTimeout time.Duration
	// MaxAttempts is how many times a unit runs before ErrBusy is returned.
	MaxAttempts int
	// LockTimeout is applied with SET LOCAL lock_timeout on postgres.
	LockTimeout time.Duration
	Logger      zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.TxTimeout <= 0 {
		o.TxTimeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

type Store struct {
	queries
	db   *sql.DB
	opts Options
	log  zerolog.Logger
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Seeder = (*Store)(nil)
	_ storage.Tx     = (*txn)(nil)
)

func New(db *sql.DB, dialect Dialect, opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		queries: queries{q: db, d: dialect},
		db:      db,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "sqlstore").Str("dialect", dialect.String()).Logger(),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// txn is the storage.Tx handed to a unit. Reads go through the transaction
// too, never through the pool: on sqlite the pool has a single connection.
type txn struct {
	queries
}

func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !errors.Is(err, storage.ErrBusy) {
			return err
		}
		if attempt == s.opts.MaxAttempts || ctx.Err() != nil {
			break
		}

		metrics.TxRetries.Inc()
		s.log.Debug().Err(err).Int("attempt", attempt).Msg("retrying atomic unit")

		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		status := "committed"
		switch {
		case errors.Is(err, storage.ErrBusy):
			status = "busy"
		case err != nil:
			status = "rolled_back"
		}
		metrics.ObserveTx(status, time.Since(start).Seconds())
	}()

	txCtx, cancel := context.WithTimeout(ctx, s.opts.TxTimeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(txCtx, nil)
	if err != nil {
		return s.timeout(ctx, txCtx, s.d.wrap(fmt.Errorf("begin tx: %w", err)))
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if s.d == Postgres && s.opts.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.opts.LockTimeout.Milliseconds())
		if _, err = sqlTx.ExecContext(txCtx, stmt); err != nil {
			return s.timeout(ctx, txCtx, s.d.wrap(fmt.Errorf("set lock_timeout: %w", err)))
		}
	}

	if err = fn(&txn{queries{q: boundTx{tx: sqlTx, ctx: txCtx}, d: s.d}}); err != nil {
		return s.timeout(ctx, txCtx, err)
	}

	if err = sqlTx.Commit(); err != nil {
		return s.timeout(ctx, txCtx, s.d.wrap(fmt.Errorf("commit: %w", err)))
	}
	return nil
}

// timeout turns a failure caused by the unit's own bound into ErrBusy. Once
// txCtx has expired database/sql has rolled the transaction back, so later
// statements fail with sql.ErrTxDone rather than a deadline error. A
// cancelled caller context is reported as is.
func (s *Store) timeout(parent, txCtx context.Context, err error) error {
	if err == nil || errors.Is(err, storage.ErrBusy) || parent.Err() != nil {
		return err
	}
	if txCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", storage.ErrBusy, err)
	}
	return err
}

// boundTx runs every statement of a unit on the unit's context, whatever
// context the caller passes, so TxTimeout bounds each statement too.
type boundTx struct {
	tx  *sql.Tx
	ctx context.Context
}

func (b boundTx) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	return b.tx.ExecContext(b.ctx, query, args...)
}

func (b boundTx) QueryContext(_ context.Context, query string, args ...any) (*sql.Rows, error) {
	return b.tx.QueryContext(b.ctx, query, args...)
}

func (b boundTx) QueryRowContext(_ context.Context, query string, args ...any) *sql.Row {
	return b.tx.QueryRowContext(b.ctx, query, args...)
}

// queries holds every read and write; q is either the pool or a transaction.
type queries struct {
	q querier
	d Dialect
}

func (x queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := x.q.ExecContext(ctx, x.d.rebind(query), args...)
	return res, x.d.wrap(err)
}

func (x queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := x.q.QueryContext(ctx, x.d.rebind(query), args...)
	return rows, x.d.wrap(err)
}

func (x queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return x.q.QueryRowContext(ctx, x.d.rebind(query), args...)
}

// insertID runs an INSERT and returns the generated id. Both dialects
// support RETURNING.
func (x queries) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := x.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, x.d.wrap(err)
	}
	return id, nil
}

// affected runs a conditional write and reports whether any row changed.
func (x queries) affected(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := x.exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}
