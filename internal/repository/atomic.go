package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/user-discounts/internal/domain/discount"
)

const defaultMaxAttempts = 5

var _ discount.Atomic = (*TxRunner)(nil)

// TxRunner runs bodies inside REPEATABLE READ transactions with bounded
// optimistic retries. A body that fails with discount.ErrConflict, or a
// commit that fails with a serialization or deadlock error, is re-executed
// from a fresh transaction; everything else aborts immediately.
type TxRunner struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

// NewTxRunner returns a TxRunner over the pool. Non-positive maxAttempts
// falls back to the default of 5.
func NewTxRunner(pool *pgxpool.Pool, maxAttempts int) *TxRunner {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &TxRunner{pool: pool, maxAttempts: maxAttempts}
}

// Run implements discount.Atomic.
func (r *TxRunner) Run(ctx context.Context, fn func(ctx context.Context, s discount.Stores) error) error {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
			return fn(ctx, NewStores(tx))
		})
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		zctx.From(ctx).Debug("Retrying after concurrency conflict",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return errors.Wrapf(discount.ErrConflictExhausted, "after %d attempts", r.maxAttempts)
}

// retryable reports whether the whole transaction should be re-run: either an
// explicit optimistic-check failure, or Postgres reporting a serialization
// failure (40001) or deadlock (40P01).
func retryable(err error) bool {
	if errors.Is(err, discount.ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
