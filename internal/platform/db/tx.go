package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Timeouts applied per write class. Bulk imports scan and rewrite entire
// item chains, so they get the longer budget.
const (
	SingleWriteTimeout = 10 * time.Second
	BulkWriteTimeout   = 30 * time.Second
)

// ErrSerialization indicates the transaction lost a serializable-isolation
// conflict against a concurrent writer. The caller decides whether to retry.
var ErrSerialization = errors.New("platform/db: serialization conflict")

// ErrTimeout indicates the transaction exceeded its allotted time and was
// rolled back without partial effects.
var ErrTimeout = errors.New("platform/db: transaction timed out")

// WithSerializableTx executes fn inside a serializable transaction bounded by
// timeout. Serialization failures and deadline expiry are mapped to the
// package sentinels so callers can surface them distinctly.
func WithSerializableTx(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, fn func(context.Context, pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(fmt.Errorf("platform/db: begin tx: %w", err))
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// classify maps driver-level failures onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected.
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", ErrSerialization, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
