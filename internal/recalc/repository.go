package recalc

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists queue items in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertTx enqueues a work item inside the caller's transaction, so a ledger
// write and its recalc request commit or roll back together. A row already
// present for the key is reset to PENDING with refreshed priority, reason and
// queued_at; there is never more than one row per key.
func UpsertTx(ctx context.Context, tx pgx.Tx, item QueueItem) error {
	_, err := tx.Exec(ctx, `
INSERT INTO stock_recalc_queue (company_id, item_type, item_code, recalc_date, status, priority, reason, queued_at)
VALUES ($1, $2, $3, $4, 'PENDING', $5, $6, NOW())
ON CONFLICT (company_id, item_type, item_code, recalc_date)
DO UPDATE SET status = 'PENDING', priority = EXCLUDED.priority, reason = EXCLUDED.reason, queued_at = NOW(), last_error = ''`,
		item.CompanyID, item.ItemType, item.ItemCode, item.RecalcDate, item.Priority, item.Reason)
	return err
}

// ClaimNext atomically takes the most urgent PENDING item and marks it
// PROCESSING. Ordering is priority ascending then queued_at ascending; rows
// being claimed by another worker are skipped.
func (r *Repository) ClaimNext(ctx context.Context) (QueueItem, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE stock_recalc_queue SET status = 'PROCESSING', started_at = NOW()
WHERE id = (
    SELECT id FROM stock_recalc_queue
    WHERE status = 'PENDING'
    ORDER BY priority ASC, queued_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, company_id, item_type, item_code, recalc_date, status, priority, reason, queued_at`)

	var item QueueItem
	err := row.Scan(&item.ID, &item.CompanyID, &item.ItemType, &item.ItemCode, &item.RecalcDate,
		&item.Status, &item.Priority, &item.Reason, &item.QueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return QueueItem{}, ErrEmpty
	}
	if err != nil {
		return QueueItem{}, err
	}
	return item, nil
}

// MarkDone finishes a PROCESSING item.
func (r *Repository) MarkDone(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_recalc_queue SET status = 'DONE', finished_at = NOW() WHERE id = $1 AND status = 'PROCESSING'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkFailed records a failure for a PROCESSING item.
func (r *Repository) MarkFailed(ctx context.Context, id int64, reason string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_recalc_queue SET status = 'FAILED', finished_at = NOW(), last_error = $2 WHERE id = $1 AND status = 'PROCESSING'`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ReleaseForRetry resets FAILED items back to PENDING with a fresh queued_at,
// so they re-enter ordering behind current work of equal priority.
func (r *Repository) ReleaseForRetry(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := r.pool.Exec(ctx, `UPDATE stock_recalc_queue SET status = 'PENDING', queued_at = NOW(), started_at = NULL, finished_at = NULL WHERE status = 'FAILED' AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PendingCount reports claimable backlog, used by the jobs health endpoint.
func (r *Repository) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_recalc_queue WHERE status = 'PENDING'`).Scan(&n)
	return n, err
}
