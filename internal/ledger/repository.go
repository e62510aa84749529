package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/arjuna-wms/arjuna-wms/internal/platform/db"
	"github.com/arjuna-wms/arjuna-wms/internal/recalc"
)

const entryColumns = `id, company_id, item_code, item_name, uom, item_type, entry_date,
beginning, incoming, outgoing, adjustment, ending, stock_count, variance, remarks, created_at, updated_at`

// Repository persists ledger rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps fn in a serializable transaction bounded by timeout. Every
// ledger mutation, its cascade, its validator lookups and its queue enqueue
// run through here so concurrent imports cannot interleave.
func (r *Repository) WithTx(ctx context.Context, timeout time.Duration, fn func(context.Context, TxStore) error) error {
	return db.WithSerializableTx(ctx, r.pool, timeout, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

// ListEntries returns ledger rows ordered by (item_code, entry_date).
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM stock_ledger_entries
WHERE company_id = $1
  AND ($2 = '' OR item_code = $2)
  AND ($3::date IS NULL OR entry_date >= $3)
  AND ($4::date IS NULL OR entry_date <= $4)
  AND deleted_at IS NULL
ORDER BY item_code, entry_date
LIMIT $5`,
		filter.CompanyID, filter.ItemCode, nullDate(filter.From), nullDate(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetEntry(ctx context.Context, companyID int64, itemCode string, date time.Time) (LedgerEntry, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_ledger_entries
WHERE company_id = $1 AND item_code = $2 AND entry_date = $3 AND deleted_at IS NULL`,
		companyID, itemCode, date)
	return scanEntry(row)
}

func (s *txStore) LatestBefore(ctx context.Context, companyID int64, itemCode string, date time.Time) (LedgerEntry, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_ledger_entries
WHERE company_id = $1 AND item_code = $2 AND entry_date < $3 AND deleted_at IS NULL
ORDER BY entry_date DESC
LIMIT 1`,
		companyID, itemCode, date)
	return scanEntry(row)
}

func (s *txStore) EntriesAfter(ctx context.Context, companyID int64, itemCode string, date time.Time) ([]LedgerEntry, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+entryColumns+` FROM stock_ledger_entries
WHERE company_id = $1 AND item_code = $2 AND entry_date > $3 AND deleted_at IS NULL
ORDER BY entry_date ASC`,
		companyID, itemCode, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *txStore) InsertEntry(ctx context.Context, e LedgerEntry) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_ledger_entries
(company_id, item_code, item_name, uom, item_type, entry_date,
 beginning, incoming, outgoing, adjustment, ending, stock_count, variance, remarks, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
RETURNING id`,
		e.CompanyID, e.ItemCode, e.ItemName, e.UOM, string(e.ItemType), e.Date,
		e.Beginning, e.Incoming, e.Outgoing, e.Adjustment, e.Ending, e.StockCount, e.Variance, e.Remarks).Scan(&id)
	return id, err
}

func (s *txStore) UpdateEntry(ctx context.Context, e LedgerEntry) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_ledger_entries SET
item_name = $2, uom = $3, item_type = $4,
beginning = $5, incoming = $6, outgoing = $7, adjustment = $8, ending = $9,
stock_count = $10, variance = $11, remarks = $12, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`,
		e.ID, e.ItemName, e.UOM, string(e.ItemType),
		e.Beginning, e.Incoming, e.Outgoing, e.Adjustment, e.Ending,
		e.StockCount, e.Variance, e.Remarks)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// UpdateBalances persists cascade results with one batched statement instead
// of a round-trip per row.
func (s *txStore) UpdateBalances(ctx context.Context, entries []LedgerEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`UPDATE stock_ledger_entries SET beginning = $2, ending = $3, variance = $4, updated_at = NOW()
WHERE id = $1 AND deleted_at IS NULL`,
			e.ID, e.Beginning, e.Ending, e.Variance)
	}
	results := s.tx.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return results.Close()
}

// ExistingIdentities fetches every non-deleted identity matching the batch's
// item codes with a single set-membership query.
func (s *txStore) ExistingIdentities(ctx context.Context, companyID int64, codes []string) ([]ItemIdentity, error) {
	rows, err := s.tx.Query(ctx, `SELECT DISTINCT item_code, uom, item_name, item_type
FROM stock_ledger_entries
WHERE company_id = $1 AND item_code = ANY($2) AND deleted_at IS NULL`,
		companyID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []ItemIdentity
	for rows.Next() {
		var id ItemIdentity
		var itemType string
		if err := rows.Scan(&id.ItemCode, &id.UOM, &id.ItemName, &itemType); err != nil {
			return nil, err
		}
		id.ItemType = ItemType(itemType)
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TransactedCodes reports which of the batch's item codes already appear in
// posted inbound or outbound movements, again one query per batch.
func (s *txStore) TransactedCodes(ctx context.Context, companyID int64, codes []string) (map[string]bool, error) {
	rows, err := s.tx.Query(ctx, `SELECT item_code FROM inbound_movements WHERE company_id = $1 AND item_code = ANY($2) AND status = 'POSTED'
UNION
SELECT item_code FROM outbound_movements WHERE company_id = $1 AND item_code = ANY($2) AND status = 'POSTED'`,
		companyID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out[code] = true
	}
	return out, rows.Err()
}

func (s *txStore) UpsertSnapshot(ctx context.Context, companyID int64, itemCode string, onHand decimal.Decimal, asOf time.Time) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_snapshots (company_id, item_code, on_hand, as_of, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (company_id, item_code)
DO UPDATE SET on_hand = EXCLUDED.on_hand, as_of = EXCLUDED.as_of, updated_at = NOW()`,
		companyID, itemCode, onHand, asOf)
	return err
}

func (s *txStore) EnqueueRecalc(ctx context.Context, req RecalcRequest) error {
	return recalc.UpsertTx(ctx, s.tx, recalc.QueueItem{
		CompanyID:  req.CompanyID,
		ItemType:   string(req.ItemType),
		ItemCode:   req.ItemCode,
		RecalcDate: req.Date,
		Priority:   req.Priority,
		Reason:     req.Reason,
	})
}

func scanEntry(row pgx.Row) (LedgerEntry, error) {
	var e LedgerEntry
	var itemType string
	err := row.Scan(&e.ID, &e.CompanyID, &e.ItemCode, &e.ItemName, &e.UOM, &itemType, &e.Date,
		&e.Beginning, &e.Incoming, &e.Outgoing, &e.Adjustment, &e.Ending, &e.StockCount, &e.Variance,
		&e.Remarks, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LedgerEntry{}, ErrEntryNotFound
	}
	if err != nil {
		return LedgerEntry{}, err
	}
	e.ItemType = ItemType(itemType)
	return e, nil
}

func scanEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var itemType string
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.ItemCode, &e.ItemName, &e.UOM, &itemType, &e.Date,
			&e.Beginning, &e.Incoming, &e.Outgoing, &e.Adjustment, &e.Ending, &e.StockCount, &e.Variance,
			&e.Remarks, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.ItemType = ItemType(itemType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
