package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/arjuna-wms/arjuna-wms/internal/shared"
)

// Recalc queue priorities, lowest first. Same-day work intentionally sorts
// ahead of backdated work: the current-day snapshot feeds live dashboards,
// while backdated chains are rebuilt by the cascade inside the write itself.
const (
	PriorityBackdated = 0
	PrioritySameDay   = -1
)

// RecalcRequest asks the deferred queue to rebuild an item's derived stock
// snapshot. Upserted by (companyID, itemType, itemCode, date).
type RecalcRequest struct {
	CompanyID int64
	ItemType  ItemType
	ItemCode  string
	Date      time.Time
	Priority  int
	Reason    string
}

// TxStore exposes the operations available inside one serializable write
// transaction. All lookups used by the batch validator run here too, so no
// other writer can slip between validation and write.
type TxStore interface {
	GetEntry(ctx context.Context, companyID int64, itemCode string, date time.Time) (LedgerEntry, error)
	LatestBefore(ctx context.Context, companyID int64, itemCode string, date time.Time) (LedgerEntry, error)
	EntriesAfter(ctx context.Context, companyID int64, itemCode string, date time.Time) ([]LedgerEntry, error)
	InsertEntry(ctx context.Context, e LedgerEntry) (int64, error)
	UpdateEntry(ctx context.Context, e LedgerEntry) error
	UpdateBalances(ctx context.Context, entries []LedgerEntry) error
	ExistingIdentities(ctx context.Context, companyID int64, codes []string) ([]ItemIdentity, error)
	TransactedCodes(ctx context.Context, companyID int64, codes []string) (map[string]bool, error)
	UpsertSnapshot(ctx context.Context, companyID int64, itemCode string, onHand decimal.Decimal, asOf time.Time) error
	EnqueueRecalc(ctx context.Context, req RecalcRequest) error
}

// Store abstracts the repository for the service.
type Store interface {
	WithTx(ctx context.Context, timeout time.Duration, fn func(context.Context, TxStore) error) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
}

// EntryFilter narrows ledger reads.
type EntryFilter struct {
	CompanyID int64
	ItemCode  string
	From      time.Time
	To        time.Time
	Limit     int
}

// AuditPort abstracts audit trail recording.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RecalcSignaler nudges the out-of-band worker after a commit. Best effort:
// the queue row is already durable, the signal only shortens latency.
type RecalcSignaler interface {
	SignalDrain(ctx context.Context) error
}

// Service coordinates ledger writes: validation, the serializable
// transaction, forward propagation, and deferred-recalc enqueueing.
type Service struct {
	store   Store
	clock   shared.Clock
	audit   AuditPort
	signal  RecalcSignaler
	logger  *slog.Logger
	timeout struct {
		single time.Duration
		bulk   time.Duration
	}
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	SingleWriteTimeout time.Duration
	BulkWriteTimeout   time.Duration
}

// NewService builds Service. Audit and signaler may be nil.
func NewService(store Store, clock shared.Clock, audit AuditPort, signal RecalcSignaler, logger *slog.Logger, cfg ServiceConfig) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, clock: clock, audit: audit, signal: signal, logger: logger}
	s.timeout.single = cfg.SingleWriteTimeout
	if s.timeout.single <= 0 {
		s.timeout.single = 10 * time.Second
	}
	s.timeout.bulk = cfg.BulkWriteTimeout
	if s.timeout.bulk <= 0 {
		s.timeout.bulk = 30 * time.Second
	}
	return s
}

// WriteResult reports what one accepted write did.
type WriteResult struct {
	Entry    LedgerEntry
	Cascaded int
}

// PostMovement writes one movement and cascades every later entry of the item.
func (s *Service) PostMovement(ctx context.Context, m Movement) (WriteResult, error) {
	m = s.normalizeMovement(m)
	if err := s.validateMovement(m); err != nil {
		return WriteResult{}, err
	}

	var res WriteResult
	err := s.store.WithTx(ctx, s.timeout.single, func(ctx context.Context, tx TxStore) error {
		entry, cascaded, err := s.applyMovement(ctx, tx, m)
		if err != nil {
			return err
		}
		if err := tx.EnqueueRecalc(ctx, s.recalcFor(entry, "movement posted")); err != nil {
			return err
		}
		res = WriteResult{Entry: entry, Cascaded: cascaded}
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}

	s.recordAudit(ctx, m.ActorID, "ledger:post", res.Entry)
	s.signalDrain(ctx)
	return res, nil
}

// RecordStockCount stores a physical count for an (item, date) and recomputes
// the variance. Movement quantities are untouched.
func (s *Service) RecordStockCount(ctx context.Context, companyID int64, itemCode string, date time.Time, count decimal.Decimal, actorID int64) (WriteResult, error) {
	itemCode = normalizeField(itemCode)
	if itemCode == "" {
		return WriteResult{}, &ValidationError{Errors: []FieldError{{Field: "item_code", Reason: "item code is required"}}}
	}
	if count.IsNegative() {
		return WriteResult{}, &ValidationError{Errors: []FieldError{{ItemCode: itemCode, Field: "stock_count", Reason: "stock count must not be negative"}}}
	}
	if err := s.checkDate(itemCode, date); err != nil {
		return WriteResult{}, err
	}
	date = shared.Midnight(date)

	var res WriteResult
	err := s.store.WithTx(ctx, s.timeout.single, func(ctx context.Context, tx TxStore) error {
		entry, err := tx.GetEntry(ctx, companyID, itemCode, date)
		if errors.Is(err, ErrEntryNotFound) {
			// Counting an item on a day without movements still needs a row
			// so the variance lands in the period report.
			prior, perr := tx.LatestBefore(ctx, companyID, itemCode, date)
			if perr != nil && !errors.Is(perr, ErrEntryNotFound) {
				return perr
			}
			entry = LedgerEntry{
				CompanyID: companyID,
				ItemCode:  itemCode,
				ItemName:  prior.ItemName,
				UOM:       prior.UOM,
				ItemType:  prior.ItemType,
				Date:      date,
				Beginning: prior.Ending,
			}
			entry.Ending = ComputeEnding(entry.Beginning, entry.Incoming, entry.Outgoing, entry.Adjustment)
			entry.StockCount = count
			entry.Variance = ComputeVariance(count, entry.Ending)
			id, ierr := tx.InsertEntry(ctx, entry)
			if ierr != nil {
				return ierr
			}
			entry.ID = id
		} else if err != nil {
			return err
		} else {
			entry.StockCount = count
			entry.Variance = ComputeVariance(count, entry.Ending)
			if err := tx.UpdateEntry(ctx, entry); err != nil {
				return err
			}
		}
		if err := tx.EnqueueRecalc(ctx, s.recalcFor(entry, "stock count recorded")); err != nil {
			return err
		}
		res = WriteResult{Entry: entry}
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}

	s.recordAudit(ctx, actorID, "ledger:stock_count", res.Entry)
	s.signalDrain(ctx)
	return res, nil
}

// ImportResult reports an accepted batch import.
type ImportResult struct {
	Written  int
	Cascaded int
	Items    int
}

// ImportMovements posts a batch of movements in one serializable transaction.
// The batch is all-or-nothing: any malformed row rejects the whole batch
// before a single write. Rows are processed in (itemCode, date) order with a
// per-item running balance, then each affected item's chain is cascaded once
// from its earliest touched date.
func (s *Service) ImportMovements(ctx context.Context, batch []Movement) (ImportResult, error) {
	if len(batch) == 0 {
		return ImportResult{}, &ValidationError{Errors: []FieldError{{Field: "batch", Reason: "batch is empty"}}}
	}
	var verr ValidationError
	for i := range batch {
		batch[i] = s.normalizeMovement(batch[i])
		if batch[i].CompanyID != batch[0].CompanyID {
			verr.Errors = append(verr.Errors, FieldError{ItemCode: batch[i].ItemCode, Field: "company_id", Reason: "batch must target a single company"})
		}
		if err := s.validateMovement(batch[i]); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				verr.Errors = append(verr.Errors, ve.Errors...)
				continue
			}
			return ImportResult{}, err
		}
	}
	if len(verr.Errors) > 0 {
		return ImportResult{}, &verr
	}

	SortMovements(batch)

	var res ImportResult
	err := s.store.WithTx(ctx, s.timeout.bulk, func(ctx context.Context, tx TxStore) error {
		earliest := make(map[string]LedgerEntry)
		keyOf := func(companyID int64, code string) string { return fmt.Sprintf("%d|%s", companyID, code) }

		for _, m := range batch {
			entry, _, err := s.applyMovement(ctx, tx, m)
			if err != nil {
				return err
			}
			res.Written++
			k := keyOf(m.CompanyID, m.ItemCode)
			if first, ok := earliest[k]; !ok || entry.Date.Before(first.Date) {
				earliest[k] = entry
			}
			if err := tx.EnqueueRecalc(ctx, s.recalcFor(entry, "batch import")); err != nil {
				return err
			}
		}

		// One cascade per distinct item, seeded at its earliest touched date.
		// applyMovement already chained later batch rows off stored state, so
		// this pass fixes pre-existing rows and re-verifies the whole tail.
		for _, seed := range earliest {
			fresh, err := tx.GetEntry(ctx, seed.CompanyID, seed.ItemCode, seed.Date)
			if err != nil {
				return err
			}
			n, err := s.cascadeFrom(ctx, tx, fresh)
			if err != nil {
				return err
			}
			res.Cascaded += n
		}
		res.Items = len(earliest)
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}

	s.recordBatchAudit(ctx, batch[0].ActorID, "ledger:import", batch[0].CompanyID, res.Written)
	s.signalDrain(ctx)
	return res, nil
}

// ImportOpeningBalances seeds first ledger rows for new items after running
// the full duplicate/conflict rule set. Rejection is wholesale.
func (s *Service) ImportOpeningBalances(ctx context.Context, batch []OpeningBalance) (map[string]ValidationOutcome, error) {
	if len(batch) == 0 {
		return nil, &ValidationError{Errors: []FieldError{{Field: "batch", Reason: "batch is empty"}}}
	}

	candidates := make([]Candidate, len(batch))
	var verr ValidationError
	for i := range batch {
		batch[i].ItemCode = normalizeField(batch[i].ItemCode)
		batch[i].ItemName = normalizeField(batch[i].ItemName)
		batch[i].UOM = normalizeUOM(batch[i].UOM)
		batch[i].Remarks = sanitizeRemarks(batch[i].Remarks)
		candidates[i] = NormalizeCandidate(Candidate{
			ItemCode: batch[i].ItemCode,
			UOM:      batch[i].UOM,
			ItemName: batch[i].ItemName,
			ItemType: batch[i].ItemType,
		})
		if batch[i].CompanyID != batch[0].CompanyID {
			verr.Errors = append(verr.Errors, FieldError{ItemCode: batch[i].ItemCode, Field: "company_id", Reason: "batch must target a single company"})
		}
		if candidates[i].ItemCode == "" {
			verr.Errors = append(verr.Errors, FieldError{Field: "item_code", Reason: "item code is required"})
		}
		if candidates[i].UOM == "" {
			verr.Errors = append(verr.Errors, FieldError{ItemCode: candidates[i].ItemCode, Field: "uom", Reason: "unit of measure is required"})
		}
		if !ValidItemType(candidates[i].ItemType) {
			verr.Errors = append(verr.Errors, FieldError{ItemCode: candidates[i].ItemCode, Field: "item_type", Reason: "unknown item type"})
		}
		if batch[i].Quantity.IsNegative() {
			verr.Errors = append(verr.Errors, FieldError{ItemCode: candidates[i].ItemCode, Field: "quantity", Reason: "opening quantity must not be negative"})
		}
		if err := s.checkDate(candidates[i].ItemCode, batch[i].Date); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				verr.Errors = append(verr.Errors, ve.Errors...)
			} else {
				return nil, err
			}
		}
	}
	if len(verr.Errors) > 0 {
		return nil, &verr
	}

	codes := make([]string, 0, len(candidates))
	for _, c := range candidates {
		codes = append(codes, c.ItemCode)
	}

	var outcomes map[string]ValidationOutcome
	err := s.store.WithTx(ctx, s.timeout.bulk, func(ctx context.Context, tx TxStore) error {
		companyID := batch[0].CompanyID
		existing, err := tx.ExistingIdentities(ctx, companyID, codes)
		if err != nil {
			return err
		}
		transacted, err := tx.TransactedCodes(ctx, companyID, codes)
		if err != nil {
			return err
		}
		outcomes = ValidateBatch(candidates, existing, transacted)
		if verr := CollectErrors(outcomes); verr != nil {
			return verr
		}

		for i, ob := range batch {
			date := shared.Midnight(ob.Date)
			entry := LedgerEntry{
				CompanyID: ob.CompanyID,
				ItemCode:  candidates[i].ItemCode,
				ItemName:  candidates[i].ItemName,
				UOM:       candidates[i].UOM,
				ItemType:  candidates[i].ItemType,
				Date:      date,
				Beginning: ob.Quantity,
				Remarks:   ob.Remarks,
			}
			entry.Ending = ComputeEnding(entry.Beginning, entry.Incoming, entry.Outgoing, entry.Adjustment)
			if _, err := tx.InsertEntry(ctx, entry); err != nil {
				return err
			}
			if err := tx.EnqueueRecalc(ctx, s.recalcFor(entry, "opening balance import")); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return outcomes, err
	}

	s.recordBatchAudit(ctx, batch[0].ActorID, "ledger:opening_import", batch[0].CompanyID, len(batch))
	s.signalDrain(ctx)
	return outcomes, nil
}

// RecalculateSnapshot rebuilds the balance chain for one item from the given
// date onward and refreshes the current-stock snapshot. This is the work the
// deferred queue consumer performs; it returns the number of entries touched.
func (s *Service) RecalculateSnapshot(ctx context.Context, companyID int64, itemCode string, from time.Time) (int, error) {
	itemCode = normalizeField(itemCode)
	from = shared.Midnight(from)

	var touched int
	err := s.store.WithTx(ctx, s.timeout.bulk, func(ctx context.Context, tx TxStore) error {
		seed, err := tx.GetEntry(ctx, companyID, itemCode, from)
		if errors.Is(err, ErrEntryNotFound) {
			seed, err = tx.LatestBefore(ctx, companyID, itemCode, from)
			if errors.Is(err, ErrEntryNotFound) {
				// Nothing on record up to this date: snapshot is empty.
				return tx.UpsertSnapshot(ctx, companyID, itemCode, decimal.Zero, from)
			}
		}
		if err != nil {
			return err
		}

		n, err := s.cascadeFrom(ctx, tx, seed)
		if err != nil {
			return err
		}
		touched = n

		later, err := tx.EntriesAfter(ctx, companyID, itemCode, seed.Date)
		if err != nil {
			return err
		}
		onHand := seed.Ending
		asOf := seed.Date
		if len(later) > 0 {
			onHand = later[len(later)-1].Ending
			asOf = later[len(later)-1].Date
		}
		return tx.UpsertSnapshot(ctx, companyID, itemCode, onHand, asOf)
	})
	return touched, err
}

// ListEntries returns ledger rows for display and export collaborators.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	if filter.CompanyID == 0 {
		return nil, &ValidationError{Errors: []FieldError{{Field: "company_id", Reason: "company is required"}}}
	}
	return s.store.ListEntries(ctx, filter)
}

// applyMovement upserts the (item, date) row and cascades the item's tail.
// Returns the written entry and the number of later entries recomputed.
func (s *Service) applyMovement(ctx context.Context, tx TxStore, m Movement) (LedgerEntry, int, error) {
	date := shared.Midnight(m.Date)

	entry, err := tx.GetEntry(ctx, m.CompanyID, m.ItemCode, date)
	switch {
	case errors.Is(err, ErrEntryNotFound):
		prior, perr := tx.LatestBefore(ctx, m.CompanyID, m.ItemCode, date)
		if perr != nil && !errors.Is(perr, ErrEntryNotFound) {
			return LedgerEntry{}, 0, perr
		}
		entry = LedgerEntry{
			CompanyID: m.CompanyID,
			ItemCode:  m.ItemCode,
			ItemName:  m.ItemName,
			UOM:       m.UOM,
			ItemType:  m.ItemType,
			Date:      date,
			Beginning: prior.Ending,
		}
		if entry.ItemName == "" {
			entry.ItemName = prior.ItemName
		}
		if entry.UOM == "" {
			entry.UOM = prior.UOM
		}
		if entry.ItemType == "" {
			entry.ItemType = prior.ItemType
		}
		entry.Incoming = m.Incoming
		entry.Outgoing = m.Outgoing
		entry.Adjustment = m.Adjustment
		entry.StockCount = m.StockCount
		entry.Remarks = m.Remarks
		entry.Ending = ComputeEnding(entry.Beginning, entry.Incoming, entry.Outgoing, entry.Adjustment)
		entry.Variance = ComputeVariance(entry.StockCount, entry.Ending)
		id, ierr := tx.InsertEntry(ctx, entry)
		if ierr != nil {
			return LedgerEntry{}, 0, ierr
		}
		entry.ID = id
	case err != nil:
		return LedgerEntry{}, 0, err
	default:
		// Update, never a second row for the same date. Quantities are
		// replaced wholesale so re-importing identical facts is a no-op.
		entry.Incoming = m.Incoming
		entry.Outgoing = m.Outgoing
		entry.Adjustment = m.Adjustment
		if m.StockCount.IsPositive() {
			entry.StockCount = m.StockCount
		}
		if m.Remarks != "" {
			entry.Remarks = m.Remarks
		}
		entry.Ending = ComputeEnding(entry.Beginning, entry.Incoming, entry.Outgoing, entry.Adjustment)
		entry.Variance = ComputeVariance(entry.StockCount, entry.Ending)
		if uerr := tx.UpdateEntry(ctx, entry); uerr != nil {
			return LedgerEntry{}, 0, uerr
		}
	}

	cascaded, err := s.cascadeFrom(ctx, tx, entry)
	if err != nil {
		return LedgerEntry{}, 0, err
	}
	return entry, cascaded, nil
}

// cascadeFrom recomputes every entry later than seed and persists the result
// with one batched update.
func (s *Service) cascadeFrom(ctx context.Context, tx TxStore, seed LedgerEntry) (int, error) {
	later, err := tx.EntriesAfter(ctx, seed.CompanyID, seed.ItemCode, seed.Date)
	if err != nil {
		return 0, err
	}
	if len(later) == 0 {
		return 0, nil
	}
	updated, err := Cascade(seed, later)
	if err != nil {
		return 0, err
	}
	if err := tx.UpdateBalances(ctx, updated); err != nil {
		return 0, err
	}
	return len(updated), nil
}

func (s *Service) normalizeMovement(m Movement) Movement {
	m.ItemCode = normalizeField(m.ItemCode)
	m.ItemName = normalizeField(m.ItemName)
	m.UOM = normalizeUOM(m.UOM)
	m.Remarks = sanitizeRemarks(m.Remarks)
	return m
}

func (s *Service) validateMovement(m Movement) error {
	var verr ValidationError
	if m.CompanyID == 0 {
		verr.Errors = append(verr.Errors, FieldError{ItemCode: m.ItemCode, Field: "company_id", Reason: "company is required"})
	}
	if m.ItemCode == "" {
		verr.Errors = append(verr.Errors, FieldError{Field: "item_code", Reason: "item code is required"})
	}
	if m.Incoming.IsNegative() {
		verr.Errors = append(verr.Errors, FieldError{ItemCode: m.ItemCode, Field: "incoming", Reason: "incoming quantity must not be negative"})
	}
	if m.Outgoing.IsNegative() {
		verr.Errors = append(verr.Errors, FieldError{ItemCode: m.ItemCode, Field: "outgoing", Reason: "outgoing quantity must not be negative"})
	}
	if m.StockCount.IsNegative() {
		verr.Errors = append(verr.Errors, FieldError{ItemCode: m.ItemCode, Field: "stock_count", Reason: "stock count must not be negative"})
	}
	if m.Incoming.IsZero() && m.Outgoing.IsZero() && m.Adjustment.IsZero() && !m.StockCount.IsPositive() {
		verr.Errors = append(verr.Errors, FieldError{ItemCode: m.ItemCode, Field: "quantity", Reason: "movement carries no quantities"})
	}
	if m.ItemType != "" && !ValidItemType(m.ItemType) {
		verr.Errors = append(verr.Errors, FieldError{ItemCode: m.ItemCode, Field: "item_type", Reason: "unknown item type"})
	}
	if err := s.checkDate(m.ItemCode, m.Date); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			verr.Errors = append(verr.Errors, ve.Errors...)
		} else {
			return err
		}
	}
	if len(verr.Errors) > 0 {
		return &verr
	}
	return nil
}

func (s *Service) checkDate(itemCode string, date time.Time) error {
	if date.IsZero() {
		return &ValidationError{Errors: []FieldError{{ItemCode: itemCode, Field: "date", Reason: "date is required"}}}
	}
	if shared.Midnight(date).After(s.clock.Today()) {
		return &ValidationError{Errors: []FieldError{{ItemCode: itemCode, Field: "date", Reason: "future-dated entries are not allowed"}}}
	}
	return nil
}

// recalcFor builds the queue request for an entry. Same-day writes take
// priority −1, backdated writes 0; lowest runs first.
func (s *Service) recalcFor(entry LedgerEntry, reason string) RecalcRequest {
	priority := PriorityBackdated
	if entry.Date.Equal(s.clock.Today()) {
		priority = PrioritySameDay
	}
	return RecalcRequest{
		CompanyID: entry.CompanyID,
		ItemType:  entry.ItemType,
		ItemCode:  entry.ItemCode,
		Date:      entry.Date,
		Priority:  priority,
		Reason:    reason,
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entry LedgerEntry) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_ledger",
		EntityID: fmt.Sprintf("%d:%s:%s", entry.CompanyID, entry.ItemCode, entry.Date.Format("2006-01-02")),
		Meta: map[string]any{
			"incoming":   entry.Incoming.String(),
			"outgoing":   entry.Outgoing.String(),
			"adjustment": entry.Adjustment.String(),
			"ending":     entry.Ending.String(),
		},
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) recordBatchAudit(ctx context.Context, actorID int64, action string, companyID int64, rows int) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_ledger",
		EntityID: fmt.Sprintf("%d:batch:%s", companyID, uuid.NewString()),
		Meta:     map[string]any{"rows": rows},
	})
	if err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) signalDrain(ctx context.Context) {
	if s.signal == nil {
		return
	}
	if err := s.signal.SignalDrain(ctx); err != nil {
		s.logger.Warn("recalc drain signal", slog.Any("error", err))
	}
}
