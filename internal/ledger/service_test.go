package ledger

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/arjuna-wms/arjuna-wms/internal/shared"
)

type memoryStore struct {
	entries    []LedgerEntry
	nextID     int64
	queue      []RecalcRequest
	snapshots  map[string]decimal.Decimal
	transacted map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		snapshots:  make(map[string]decimal.Decimal),
		transacted: make(map[string]bool),
	}
}

func (s *memoryStore) WithTx(ctx context.Context, timeout time.Duration, fn func(context.Context, TxStore) error) error {
	return fn(ctx, s)
}

func (s *memoryStore) ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, e := range s.entries {
		if e.CompanyID != filter.CompanyID {
			continue
		}
		if filter.ItemCode != "" && e.ItemCode != filter.ItemCode {
			continue
		}
		if !filter.From.IsZero() && e.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.Date.After(filter.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemCode != out[j].ItemCode {
			return out[i].ItemCode < out[j].ItemCode
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func (s *memoryStore) GetEntry(ctx context.Context, companyID int64, itemCode string, date time.Time) (LedgerEntry, error) {
	for _, e := range s.entries {
		if e.CompanyID == companyID && e.ItemCode == itemCode && e.Date.Equal(date) {
			return e, nil
		}
	}
	return LedgerEntry{}, ErrEntryNotFound
}

func (s *memoryStore) LatestBefore(ctx context.Context, companyID int64, itemCode string, date time.Time) (LedgerEntry, error) {
	var best LedgerEntry
	found := false
	for _, e := range s.entries {
		if e.CompanyID != companyID || e.ItemCode != itemCode || !e.Date.Before(date) {
			continue
		}
		if !found || e.Date.After(best.Date) {
			best = e
			found = true
		}
	}
	if !found {
		return LedgerEntry{}, ErrEntryNotFound
	}
	return best, nil
}

func (s *memoryStore) EntriesAfter(ctx context.Context, companyID int64, itemCode string, date time.Time) ([]LedgerEntry, error) {
	var out []LedgerEntry
	for _, e := range s.entries {
		if e.CompanyID == companyID && e.ItemCode == itemCode && e.Date.After(date) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *memoryStore) InsertEntry(ctx context.Context, e LedgerEntry) (int64, error) {
	for _, existing := range s.entries {
		if existing.CompanyID == e.CompanyID && existing.ItemCode == e.ItemCode && existing.Date.Equal(e.Date) {
			return 0, fmt.Errorf("duplicate entry %s %s", e.ItemCode, e.Date)
		}
	}
	s.nextID++
	e.ID = s.nextID
	s.entries = append(s.entries, e)
	return e.ID, nil
}

func (s *memoryStore) UpdateEntry(ctx context.Context, e LedgerEntry) error {
	for i := range s.entries {
		if s.entries[i].ID == e.ID {
			s.entries[i] = e
			return nil
		}
	}
	return ErrEntryNotFound
}

func (s *memoryStore) UpdateBalances(ctx context.Context, entries []LedgerEntry) error {
	for _, e := range entries {
		if err := s.UpdateEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *memoryStore) ExistingIdentities(ctx context.Context, companyID int64, codes []string) ([]ItemIdentity, error) {
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[c] = true
	}
	seen := make(map[string]bool)
	var out []ItemIdentity
	for _, e := range s.entries {
		if e.CompanyID != companyID || !want[e.ItemCode] {
			continue
		}
		id := ItemIdentity{ItemCode: e.ItemCode, UOM: e.UOM, ItemName: e.ItemName, ItemType: e.ItemType}
		k := Candidate(id).Key()
		if !seen[k] {
			seen[k] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memoryStore) TransactedCodes(ctx context.Context, companyID int64, codes []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, c := range codes {
		if s.transacted[c] {
			out[c] = true
		}
	}
	return out, nil
}

func (s *memoryStore) UpsertSnapshot(ctx context.Context, companyID int64, itemCode string, onHand decimal.Decimal, asOf time.Time) error {
	s.snapshots[fmt.Sprintf("%d:%s", companyID, itemCode)] = onHand
	return nil
}

func (s *memoryStore) EnqueueRecalc(ctx context.Context, req RecalcRequest) error {
	s.queue = append(s.queue, req)
	return nil
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func newTestService(store *memoryStore, today string) *Service {
	clock := shared.FixedClock{At: day(today)}
	return NewService(store, clock, nil, nil, nil, ServiceConfig{})
}

func TestPostMovementCreatesFirstEntry(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	res, err := svc.PostMovement(ctx, Movement{
		CompanyID: 7, ItemCode: "RM-001", ItemName: "Resin", UOM: "KG", ItemType: ItemTypeRaw,
		Date: day("2026-01-01"), Incoming: qty(100),
	})
	require.NoError(t, err)
	require.True(t, res.Entry.Beginning.IsZero())
	require.True(t, res.Entry.Ending.Equal(qty(100)))
	require.Zero(t, res.Cascaded)
	require.Len(t, store.entries, 1)
}

func TestBackdatedMovementCascadesForward(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", UOM: "KG", ItemType: ItemTypeRaw, Date: day("2026-01-01"), Incoming: qty(100)})
	require.NoError(t, err)
	res, err := svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-03"), Incoming: qty(50)})
	require.NoError(t, err)
	require.True(t, res.Entry.Beginning.Equal(qty(100)))
	require.True(t, res.Entry.Ending.Equal(qty(150)))

	// Backdated write between the two recomputes everything later.
	res, err = svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-02"), Incoming: qty(20)})
	require.NoError(t, err)
	require.True(t, res.Entry.Beginning.Equal(qty(100)))
	require.True(t, res.Entry.Ending.Equal(qty(120)))
	require.Equal(t, 1, res.Cascaded)

	last, err := store.GetEntry(ctx, 7, "RM-001", day("2026-01-03"))
	require.NoError(t, err)
	require.True(t, last.Beginning.Equal(qty(120)))
	require.True(t, last.Ending.Equal(qty(170)))

	// Inherited identity from the earliest row.
	mid, err := store.GetEntry(ctx, 7, "RM-001", day("2026-01-02"))
	require.NoError(t, err)
	require.Equal(t, "KG", mid.UOM)
	require.Equal(t, ItemTypeRaw, mid.ItemType)
}

func TestReimportingIdenticalMovementIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	m := Movement{CompanyID: 7, ItemCode: "RM-001", UOM: "KG", Date: day("2026-01-01"), Incoming: qty(100), Outgoing: qty(30)}
	first, err := svc.PostMovement(ctx, m)
	require.NoError(t, err)
	second, err := svc.PostMovement(ctx, m)
	require.NoError(t, err)

	require.Len(t, store.entries, 1)
	require.True(t, first.Entry.Ending.Equal(second.Entry.Ending))
	require.True(t, second.Entry.Ending.Equal(qty(70)))
}

func TestSignedAdjustmentsAffectEnding(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	res, err := svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-01"), Incoming: qty(100), Adjustment: qty(-5)})
	require.NoError(t, err)
	require.True(t, res.Entry.Ending.Equal(qty(95)))
}

func TestPostMovementRejectsFutureDate(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")

	_, err := svc.PostMovement(context.Background(), Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-11"), Incoming: qty(1)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "date", verr.Errors[0].Field)
	require.Empty(t, store.entries)
}

func TestPostMovementRejectsEmptyAndNegativeQuantities(t *testing.T) {
	svc := newTestService(newMemoryStore(), "2026-01-10")
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-01")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-01"), Incoming: qty(-3)})
	require.ErrorAs(t, err, &verr)
}

func TestRecalcPriorityFavoursSameDay(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-10"), Incoming: qty(10)})
	require.NoError(t, err)
	_, err = svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-05"), Incoming: qty(10)})
	require.NoError(t, err)

	require.Len(t, store.queue, 2)
	require.Equal(t, PrioritySameDay, store.queue[0].Priority)
	require.Equal(t, PriorityBackdated, store.queue[1].Priority)
}

func TestRecordStockCountComputesVariance(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-02"), Incoming: qty(120)})
	require.NoError(t, err)

	res, err := svc.RecordStockCount(ctx, 7, "RM-001", day("2026-01-02"), qty(118), 1)
	require.NoError(t, err)
	require.True(t, res.Entry.Variance.Equal(qty(-2)))
	require.True(t, res.Entry.Ending.Equal(qty(120)), "count never changes the book balance")
}

func TestRecordStockCountOnQuietDayCreatesRow(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", UOM: "KG", ItemType: ItemTypeRaw, Date: day("2026-01-01"), Incoming: qty(40)})
	require.NoError(t, err)

	res, err := svc.RecordStockCount(ctx, 7, "RM-001", day("2026-01-05"), qty(39), 1)
	require.NoError(t, err)
	require.True(t, res.Entry.Beginning.Equal(qty(40)))
	require.True(t, res.Entry.Ending.Equal(qty(40)))
	require.True(t, res.Entry.Variance.Equal(qty(-1)))
	require.Equal(t, "KG", res.Entry.UOM)
	require.Len(t, store.entries, 2)
}

func TestImportMovementsIsAllOrNothing(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")

	_, err := svc.ImportMovements(context.Background(), []Movement{
		{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-01"), Incoming: qty(10)},
		{CompanyID: 7, ItemCode: "RM-002", Date: day("2026-01-02"), Incoming: qty(-1)},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, store.entries)
	require.Empty(t, store.queue)
}

func TestImportMovementsOrdersAndCascadesPerItem(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	// Pre-existing row that a backdated batch row must push forward.
	_, err := svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-04"), Incoming: qty(5)})
	require.NoError(t, err)

	res, err := svc.ImportMovements(ctx, []Movement{
		{CompanyID: 7, ItemCode: "RM-002", Date: day("2026-01-03"), Incoming: qty(7)},
		{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-02"), Incoming: qty(30)},
		{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-01"), Incoming: qty(100)},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Written)
	require.Equal(t, 2, res.Items)

	e1, err := store.GetEntry(ctx, 7, "RM-001", day("2026-01-01"))
	require.NoError(t, err)
	require.True(t, e1.Ending.Equal(qty(100)))
	e2, err := store.GetEntry(ctx, 7, "RM-001", day("2026-01-02"))
	require.NoError(t, err)
	require.True(t, e2.Beginning.Equal(qty(100)))
	require.True(t, e2.Ending.Equal(qty(130)))
	e3, err := store.GetEntry(ctx, 7, "RM-001", day("2026-01-04"))
	require.NoError(t, err)
	require.True(t, e3.Beginning.Equal(qty(130)))
	require.True(t, e3.Ending.Equal(qty(135)))
}

func TestImportMovementsRejectsMixedCompanies(t *testing.T) {
	svc := newTestService(newMemoryStore(), "2026-01-10")

	_, err := svc.ImportMovements(context.Background(), []Movement{
		{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-01"), Incoming: qty(10)},
		{CompanyID: 8, ItemCode: "RM-002", Date: day("2026-01-01"), Incoming: qty(10)},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestImportOpeningBalancesSeedsRows(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")

	outcomes, err := svc.ImportOpeningBalances(context.Background(), []OpeningBalance{
		{CompanyID: 7, ItemCode: "RM-001", ItemName: "Resin", UOM: "kg", ItemType: ItemTypeRaw, Date: day("2026-01-01"), Quantity: qty(250)},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	for _, o := range outcomes {
		require.True(t, o.Valid)
	}

	e, err := store.GetEntry(context.Background(), 7, "RM-001", day("2026-01-01"))
	require.NoError(t, err)
	require.True(t, e.Beginning.Equal(qty(250)))
	require.True(t, e.Ending.Equal(qty(250)))
	require.Equal(t, "KG", e.UOM)
}

func TestImportOpeningBalancesRejectsNameConflict(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	_, err := svc.ImportOpeningBalances(ctx, []OpeningBalance{
		{CompanyID: 7, ItemCode: "RM-001", ItemName: "Foo", UOM: "KG", ItemType: ItemTypeRaw, Date: day("2026-01-01"), Quantity: qty(10)},
	})
	require.NoError(t, err)

	_, err = svc.ImportOpeningBalances(ctx, []OpeningBalance{
		{CompanyID: 7, ItemCode: "RM-001", ItemName: "Bar", UOM: "KG", ItemType: ItemTypeRaw, Date: day("2026-01-02"), Quantity: qty(10)},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Errors[0].Reason, `"Foo"`)
	require.Len(t, store.entries, 1)
}

func TestImportOpeningBalancesAllowsSecondUnitVariant(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	_, err := svc.ImportOpeningBalances(ctx, []OpeningBalance{
		{CompanyID: 7, ItemCode: "RM-001", ItemName: "Resin", UOM: "KG", ItemType: ItemTypeRaw, Date: day("2026-01-01"), Quantity: qty(10)},
	})
	require.NoError(t, err)

	_, err = svc.ImportOpeningBalances(ctx, []OpeningBalance{
		{CompanyID: 7, ItemCode: "RM-001", ItemName: "Resin", UOM: "G", ItemType: ItemTypeRaw, Date: day("2026-01-02"), Quantity: qty(10000)},
	})
	require.NoError(t, err)
}

func TestImportOpeningBalancesRejectsTransactedItems(t *testing.T) {
	store := newMemoryStore()
	store.transacted["RM-001"] = true
	svc := newTestService(store, "2026-01-10")

	_, err := svc.ImportOpeningBalances(context.Background(), []OpeningBalance{
		{CompanyID: 7, ItemCode: "RM-001", ItemName: "Resin", UOM: "KG", ItemType: ItemTypeRaw, Date: day("2026-01-01"), Quantity: qty(10)},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Errors[0].Reason, "posted incoming or outgoing")
	require.Empty(t, store.entries)
}

func TestRecalculateSnapshotRefreshesOnHand(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")
	ctx := context.Background()

	_, err := svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-01"), Incoming: qty(100)})
	require.NoError(t, err)
	_, err = svc.PostMovement(ctx, Movement{CompanyID: 7, ItemCode: "RM-001", Date: day("2026-01-03"), Outgoing: qty(40)})
	require.NoError(t, err)

	touched, err := svc.RecalculateSnapshot(ctx, 7, "RM-001", day("2026-01-01"))
	require.NoError(t, err)
	require.Equal(t, 1, touched)
	require.True(t, store.snapshots["7:RM-001"].Equal(qty(60)))
}

func TestRecalculateSnapshotWithoutHistoryIsZero(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store, "2026-01-10")

	touched, err := svc.RecalculateSnapshot(context.Background(), 7, "RM-404", day("2026-01-05"))
	require.NoError(t, err)
	require.Zero(t, touched)
	require.True(t, store.snapshots["7:RM-404"].IsZero())
}
