package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arjuna-wms/arjuna-wms/internal/shared"
)

// MutationRow is one line of the statutory mutation report: per item, per
// period — beginning balance, in, out, adjustment, ending balance, physical
// count and variance.
type MutationRow struct {
	ItemCode   string          `json:"item_code"`
	ItemName   string          `json:"item_name"`
	UOM        string          `json:"uom"`
	ItemType   ItemType        `json:"item_type"`
	Beginning  decimal.Decimal `json:"beginning"`
	Incoming   decimal.Decimal `json:"incoming"`
	Outgoing   decimal.Decimal `json:"outgoing"`
	Adjustment decimal.Decimal `json:"adjustment"`
	Ending     decimal.Decimal `json:"ending"`
	StockCount decimal.Decimal `json:"stock_count"`
	Variance   decimal.Decimal `json:"variance"`
}

// ReportService aggregates ledger rows into mutation report lines. It is a
// read-only consumer of the ledger; export/rendering live elsewhere.
type ReportService struct {
	store Store
	cache *Cache
}

// NewReportService builds the report read side. cache may be nil.
func NewReportService(store Store, cache *Cache) *ReportService {
	return &ReportService{store: store, cache: cache}
}

// MutationReport returns one row per item for [from, to]. Rows carry the
// first entry's beginning, the summed movements, and the last entry's ending;
// the variance reflects the most recent physical count inside the period.
func (s *ReportService) MutationReport(ctx context.Context, companyID int64, from, to time.Time) ([]MutationRow, error) {
	from = shared.Midnight(from)
	to = shared.Midnight(to)

	key, err := s.cache.BuildKey(ctx, "ledger", "mutation",
		strconv.FormatInt(companyID, 10), from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}

	var rows []MutationRow
	err = s.cache.FetchJSON(ctx, key, &rows, func(ctx context.Context) (interface{}, error) {
		return s.build(ctx, companyID, from, to)
	})
	return rows, err
}

func (s *ReportService) build(ctx context.Context, companyID int64, from, to time.Time) ([]MutationRow, error) {
	entries, err := s.store.ListEntries(ctx, EntryFilter{
		CompanyID: companyID,
		From:      from,
		To:        to,
		Limit:     100000,
	})
	if err != nil {
		return nil, err
	}

	// Entries arrive ordered (item_code, date); fold each item's run.
	var out []MutationRow
	var cur *MutationRow
	for _, e := range entries {
		if cur == nil || cur.ItemCode != e.ItemCode {
			out = append(out, MutationRow{
				ItemCode:  e.ItemCode,
				ItemName:  e.ItemName,
				UOM:       e.UOM,
				ItemType:  e.ItemType,
				Beginning: e.Beginning,
			})
			cur = &out[len(out)-1]
		}
		cur.Incoming = cur.Incoming.Add(e.Incoming)
		cur.Outgoing = cur.Outgoing.Add(e.Outgoing)
		cur.Adjustment = cur.Adjustment.Add(e.Adjustment)
		cur.Ending = e.Ending
		if e.StockCount.IsPositive() {
			cur.StockCount = e.StockCount
			cur.Variance = e.Variance
		}
	}
	return out, nil
}
