package ledger

import (
	"fmt"
	"sort"
)

// Cascade recomputes beginning/ending/variance for every entry strictly later
// in time than seed, carrying seed.Ending forward. Movement quantities of the
// later entries are never touched. Entries must belong to a single item and
// are re-sorted defensively; the caller persists the returned slice with one
// batched update.
//
// Every later beginning depends transitively on every earlier ending, so the
// scan always runs over the full tail. Skipping "unchanged" rows is how
// backdated imports silently corrupt downstream reports.
func Cascade(seed LedgerEntry, later []LedgerEntry) ([]LedgerEntry, error) {
	out := make([]LedgerEntry, len(later))
	copy(out, later)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	running := seed.Ending
	for i := range out {
		if !out[i].Date.After(seed.Date) {
			return nil, fmt.Errorf("ledger: cascade received entry at or before seed date %s", seed.Date.Format("2006-01-02"))
		}
		out[i].Beginning = running
		out[i].Ending = ComputeEnding(out[i].Beginning, out[i].Incoming, out[i].Outgoing, out[i].Adjustment)
		out[i].Variance = ComputeVariance(out[i].StockCount, out[i].Ending)
		if err := VerifyIntegrity(out[i]); err != nil {
			return nil, err
		}
		running = out[i].Ending
	}
	return out, nil
}

// SortMovements orders a batch by (itemCode, date) ascending, the processing
// order required for per-item running balances.
func SortMovements(batch []Movement) {
	sort.Slice(batch, func(i, j int) bool {
		if batch[i].ItemCode != batch[j].ItemCode {
			return batch[i].ItemCode < batch[j].ItemCode
		}
		return batch[i].Date.Before(batch[j].Date)
	})
}
