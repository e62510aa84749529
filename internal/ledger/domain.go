// Package ledger implements the per-item chronological balance ledger for
// goods moving through the bonded zone, including cascading recalculation of
// derived balances and conflict validation for opening-balance imports.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemType classifies goods for customs mutation reporting.
type ItemType string

const (
	// ItemTypeRaw covers raw materials (bahan baku).
	ItemTypeRaw ItemType = "ROH"
	// ItemTypeFinished covers finished goods (barang jadi).
	ItemTypeFinished ItemType = "FERT"
	// ItemTypeWIP covers work in process.
	ItemTypeWIP ItemType = "HALB"
	// ItemTypeCapital covers machines and capital goods.
	ItemTypeCapital ItemType = "CAPITAL"
	// ItemTypeScrap covers waste and scrap.
	ItemTypeScrap ItemType = "SCRAP"
)

// ValidItemType reports whether t is one of the supported classifications.
func ValidItemType(t ItemType) bool {
	switch t {
	case ItemTypeRaw, ItemTypeFinished, ItemTypeWIP, ItemTypeCapital, ItemTypeScrap:
		return true
	}
	return false
}

// LedgerEntry is one (company, item, date) row holding the day's movement
// quantities and the derived running balances.
type LedgerEntry struct {
	ID         int64
	CompanyID  int64
	ItemCode   string
	ItemName   string
	UOM        string
	ItemType   ItemType
	Date       time.Time
	Beginning  decimal.Decimal
	Incoming   decimal.Decimal
	Outgoing   decimal.Decimal
	Adjustment decimal.Decimal
	Ending     decimal.Decimal
	StockCount decimal.Decimal
	Variance   decimal.Decimal
	Remarks    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Movement carries the quantities posted for one (item, date). Adjustment is
// signed by the time it reaches this type; the API boundary resolves
// GAIN/LOSS direction before constructing a Movement.
type Movement struct {
	CompanyID  int64
	ItemCode   string
	ItemName   string
	UOM        string
	ItemType   ItemType
	Date       time.Time
	Incoming   decimal.Decimal
	Outgoing   decimal.Decimal
	Adjustment decimal.Decimal
	StockCount decimal.Decimal
	Remarks    string
	ActorID    int64
}

// OpeningBalance seeds the first ledger row for an item that has no
// transaction history yet.
type OpeningBalance struct {
	CompanyID int64
	ItemCode  string
	ItemName  string
	UOM       string
	ItemType  ItemType
	Date      time.Time
	Quantity  decimal.Decimal
	Remarks   string
	ActorID   int64
}

// ComputeEnding applies the balance formula.
func ComputeEnding(beginning, incoming, outgoing, adjustment decimal.Decimal) decimal.Decimal {
	return beginning.Add(incoming).Sub(outgoing).Add(adjustment)
}

// ComputeVariance returns stockCount − ending when a physical count exists.
// A count of zero means no count was taken.
func ComputeVariance(stockCount, ending decimal.Decimal) decimal.Decimal {
	if stockCount.IsPositive() {
		return stockCount.Sub(ending)
	}
	return decimal.Zero
}

// ErrIntegrity signals that a persisted entry violates the balance equality.
// This is a programming error in the propagator, never a user condition.
var ErrIntegrity = errors.New("ledger: balance integrity violated")

// ErrEntryNotFound indicates no ledger row exists for the requested key.
var ErrEntryNotFound = errors.New("ledger: entry not found")

// VerifyIntegrity checks ending == beginning + incoming − outgoing + adjustment.
func VerifyIntegrity(e LedgerEntry) error {
	want := ComputeEnding(e.Beginning, e.Incoming, e.Outgoing, e.Adjustment)
	if !e.Ending.Equal(want) {
		return fmt.Errorf("%w: item %s date %s: ending %s, expected %s",
			ErrIntegrity, e.ItemCode, e.Date.Format("2006-01-02"), e.Ending, want)
	}
	return nil
}

// FieldError describes one failed validation rule for one row.
type FieldError struct {
	ItemCode string `json:"item_code"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
}

// ValidationError aggregates row-level failures. A batch carrying any
// ValidationError is rejected wholesale, before any write.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %d row(s)", len(e.Errors))
}

// ValidationOutcome is the per-candidate result of the duplicate validator.
type ValidationOutcome struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}
