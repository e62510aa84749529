package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Adjustment direction accepted at the API boundary. Quantities arrive
// positive; the sign is resolved here, before anything reaches the store or
// the propagator.
const (
	AdjustmentGain = "GAIN"
	AdjustmentLoss = "LOSS"
)

// MovementRequest is the JSON payload for posting one movement.
type MovementRequest struct {
	CompanyID      int64           `json:"company_id" validate:"required,gt=0"`
	ItemCode       string          `json:"item_code" validate:"required"`
	ItemName       string          `json:"item_name"`
	UOM            string          `json:"uom"`
	ItemType       string          `json:"item_type" validate:"omitempty,oneof=ROH FERT HALB CAPITAL SCRAP"`
	Date           string          `json:"date" validate:"required,datetime=2006-01-02"`
	Incoming       decimal.Decimal `json:"incoming"`
	Outgoing       decimal.Decimal `json:"outgoing"`
	AdjustmentQty  decimal.Decimal `json:"adjustment_qty"`
	AdjustmentType string          `json:"adjustment_type" validate:"omitempty,oneof=GAIN LOSS"`
	StockCount     decimal.Decimal `json:"stock_count"`
	Remarks        string          `json:"remarks"`
	ActorID        int64           `json:"actor_id"`
}

// ToMovement maps the request onto the domain type, flipping the adjustment
// sign for LOSS.
func (r MovementRequest) ToMovement() (Movement, error) {
	if r.AdjustmentQty.IsNegative() {
		return Movement{}, &ValidationError{Errors: []FieldError{{
			ItemCode: r.ItemCode, Field: "adjustment_qty",
			Reason: "adjustment quantity must not be negative; use adjustment_type LOSS",
		}}}
	}
	date, err := time.ParseInLocation(dateLayout, r.Date, time.UTC)
	if err != nil {
		return Movement{}, &ValidationError{Errors: []FieldError{{
			ItemCode: r.ItemCode, Field: "date", Reason: "date must be formatted YYYY-MM-DD",
		}}}
	}
	adjustment := r.AdjustmentQty
	if r.AdjustmentType == AdjustmentLoss {
		adjustment = adjustment.Neg()
	}
	return Movement{
		CompanyID:  r.CompanyID,
		ItemCode:   r.ItemCode,
		ItemName:   r.ItemName,
		UOM:        r.UOM,
		ItemType:   ItemType(r.ItemType),
		Date:       date,
		Incoming:   r.Incoming,
		Outgoing:   r.Outgoing,
		Adjustment: adjustment,
		StockCount: r.StockCount,
		Remarks:    r.Remarks,
		ActorID:    r.ActorID,
	}, nil
}

// ImportRequest is the JSON payload for a movement batch import.
type ImportRequest struct {
	Rows []MovementRequest `json:"rows" validate:"required,min=1,dive"`
}

// OpeningBalanceRequest is one opening-balance candidate row.
type OpeningBalanceRequest struct {
	CompanyID int64           `json:"company_id" validate:"required,gt=0"`
	ItemCode  string          `json:"item_code" validate:"required"`
	ItemName  string          `json:"item_name" validate:"required"`
	UOM       string          `json:"uom" validate:"required"`
	ItemType  string          `json:"item_type" validate:"required,oneof=ROH FERT HALB CAPITAL SCRAP"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
	Quantity  decimal.Decimal `json:"quantity"`
	Remarks   string          `json:"remarks"`
	ActorID   int64           `json:"actor_id"`
}

// OpeningImportRequest is the JSON payload for an opening-balance import.
type OpeningImportRequest struct {
	Rows []OpeningBalanceRequest `json:"rows" validate:"required,min=1,dive"`
}

// ToOpeningBalance maps the request row onto the domain type.
func (r OpeningBalanceRequest) ToOpeningBalance() (OpeningBalance, error) {
	date, err := time.ParseInLocation(dateLayout, r.Date, time.UTC)
	if err != nil {
		return OpeningBalance{}, &ValidationError{Errors: []FieldError{{
			ItemCode: r.ItemCode, Field: "date", Reason: "date must be formatted YYYY-MM-DD",
		}}}
	}
	return OpeningBalance{
		CompanyID: r.CompanyID,
		ItemCode:  r.ItemCode,
		ItemName:  r.ItemName,
		UOM:       r.UOM,
		ItemType:  ItemType(r.ItemType),
		Date:      date,
		Quantity:  r.Quantity,
		Remarks:   r.Remarks,
		ActorID:   r.ActorID,
	}, nil
}

// StockCountRequest records a physical count for an (item, date).
type StockCountRequest struct {
	CompanyID int64           `json:"company_id" validate:"required,gt=0"`
	ItemCode  string          `json:"item_code" validate:"required"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
	Count     decimal.Decimal `json:"count"`
	ActorID   int64           `json:"actor_id"`
}

// EntryResponse is the JSON shape of one ledger row.
type EntryResponse struct {
	ID         int64           `json:"id"`
	CompanyID  int64           `json:"company_id"`
	ItemCode   string          `json:"item_code"`
	ItemName   string          `json:"item_name"`
	UOM        string          `json:"uom"`
	ItemType   ItemType        `json:"item_type"`
	Date       string          `json:"date"`
	Beginning  decimal.Decimal `json:"beginning"`
	Incoming   decimal.Decimal `json:"incoming"`
	Outgoing   decimal.Decimal `json:"outgoing"`
	Adjustment decimal.Decimal `json:"adjustment"`
	Ending     decimal.Decimal `json:"ending"`
	StockCount decimal.Decimal `json:"stock_count"`
	Variance   decimal.Decimal `json:"variance"`
	Remarks    string          `json:"remarks,omitempty"`
}

// NewEntryResponse converts a domain entry.
func NewEntryResponse(e LedgerEntry) EntryResponse {
	return EntryResponse{
		ID:         e.ID,
		CompanyID:  e.CompanyID,
		ItemCode:   e.ItemCode,
		ItemName:   e.ItemName,
		UOM:        e.UOM,
		ItemType:   e.ItemType,
		Date:       e.Date.Format(dateLayout),
		Beginning:  e.Beginning,
		Incoming:   e.Incoming,
		Outgoing:   e.Outgoing,
		Adjustment: e.Adjustment,
		Ending:     e.Ending,
		StockCount: e.StockCount,
		Variance:   e.Variance,
		Remarks:    e.Remarks,
	}
}

// WriteResponse reports an accepted single write.
type WriteResponse struct {
	Entry    EntryResponse `json:"entry"`
	Cascaded int           `json:"cascaded"`
}

// ImportResponse reports an accepted batch import.
type ImportResponse struct {
	Written  int `json:"written"`
	Cascaded int `json:"cascaded"`
	Items    int `json:"items"`
}
