package httpx

import (
	"errors"
	"net/http"

	"github.com/arjuna-wms/arjuna-wms/internal/platform/db"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Serialization conflicts surface as 409 so callers know a retry is safe;
// transaction timeouts surface as 504 with no partial state.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, db.ErrSerialization):
		Problem(w, http.StatusConflict, "Write Conflict", "concurrent write detected, please retry")
	case errors.Is(err, db.ErrTimeout):
		Problem(w, http.StatusGatewayTimeout, "Transaction Timeout", "the write exceeded its time budget and was rolled back")
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
