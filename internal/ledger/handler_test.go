package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/arjuna-wms/arjuna-wms/internal/platform/db"
	"github.com/arjuna-wms/arjuna-wms/internal/shared"
)

func newTestHandler(t *testing.T, store *memoryStore) *chi.Mux {
	t.Helper()
	svc := newTestService(store, "2026-01-10")
	h := NewHandler(nil, svc, NewReportService(store, nil), nil, nil)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestPostEntryEndpoint(t *testing.T) {
	store := newMemoryStore()
	router := newTestHandler(t, store)

	rr := postJSON(t, router, "/entries", MovementRequest{
		CompanyID: 7, ItemCode: "RM-001", ItemName: "Resin", UOM: "KG", ItemType: "ROH",
		Date: "2026-01-02", Incoming: qty(100),
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp WriteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "RM-001", resp.Entry.ItemCode)
	require.True(t, resp.Entry.Ending.Equal(qty(100)))
	require.Len(t, store.entries, 1)
}

func TestPostEntryEndpointRejectsMalformedBody(t *testing.T) {
	router := newTestHandler(t, newMemoryStore())

	req := httptest.NewRequest(http.MethodPost, "/entries", bytes.NewReader([]byte("{")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPostEntryEndpointRejectsUnknownItemType(t *testing.T) {
	router := newTestHandler(t, newMemoryStore())

	rr := postJSON(t, router, "/entries", MovementRequest{
		CompanyID: 7, ItemCode: "RM-001", ItemType: "BOGUS", Date: "2026-01-02", Incoming: qty(1),
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestImportEndpointReturnsRowErrors(t *testing.T) {
	store := newMemoryStore()
	router := newTestHandler(t, store)

	rr := postJSON(t, router, "/entries/import", ImportRequest{Rows: []MovementRequest{
		{CompanyID: 7, ItemCode: "RM-001", Date: "2026-01-01", Incoming: qty(10)},
		{CompanyID: 7, ItemCode: "RM-002", Date: "2026-01-11", Incoming: qty(10)}, // future
	}})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var problem struct {
		Title  string       `json:"title"`
		Errors []FieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "Validation Failed", problem.Title)
	require.Len(t, problem.Errors, 1)
	require.Equal(t, "RM-002", problem.Errors[0].ItemCode)
	require.Empty(t, store.entries)
}

func TestOpeningImportEndpointReturnsOutcomes(t *testing.T) {
	store := newMemoryStore()
	router := newTestHandler(t, store)

	rr := postJSON(t, router, "/items/import", OpeningImportRequest{Rows: []OpeningBalanceRequest{
		{CompanyID: 7, ItemCode: "RM-001", ItemName: "Resin", UOM: "KG", ItemType: "ROH", Date: "2026-01-01", Quantity: qty(250)},
	}})
	require.Equal(t, http.StatusCreated, rr.Code)

	var outcomes map[string]ValidationOutcome
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &outcomes))
	require.Len(t, outcomes, 1)
	for _, o := range outcomes {
		require.True(t, o.Valid)
	}
}

func TestStockCountEndpoint(t *testing.T) {
	store := newMemoryStore()
	router := newTestHandler(t, store)

	rr := postJSON(t, router, "/entries", MovementRequest{
		CompanyID: 7, ItemCode: "RM-001", Date: "2026-01-02", Incoming: qty(120),
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = postJSON(t, router, "/stock-counts", StockCountRequest{
		CompanyID: 7, ItemCode: "RM-001", Date: "2026-01-02", Count: qty(118), ActorID: 1,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp WriteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Entry.Variance.Equal(qty(-2)))
}

func TestListEntriesEndpointRequiresCompany(t *testing.T) {
	router := newTestHandler(t, newMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/entries", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMutationReportEndpoint(t *testing.T) {
	store := newMemoryStore()
	seedLedger(t, store)
	router := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodGet, "/reports/mutation?company_id=7&from=2026-01-01&to=2026-01-31", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var rows []MutationRow
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
}

type conflictStore struct {
	*memoryStore
	err error
}

func (s *conflictStore) WithTx(ctx context.Context, timeout time.Duration, fn func(context.Context, TxStore) error) error {
	return s.err
}

func TestWriteConflictMapsTo409AndTimeoutTo504(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{db.ErrSerialization, http.StatusConflict},
		{db.ErrTimeout, http.StatusGatewayTimeout},
	} {
		store := &conflictStore{memoryStore: newMemoryStore(), err: tc.err}
		svc := NewService(store, shared.FixedClock{At: day("2026-01-10")}, nil, nil, nil, ServiceConfig{})
		h := NewHandler(nil, svc, NewReportService(store, nil), nil, nil)
		r := chi.NewRouter()
		h.MountRoutes(r)

		rr := postJSON(t, r, "/entries", MovementRequest{
			CompanyID: 7, ItemCode: "RM-001", Date: "2026-01-02", Incoming: qty(1),
		})
		require.Equal(t, tc.code, rr.Code)
	}
}
