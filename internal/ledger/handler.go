package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/arjuna-wms/arjuna-wms/internal/platform/httpx"
)

// WriteMetrics counts accepted and rejected ledger writes.
type WriteMetrics interface {
	RecordLedgerWrite(operation string, cascaded int, err error)
}

// Handler wires the ledger's HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	reports  *ReportService
	cache    *Cache
	metrics  WriteMetrics
	validate *validator.Validate
	group    singleflight.Group
}

// NewHandler constructs a Handler instance. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, reports *ReportService, cache *Cache, metrics WriteMetrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		reports:  reports,
		cache:    cache,
		metrics:  metrics,
		validate: validator.New(),
	}
}

func (h *Handler) recordWrite(operation string, cascaded int, err error) {
	if h.metrics != nil {
		h.metrics.RecordLedgerWrite(operation, cascaded, err)
	}
}

// MountRoutes registers ledger routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/entries", h.postMovement)
	r.Post("/entries/import", h.importMovements)
	r.Post("/items/import", h.importOpeningBalances)
	r.Post("/stock-counts", h.postStockCount)
	r.Get("/entries", h.listEntries)
	r.Get("/reports/mutation", h.mutationReport)
}

func (h *Handler) postMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	m, err := req.ToMovement()
	if err != nil {
		h.respondError(w, err)
		return
	}
	res, err := h.service.PostMovement(r.Context(), m)
	h.recordWrite("post_movement", res.Cascaded, err)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.bumpCache(r)
	httpx.JSON(w, http.StatusCreated, WriteResponse{Entry: NewEntryResponse(res.Entry), Cascaded: res.Cascaded})
}

func (h *Handler) importMovements(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch := make([]Movement, 0, len(req.Rows))
	var verr ValidationError
	for _, row := range req.Rows {
		m, err := row.ToMovement()
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				verr.Errors = append(verr.Errors, ve.Errors...)
				continue
			}
			h.respondError(w, err)
			return
		}
		batch = append(batch, m)
	}
	if len(verr.Errors) > 0 {
		h.respondError(w, &verr)
		return
	}
	res, err := h.service.ImportMovements(r.Context(), batch)
	h.recordWrite("import_movements", res.Cascaded, err)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.bumpCache(r)
	httpx.JSON(w, http.StatusCreated, ImportResponse{Written: res.Written, Cascaded: res.Cascaded, Items: res.Items})
}

func (h *Handler) importOpeningBalances(w http.ResponseWriter, r *http.Request) {
	var req OpeningImportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	batch := make([]OpeningBalance, 0, len(req.Rows))
	for _, row := range req.Rows {
		ob, err := row.ToOpeningBalance()
		if err != nil {
			h.respondError(w, err)
			return
		}
		batch = append(batch, ob)
	}
	outcomes, err := h.service.ImportOpeningBalances(r.Context(), batch)
	h.recordWrite("import_opening_balances", 0, err)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.bumpCache(r)
	httpx.JSON(w, http.StatusCreated, outcomes)
}

func (h *Handler) postStockCount(w http.ResponseWriter, r *http.Request) {
	var req StockCountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.ParseInLocation(dateLayout, req.Date, time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be formatted YYYY-MM-DD")
		return
	}
	res, err := h.service.RecordStockCount(r.Context(), req.CompanyID, req.ItemCode, date, req.Count, req.ActorID)
	h.recordWrite("stock_count", res.Cascaded, err)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.bumpCache(r)
	httpx.JSON(w, http.StatusOK, WriteResponse{Entry: NewEntryResponse(res.Entry)})
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if err != nil || companyID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company_id is required")
		return
	}
	filter := EntryFilter{
		CompanyID: companyID,
		ItemCode:  r.URL.Query().Get("item_code"),
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if filter.From, err = time.ParseInLocation(dateLayout, raw, time.UTC); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be formatted YYYY-MM-DD")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if filter.To, err = time.ParseInLocation(dateLayout, raw, time.UTC); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be formatted YYYY-MM-DD")
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	entries, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, NewEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) mutationReport(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(r.URL.Query().Get("company_id"), 10, 64)
	if err != nil || companyID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company_id is required")
		return
	}
	from, err := time.ParseInLocation(dateLayout, r.URL.Query().Get("from"), time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be formatted YYYY-MM-DD")
		return
	}
	to, err := time.ParseInLocation(dateLayout, r.URL.Query().Get("to"), time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be formatted YYYY-MM-DD")
		return
	}

	// Identical report requests share one build instead of stampeding the
	// store when the cache is cold.
	key := strconv.FormatInt(companyID, 10) + ":" + r.URL.Query().Get("from") + ":" + r.URL.Query().Get("to")
	rows, err, _ := h.group.Do(key, func() (interface{}, error) {
		return h.reports.MutationReport(r.Context(), companyID, from, to)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		httpx.ProblemWithErrors(w, http.StatusBadRequest, "Validation Failed",
			"one or more rows were rejected; nothing was written", verr.Errors)
		return
	}
	if errors.Is(err, ErrIntegrity) {
		h.logger.Error("ledger integrity violation", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if errors.Is(err, ErrEntryNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	httpx.RespondError(w, err)
}

func (h *Handler) bumpCache(r *http.Request) {
	if err := h.cache.Bump(r.Context()); err != nil {
		h.logger.Warn("report cache bump", slog.Any("error", err))
	}
}
