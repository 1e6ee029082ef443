package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rl1809/tablesync/internal/core/domain"
	"github.com/rl1809/tablesync/internal/core/service"
	"github.com/rl1809/tablesync/internal/port"
)

const (
	TenantHeader = "X-Tenant-ID"
	StaffHeader  = "X-Staff-ID"

	maxBodyBytes = 4 << 20
)

type HTTPHandler struct {
	sync       *service.SyncService
	amendments *service.AmendmentService
	stock      port.StockReader
	logger     *slog.Logger
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StockResponse struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func NewHTTPHandler(sync *service.SyncService, amendments *service.AmendmentService, stock port.StockReader, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{
		sync:       sync,
		amendments: amendments,
		stock:      stock,
		logger:     logger.With("component", "http"),
	}
}

// Routes registers every endpoint on a new mux. The caller may add more
// routes (metrics) before serving.
func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.Handle("POST /sync-orders", h.withTenant(h.SyncOrders))
	mux.Handle("GET /orders", h.withTenant(h.ListOrders))
	mux.Handle("POST /order/{id}/respond-amendment", h.withTenant(h.RespondAmendment))
	mux.Handle("DELETE /order/{id}", h.withTenant(h.DeleteOrder))
	mux.Handle("GET /stock/{productId}", h.withTenant(h.GetStock))
	return mux
}

type tenantHandler func(w http.ResponseWriter, r *http.Request, tenantID string)

func (h *HTTPHandler) withTenant(next tenantHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantHeader)
		if tenantID == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing tenant"})
			return
		}
		next(w, r, tenantID)
	})
}

func (h *HTTPHandler) SyncOrders(w http.ResponseWriter, r *http.Request, tenantID string) {
	var batch []OrderSnapshotDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&batch); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	snaps := toSnapshots(batch, h.logger)
	results := h.sync.SyncOrders(r.Context(), tenantID, snaps)
	writeJSON(w, http.StatusOK, fromResults(results))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request, tenantID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	orders, err := h.sync.ListOrders(r.Context(), tenantID, limit)
	if err != nil {
		h.fail(w, "list orders", err)
		return
	}

	out := make([]OrderSnapshotDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, fromOrder(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) RespondAmendment(w http.ResponseWriter, r *http.Request, tenantID string) {
	orderID := r.PathValue("id")

	var req RespondAmendmentDTO
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.amendments.Respond(r.Context(), tenantID, orderID, service.AmendmentResponse{
		Approve:             req.Approve,
		UpdatedMetadataJSON: req.UpdatedMetadataJSON,
		UpdatedTotalAmount:  req.UpdatedTotalAmount,
		Actor:               r.Header.Get(StaffHeader),
	})
	if err != nil {
		h.fail(w, "respond amendment", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusDTO{Status: string(service.SyncStatusUpdated)})
}

func (h *HTTPHandler) DeleteOrder(w http.ResponseWriter, r *http.Request, tenantID string) {
	order, err := h.sync.DeleteOrder(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		h.fail(w, "delete order", err)
		return
	}
	writeJSON(w, http.StatusOK, fromDeleted(*order))
}

func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request, tenantID string) {
	productID := r.PathValue("productId")
	level, err := h.stock.GetStock(r.Context(), tenantID, productID)
	if err != nil {
		h.fail(w, "get stock", err)
		return
	}
	if level == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "product not tracked"})
		return
	}
	writeJSON(w, http.StatusOK, StockResponse{ProductID: productID, Quantity: level.Quantity})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) fail(w http.ResponseWriter, op string, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "op", op, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, service.ErrAmendmentLocked):
		return http.StatusConflict, "order can no longer be amended"
	case errors.Is(err, port.ErrVersionConflict):
		return http.StatusConflict, "concurrent write, retry"
	case errors.Is(err, service.ErrEmptyProposal):
		return http.StatusBadRequest, "no amendment to approve"
	case errors.Is(err, service.ErrMalformedProposal):
		return http.StatusBadRequest, "malformed amendment proposal"
	case errors.Is(err, port.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "order is busy, retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func toSnapshots(batch []OrderSnapshotDTO, logger *slog.Logger) []domain.OrderSnapshot {
	out := make([]domain.OrderSnapshot, 0, len(batch))
	for _, dto := range batch {
		out = append(out, toSnapshot(dto, logger))
	}
	return out
}

// LogRequests logs one line per request with its status and latency.
func LogRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"tenant_id", r.Header.Get(TenantHeader),
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
