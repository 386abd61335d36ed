package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nanacafe/api/internal/platform/httpx"
	"github.com/nanacafe/api/internal/platform/requestctx"
	"github.com/nanacafe/api/internal/services"
)

const (
	defaultSweepLimit  = 50
	maxSweepLimit      = 500
	defaultSweepMinAge = 5 * time.Minute
)

// InternalPaymentHandlers exposes scheduler-triggered payment maintenance.
type InternalPaymentHandlers struct {
	orders      services.OrderService
	batchSize   int
	minAge      time.Duration
	maxBodySize int64
}

// NewInternalPaymentHandlers constructs the handlers. batchSize and minAge default
// to 50 orders and five minutes.
func NewInternalPaymentHandlers(orders services.OrderService, batchSize int, minAge time.Duration) *InternalPaymentHandlers {
	if batchSize <= 0 {
		batchSize = defaultSweepLimit
	}
	if minAge <= 0 {
		minAge = defaultSweepMinAge
	}
	return &InternalPaymentHandlers{orders: orders, batchSize: batchSize, minAge: minAge, maxBodySize: 4 * 1024}
}

// Routes registers the /internal/payments endpoints.
func (h *InternalPaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/reconcile-pending", h.reconcilePending)
}

type sweepRequest struct {
	Limit         int `json:"limit"`
	MinAgeSeconds int `json:"min_age_seconds"`
}

type sweepResponse struct {
	Scanned  int                   `json:"scanned"`
	Updated  int                   `json:"updated"`
	Failed   int                   `json:"failed"`
	Failures []sweepFailurePayload `json:"failures"`
}

type sweepFailurePayload struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

func (h *InternalPaymentHandlers) reconcilePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	var req sweepRequest
	if err := httpx.DecodeJSON(r, &req, h.maxBodySize); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		writeDecodeError(ctx, w, err)
		return
	}
	if req.Limit < 0 || req.MinAgeSeconds < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit and min_age_seconds must not be negative", http.StatusBadRequest))
		return
	}
	cmd := services.SweepCommand{Limit: h.batchSize, MinAge: h.minAge}
	if req.Limit > 0 {
		cmd.Limit = min(req.Limit, maxSweepLimit)
	}
	if req.MinAgeSeconds > 0 {
		cmd.MinAge = time.Duration(req.MinAgeSeconds) * time.Second
	}

	result, err := h.orders.ReconcilePending(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("pending payment sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
	)

	resp := sweepResponse{
		Scanned:  result.Scanned,
		Updated:  result.Updated,
		Failed:   result.Failed,
		Failures: make([]sweepFailurePayload, 0, len(result.Failures)),
	}
	for _, failure := range result.Failures {
		resp.Failures = append(resp.Failures, sweepFailurePayload{OrderID: failure.OrderID, Error: failure.Error})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
