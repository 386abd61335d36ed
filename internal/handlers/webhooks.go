package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/payments"
	"github.com/nanacafe/api/internal/platform/httpx"
	"github.com/nanacafe/api/internal/platform/requestctx"
	"github.com/nanacafe/api/internal/services"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodySize    = 64 * 1024
)

// WebhookHandlers receives payment processor callbacks.
type WebhookHandlers struct {
	parser payments.WebhookParser
	orders services.OrderService
}

// NewWebhookHandlers constructs WebhookHandlers.
func NewWebhookHandlers(parser payments.WebhookParser, orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{parser: parser, orders: orders}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

type webhookAck struct {
	Received bool   `json:"received"`
	Ignored  bool   `json:"ignored,omitempty"`
	Changed  bool   `json:"changed,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
}

// stripe verifies the signature and applies payment_intent events to their order.
// Unknown orders and unrelated event types are acknowledged so the processor stops retrying.
func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.orders == nil {
		serviceUnavailable(ctx, w, "webhook")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	logger := requestctx.Logger(ctx)
	event, err := h.parser.ParseWebhookEvent(payload, r.Header.Get(stripeSignatureHeader))
	switch {
	case errors.Is(err, payments.ErrWebhookIgnored):
		logger.Debug("webhook event ignored", zap.String("eventId", event.ID), zap.String("eventType", event.Type))
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Ignored: true})
		return
	case errors.Is(err, payments.ErrWebhookSignature):
		logger.Warn("webhook signature rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed webhook event", http.StatusBadRequest))
		return
	}

	result, err := h.orders.ApplyPaymentEvent(ctx, services.PaymentEventCommand{
		EventID:         event.ID,
		EventType:       event.Type,
		IntentID:        event.IntentID,
		OrderID:         event.OrderID,
		ProcessorStatus: event.ProcessorStatus,
		AmountReceived:  domain.Money(event.AmountReceived),
	})
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) || errors.Is(err, services.ErrOrderInvalidInput) {
			logger.Warn("webhook event skipped",
				zap.String("eventId", event.ID),
				zap.String("paymentIntentId", event.IntentID),
				zap.Error(err),
			)
			writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Ignored: true})
			return
		}
		writeOrderError(ctx, w, err)
		return
	}
	if result.Superseded {
		logger.Info("webhook event for replaced intent",
			zap.String("eventId", event.ID),
			zap.String("paymentIntentId", event.IntentID),
			zap.String("orderId", result.Order.ID),
		)
	}
	writeJSONResponse(w, http.StatusOK, webhookAck{
		Received: true,
		Ignored:  result.Superseded,
		Changed:  result.Changed,
		OrderID:  result.Order.ID,
	})
}
