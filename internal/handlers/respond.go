package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nanacafe/api/internal/payments"
	"github.com/nanacafe/api/internal/platform/auth"
	"github.com/nanacafe/api/internal/platform/httpx"
	"github.com/nanacafe/api/internal/platform/requestctx"
	"github.com/nanacafe/api/internal/repositories"
	"github.com/nanacafe/api/internal/services"
)

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

// actorFromContext maps the authenticated identity, if any, onto a service actor.
func actorFromContext(ctx context.Context) services.Actor {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return services.Actor{}
	}
	return services.Actor{
		CustomerID: strings.TrimSpace(identity.UID),
		Email:      strings.TrimSpace(identity.Email),
		Admin:      identity.HasRole(auth.RoleAdmin),
		Staff:      identity.HasRole(auth.RoleStaff),
	}
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, httpx.ErrEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, repositories.ErrInvalidArgument):
		// Storage wording stays in the log.
		requestctx.Logger(ctx).Warn("order rejected by storage", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderAccessDenied):
		httpx.WriteError(ctx, w, httpx.NewError("order_access_denied", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently, reload and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "the store is not accepting orders right now", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrOrderPaymentGateway):
		requestctx.Logger(ctx).Warn("payment gateway failure", zap.Error(err))
		if payments.IsRetryable(err) {
			httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unavailable", "payment processor unavailable, try again", http.StatusServiceUnavailable).Retry(5*time.Second))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment processor rejected the request", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderStorage):
		requestctx.Logger(ctx).Error("order storage failure", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "order storage unavailable, try again", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeSettingsError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSettingsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSettingsStorage):
		requestctx.Logger(ctx).Error("settings storage failure", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "settings storage unavailable, try again", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("settings request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("settings_error", "failed to process settings request", http.StatusInternalServerError))
	}
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}
