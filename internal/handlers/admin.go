package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/nanacafe/api/internal/platform/auth"
	"github.com/nanacafe/api/internal/platform/httpx"
	"github.com/nanacafe/api/internal/services"
)

const maxAdminBodySize = 16 * 1024

// AdminHandlers exposes staff and admin endpoints under /admin.
type AdminHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	settings    services.SettingsService
	defaultPage int
	maxPage     int
}

// AdminHandlerOption customises AdminHandlers.
type AdminHandlerOption func(*AdminHandlers)

// WithAdminPageSize overrides the default and maximum listing page sizes.
func WithAdminPageSize(defaultSize, maxSize int) AdminHandlerOption {
	return func(h *AdminHandlers) {
		if defaultSize > 0 {
			h.defaultPage = defaultSize
		}
		if maxSize > 0 {
			h.maxPage = maxSize
		}
	}
}

// NewAdminHandlers constructs AdminHandlers.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, settings services.SettingsService, opts ...AdminHandlerOption) *AdminHandlers {
	h := &AdminHandlers{
		authn:       authn,
		orders:      orders,
		settings:    settings,
		defaultPage: defaultOrderPageSize,
		maxPage:     maxOrderPageSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.defaultPage > h.maxPage {
		h.defaultPage = h.maxPage
	}
	return h
}

// Routes registers the /admin endpoints. Listing is open to staff; refunds and
// settings changes require an admin.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	r.With(requireIdentity(auth.RoleAdmin, auth.RoleStaff)).Get("/orders", h.listOrders)
	r.With(requireIdentity(auth.RoleAdmin)).Post("/orders/{orderID}/refund", h.refundOrder)
	r.With(requireIdentity(auth.RoleAdmin)).Put("/settings", h.updateSettings)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	cmd, err := parseListOrdersQuery(r, h.defaultPage, h.maxPage)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.Actor = actorFromContext(ctx)

	page, err := h.orders.ListOrders(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

type refundRequest struct {
	// Amount in major units. Omit to refund the remaining balance.
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

func (h *AdminHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req refundRequest
	if err := httpx.DecodeJSON(r, &req, maxAdminBodySize); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		writeDecodeError(ctx, w, err)
		return
	}
	amount, err := optionalMinor("amount", req.Amount)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.RefundPayment(ctx, services.RefundCommand{
		Actor:   actorFromContext(ctx),
		OrderID: orderID,
		Amount:  amount,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type updateSettingsRequest struct {
	CafeName              *string          `json:"cafe_name"`
	Tagline               *string          `json:"tagline"`
	ContactEmail          *string          `json:"contact_email"`
	ContactPhone          *string          `json:"contact_phone"`
	Address               *string          `json:"address"`
	DeliveryFee           *decimal.Decimal `json:"delivery_fee"`
	FreeDeliveryThreshold *decimal.Decimal `json:"free_delivery_threshold"`
	MinOrderAmount        *decimal.Decimal `json:"min_order_amount"`
	AvailableTimeSlots    []string         `json:"available_time_slots"`
	IsAcceptingOrders     *bool            `json:"is_accepting_orders"`
	MaintenanceMode       *bool            `json:"maintenance_mode"`
}

func (req updateSettingsRequest) command() (services.UpdateSettingsCommand, error) {
	cmd := services.UpdateSettingsCommand{
		CafeName:           req.CafeName,
		Tagline:            req.Tagline,
		ContactEmail:       req.ContactEmail,
		ContactPhone:       req.ContactPhone,
		Address:            req.Address,
		AvailableTimeSlots: req.AvailableTimeSlots,
		IsAcceptingOrders:  req.IsAcceptingOrders,
		MaintenanceMode:    req.MaintenanceMode,
	}
	var err error
	if cmd.DeliveryFee, err = optionalMinor("delivery_fee", req.DeliveryFee); err != nil {
		return services.UpdateSettingsCommand{}, err
	}
	if cmd.FreeDeliveryThreshold, err = optionalMinor("free_delivery_threshold", req.FreeDeliveryThreshold); err != nil {
		return services.UpdateSettingsCommand{}, err
	}
	if cmd.MinOrderAmount, err = optionalMinor("min_order_amount", req.MinOrderAmount); err != nil {
		return services.UpdateSettingsCommand{}, err
	}
	return cmd, nil
}

func (h *AdminHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		serviceUnavailable(ctx, w, "settings")
		return
	}

	var req updateSettingsRequest
	if err := httpx.DecodeJSON(r, &req, maxAdminBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	cmd, err := req.command()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	settings, err := h.settings.UpdateSettings(ctx, cmd)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, settingsResponse{Settings: buildSettingsPayload(settings)})
}
