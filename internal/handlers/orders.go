package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/platform/auth"
	"github.com/nanacafe/api/internal/platform/httpx"
	"github.com/nanacafe/api/internal/platform/pagination"
	"github.com/nanacafe/api/internal/platform/storage"
	"github.com/nanacafe/api/internal/services"
)

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderBodySize      = 32 * 1024
	maxStatusBodySize     = 4 * 1024
	defaultReceiptLinkTTL = 10 * time.Minute
)

// ReceiptLinker signs short-lived download URLs for archived receipts.
type ReceiptLinker interface {
	SignedDownloadURL(ctx context.Context, bucket, object string, opts storage.DownloadOptions) (storage.SignedURLResult, error)
}

// OrderHandlers exposes checkout, payment and fulfilment endpoints under /orders.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	defaultPage int
	maxPage     int
	createMW    []func(http.Handler) http.Handler
	intentMW    []func(http.Handler) http.Handler

	receiptLinker ReceiptLinker
	receiptBucket string
	receiptTTL    time.Duration
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderPageSize overrides the default and maximum listing page sizes.
func WithOrderPageSize(defaultSize, maxSize int) OrderHandlerOption {
	return func(h *OrderHandlers) {
		if defaultSize > 0 {
			h.defaultPage = defaultSize
		}
		if maxSize > 0 {
			h.maxPage = maxSize
		}
	}
}

// WithOrderCreateMiddlewares wraps POST /orders, e.g. with rate limiting and idempotency.
func WithOrderCreateMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.createMW = appendMiddlewares(h.createMW, mw)
	}
}

// WithPaymentIntentMiddlewares wraps POST /orders/{orderID}/payment-intent.
func WithPaymentIntentMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.intentMW = appendMiddlewares(h.intentMW, mw)
	}
}

// WithReceiptLinks enables signed receipt downloads from bucket.
func WithReceiptLinks(linker ReceiptLinker, bucket string, ttl time.Duration) OrderHandlerOption {
	return func(h *OrderHandlers) {
		bucket = strings.TrimSpace(bucket)
		if linker == nil || bucket == "" {
			return
		}
		if ttl <= 0 {
			ttl = defaultReceiptLinkTTL
		}
		h.receiptLinker = linker
		h.receiptBucket = bucket
		h.receiptTTL = ttl
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:       authn,
		orders:      orders,
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

// Routes registers the /orders endpoints. Guests may create, read and pay orders by ID.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.With(h.createMW...).Post("/", h.createOrder)
	r.With(requireIdentity()).Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.With(h.intentMW...).Post("/{orderID}/payment-intent", h.requestPaymentIntent)
	r.Post("/{orderID}/confirm-payment", h.confirmPayment)
	r.With(requireIdentity(auth.RoleAdmin)).Put("/{orderID}/status", h.setStatus)
	r.Get("/{orderID}/receipt", h.receiptLink)
}

type createOrderRequest struct {
	CustomerEmail string               `json:"customer_email"`
	OrderType     string               `json:"order_type"`
	Items         []orderItemRequest   `json:"items"`
	DeliveryInfo  *deliveryInfoRequest `json:"delivery_info"`
	PickupInfo    *pickupInfoRequest   `json:"pickup_info"`
	PaymentMethod string               `json:"payment_method"`
	Notes         string               `json:"notes"`
}

type orderItemRequest struct {
	ProductID           string           `json:"product_id"`
	ProductName         string           `json:"product_name"`
	Quantity            int              `json:"quantity"`
	UnitPrice           decimal.Decimal  `json:"unit_price"`
	LineTotal           *decimal.Decimal `json:"line_total"`
	SpecialInstructions string           `json:"special_instructions"`
}

type deliveryInfoRequest struct {
	FullName            string `json:"full_name"`
	ContactNumber       string `json:"contact_number"`
	Address             string `json:"delivery_address"`
	Date                string `json:"delivery_date"`
	TimeSlot            string `json:"delivery_time_slot"`
	SpecialInstructions string `json:"special_instructions"`
}

type pickupInfoRequest struct {
	FullName            string `json:"full_name"`
	ContactNumber       string `json:"contact_number"`
	Date                string `json:"pickup_date"`
	TimeSlot            string `json:"pickup_time_slot"`
	SpecialInstructions string `json:"special_instructions"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req, maxOrderBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	cmd, err := req.command(actorFromContext(ctx))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

// command converts the request; line totals sent by clients are ignored.
func (req createOrderRequest) command(actor services.Actor) (services.CreateOrderCommand, error) {
	cmd := services.CreateOrderCommand{
		Actor:         actor,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		OrderType:     domain.OrderType(strings.ToLower(strings.TrimSpace(req.OrderType))),
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Notes:         req.Notes,
	}
	if cmd.CustomerEmail == "" {
		cmd.CustomerEmail = actor.Email
	}
	cmd.Items = make([]services.OrderItem, 0, len(req.Items))
	for i, item := range req.Items {
		price, err := minorFromMajor(fmt.Sprintf("items[%d].unit_price", i), item.UnitPrice)
		if err != nil {
			return services.CreateOrderCommand{}, err
		}
		cmd.Items = append(cmd.Items, services.OrderItem{
			ProductID:           strings.TrimSpace(item.ProductID),
			ProductName:         strings.TrimSpace(item.ProductName),
			Quantity:            item.Quantity,
			UnitPrice:           price,
			SpecialInstructions: item.SpecialInstructions,
		})
	}
	if info := req.DeliveryInfo; info != nil {
		cmd.DeliveryInfo = &services.DeliveryInfo{
			FullName:            info.FullName,
			ContactNumber:       info.ContactNumber,
			Address:             info.Address,
			Date:                info.Date,
			TimeSlot:            info.TimeSlot,
			SpecialInstructions: info.SpecialInstructions,
		}
	}
	if info := req.PickupInfo; info != nil {
		cmd.PickupInfo = &services.PickupInfo{
			FullName:            info.FullName,
			ContactNumber:       info.ContactNumber,
			Date:                info.Date,
			TimeSlot:            info.TimeSlot,
			SpecialInstructions: info.SpecialInstructions,
		}
	}
	return cmd, nil
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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
	if !cmd.Actor.Privileged() {
		cmd.CustomerID = ""
	}

	page, err := h.orders.ListOrders(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{Actor: actorFromContext(ctx), OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type paymentIntentResponse struct {
	OrderID         string `json:"order_id"`
	OrderNumber     string `json:"order_number"`
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          string `json:"amount"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	Reused          bool   `json:"reused"`
}

func (h *OrderHandlers) requestPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	intent, err := h.orders.RequestPaymentIntent(ctx, services.PaymentIntentCommand{Actor: actorFromContext(ctx), OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentIntentResponse{
		OrderID:         intent.OrderID,
		OrderNumber:     intent.OrderNumber,
		PaymentIntentID: intent.IntentID,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.Amount.Major(),
		AmountMinor:     int64(intent.Amount),
		Currency:        intent.Currency,
		Status:          intent.ProcessorStatus,
		Reused:          intent.Reused,
	})
}

type reconcileResponse struct {
	Order           orderPayload `json:"order"`
	ProcessorStatus string       `json:"processor_status"`
	PaymentStatus   string       `json:"payment_status"`
	Status          string       `json:"status"`
	Changed         bool         `json:"changed"`
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	result, err := h.orders.ReconcilePayment(ctx, services.ReconcileCommand{Actor: actorFromContext(ctx), OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reconcileResponse{
		Order:           buildOrderPayload(result.Order),
		ProcessorStatus: result.ProcessorStatus,
		PaymentStatus:   string(result.PaymentStatus),
		Status:          string(result.OrderStatus),
		Changed:         result.Changed,
	})
}

type setStatusRequest struct {
	Status          string `json:"status"`
	ExpectedVersion *int64 `json:"expected_version"`
}

func (h *OrderHandlers) setStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := httpx.DecodeJSON(r, &req, maxStatusBodySize); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.SetStatus(ctx, services.SetStatusCommand{
		Actor:           actorFromContext(ctx),
		OrderID:         orderID,
		Status:          status,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type receiptLinkResponse struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	URL         string `json:"url"`
	Method      string `json:"method"`
	ExpiresAt   string `json:"expires_at"`
}

// receiptLink returns a signed URL for the archived receipt of a paid or refunded order.
func (h *OrderHandlers) receiptLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	if h.receiptLinker == nil {
		httpx.WriteError(ctx, w, httpx.NewError("receipts_disabled", "receipt downloads are not enabled", http.StatusNotFound))
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{Actor: actorFromContext(ctx), OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.PaymentStatus != domain.PaymentStatusPaid && order.PaymentStatus != domain.PaymentStatusRefunded {
		httpx.WriteError(ctx, w, httpx.NewError("receipt_not_found", "receipt is available once the order is paid", http.StatusNotFound))
		return
	}

	object, err := storage.ReceiptObjectPath(order.OrderNumber, order.CreatedAt)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	link, err := h.receiptLinker.SignedDownloadURL(ctx, h.receiptBucket, object, storage.DownloadOptions{
		ExpiresIn:    h.receiptTTL,
		Disposition:  fmt.Sprintf("inline; filename=%q", order.OrderNumber+".html"),
		ResponseType: "text/html; charset=utf-8",
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, receiptLinkResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		URL:         link.URL,
		Method:      link.Method,
		ExpiresAt:   formatTime(link.ExpiresAt),
	})
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

// parseListOrdersQuery reads status, payment_status, order_type, customer_id, skip and limit.
// Multi-valued filters accept repeated parameters or comma-separated lists.
func parseListOrdersQuery(r *http.Request, defaultLimit, maxLimit int) (services.ListOrdersCommand, error) {
	query := r.URL.Query()
	cmd := services.ListOrdersCommand{
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		OrderType:  domain.OrderType(strings.ToLower(strings.TrimSpace(query.Get("order_type")))),
	}
	for _, value := range parseFilterValues(query["status"]) {
		status := domain.OrderStatus(value)
		if !status.Valid() {
			return services.ListOrdersCommand{}, fmt.Errorf("unknown status %q", value)
		}
		cmd.Status = append(cmd.Status, status)
	}
	for _, value := range parseFilterValues(query["payment_status"]) {
		status := domain.PaymentStatus(value)
		if !status.Valid() {
			return services.ListOrdersCommand{}, fmt.Errorf("unknown payment_status %q", value)
		}
		cmd.PaymentStatus = append(cmd.PaymentStatus, status)
	}
	if cmd.OrderType != "" && !cmd.OrderType.Valid() {
		return services.ListOrdersCommand{}, fmt.Errorf("unknown order_type %q", cmd.OrderType)
	}
	window, err := pagination.Parse(query, pagination.Bounds{DefaultLimit: defaultLimit, MaxLimit: maxLimit})
	if err != nil {
		return services.ListOrdersCommand{}, err
	}
	cmd.Skip = window.Skip
	cmd.Limit = window.Limit
	return cmd, nil
}

func parseFilterValues(raw []string) []string {
	var values []string
	seen := make(map[string]struct{})
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			value := strings.ToLower(strings.TrimSpace(part))
			if value == "" {
				continue
			}
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			values = append(values, value)
		}
	}
	return values
}

type orderListResponse struct {
	Items   []orderPayload `json:"items"`
	Total   int64          `json:"total"`
	Skip    int            `json:"skip"`
	Limit   int            `json:"limit"`
	HasMore bool           `json:"has_more"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                  string               `json:"id"`
	OrderNumber         string               `json:"order_number"`
	CustomerID          string               `json:"customer_id,omitempty"`
	CustomerEmail       string               `json:"customer_email,omitempty"`
	OrderType           string               `json:"order_type"`
	Items               []orderItemPayload   `json:"items"`
	Subtotal            string               `json:"subtotal"`
	SubtotalMinor       int64                `json:"subtotal_minor"`
	DeliveryFee         string               `json:"delivery_fee"`
	DeliveryFeeMinor    int64                `json:"delivery_fee_minor"`
	Total               string               `json:"total"`
	TotalMinor          int64                `json:"total_minor"`
	AmountReceived      string               `json:"amount_received"`
	AmountReceivedMinor int64                `json:"amount_received_minor"`
	RefundedAmount      string               `json:"refunded_amount"`
	RefundedAmountMinor int64                `json:"refunded_amount_minor"`
	Currency            string               `json:"currency"`
	Status              string               `json:"status"`
	PaymentStatus       string               `json:"payment_status"`
	PaymentMethod       string               `json:"payment_method,omitempty"`
	PaymentIntentID     string               `json:"payment_intent_id,omitempty"`
	DeliveryInfo        *deliveryInfoPayload `json:"delivery_info,omitempty"`
	PickupInfo          *pickupInfoPayload   `json:"pickup_info,omitempty"`
	Notes               string               `json:"notes,omitempty"`
	Version             int64                `json:"version"`
	CreatedAt           string               `json:"created_at"`
	UpdatedAt           string               `json:"updated_at,omitempty"`
	CompletedAt         string               `json:"completed_at,omitempty"`
	CancelledAt         string               `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ProductID           string `json:"product_id"`
	ProductName         string `json:"product_name"`
	Quantity            int    `json:"quantity"`
	UnitPrice           string `json:"unit_price"`
	UnitPriceMinor      int64  `json:"unit_price_minor"`
	LineTotal           string `json:"line_total"`
	LineTotalMinor      int64  `json:"line_total_minor"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

type deliveryInfoPayload struct {
	FullName            string `json:"full_name"`
	ContactNumber       string `json:"contact_number"`
	Address             string `json:"delivery_address"`
	Date                string `json:"delivery_date"`
	TimeSlot            string `json:"delivery_time_slot"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

type pickupInfoPayload struct {
	FullName            string `json:"full_name"`
	ContactNumber       string `json:"contact_number"`
	Date                string `json:"pickup_date"`
	TimeSlot            string `json:"pickup_time_slot"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

func buildOrderListResponse(page domain.OffsetPage[services.Order]) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{
		Items:   items,
		Total:   page.Total,
		Skip:    page.Skip,
		Limit:   page.Limit,
		HasMore: page.HasMore,
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                  order.ID,
		OrderNumber:         order.OrderNumber,
		CustomerID:          order.CustomerID,
		CustomerEmail:       order.CustomerEmail,
		OrderType:           string(order.OrderType),
		Items:               make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:            order.Subtotal.Major(),
		SubtotalMinor:       int64(order.Subtotal),
		DeliveryFee:         order.DeliveryFee.Major(),
		DeliveryFeeMinor:    int64(order.DeliveryFee),
		Total:               order.Total.Major(),
		TotalMinor:          int64(order.Total),
		AmountReceived:      order.AmountReceived.Major(),
		AmountReceivedMinor: int64(order.AmountReceived),
		RefundedAmount:      order.RefundedAmount.Major(),
		RefundedAmountMinor: int64(order.RefundedAmount),
		Currency:            order.Currency,
		Status:              string(order.Status),
		PaymentStatus:       string(order.PaymentStatus),
		PaymentMethod:       string(order.PaymentMethod),
		PaymentIntentID:     order.PaymentIntentID,
		Notes:               order.Notes,
		Version:             order.Version,
		CreatedAt:           formatTime(order.CreatedAt),
		UpdatedAt:           formatTimePtr(order.UpdatedAt),
		CompletedAt:         formatTimePtr(order.CompletedAt),
		CancelledAt:         formatTimePtr(order.CancelledAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:           item.ProductID,
			ProductName:         item.ProductName,
			Quantity:            item.Quantity,
			UnitPrice:           item.UnitPrice.Major(),
			UnitPriceMinor:      int64(item.UnitPrice),
			LineTotal:           item.LineTotal.Major(),
			LineTotalMinor:      int64(item.LineTotal),
			SpecialInstructions: item.SpecialInstructions,
		})
	}
	if info := order.DeliveryInfo; info != nil {
		payload.DeliveryInfo = &deliveryInfoPayload{
			FullName:            info.FullName,
			ContactNumber:       info.ContactNumber,
			Address:             info.Address,
			Date:                info.Date,
			TimeSlot:            info.TimeSlot,
			SpecialInstructions: info.SpecialInstructions,
		}
	}
	if info := order.PickupInfo; info != nil {
		payload.PickupInfo = &pickupInfoPayload{
			FullName:            info.FullName,
			ContactNumber:       info.ContactNumber,
			Date:                info.Date,
			TimeSlot:            info.TimeSlot,
			SpecialInstructions: info.SpecialInstructions,
		}
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
