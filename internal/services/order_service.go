package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"maps"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/payments"
	"github.com/nanacafe/api/internal/platform/pagination"
	"github.com/nanacafe/api/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status.changed"
	orderEventPaymentUpdated  = "order.payment.updated"
	orderEventPaymentRefunded = "order.payment.refunded"

	orderIDPrefix     = "ord_"
	orderNumberPrefix = "NC"
	handoffDateLayout = "2006-01-02"

	defaultOrderListLimit = 20
	maxOrderListLimit     = 100
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Counters repositories.CounterRepository
	Settings SettingsService
	Gateway  payments.Gateway
	Notifier Notifier
	Receipts ReceiptArchiver
	Events   OrderEventPublisher
	// Currency defaults to domain.DefaultCurrency.
	Currency string
	// Location is the time zone order numbers are dated in. Defaults to UTC.
	Location    *time.Location
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	settings  SettingsService
	gateway   payments.Gateway
	notifier  Notifier
	receipts  ReceiptArchiver
	events    OrderEventPublisher
	currency  string
	location  *time.Location
	sanitizer *bluemonday.Policy
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("order service: settings service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	location := deps.Location
	if location == nil {
		location = time.UTC
	}

	return &orderService{
		orders:    deps.Orders,
		counters:  deps.Counters,
		settings:  deps.Settings,
		gateway:   deps.Gateway,
		notifier:  deps.Notifier,
		receipts:  deps.Receipts,
		events:    deps.Events,
		currency:  currency,
		location:  location,
		sanitizer: bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if !cmd.OrderType.Valid() {
		return Order{}, fmt.Errorf("%w: order type must be delivery or pickup", ErrOrderInvalidInput)
	}

	method := cmd.PaymentMethod
	if method == "" {
		method = domain.PaymentMethodStripe
	}
	if !method.Valid() {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, method)
	}

	email := strings.TrimSpace(cmd.CustomerEmail)
	if email == "" {
		email = strings.TrimSpace(cmd.Actor.Email)
	}
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return Order{}, fmt.Errorf("%w: customer email is invalid", ErrOrderInvalidInput)
		}
		email = addr.Address
	}

	items := make([]OrderItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.ProductName = s.clean(item.ProductName)
		item.SpecialInstructions = s.clean(item.SpecialInstructions)
		if item.ProductID == "" {
			return Order{}, fmt.Errorf("%w: item %d product id is required", ErrOrderInvalidInput, i)
		}
		if item.ProductName == "" {
			return Order{}, fmt.Errorf("%w: item %d product name is required", ErrOrderInvalidInput, i)
		}
		items = append(items, item)
	}

	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("%w: load settings: %w", ErrOrderStorage, err)
	}
	if !settings.AcceptsOrders() {
		return Order{}, ErrOrderUnavailable
	}

	delivery, pickup, err := s.handoff(cmd, settings)
	if err != nil {
		return Order{}, err
	}

	totals, err := CalculateTotals(items, cmd.OrderType, settings.FeeSchedule())
	if err != nil {
		return Order{}, err
	}
	if totals.Subtotal < settings.MinOrderAmount {
		return Order{}, fmt.Errorf("%w: minimum order amount is %s", ErrOrderInvalidInput, settings.MinOrderAmount.Major())
	}

	now := s.clock()
	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:            s.nextOrderID(),
		OrderNumber:   number,
		CustomerID:    strings.TrimSpace(cmd.Actor.CustomerID),
		CustomerEmail: email,
		OrderType:     cmd.OrderType,
		Items:         totals.Items,
		Subtotal:      totals.Subtotal,
		DeliveryFee:   totals.DeliveryFee,
		Total:         totals.Total,
		Currency:      s.currency,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: method,
		DeliveryInfo:  delivery,
		PickupInfo:    pickup,
		Notes:         s.clean(cmd.Notes),
		Version:       1,
		CreatedAt:     now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		ActorID:       order.CustomerID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"orderType": string(order.OrderType),
			"total":     int64(order.Total),
		},
	})
	if order.CustomerEmail != "" {
		s.notify(ctx, "order_confirmation", order, func(n Notifier) error {
			return n.SendOrderConfirmation(ctx, order)
		})
	}
	s.notify(ctx, "admin_notification", order, func(n Notifier) error {
		return n.SendAdminNotification(ctx, order)
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error) {
	return s.loadOrder(ctx, cmd.Actor, cmd.OrderID)
}

func (s *orderService) ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.OffsetPage[Order], error) {
	filter := repositories.OrderListFilter{
		CustomerID:    strings.TrimSpace(cmd.CustomerID),
		Status:        cmd.Status,
		PaymentStatus: cmd.PaymentStatus,
		OrderType:     cmd.OrderType,
	}
	window := pagination.Clamp(pagination.Offset{Skip: cmd.Skip, Limit: cmd.Limit},
		pagination.Bounds{DefaultLimit: defaultOrderListLimit, MaxLimit: maxOrderListLimit})
	filter.Skip = window.Skip
	filter.Limit = window.Limit
	if !cmd.Actor.Privileged() {
		customer := strings.TrimSpace(cmd.Actor.CustomerID)
		if customer == "" {
			return domain.OffsetPage[Order]{}, fmt.Errorf("%w: sign in to list orders", ErrOrderAccessDenied)
		}
		filter.CustomerID = customer
	}
	if filter.OrderType != "" && !filter.OrderType.Valid() {
		return domain.OffsetPage[Order]{}, fmt.Errorf("%w: unsupported order type %q", ErrOrderInvalidInput, filter.OrderType)
	}
	for _, status := range filter.Status {
		if !status.Valid() {
			return domain.OffsetPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	for _, status := range filter.PaymentStatus {
		if !status.Valid() {
			return domain.OffsetPage[Order]{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.OffsetPage[Order]{}, mapOrderRepositoryError(err)
	}
	total, err := s.orders.Count(ctx, filter)
	if err != nil {
		return domain.OffsetPage[Order]{}, mapOrderRepositoryError(err)
	}
	page.Total = total
	return page, nil
}

func (s *orderService) SetStatus(ctx context.Context, cmd SetStatusCommand) (Order, error) {
	if !cmd.Actor.Admin {
		return Order{}, fmt.Errorf("%w: only admins may change order status", ErrOrderAccessDenied)
	}
	order, err := s.loadOrder(ctx, cmd.Actor, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != order.Version {
		return Order{}, fmt.Errorf("%w: order version is %d", ErrOrderConflict, order.Version)
	}
	if err := CheckTransition(order, cmd.Status); err != nil {
		return Order{}, err
	}

	now := s.clock()
	next := cmd.Status
	patch := domain.OrderPatch{
		ExpectedVersion: &order.Version,
		Status:          &next,
		UpdatedAt:       now,
	}
	switch next {
	case domain.OrderStatusCompleted:
		patch.CompletedAt = &now
	case domain.OrderStatusCancelled:
		patch.CancelledAt = &now
	}

	updated, err := s.orders.Update(ctx, order.ID, patch)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		Status:         string(updated.Status),
		PaymentStatus:  string(updated.PaymentStatus),
		PreviousStatus: string(order.Status),
		ActorID:        cmd.Actor.CustomerID,
		OccurredAt:     now,
	})
	s.notifyStatus(ctx, updated, next)

	return updated, nil
}

// loadOrder fetches an order and checks actor may see it. Guest orders are
// reachable by id alone.
func (s *orderService) loadOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if err := authorize(actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func authorize(actor Actor, order Order) error {
	if actor.Privileged() || order.IsGuest() {
		return nil
	}
	if customer := strings.TrimSpace(actor.CustomerID); customer != "" && customer == order.CustomerID {
		return nil
	}
	return ErrOrderAccessDenied
}

func (s *orderService) handoff(cmd CreateOrderCommand, settings StoreSettings) (*DeliveryInfo, *PickupInfo, error) {
	switch cmd.OrderType {
	case domain.OrderTypeDelivery:
		if cmd.DeliveryInfo == nil {
			return nil, nil, fmt.Errorf("%w: delivery info is required for delivery orders", ErrOrderInvalidInput)
		}
		if cmd.PickupInfo != nil {
			return nil, nil, fmt.Errorf("%w: pickup info is not allowed on delivery orders", ErrOrderInvalidInput)
		}
		info := *cmd.DeliveryInfo
		info.FullName = s.clean(info.FullName)
		info.ContactNumber = s.clean(info.ContactNumber)
		info.Address = s.clean(info.Address)
		info.Date = strings.TrimSpace(info.Date)
		info.TimeSlot = strings.TrimSpace(info.TimeSlot)
		info.SpecialInstructions = s.clean(info.SpecialInstructions)
		if info.Address == "" {
			return nil, nil, fmt.Errorf("%w: delivery address is required", ErrOrderInvalidInput)
		}
		if err := checkHandoff("delivery", info.FullName, info.ContactNumber, info.Date, info.TimeSlot, settings); err != nil {
			return nil, nil, err
		}
		return &info, nil, nil
	default:
		if cmd.PickupInfo == nil {
			return nil, nil, fmt.Errorf("%w: pickup info is required for pickup orders", ErrOrderInvalidInput)
		}
		if cmd.DeliveryInfo != nil {
			return nil, nil, fmt.Errorf("%w: delivery info is not allowed on pickup orders", ErrOrderInvalidInput)
		}
		info := *cmd.PickupInfo
		info.FullName = s.clean(info.FullName)
		info.ContactNumber = s.clean(info.ContactNumber)
		info.Date = strings.TrimSpace(info.Date)
		info.TimeSlot = strings.TrimSpace(info.TimeSlot)
		info.SpecialInstructions = s.clean(info.SpecialInstructions)
		if err := checkHandoff("pickup", info.FullName, info.ContactNumber, info.Date, info.TimeSlot, settings); err != nil {
			return nil, nil, err
		}
		return nil, &info, nil
	}
}

func checkHandoff(kind, name, contact, date, slot string, settings StoreSettings) error {
	if name == "" {
		return fmt.Errorf("%w: %s full name is required", ErrOrderInvalidInput, kind)
	}
	if contact == "" {
		return fmt.Errorf("%w: %s contact number is required", ErrOrderInvalidInput, kind)
	}
	if _, err := time.Parse(handoffDateLayout, date); err != nil {
		return fmt.Errorf("%w: %s date must be YYYY-MM-DD", ErrOrderInvalidInput, kind)
	}
	if slot == "" {
		return fmt.Errorf("%w: %s time slot is required", ErrOrderInvalidInput, kind)
	}
	if len(settings.AvailableTimeSlots) > 0 && !slices.Contains(settings.AvailableTimeSlots, slot) {
		return fmt.Errorf("%w: time slot %q is not available", ErrOrderInvalidInput, slot)
	}
	return nil
}

// clean strips markup from customer-supplied text.
func (s *orderService) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

// nextOrderNumber returns NC-YYYYMMDD-NNNNNN from a per-day counter.
func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.In(s.location).Format("20060102")
	seq, err := s.counters.Next(ctx, "orders:"+day, 1)
	if err != nil {
		return "", mapOrderRepositoryError(err)
	}
	return fmt.Sprintf("%s-%s-%06d", orderNumberPrefix, day, seq), nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}

func (s *orderService) notify(ctx context.Context, kind string, order Order, send func(Notifier) error) {
	if s.notifier == nil {
		return
	}
	if err := send(s.notifier); err != nil {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"kind":  kind,
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) notifyStatus(ctx context.Context, order Order, status OrderStatus) {
	s.notify(ctx, "status_update", order, func(n Notifier) error {
		return n.SendStatusUpdate(ctx, order, status)
	})
}

func (s *orderService) archiveReceipt(ctx context.Context, order Order) {
	if s.receipts == nil {
		return
	}
	if err := s.receipts.ArchiveReceipt(ctx, order); err != nil {
		s.logger(ctx, "order.receipt.archive.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}
