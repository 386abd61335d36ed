package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/payments"
	"github.com/nanacafe/api/internal/repositories"
)

type testRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e testRepoError) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	case e.unavailable:
		return "unavailable"
	}
	return "repository failure"
}

func (e testRepoError) IsNotFound() bool    { return e.notFound }
func (e testRepoError) IsConflict() bool    { return e.conflict }
func (e testRepoError) IsUnavailable() bool { return e.unavailable }

type memOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	insertErr error
	updateErr error
	updates   []domain.OrderPatch
	filters   []repositories.OrderListFilter
}

func newMemOrderRepo(orders ...domain.Order) *memOrderRepo {
	repo := &memOrderRepo{orders: map[string]domain.Order{}}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (r *memOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, ok := r.orders[order.ID]; ok {
		return testRepoError{conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, testRepoError{notFound: true}
	}
	return order, nil
}

func (r *memOrderRepo) Update(_ context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return domain.Order{}, r.updateErr
	}
	current, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, testRepoError{notFound: true}
	}
	if patch.ExpectedVersion != nil && *patch.ExpectedVersion != current.Version {
		return domain.Order{}, testRepoError{conflict: true}
	}
	r.updates = append(r.updates, patch)
	updated := patch.Apply(current)
	r.orders[orderID] = updated
	return updated, nil
}

func (r *memOrderRepo) matching(filter repositories.OrderListFilter) []domain.Order {
	var out []domain.Order
	for _, order := range r.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
			continue
		}
		if len(filter.PaymentStatus) > 0 && !slices.Contains(filter.PaymentStatus, order.PaymentStatus) {
			continue
		}
		if filter.OrderType != "" && order.OrderType != filter.OrderType {
			continue
		}
		if filter.RequireIntent && order.PaymentIntentID == "" {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, filter)
	all := r.matching(filter)
	page := domain.OffsetPage[domain.Order]{Skip: filter.Skip, Limit: filter.Limit}
	if filter.Skip >= len(all) {
		return page, nil
	}
	all = all[filter.Skip:]
	if len(all) > filter.Limit {
		all = all[:filter.Limit]
		page.HasMore = true
	}
	page.Items = all
	return page, nil
}

func (r *memOrderRepo) Count(_ context.Context, filter repositories.OrderListFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.matching(filter))), nil
}

func (r *memOrderRepo) get(id string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id]
}

type stubCounterRepo struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func (s *stubCounterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if s.values == nil {
		s.values = map[string]int64{}
	}
	s.values[counterID] += step
	return s.values[counterID], nil
}

type stubSettingsService struct {
	settings StoreSettings
	err      error
}

func (s *stubSettingsService) GetSettings(context.Context) (StoreSettings, error) {
	return s.settings, s.err
}

func (s *stubSettingsService) UpdateSettings(context.Context, UpdateSettingsCommand) (StoreSettings, error) {
	return s.settings, s.err
}

func (s *stubSettingsService) TimeSlots(context.Context) ([]string, error) {
	return s.settings.AvailableTimeSlots, s.err
}

func (s *stubSettingsService) DeliveryInfo(context.Context) (DeliveryTerms, error) {
	return DeliveryTerms{}, s.err
}

func (s *stubSettingsService) FeeSchedule(context.Context) (domain.FeeSchedule, error) {
	return s.settings.FeeSchedule(), s.err
}

type fakeGateway struct {
	mu        sync.Mutex
	createFn  func(payments.IntentRequest) (payments.Intent, error)
	confirmFn func(string) (payments.Confirmation, error)
	refundFn  func(payments.RefundRequest) (payments.Refund, error)
	creates   []payments.IntentRequest
	confirms  []string
	refunds   []payments.RefundRequest
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
	g.mu.Lock()
	g.creates = append(g.creates, req)
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(req)
	}
	return payments.Intent{ID: "pi_" + req.OrderID, ClientSecret: "secret_" + req.OrderID, Amount: req.Amount, Status: "requires_payment_method"}, nil
}

func (g *fakeGateway) ConfirmPayment(_ context.Context, intentID string) (payments.Confirmation, error) {
	g.mu.Lock()
	g.confirms = append(g.confirms, intentID)
	g.mu.Unlock()
	if g.confirmFn != nil {
		return g.confirmFn(intentID)
	}
	return payments.Confirmation{IntentID: intentID, Status: "requires_payment_method"}, nil
}

func (g *fakeGateway) RefundPayment(_ context.Context, req payments.RefundRequest) (payments.Refund, error) {
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	g.mu.Unlock()
	if g.refundFn != nil {
		return g.refundFn(req)
	}
	refund := payments.Refund{ID: "re_1", Status: "succeeded"}
	if req.Amount != nil {
		refund.Amount = *req.Amount
	}
	return refund, nil
}

type notification struct {
	kind   string
	order  string
	status domain.OrderStatus
}

type captureNotifier struct {
	mu     sync.Mutex
	sent   []notification
	err    error
	onSend func(notification)
}

func (n *captureNotifier) record(entry notification) error {
	n.mu.Lock()
	n.sent = append(n.sent, entry)
	onSend := n.onSend
	n.mu.Unlock()
	if onSend != nil {
		onSend(entry)
	}
	return n.err
}

func (n *captureNotifier) SendOrderConfirmation(_ context.Context, order Order) error {
	return n.record(notification{kind: "order_confirmation", order: order.ID})
}

func (n *captureNotifier) SendStatusUpdate(_ context.Context, order Order, status OrderStatus) error {
	return n.record(notification{kind: "status_update", order: order.ID, status: status})
}

func (n *captureNotifier) SendAdminNotification(_ context.Context, order Order) error {
	return n.record(notification{kind: "admin_notification", order: order.ID})
}

func (n *captureNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, entry := range n.sent {
		out = append(out, entry.kind)
	}
	return out
}

type captureArchiver struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (a *captureArchiver) ArchiveReceipt(_ context.Context, order Order) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders = append(a.orders, order.ID)
	return a.err
}

type capturePublisher struct {
	events []OrderEvent
	err    error
}

func (p *capturePublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.events = append(p.events, event)
	return p.err
}

type logEntry struct {
	event  string
	fields map[string]any
}

type orderFixture struct {
	repo     *memOrderRepo
	counters *stubCounterRepo
	settings *stubSettingsService
	gateway  *fakeGateway
	notifier *captureNotifier
	receipts *captureArchiver
	events   *capturePublisher
	logs     []logEntry
	now      time.Time
}

func (f *orderFixture) logged(event string) (logEntry, bool) {
	for _, entry := range f.logs {
		if entry.event == event {
			return entry, true
		}
	}
	return logEntry{}, false
}

func newOrderFixture(t *testing.T, orders ...domain.Order) (*orderFixture, OrderService) {
	t.Helper()
	fx := &orderFixture{
		repo:     newMemOrderRepo(orders...),
		counters: &stubCounterRepo{},
		settings: &stubSettingsService{settings: domain.DefaultStoreSettings()},
		gateway:  &fakeGateway{},
		notifier: &captureNotifier{},
		receipts: &captureArchiver{},
		events:   &capturePublisher{},
		now:      time.Date(2024, time.May, 1, 9, 30, 0, 0, time.UTC),
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      fx.repo,
		Counters:    fx.counters,
		Settings:    fx.settings,
		Gateway:     fx.gateway,
		Notifier:    fx.notifier,
		Receipts:    fx.receipts,
		Events:      fx.events,
		Clock:       func() time.Time { return fx.now },
		IDGenerator: func() string { return "01TEST" },
		Logger: func(_ context.Context, event string, fields map[string]any) {
			fx.logs = append(fx.logs, logEntry{event: event, fields: fields})
		},
	})
	require.NoError(t, err)
	return fx, svc
}

func pickupCommand() CreateOrderCommand {
	return CreateOrderCommand{
		Actor:         Actor{CustomerID: "cust-1", Email: "ana@example.com"},
		OrderType:     domain.OrderTypePickup,
		Items:         []OrderItem{{ProductID: "ube-cake", ProductName: "Ube Cake", Quantity: 1, UnitPrice: domain.Major(150)}},
		PickupInfo:    &PickupInfo{FullName: "Ana", ContactNumber: "0917", Date: "2024-05-02", TimeSlot: "9:00 AM - 10:00 AM"},
		PaymentMethod: domain.PaymentMethodStripe,
	}
}

func storedOrder(id string, mutate func(*domain.Order)) domain.Order {
	order := domain.Order{
		ID:            id,
		OrderNumber:   "NC-20240501-000007",
		CustomerID:    "cust-1",
		CustomerEmail: "ana@example.com",
		OrderType:     domain.OrderTypePickup,
		Items:         []domain.OrderItem{{ProductID: "latte", ProductName: "Latte", Quantity: 2, UnitPrice: domain.Major(90), LineTotal: domain.Major(180)}},
		Subtotal:      domain.Major(180),
		Total:         domain.Major(180),
		Currency:      domain.DefaultCurrency,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: domain.PaymentMethodStripe,
		PickupInfo:    &domain.PickupInfo{FullName: "Ana", ContactNumber: "0917", Date: "2024-05-02", TimeSlot: "9:00 AM - 10:00 AM"},
		Version:       1,
		CreatedAt:     time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(&order)
	}
	return order
}

func TestNewOrderServiceRequiresDependencies(t *testing.T) {
	_, err := NewOrderService(OrderServiceDeps{})
	require.Error(t, err)
	_, err = NewOrderService(OrderServiceDeps{Orders: newMemOrderRepo(), Counters: &stubCounterRepo{}, Settings: &stubSettingsService{}})
	require.Error(t, err, "gateway is required")
}

func TestOrderServiceCreateOrderPickup(t *testing.T) {
	fx, svc := newOrderFixture(t)

	order, err := svc.CreateOrder(context.Background(), pickupCommand())
	require.NoError(t, err)

	assert.Equal(t, "ord_01TEST", order.ID)
	assert.Equal(t, "NC-20240501-000001", order.OrderNumber)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, domain.Major(150), order.Subtotal)
	assert.Equal(t, domain.Money(0), order.DeliveryFee)
	assert.Equal(t, domain.Major(150), order.Total)
	assert.Equal(t, "ana@example.com", order.CustomerEmail)
	assert.Nil(t, order.DeliveryInfo)
	assert.Nil(t, order.CompletedAt)
	assert.Equal(t, domain.Major(150), order.Items[0].LineTotal)

	stored := fx.repo.get(order.ID)
	assert.Equal(t, order.OrderNumber, stored.OrderNumber)

	assert.Equal(t, []string{"order_confirmation", "admin_notification"}, fx.notifier.kinds())
	require.Len(t, fx.events.events, 1)
	assert.Equal(t, orderEventCreated, fx.events.events[0].Type)
	assert.Equal(t, "pending", fx.events.events[0].Status)
}

func TestOrderServiceCreateOrderDeliveryFee(t *testing.T) {
	_, svc := newOrderFixture(t)
	cmd := CreateOrderCommand{
		OrderType:    domain.OrderTypeDelivery,
		Items:        []OrderItem{{ProductID: "latte", ProductName: "Latte", Quantity: 2, UnitPrice: domain.Major(90)}},
		DeliveryInfo: &DeliveryInfo{FullName: "Ben", ContactNumber: "0918", Address: "12 Mango St", Date: "2024-05-02", TimeSlot: "1:00 PM - 2:00 PM"},
	}

	order, err := svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, domain.Major(50), order.DeliveryFee)
	assert.Equal(t, domain.Major(230), order.Total)
	assert.True(t, order.IsGuest())
	assert.Equal(t, domain.PaymentMethodStripe, order.PaymentMethod, "payment method defaults to stripe")
}

func TestOrderServiceCreateOrderGuestWithoutEmailSkipsConfirmation(t *testing.T) {
	fx, svc := newOrderFixture(t)
	cmd := pickupCommand()
	cmd.Actor = Actor{}

	_, err := svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin_notification"}, fx.notifier.kinds())
}

func TestOrderServiceCreateOrderValidation(t *testing.T) {
	cases := map[string]func(*CreateOrderCommand){
		"delivery without delivery info": func(cmd *CreateOrderCommand) { cmd.OrderType = domain.OrderTypeDelivery },
		"pickup without pickup info":     func(cmd *CreateOrderCommand) { cmd.PickupInfo = nil },
		"pickup with delivery info": func(cmd *CreateOrderCommand) {
			cmd.DeliveryInfo = &DeliveryInfo{FullName: "Ana", ContactNumber: "0917", Address: "x", Date: "2024-05-02", TimeSlot: "9:00 AM - 10:00 AM"}
		},
		"unknown order type":     func(cmd *CreateOrderCommand) { cmd.OrderType = "drone" },
		"no items":               func(cmd *CreateOrderCommand) { cmd.Items = nil },
		"zero quantity":          func(cmd *CreateOrderCommand) { cmd.Items[0].Quantity = 0 },
		"missing product name":   func(cmd *CreateOrderCommand) { cmd.Items[0].ProductName = "<b></b>" },
		"bad date":               func(cmd *CreateOrderCommand) { cmd.PickupInfo.Date = "May 2" },
		"unavailable time slot":  func(cmd *CreateOrderCommand) { cmd.PickupInfo.TimeSlot = "11:00 PM - 12:00 AM" },
		"missing contact":        func(cmd *CreateOrderCommand) { cmd.PickupInfo.ContactNumber = " " },
		"bad email":              func(cmd *CreateOrderCommand) { cmd.CustomerEmail = "not-an-email" },
		"unknown payment method": func(cmd *CreateOrderCommand) { cmd.PaymentMethod = "gcash" },
		"below minimum": func(cmd *CreateOrderCommand) {
			cmd.Items[0].UnitPrice = domain.Major(50)
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			fx, svc := newOrderFixture(t)
			cmd := pickupCommand()
			info := *cmd.PickupInfo
			cmd.PickupInfo = &info
			mutate(&cmd)

			_, err := svc.CreateOrder(context.Background(), cmd)
			require.ErrorIs(t, err, ErrOrderInvalidInput)
			assert.Empty(t, fx.repo.orders, "nothing may be stored on validation failure")
			assert.Empty(t, fx.notifier.kinds())
		})
	}
}

func TestOrderServiceCreateOrderStoreClosed(t *testing.T) {
	fx, svc := newOrderFixture(t)
	fx.settings.settings.IsAcceptingOrders = false

	_, err := svc.CreateOrder(context.Background(), pickupCommand())
	require.ErrorIs(t, err, ErrOrderUnavailable)

	fx.settings.settings.IsAcceptingOrders = true
	fx.settings.settings.MaintenanceMode = true
	_, err = svc.CreateOrder(context.Background(), pickupCommand())
	require.ErrorIs(t, err, ErrOrderUnavailable)
	assert.Empty(t, fx.repo.orders)
}

func TestOrderServiceCreateOrderSanitisesFreeText(t *testing.T) {
	fx, svc := newOrderFixture(t)
	cmd := pickupCommand()
	cmd.Notes = `<a href="javascript:alert(1)">Extra</a> hot & sweet`
	cmd.PickupInfo.FullName = "<i>Ana</i>"

	order, err := svc.CreateOrder(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, "Extra hot & sweet", order.Notes)
	assert.Equal(t, "Ana", fx.repo.get(order.ID).PickupInfo.FullName)
}

func TestOrderServiceCreateOrderNotificationFailureIsSwallowed(t *testing.T) {
	fx, svc := newOrderFixture(t)
	fx.notifier.err = errors.New("smtp down")
	fx.events.err = errors.New("pubsub down")

	order, err := svc.CreateOrder(context.Background(), pickupCommand())
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)

	entry, ok := fx.logged("order.notification.failed")
	require.True(t, ok)
	assert.Equal(t, order.ID, entry.fields["order"])
	_, ok = fx.logged("order.event.publish.failed")
	assert.True(t, ok)
}

func TestOrderServiceCreateOrderStorageFailure(t *testing.T) {
	fx, svc := newOrderFixture(t)
	fx.repo.insertErr = testRepoError{unavailable: true}

	_, err := svc.CreateOrder(context.Background(), pickupCommand())
	require.ErrorIs(t, err, ErrOrderStorage)
	assert.True(t, IsStorageUnavailable(err))
	assert.Empty(t, fx.notifier.kinds(), "notifications only fire after a successful write")
}

func TestOrderServiceOrderNumbersAreSequentialPerDay(t *testing.T) {
	fx, svc := newOrderFixture(t)
	ids := []string{"A", "B"}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   fx.repo,
		Counters: fx.counters,
		Settings: fx.settings,
		Gateway:  fx.gateway,
		Clock:    func() time.Time { return fx.now },
		IDGenerator: func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		},
	})
	require.NoError(t, err)

	first, err := svc.CreateOrder(context.Background(), pickupCommand())
	require.NoError(t, err)
	second, err := svc.CreateOrder(context.Background(), pickupCommand())
	require.NoError(t, err)

	assert.Equal(t, "NC-20240501-000001", first.OrderNumber)
	assert.Equal(t, "NC-20240501-000002", second.OrderNumber)
	assert.Equal(t, int64(2), fx.counters.values["orders:20240501"])
}

func TestOrderServiceGetOrderAccess(t *testing.T) {
	owned := storedOrder("ord_owned", nil)
	guest := storedOrder("ord_guest", func(o *domain.Order) { o.CustomerID = "" })
	_, svc := newOrderFixture(t, owned, guest)
	ctx := context.Background()

	got, err := svc.GetOrder(ctx, GetOrderCommand{Actor: Actor{CustomerID: "cust-1"}, OrderID: owned.ID})
	require.NoError(t, err)
	assert.Equal(t, owned.ID, got.ID)

	_, err = svc.GetOrder(ctx, GetOrderCommand{Actor: Actor{CustomerID: "cust-2"}, OrderID: owned.ID})
	require.ErrorIs(t, err, ErrOrderAccessDenied)

	_, err = svc.GetOrder(ctx, GetOrderCommand{OrderID: owned.ID})
	require.ErrorIs(t, err, ErrOrderAccessDenied)

	_, err = svc.GetOrder(ctx, GetOrderCommand{Actor: Actor{Admin: true}, OrderID: owned.ID})
	require.NoError(t, err)

	_, err = svc.GetOrder(ctx, GetOrderCommand{OrderID: guest.ID})
	require.NoError(t, err, "guest orders are reachable by id")

	_, err = svc.GetOrder(ctx, GetOrderCommand{Actor: Actor{Admin: true}, OrderID: "ord_missing"})
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderServiceListOrdersScopesCustomers(t *testing.T) {
	mine := storedOrder("ord_mine", nil)
	theirs := storedOrder("ord_theirs", func(o *domain.Order) { o.CustomerID = "cust-2" })
	fx, svc := newOrderFixture(t, mine, theirs)
	ctx := context.Background()

	page, err := svc.ListOrders(ctx, ListOrdersCommand{Actor: Actor{CustomerID: "cust-1"}, CustomerID: "cust-2"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "ord_mine", page.Items[0].ID)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, defaultOrderListLimit, fx.repo.filters[0].Limit)

	_, err = svc.ListOrders(ctx, ListOrdersCommand{})
	require.ErrorIs(t, err, ErrOrderAccessDenied)

	page, err = svc.ListOrders(ctx, ListOrdersCommand{Actor: Actor{Admin: true}, Limit: 1000, Skip: -5})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	last := fx.repo.filters[len(fx.repo.filters)-1]
	assert.Equal(t, maxOrderListLimit, last.Limit)
	assert.Equal(t, 0, last.Skip)

	page, err = svc.ListOrders(ctx, ListOrdersCommand{Actor: Actor{Staff: true}, CustomerID: "cust-2"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "ord_theirs", page.Items[0].ID)

	_, err = svc.ListOrders(ctx, ListOrdersCommand{Actor: Actor{Admin: true}, Status: []OrderStatus{"lost"}})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestOrderServiceSetStatus(t *testing.T) {
	paidStatus := func(status domain.OrderStatus) func(*domain.Order) {
		return func(o *domain.Order) {
			o.Status = status
			o.PaymentStatus = domain.PaymentStatusPaid
		}
	}
	ctx := context.Background()
	admin := Actor{CustomerID: "admin-1", Admin: true}

	t.Run("completed stamps completion time", func(t *testing.T) {
		fx, svc := newOrderFixture(t, storedOrder("ord_1", paidStatus(domain.OrderStatusReady)))

		order, err := svc.SetStatus(ctx, SetStatusCommand{Actor: admin, OrderID: "ord_1", Status: domain.OrderStatusCompleted})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCompleted, order.Status)
		require.NotNil(t, order.CompletedAt)
		assert.Equal(t, fx.now, *order.CompletedAt)
		assert.Nil(t, order.CancelledAt)
		assert.Equal(t, int64(2), order.Version)

		require.Len(t, fx.notifier.sent, 1)
		assert.Equal(t, domain.OrderStatusCompleted, fx.notifier.sent[0].status)
		require.Len(t, fx.events.events, 1)
		assert.Equal(t, "ready", fx.events.events[0].PreviousStatus)
	})

	t.Run("other statuses leave completion unset", func(t *testing.T) {
		_, svc := newOrderFixture(t, storedOrder("ord_1", paidStatus(domain.OrderStatusConfirmed)))
		order, err := svc.SetStatus(ctx, SetStatusCommand{Actor: admin, OrderID: "ord_1", Status: domain.OrderStatusPreparing})
		require.NoError(t, err)
		assert.Nil(t, order.CompletedAt)
	})

	t.Run("cancelled stamps cancellation time", func(t *testing.T) {
		_, svc := newOrderFixture(t, storedOrder("ord_1", nil))
		order, err := svc.SetStatus(ctx, SetStatusCommand{Actor: admin, OrderID: "ord_1", Status: domain.OrderStatusCancelled})
		require.NoError(t, err)
		assert.NotNil(t, order.CancelledAt)
		assert.Nil(t, order.CompletedAt)
	})

	t.Run("customers may not change status", func(t *testing.T) {
		fx, svc := newOrderFixture(t, storedOrder("ord_1", nil))
		_, err := svc.SetStatus(ctx, SetStatusCommand{Actor: Actor{CustomerID: "cust-1"}, OrderID: "ord_1", Status: domain.OrderStatusCancelled})
		require.ErrorIs(t, err, ErrOrderAccessDenied)
		assert.Empty(t, fx.repo.updates)
	})

	t.Run("staff may not change status", func(t *testing.T) {
		fx, svc := newOrderFixture(t, storedOrder("ord_1", nil))
		_, err := svc.SetStatus(ctx, SetStatusCommand{Actor: Actor{CustomerID: "staff-1", Staff: true}, OrderID: "ord_1", Status: domain.OrderStatusPreparing})
		require.ErrorIs(t, err, ErrOrderAccessDenied)
		assert.Empty(t, fx.repo.updates)
	})

	t.Run("invalid transitions are rejected", func(t *testing.T) {
		fx, svc := newOrderFixture(t, storedOrder("ord_1", paidStatus(domain.OrderStatusCompleted)))
		_, err := svc.SetStatus(ctx, SetStatusCommand{Actor: admin, OrderID: "ord_1", Status: domain.OrderStatusCancelled})
		require.ErrorIs(t, err, ErrOrderInvalidTransition)
		assert.Empty(t, fx.repo.updates)
		assert.Empty(t, fx.notifier.kinds())
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		_, svc := newOrderFixture(t, storedOrder("ord_1", paidStatus(domain.OrderStatusConfirmed)))
		stale := int64(0)
		_, err := svc.SetStatus(ctx, SetStatusCommand{Actor: admin, OrderID: "ord_1", Status: domain.OrderStatusPreparing, ExpectedVersion: &stale})
		require.ErrorIs(t, err, ErrOrderConflict)
	})

	t.Run("concurrent writer loses with conflict", func(t *testing.T) {
		fx, svc := newOrderFixture(t, storedOrder("ord_1", paidStatus(domain.OrderStatusConfirmed)))
		fx.repo.updateErr = testRepoError{conflict: true}
		_, err := svc.SetStatus(ctx, SetStatusCommand{Actor: admin, OrderID: "ord_1", Status: domain.OrderStatusPreparing})
		require.ErrorIs(t, err, ErrOrderConflict)
		assert.Empty(t, fx.notifier.kinds())
	})
}

func TestMapOrderRepositoryError(t *testing.T) {
	assert.ErrorIs(t, mapOrderRepositoryError(testRepoError{notFound: true}), ErrOrderNotFound)
	assert.ErrorIs(t, mapOrderRepositoryError(testRepoError{conflict: true}), ErrOrderConflict)
	err := mapOrderRepositoryError(testRepoError{unavailable: true})
	assert.ErrorIs(t, err, ErrOrderStorage)
	assert.True(t, IsStorageUnavailable(err))
	assert.ErrorIs(t, mapOrderRepositoryError(errors.New("boom")), ErrOrderStorage)
	invalid := mapOrderRepositoryError(fmt.Errorf("%w: counter id is required", repositories.ErrInvalidArgument))
	assert.ErrorIs(t, invalid, ErrOrderInvalidInput)
	assert.ErrorIs(t, invalid, repositories.ErrInvalidArgument)
	assert.Nil(t, mapOrderRepositoryError(nil))
	assert.True(t, strings.Contains(mapOrderRepositoryError(testRepoError{conflict: true}).Error(), "conflict"))
}
