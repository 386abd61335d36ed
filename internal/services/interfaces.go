package services

import (
	"context"
	"time"

	domain "github.com/nanacafe/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	DeliveryInfo       = domain.DeliveryInfo
	PickupInfo         = domain.PickupInfo
	StoreSettings      = domain.StoreSettings
	SystemHealthReport = domain.SystemHealthReport
)

// Actor identifies the caller of an order operation. The zero Actor is an
// unauthenticated guest.
type Actor struct {
	CustomerID string
	Email      string
	Admin      bool
	Staff      bool
}

// Privileged reports callers allowed to see and manage every order.
func (a Actor) Privileged() bool { return a.Admin || a.Staff }

// OrderService drives orders from creation through payment and fulfilment.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (Order, error)
	ListOrders(ctx context.Context, cmd ListOrdersCommand) (domain.OffsetPage[Order], error)
	SetStatus(ctx context.Context, cmd SetStatusCommand) (Order, error)

	RequestPaymentIntent(ctx context.Context, cmd PaymentIntentCommand) (PaymentIntent, error)
	ReconcilePayment(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
	ApplyPaymentEvent(ctx context.Context, cmd PaymentEventCommand) (ReconcileResult, error)
	ReconcilePending(ctx context.Context, cmd SweepCommand) (SweepResult, error)
	RefundPayment(ctx context.Context, cmd RefundCommand) (Order, error)
}

// SettingsService exposes the store settings document.
type SettingsService interface {
	GetSettings(ctx context.Context) (StoreSettings, error)
	UpdateSettings(ctx context.Context, cmd UpdateSettingsCommand) (StoreSettings, error)
	TimeSlots(ctx context.Context) ([]string, error)
	DeliveryInfo(ctx context.Context) (DeliveryTerms, error)
	FeeSchedule(ctx context.Context) (domain.FeeSchedule, error)
}

// SystemService aggregates utility endpoints (health checks, build metadata).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Notifier delivers customer and staff notifications about an order. Failures
// are reported to the caller, which only logs them.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order Order) error
	SendStatusUpdate(ctx context.Context, order Order, status OrderStatus) error
	SendAdminNotification(ctx context.Context, order Order) error
}

// ReceiptArchiver stores a copy of the receipt of a paid order.
type ReceiptArchiver interface {
	ArchiveReceipt(ctx context.Context, order Order) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	Status         string
	PaymentStatus  string
	PreviousStatus string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// CreateOrderCommand carries a checkout submission. Line totals on Items are
// ignored and recomputed.
type CreateOrderCommand struct {
	Actor         Actor
	CustomerEmail string
	OrderType     domain.OrderType
	Items         []OrderItem
	DeliveryInfo  *DeliveryInfo
	PickupInfo    *PickupInfo
	PaymentMethod PaymentMethod
	Notes         string
}

// GetOrderCommand loads a single order on behalf of Actor.
type GetOrderCommand struct {
	Actor   Actor
	OrderID string
}

// ListOrdersCommand lists orders visible to Actor. Non-privileged callers
// always see only their own orders.
type ListOrdersCommand struct {
	Actor         Actor
	CustomerID    string
	Status        []OrderStatus
	PaymentStatus []PaymentStatus
	OrderType     domain.OrderType
	Skip          int
	Limit         int
}

// SetStatusCommand moves an order to Status.
type SetStatusCommand struct {
	Actor           Actor
	OrderID         string
	Status          OrderStatus
	ExpectedVersion *int64
}

// PaymentIntentCommand requests a processor intent for an order.
type PaymentIntentCommand struct {
	Actor   Actor
	OrderID string
}

// PaymentIntent is what a client needs to complete payment.
type PaymentIntent struct {
	OrderID         string
	OrderNumber     string
	IntentID        string
	ClientSecret    string
	Amount          domain.Money
	Currency        string
	ProcessorStatus string
	Reused          bool
}

// ReconcileCommand pulls the processor state of an order's intent.
type ReconcileCommand struct {
	Actor   Actor
	OrderID string
}

// PaymentEventCommand applies a verified processor event.
type PaymentEventCommand struct {
	EventID         string
	EventType       string
	IntentID        string
	OrderID         string
	ProcessorStatus string
	AmountReceived  domain.Money
}

// ReconcileResult reports the statuses after reconciliation. Superseded is set
// when the processor status belongs to an intent the order has since replaced;
// nothing is written in that case.
type ReconcileResult struct {
	Order           Order
	ProcessorStatus string
	PaymentStatus   PaymentStatus
	OrderStatus     OrderStatus
	Changed         bool
	Superseded      bool
}

// SweepCommand bounds a reconciliation sweep. Orders younger than MinAge are
// skipped so customers can finish paying.
type SweepCommand struct {
	Limit  int
	MinAge time.Duration
}

// SweepResult summarises a reconciliation sweep.
type SweepResult struct {
	Scanned  int
	Updated  int
	Failed   int
	Failures []SweepFailure
}

// SweepFailure records one order the sweep could not reconcile.
type SweepFailure struct {
	OrderID string
	Error   string
}

// RefundCommand refunds a paid order. A nil Amount refunds what remains.
type RefundCommand struct {
	Actor   Actor
	OrderID string
	Amount  *domain.Money
	Reason  string
}

// UpdateSettingsCommand is a partial settings update. Nil fields are kept.
type UpdateSettingsCommand struct {
	CafeName              *string
	Tagline               *string
	ContactEmail          *string
	ContactPhone          *string
	Address               *string
	DeliveryFee           *domain.Money
	FreeDeliveryThreshold *domain.Money
	MinOrderAmount        *domain.Money
	AvailableTimeSlots    []string
	IsAcceptingOrders     *bool
	MaintenanceMode       *bool
}

// DeliveryTerms is the public summary of delivery pricing.
type DeliveryTerms struct {
	DeliveryFee           domain.Money
	FreeDeliveryThreshold domain.Money
	MinOrderAmount        domain.Money
	IsAcceptingOrders     bool
}
