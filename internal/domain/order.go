package domain

import "time"

// OrderType distinguishes delivery orders from in-store pickups.
type OrderType string

const (
	OrderTypeDelivery OrderType = "delivery"
	OrderTypePickup   OrderType = "pickup"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == OrderTypeDelivery || t == OrderTypePickup
}

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// OrderStatuses lists every status in progression order, cancelled last.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusOutForDelivery,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// PaymentStatus is the local view of the processor payment state.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod is how the customer intends to pay.
type PaymentMethod string

const (
	PaymentMethodStripe         PaymentMethod = "stripe"
	PaymentMethodCash           PaymentMethod = "cash"
	PaymentMethodOnlineTransfer PaymentMethod = "online_transfer"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodStripe, PaymentMethodCash, PaymentMethodOnlineTransfer:
		return true
	}
	return false
}

// SettledOffline reports methods that are collected outside the processor.
func (m PaymentMethod) SettledOffline() bool {
	return m == PaymentMethodCash || m == PaymentMethodOnlineTransfer
}

// OrderItem is a purchased product line. LineTotal is always Quantity*UnitPrice.
type OrderItem struct {
	ProductID           string
	ProductName         string
	Quantity            int
	UnitPrice           Money
	LineTotal           Money
	SpecialInstructions string
}

// DeliveryInfo carries the hand-off details of a delivery order.
type DeliveryInfo struct {
	FullName            string
	ContactNumber       string
	Address             string
	Date                string
	TimeSlot            string
	SpecialInstructions string
}

// PickupInfo carries the hand-off details of a pickup order.
type PickupInfo struct {
	FullName            string
	ContactNumber       string
	Date                string
	TimeSlot            string
	SpecialInstructions string
}

// Order is the persisted order record.
type Order struct {
	ID              string
	OrderNumber     string
	CustomerID      string
	CustomerEmail   string
	OrderType       OrderType
	Items           []OrderItem
	Subtotal        Money
	DeliveryFee     Money
	Total           Money
	Currency        string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   PaymentMethod
	PaymentIntentID string
	AmountReceived  Money
	RefundedAmount  Money
	DeliveryInfo    *DeliveryInfo
	PickupInfo      *PickupInfo
	Notes           string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
}

// IsGuest reports orders placed without an authenticated customer.
func (o Order) IsGuest() bool { return o.CustomerID == "" }

// TimeSlot returns the slot of whichever hand-off info is present.
func (o Order) TimeSlot() string {
	switch {
	case o.DeliveryInfo != nil:
		return o.DeliveryInfo.TimeSlot
	case o.PickupInfo != nil:
		return o.PickupInfo.TimeSlot
	}
	return ""
}

// OrderPatch describes a partial update applied to a stored order. Nil fields
// are left untouched. When ExpectedVersion is set the update only succeeds if
// the stored version still matches.
type OrderPatch struct {
	ExpectedVersion *int64
	Status          *OrderStatus
	PaymentStatus   *PaymentStatus
	PaymentIntentID *string
	AmountReceived  *Money
	RefundedAmount  *Money
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
}

// Apply returns a copy of order with the patch fields applied and the version bumped.
func (p OrderPatch) Apply(order Order) Order {
	if p.Status != nil {
		order.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		order.PaymentStatus = *p.PaymentStatus
	}
	if p.PaymentIntentID != nil {
		order.PaymentIntentID = *p.PaymentIntentID
	}
	if p.AmountReceived != nil {
		order.AmountReceived = *p.AmountReceived
	}
	if p.RefundedAmount != nil {
		order.RefundedAmount = *p.RefundedAmount
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		order.CompletedAt = &at
	}
	if p.CancelledAt != nil {
		at := *p.CancelledAt
		order.CancelledAt = &at
	}
	if !p.UpdatedAt.IsZero() {
		at := p.UpdatedAt
		order.UpdatedAt = &at
	}
	order.Version++
	return order
}

// OffsetPage is one page of an offset-paginated listing.
type OffsetPage[T any] struct {
	Items   []T
	Skip    int
	Limit   int
	Total   int64
	HasMore bool
}
