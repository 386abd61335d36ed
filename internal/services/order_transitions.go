package services

import (
	"fmt"
	"slices"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/payments"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:        {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:      {domain.OrderStatusPreparing, domain.OrderStatusCancelled},
	domain.OrderStatusPreparing:      {domain.OrderStatusReady, domain.OrderStatusCancelled},
	domain.OrderStatusReady:          {domain.OrderStatusOutForDelivery, domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

// statuses that need a settled payment before an order may enter them
var paidOnlyStatuses = []domain.OrderStatus{
	domain.OrderStatusPreparing,
	domain.OrderStatusReady,
	domain.OrderStatusOutForDelivery,
	domain.OrderStatusCompleted,
}

// CheckTransition validates moving order to next. Pickup orders go from ready
// straight to completed; delivery orders pass through out_for_delivery.
func CheckTransition(order Order, next OrderStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, next)
	}
	current := order.Status
	if current.Terminal() {
		return fmt.Errorf("%w: order is %s", ErrOrderInvalidTransition, current)
	}
	if !slices.Contains(orderStateTransitions[current], next) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, current, next)
	}
	if current == domain.OrderStatusReady {
		switch {
		case next == domain.OrderStatusOutForDelivery && order.OrderType != domain.OrderTypeDelivery:
			return fmt.Errorf("%w: pickup orders are not delivered", ErrOrderInvalidTransition)
		case next == domain.OrderStatusCompleted && order.OrderType == domain.OrderTypeDelivery:
			return fmt.Errorf("%w: delivery orders must go out for delivery first", ErrOrderInvalidTransition)
		}
	}
	if slices.Contains(paidOnlyStatuses, next) && order.PaymentStatus != domain.PaymentStatusPaid && !order.PaymentMethod.SettledOffline() {
		return fmt.Errorf("%w: payment is %s", ErrOrderInvalidState, order.PaymentStatus)
	}
	return nil
}

// ReconcileOutcome is the local state derived from a processor status.
type ReconcileOutcome struct {
	PaymentStatus PaymentStatus
	OrderStatus   OrderStatus
	Changed       bool
}

// EnteredConfirmed reports whether applying the outcome confirms order.
func (o ReconcileOutcome) EnteredConfirmed(order Order) bool {
	return o.OrderStatus == domain.OrderStatusConfirmed && order.Status != domain.OrderStatusConfirmed
}

// Reconcile maps processorStatus onto order. A paid pending order becomes
// confirmed; any other order status is left alone. Paid and refunded payments
// are never downgraded.
func Reconcile(order Order, processorStatus string) ReconcileOutcome {
	mapped := payments.MapProcessorStatus(processorStatus)
	outcome := ReconcileOutcome{PaymentStatus: mapped, OrderStatus: order.Status}

	switch order.PaymentStatus {
	case domain.PaymentStatusRefunded:
		outcome.PaymentStatus = domain.PaymentStatusRefunded
	case domain.PaymentStatusPaid:
		outcome.PaymentStatus = domain.PaymentStatusPaid
	}

	if outcome.PaymentStatus == domain.PaymentStatusPaid && order.Status == domain.OrderStatusPending {
		outcome.OrderStatus = domain.OrderStatusConfirmed
	}
	outcome.Changed = outcome.PaymentStatus != order.PaymentStatus || outcome.OrderStatus != order.Status
	return outcome
}
