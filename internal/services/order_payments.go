package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/payments"
	"github.com/nanacafe/api/internal/repositories"
)

const (
	defaultSweepLimit  = 100
	maxSweepLimit      = 500
	defaultSweepMinAge = 5 * time.Minute
	sweepPageSize      = 100

	paymentEventAttempts = 3
)

func (s *orderService) RequestPaymentIntent(ctx context.Context, cmd PaymentIntentCommand) (PaymentIntent, error) {
	order, err := s.loadOrder(ctx, cmd.Actor, cmd.OrderID)
	if err != nil {
		return PaymentIntent{}, err
	}
	switch {
	case order.PaymentStatus == domain.PaymentStatusPaid || order.PaymentStatus == domain.PaymentStatusRefunded:
		return PaymentIntent{}, fmt.Errorf("%w: order is already paid", ErrOrderInvalidState)
	case order.Status == domain.OrderStatusCancelled:
		return PaymentIntent{}, fmt.Errorf("%w: order is cancelled", ErrOrderInvalidState)
	case order.PaymentMethod != "" && order.PaymentMethod != domain.PaymentMethodStripe:
		return PaymentIntent{}, fmt.Errorf("%w: order is paid by %s", ErrOrderInvalidState, order.PaymentMethod)
	}

	// A failed intent can no longer be paid, so the order gets a fresh one.
	previous := order.PaymentIntentID
	if previous != "" {
		conf, err := s.gateway.ConfirmPayment(ctx, previous)
		if err != nil {
			return PaymentIntent{}, mapGatewayError(err)
		}
		if payments.MapProcessorStatus(conf.Status) != domain.PaymentStatusFailed {
			return PaymentIntent{
				OrderID:         order.ID,
				OrderNumber:     order.OrderNumber,
				IntentID:        conf.IntentID,
				ClientSecret:    conf.ClientSecret,
				Amount:          conf.Amount,
				Currency:        order.Currency,
				ProcessorStatus: conf.Status,
				Reused:          true,
			}, nil
		}
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, payments.IntentRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		CustomerEmail:  order.CustomerEmail,
		Amount:         order.Total,
		Currency:       order.Currency,
		IdempotencyKey: intentIdempotencyKey(order),
	})
	if err != nil {
		return PaymentIntent{}, mapGatewayError(err)
	}

	intentID := intent.ID
	patch := domain.OrderPatch{
		ExpectedVersion: &order.Version,
		PaymentIntentID: &intentID,
		UpdatedAt:       s.clock(),
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		pending := domain.PaymentStatusPending
		patch.PaymentStatus = &pending
	}
	_, err = s.orders.Update(ctx, order.ID, patch)
	if err != nil && !s.intentAlreadyStored(ctx, order.ID, intentID, err) {
		s.logger(ctx, "order.payment_intent.persist_failed", map[string]any{
			"order":  order.ID,
			"intent": intentID,
			"step":   "persist_intent_id",
			"error":  err.Error(),
		})
		return PaymentIntent{}, mapOrderRepositoryError(err)
	}
	if previous != "" {
		s.logger(ctx, "order.payment_intent.replaced", map[string]any{
			"order":    order.ID,
			"intent":   intentID,
			"previous": previous,
		})
	}

	return PaymentIntent{
		OrderID:         order.ID,
		OrderNumber:     order.OrderNumber,
		IntentID:        intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.Amount,
		Currency:        order.Currency,
		ProcessorStatus: intent.Status,
	}, nil
}

// intentIdempotencyKey keys intent creation on the order version. Concurrent
// requests against one version share an intent; a replacement after a failed
// intent is created at a later version and so gets a new one.
func intentIdempotencyKey(order Order) string {
	return fmt.Sprintf("order-%s-intent-%d", order.ID, order.Version)
}

// intentAlreadyStored reports whether a conflicting writer stored the same
// intent. Creation is idempotent per order version so concurrent requests race
// to persist one intent id.
func (s *orderService) intentAlreadyStored(ctx context.Context, orderID, intentID string, err error) bool {
	if !repositories.IsConflict(err) {
		return false
	}
	current, findErr := s.orders.FindByID(ctx, orderID)
	return findErr == nil && current.PaymentIntentID == intentID
}

func (s *orderService) ReconcilePayment(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	order, err := s.loadOrder(ctx, cmd.Actor, cmd.OrderID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if order.PaymentIntentID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: no payment intent found for this order", ErrOrderInvalidState)
	}

	return s.confirmAndApply(ctx, order, "confirm")
}

// confirmAndApply pulls the intent status once and applies it, reloading the
// order when a concurrent writer moved its version.
func (s *orderService) confirmAndApply(ctx context.Context, order Order, source string) (ReconcileResult, error) {
	intentID := order.PaymentIntentID
	conf, err := s.gateway.ConfirmPayment(ctx, intentID)
	if err != nil {
		return ReconcileResult{}, mapGatewayError(err)
	}

	var lastErr error
	for attempt := range paymentEventAttempts {
		if attempt > 0 {
			if order, err = s.orders.FindByID(ctx, order.ID); err != nil {
				return ReconcileResult{}, mapOrderRepositoryError(err)
			}
		}
		if order.PaymentIntentID != intentID {
			return s.supersededResult(ctx, order, intentID, conf.Status, source), nil
		}
		result, err := s.applyProcessorStatus(ctx, order, intentID, conf.Status, conf.AmountReceived, source)
		if !errors.Is(err, ErrOrderConflict) {
			return result, err
		}
		lastErr = err
	}
	return ReconcileResult{}, lastErr
}

// supersededResult acknowledges a status for an intent the order no longer
// uses. The order is returned as stored.
func (s *orderService) supersededResult(ctx context.Context, order Order, intentID, processorStatus, source string) ReconcileResult {
	s.logger(ctx, "order.payment.superseded_intent", map[string]any{
		"order":           order.ID,
		"intent":          intentID,
		"current":         order.PaymentIntentID,
		"processorStatus": processorStatus,
		"source":          source,
	})
	return ReconcileResult{
		Order:           order,
		ProcessorStatus: processorStatus,
		PaymentStatus:   order.PaymentStatus,
		OrderStatus:     order.Status,
		Superseded:      true,
	}
}

func (s *orderService) ApplyPaymentEvent(ctx context.Context, cmd PaymentEventCommand) (ReconcileResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	intentID := strings.TrimSpace(cmd.IntentID)
	if orderID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: payment event carries no order id", ErrOrderInvalidInput)
	}
	if intentID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: payment event carries no intent id", ErrOrderInvalidInput)
	}

	var lastErr error
	for range paymentEventAttempts {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return ReconcileResult{}, mapOrderRepositoryError(err)
		}
		if order.PaymentIntentID != "" && order.PaymentIntentID != intentID {
			return s.supersededResult(ctx, order, intentID, cmd.ProcessorStatus, "webhook"), nil
		}
		result, err := s.applyProcessorStatus(ctx, order, intentID, cmd.ProcessorStatus, cmd.AmountReceived, "webhook")
		if !errors.Is(err, ErrOrderConflict) {
			return result, err
		}
		lastErr = err
	}
	return ReconcileResult{}, lastErr
}

func (s *orderService) ReconcilePending(ctx context.Context, cmd SweepCommand) (SweepResult, error) {
	limit := cmd.Limit
	switch {
	case limit <= 0:
		limit = defaultSweepLimit
	case limit > maxSweepLimit:
		limit = maxSweepLimit
	}
	minAge := cmd.MinAge
	if minAge == 0 {
		minAge = defaultSweepMinAge
	}
	minAge = max(minAge, 0)

	now := s.clock()
	filter := repositories.OrderListFilter{
		PaymentStatus: []domain.PaymentStatus{domain.PaymentStatusPending},
		RequireIntent: true,
		Limit:         min(limit, sweepPageSize),
	}

	var (
		result     SweepResult
		candidates []Order
	)
	for len(candidates) < limit {
		page, err := s.orders.List(ctx, filter)
		if err != nil {
			return result, mapOrderRepositoryError(err)
		}
		for _, order := range page.Items {
			result.Scanned++
			if now.Sub(order.CreatedAt) < minAge {
				continue
			}
			candidates = append(candidates, order)
			if len(candidates) == limit {
				break
			}
		}
		if !page.HasMore || len(page.Items) == 0 {
			break
		}
		filter.Skip += len(page.Items)
	}

	for _, order := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, err := s.reconcileOne(ctx, order)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, SweepFailure{OrderID: order.ID, Error: err.Error()})
			s.logger(ctx, "order.reconcile.sweep.failed", map[string]any{
				"order":  order.ID,
				"intent": order.PaymentIntentID,
				"error":  err.Error(),
			})
			continue
		}
		if outcome.Changed {
			result.Updated++
		}
	}

	s.logger(ctx, "order.reconcile.sweep", map[string]any{
		"scanned": result.Scanned,
		"checked": len(candidates),
		"updated": result.Updated,
		"failed":  result.Failed,
	})
	return result, nil
}

func (s *orderService) reconcileOne(ctx context.Context, order Order) (ReconcileResult, error) {
	return s.confirmAndApply(ctx, order, "sweep")
}

// applyProcessorStatus persists the outcome of Reconcile. Pull, push and sweep
// confirmation all go through here so the same processor status always yields
// the same order state.
func (s *orderService) applyProcessorStatus(ctx context.Context, order Order, intentID, processorStatus string, received domain.Money, source string) (ReconcileResult, error) {
	outcome := Reconcile(order, processorStatus)
	result := ReconcileResult{
		Order:           order,
		ProcessorStatus: processorStatus,
		PaymentStatus:   outcome.PaymentStatus,
		OrderStatus:     outcome.OrderStatus,
	}

	now := s.clock()
	patch := domain.OrderPatch{ExpectedVersion: &order.Version, UpdatedAt: now}
	dirty := false
	if outcome.PaymentStatus != order.PaymentStatus {
		ps := outcome.PaymentStatus
		patch.PaymentStatus = &ps
		dirty = true
	}
	if outcome.OrderStatus != order.Status {
		status := outcome.OrderStatus
		patch.Status = &status
		dirty = true
	}
	if received > 0 && received != order.AmountReceived && outcome.PaymentStatus == domain.PaymentStatusPaid {
		patch.AmountReceived = &received
		dirty = true
	}
	if order.PaymentIntentID == "" && strings.TrimSpace(intentID) != "" {
		id := strings.TrimSpace(intentID)
		patch.PaymentIntentID = &id
		dirty = true
	}
	if !dirty {
		return result, nil
	}

	updated, err := s.orders.Update(ctx, order.ID, patch)
	if err != nil {
		return ReconcileResult{}, mapOrderRepositoryError(err)
	}
	result.Order = updated
	result.Changed = true

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentUpdated,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		Status:         string(updated.Status),
		PaymentStatus:  string(updated.PaymentStatus),
		PreviousStatus: string(order.Status),
		OccurredAt:     now,
		Metadata: map[string]any{
			"source":          source,
			"processorStatus": processorStatus,
			"intentId":        updated.PaymentIntentID,
		},
	})
	if outcome.EnteredConfirmed(order) {
		s.notifyStatus(ctx, updated, domain.OrderStatusConfirmed)
	}
	if updated.PaymentStatus == domain.PaymentStatusPaid && order.PaymentStatus != domain.PaymentStatusPaid {
		s.archiveReceipt(ctx, updated)
	}
	return result, nil
}

func (s *orderService) RefundPayment(ctx context.Context, cmd RefundCommand) (Order, error) {
	if !cmd.Actor.Admin {
		return Order{}, fmt.Errorf("%w: only admins may refund orders", ErrOrderAccessDenied)
	}
	order, err := s.loadOrder(ctx, cmd.Actor, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.PaymentIntentID == "" {
		return Order{}, fmt.Errorf("%w: no payment intent found for this order", ErrOrderInvalidState)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		return Order{}, fmt.Errorf("%w: payment is %s", ErrOrderInvalidState, order.PaymentStatus)
	}

	captured := order.AmountReceived
	if captured <= 0 {
		captured = order.Total
	}
	remaining := captured - order.RefundedAmount
	if remaining <= 0 {
		return Order{}, fmt.Errorf("%w: nothing left to refund", ErrOrderInvalidState)
	}
	amount := remaining
	if cmd.Amount != nil {
		if *cmd.Amount <= 0 || *cmd.Amount > remaining {
			return Order{}, fmt.Errorf("%w: refund amount must be between 0.01 and %s", ErrOrderInvalidInput, remaining.Major())
		}
		amount = *cmd.Amount
	}
	full := amount == remaining

	req := payments.RefundRequest{
		IntentID:       order.PaymentIntentID,
		OrderID:        order.ID,
		Reason:         strings.TrimSpace(cmd.Reason),
		IdempotencyKey: fmt.Sprintf("order-%s-refund-%d", order.ID, order.Version),
	}
	if !full || order.RefundedAmount > 0 {
		req.Amount = &amount
	}
	refund, err := s.gateway.RefundPayment(ctx, req)
	if err != nil {
		return Order{}, mapGatewayError(err)
	}

	now := s.clock()
	refunded := order.RefundedAmount + amount
	patch := domain.OrderPatch{
		ExpectedVersion: &order.Version,
		RefundedAmount:  &refunded,
		UpdatedAt:       now,
	}
	if full {
		status := domain.PaymentStatusRefunded
		patch.PaymentStatus = &status
	}
	updated, err := s.orders.Update(ctx, order.ID, patch)
	if err != nil {
		s.logger(ctx, "order.refund.persist_failed", map[string]any{
			"order":  order.ID,
			"intent": order.PaymentIntentID,
			"refund": refund.ID,
			"amount": int64(amount),
			"step":   "persist_refund",
			"error":  err.Error(),
		})
		return Order{}, mapOrderRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentRefunded,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		Status:        string(updated.Status),
		PaymentStatus: string(updated.PaymentStatus),
		ActorID:       cmd.Actor.CustomerID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"refundId": refund.ID,
			"amount":   int64(amount),
			"full":     full,
		},
	})
	return updated, nil
}
