package services

import (
	"fmt"

	domain "github.com/nanacafe/api/internal/domain"
)

// Totals is the priced form of an order's items.
type Totals struct {
	Items       []OrderItem
	Subtotal    domain.Money
	DeliveryFee domain.Money
	Total       domain.Money
}

// CalculateTotals prices items for orderType. Line totals are recomputed from
// quantity and unit price. Delivery is free once the subtotal reaches the
// schedule's threshold; pickup never pays a fee.
func CalculateTotals(items []OrderItem, orderType domain.OrderType, fees domain.FeeSchedule) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if !orderType.Valid() {
		return Totals{}, fmt.Errorf("%w: unsupported order type %q", ErrOrderInvalidInput, orderType)
	}

	totals := Totals{Items: make([]OrderItem, 0, len(items))}
	for i, item := range items {
		if item.Quantity < 1 {
			return Totals{}, fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if item.UnitPrice < 0 {
			return Totals{}, fmt.Errorf("%w: item %d unit price must not be negative", ErrOrderInvalidInput, i)
		}
		line, ok := item.UnitPrice.Times(item.Quantity)
		if !ok {
			return Totals{}, fmt.Errorf("%w: item %d line total overflows", ErrOrderInvalidInput, i)
		}
		subtotal, ok := totals.Subtotal.Add(line)
		if !ok {
			return Totals{}, fmt.Errorf("%w: subtotal overflows", ErrOrderInvalidInput)
		}
		item.LineTotal = line
		totals.Subtotal = subtotal
		totals.Items = append(totals.Items, item)
	}

	if orderType == domain.OrderTypeDelivery && totals.Subtotal < fees.FreeDeliveryThreshold {
		totals.DeliveryFee = fees.DeliveryFee
	}
	total, ok := totals.Subtotal.Add(totals.DeliveryFee)
	if !ok {
		return Totals{}, fmt.Errorf("%w: total overflows", ErrOrderInvalidInput)
	}
	totals.Total = total
	return totals, nil
}
