package services

import (
	"errors"
	"testing"

	domain "github.com/nanacafe/api/internal/domain"
)

func TestCalculateTotals(t *testing.T) {
	fees := domain.FeeSchedule{DeliveryFee: domain.Major(50), FreeDeliveryThreshold: domain.Major(200)}

	cases := []struct {
		name      string
		items     []OrderItem
		orderType domain.OrderType
		subtotal  domain.Money
		fee       domain.Money
		total     domain.Money
	}{
		{
			name:      "pickup never pays delivery",
			items:     []OrderItem{{UnitPrice: domain.Major(150), Quantity: 1}},
			orderType: domain.OrderTypePickup,
			subtotal:  domain.Major(150),
			fee:       0,
			total:     domain.Major(150),
		},
		{
			name:      "delivery below threshold",
			items:     []OrderItem{{UnitPrice: domain.Major(90), Quantity: 2}},
			orderType: domain.OrderTypeDelivery,
			subtotal:  domain.Major(180),
			fee:       domain.Major(50),
			total:     domain.Major(230),
		},
		{
			name:      "delivery above threshold",
			items:     []OrderItem{{UnitPrice: domain.Major(110), Quantity: 2}},
			orderType: domain.OrderTypeDelivery,
			subtotal:  domain.Major(220),
			fee:       0,
			total:     domain.Major(220),
		},
		{
			name:      "delivery exactly at threshold is free",
			items:     []OrderItem{{UnitPrice: domain.Major(100), Quantity: 2}},
			orderType: domain.OrderTypeDelivery,
			subtotal:  domain.Major(200),
			fee:       0,
			total:     domain.Major(200),
		},
		{
			name: "fractional prices stay exact",
			items: []OrderItem{
				{UnitPrice: 1010, Quantity: 3},
				{UnitPrice: 1020, Quantity: 7},
			},
			orderType: domain.OrderTypeDelivery,
			subtotal:  10170,
			fee:       domain.Major(50),
			total:     15170,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals, err := CalculateTotals(tc.items, tc.orderType, fees)
			if err != nil {
				t.Fatalf("CalculateTotals: %v", err)
			}
			if totals.Subtotal != tc.subtotal || totals.DeliveryFee != tc.fee || totals.Total != tc.total {
				t.Fatalf("expected %s/%s/%s, got %s/%s/%s", tc.subtotal, tc.fee, tc.total, totals.Subtotal, totals.DeliveryFee, totals.Total)
			}
			if totals.Total != totals.Subtotal+totals.DeliveryFee {
				t.Fatalf("total must equal subtotal plus fee")
			}
		})
	}
}

func TestCalculateTotalsRecomputesLineTotals(t *testing.T) {
	items := []OrderItem{{ProductID: "latte", UnitPrice: domain.Major(120), Quantity: 2, LineTotal: 1}}
	totals, err := CalculateTotals(items, domain.OrderTypePickup, domain.DefaultFeeSchedule())
	if err != nil {
		t.Fatalf("CalculateTotals: %v", err)
	}
	if got := totals.Items[0].LineTotal; got != domain.Major(240) {
		t.Fatalf("expected recomputed line total 240.00, got %s", got)
	}
	if items[0].LineTotal != 1 {
		t.Fatalf("input items must not be mutated")
	}
}

func TestCalculateTotalsRejectsInvalidItems(t *testing.T) {
	fees := domain.DefaultFeeSchedule()
	cases := map[string][]OrderItem{
		"empty":          nil,
		"zero quantity":  {{UnitPrice: 100, Quantity: 0}},
		"negative price": {{UnitPrice: -1, Quantity: 1}},
		"overflow":       {{UnitPrice: domain.Money(1 << 62), Quantity: 4}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := CalculateTotals(items, domain.OrderTypePickup, fees); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
	if _, err := CalculateTotals([]OrderItem{{UnitPrice: 1, Quantity: 1}}, "drone", fees); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unknown order type, got %v", err)
	}
}
