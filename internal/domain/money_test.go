package domain

import (
	"math"
	"testing"
)

func TestMoneyMajor(t *testing.T) {
	cases := map[Money]string{
		0:      "0.00",
		5:      "0.05",
		23000:  "230.00",
		15050:  "150.50",
		-1999:  "-19.99",
		100001: "1000.01",
	}
	for amount, want := range cases {
		if got := amount.Major(); got != want {
			t.Fatalf("Money(%d).Major() = %q, want %q", amount, got, want)
		}
	}
}

func TestMoneyOverflow(t *testing.T) {
	if _, ok := Money(math.MaxInt64).Add(1); ok {
		t.Fatalf("expected add overflow")
	}
	if _, ok := Money(math.MaxInt64 / 2).Times(3); ok {
		t.Fatalf("expected multiply overflow")
	}
	if got, ok := Money(12000).Times(2); !ok || got != 24000 {
		t.Fatalf("unexpected product %d ok=%v", got, ok)
	}
}

func TestOrderPatchApplyBumpsVersion(t *testing.T) {
	status := OrderStatusConfirmed
	paid := PaymentStatusPaid
	order := Order{Status: OrderStatusPending, PaymentStatus: PaymentStatusPending, Version: 3}

	updated := OrderPatch{Status: &status, PaymentStatus: &paid}.Apply(order)

	if updated.Status != OrderStatusConfirmed || updated.PaymentStatus != PaymentStatusPaid {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.Version != 4 {
		t.Fatalf("expected version 4, got %d", updated.Version)
	}
	if order.Status != OrderStatusPending {
		t.Fatalf("original order mutated")
	}
}

func TestStoreSettingsAcceptsOrders(t *testing.T) {
	settings := DefaultStoreSettings()
	if !settings.AcceptsOrders() {
		t.Fatalf("default settings should accept orders")
	}
	settings.MaintenanceMode = true
	if settings.AcceptsOrders() {
		t.Fatalf("maintenance mode should block orders")
	}
	if len(DefaultStoreSettings().AvailableTimeSlots) != 9 {
		t.Fatalf("expected nine default time slots")
	}
}
