package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/platform/auth"
	"github.com/nanacafe/api/internal/services"
)

type stubSettingsService struct {
	settings  services.StoreSettings
	err       error
	updateFn  func(context.Context, services.UpdateSettingsCommand) (services.StoreSettings, error)
	timeSlots []string
	terms     services.DeliveryTerms
}

var _ services.SettingsService = (*stubSettingsService)(nil)

func (s *stubSettingsService) GetSettings(context.Context) (services.StoreSettings, error) {
	return s.settings, s.err
}

func (s *stubSettingsService) UpdateSettings(ctx context.Context, cmd services.UpdateSettingsCommand) (services.StoreSettings, error) {
	if s.updateFn == nil {
		return services.StoreSettings{}, errors.New("unexpected UpdateSettings")
	}
	return s.updateFn(ctx, cmd)
}

func (s *stubSettingsService) TimeSlots(context.Context) ([]string, error) {
	return s.timeSlots, s.err
}

func (s *stubSettingsService) DeliveryInfo(context.Context) (services.DeliveryTerms, error) {
	return s.terms, s.err
}

func (s *stubSettingsService) FeeSchedule(context.Context) (domain.FeeSchedule, error) {
	return s.settings.FeeSchedule(), s.err
}

func adminRouter(h *AdminHandlers) http.Handler {
	r := chi.NewRouter()
	r.Route("/admin", h.Routes)
	return r
}

func TestAdminHandlers_RefundOrder(t *testing.T) {
	refunded := sampleOrder()
	refunded.PaymentStatus = domain.PaymentStatusRefunded
	refunded.RefundedAmount = 5000

	cases := []struct {
		name       string
		body       string
		wantAmount *domain.Money
	}{
		{name: "partial", body: `{"amount":"50.00","reason":" requested_by_customer "}`, wantAmount: ptrMoney(5000)},
		{name: "remaining balance", body: ``},
		{name: "explicit null", body: `{"amount":null}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var captured services.RefundCommand
			svc := &stubOrderService{
				refundFn: func(_ context.Context, cmd services.RefundCommand) (services.Order, error) {
					captured = cmd
					return refunded, nil
				},
			}
			router := adminRouter(NewAdminHandlers(nil, svc, nil))

			req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1/refund", strings.NewReader(tc.body))
			req = withIdentity(req, "admin-1", auth.RoleAdmin)
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if captured.OrderID != "ord_1" || !captured.Actor.Admin {
				t.Fatalf("unexpected command %+v", captured)
			}
			switch {
			case tc.wantAmount == nil && captured.Amount != nil:
				t.Fatalf("expected nil amount, got %d", *captured.Amount)
			case tc.wantAmount != nil && (captured.Amount == nil || *captured.Amount != *tc.wantAmount):
				t.Fatalf("expected amount %d, got %v", *tc.wantAmount, captured.Amount)
			}
			resp := decodeBody[orderResponse](t, rr)
			if resp.Order.PaymentStatus != "refunded" || resp.Order.RefundedAmount != "50.00" {
				t.Fatalf("unexpected order %+v", resp.Order)
			}
		})
	}
}

func TestAdminHandlers_RefundRequiresAdmin(t *testing.T) {
	router := adminRouter(NewAdminHandlers(nil, &stubOrderService{}, nil))

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1/refund", nil)
	req = withIdentity(req, "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminHandlers_RefundRejectsPreciseAmount(t *testing.T) {
	router := adminRouter(NewAdminHandlers(nil, &stubOrderService{}, nil))

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1/refund", strings.NewReader(`{"amount":10.001}`))
	req = withIdentity(req, "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminHandlers_ListOrdersForStaff(t *testing.T) {
	var captured services.ListOrdersCommand
	svc := &stubOrderService{
		listFn: func(_ context.Context, cmd services.ListOrdersCommand) (domain.OffsetPage[services.Order], error) {
			captured = cmd
			return domain.OffsetPage[services.Order]{Limit: cmd.Limit}, nil
		},
	}
	router := adminRouter(NewAdminHandlers(nil, svc, nil, WithAdminPageSize(25, 200)))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders?customer_id=cust-9&order_type=pickup", nil)
	req = withIdentity(req, "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CustomerID != "cust-9" || captured.OrderType != domain.OrderTypePickup || captured.Limit != 25 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if !captured.Actor.Staff {
		t.Fatalf("expected staff actor")
	}
	resp := decodeBody[orderListResponse](t, rr)
	if resp.Items == nil {
		t.Fatalf("expected empty items array, not null")
	}
}

func TestAdminHandlers_ListOrdersRejectsCustomers(t *testing.T) {
	router := adminRouter(NewAdminHandlers(nil, &stubOrderService{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req = withIdentity(req, "cust-1", auth.RoleUser)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminHandlers_UpdateSettings(t *testing.T) {
	var captured services.UpdateSettingsCommand
	settings := &stubSettingsService{
		updateFn: func(_ context.Context, cmd services.UpdateSettingsCommand) (services.StoreSettings, error) {
			captured = cmd
			updated := domain.DefaultStoreSettings()
			updated.DeliveryFee = 6000
			updated.IsAcceptingOrders = false
			return updated, nil
		},
	}
	router := adminRouter(NewAdminHandlers(nil, nil, settings))

	body := `{"delivery_fee":"60.00","min_order_amount":150,"is_accepting_orders":false,"available_time_slots":["9:00 AM - 10:00 AM"]}`
	req := httptest.NewRequest(http.MethodPut, "/admin/settings", strings.NewReader(body))
	req = withIdentity(req, "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.DeliveryFee == nil || *captured.DeliveryFee != 6000 {
		t.Fatalf("expected delivery fee 6000, got %v", captured.DeliveryFee)
	}
	if captured.MinOrderAmount == nil || *captured.MinOrderAmount != 15000 {
		t.Fatalf("expected min order 15000, got %v", captured.MinOrderAmount)
	}
	if captured.FreeDeliveryThreshold != nil || captured.CafeName != nil {
		t.Fatalf("expected untouched fields to stay nil")
	}
	if captured.IsAcceptingOrders == nil || *captured.IsAcceptingOrders {
		t.Fatalf("expected is_accepting_orders=false")
	}
	resp := decodeBody[settingsResponse](t, rr)
	if resp.Settings.DeliveryFee != "60.00" || resp.Settings.IsAcceptingOrders {
		t.Fatalf("unexpected settings payload %+v", resp.Settings)
	}
}

func TestAdminHandlers_UpdateSettingsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid", services.ErrSettingsInvalidInput, http.StatusBadRequest},
		{"storage", services.ErrSettingsStorage, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			settings := &stubSettingsService{
				updateFn: func(context.Context, services.UpdateSettingsCommand) (services.StoreSettings, error) {
					return services.StoreSettings{}, tc.err
				},
			}
			router := adminRouter(NewAdminHandlers(nil, nil, settings))

			req := httptest.NewRequest(http.MethodPut, "/admin/settings", strings.NewReader(`{"cafe_name":"Nana"}`))
			req = withIdentity(req, "admin-1", auth.RoleAdmin)
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func ptrMoney(m domain.Money) *domain.Money { return &m }
