package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/services"
)

func settingsRouter(h *SettingsHandlers) http.Handler {
	r := chi.NewRouter()
	r.Route("/settings", h.Routes)
	return r
}

func TestSettingsHandlers_Get(t *testing.T) {
	router := settingsRouter(NewSettingsHandlers(&stubSettingsService{settings: domain.DefaultStoreSettings()}))

	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	resp := decodeBody[settingsResponse](t, rr)
	if resp.Settings.CafeName != "Nana Cafe" {
		t.Fatalf("unexpected cafe name %q", resp.Settings.CafeName)
	}
	if resp.Settings.DeliveryFee != "50.00" || resp.Settings.DeliveryFeeMinor != 5000 {
		t.Fatalf("unexpected delivery fee %s/%d", resp.Settings.DeliveryFee, resp.Settings.DeliveryFeeMinor)
	}
	if len(resp.Settings.AvailableTimeSlots) != 9 {
		t.Fatalf("expected default time slots, got %v", resp.Settings.AvailableTimeSlots)
	}
}

func TestSettingsHandlers_TimeSlotsAndDeliveryInfo(t *testing.T) {
	svc := &stubSettingsService{
		timeSlots: nil,
		terms: services.DeliveryTerms{
			DeliveryFee:           5000,
			FreeDeliveryThreshold: 20000,
			MinOrderAmount:        10000,
			IsAcceptingOrders:     true,
		},
	}
	router := settingsRouter(NewSettingsHandlers(svc))

	req := httptest.NewRequest(http.MethodGet, "/settings/time-slots", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	slots := decodeBody[timeSlotsResponse](t, rr)
	if slots.TimeSlots == nil {
		t.Fatalf("expected empty array for time slots")
	}

	req = httptest.NewRequest(http.MethodGet, "/settings/delivery-info", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	terms := decodeBody[deliveryInfoResponse](t, rr)
	if terms.FreeDeliveryThreshold != "200.00" || terms.MinOrderAmountMinor != 10000 || !terms.IsAcceptingOrders {
		t.Fatalf("unexpected delivery info %+v", terms)
	}
}

func TestSettingsHandlers_StorageFailure(t *testing.T) {
	router := settingsRouter(NewSettingsHandlers(&stubSettingsService{err: errors.Join(services.ErrSettingsStorage, errors.New("deadline"))}))

	req := httptest.NewRequest(http.MethodGet, "/settings", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestSettingsHandlers_Unconfigured(t *testing.T) {
	router := settingsRouter(NewSettingsHandlers(nil))

	req := httptest.NewRequest(http.MethodGet, "/settings/time-slots", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
