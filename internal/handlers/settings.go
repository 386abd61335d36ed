package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nanacafe/api/internal/services"
)

// SettingsHandlers exposes the public store settings.
type SettingsHandlers struct {
	settings services.SettingsService
}

// NewSettingsHandlers constructs SettingsHandlers.
func NewSettingsHandlers(settings services.SettingsService) *SettingsHandlers {
	return &SettingsHandlers{settings: settings}
}

// Routes registers the /settings endpoints.
func (h *SettingsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getSettings)
	r.Get("/time-slots", h.timeSlots)
	r.Get("/delivery-info", h.deliveryInfo)
}

type settingsResponse struct {
	Settings settingsPayload `json:"settings"`
}

type settingsPayload struct {
	CafeName                   string   `json:"cafe_name"`
	Tagline                    string   `json:"tagline,omitempty"`
	ContactEmail               string   `json:"contact_email,omitempty"`
	ContactPhone               string   `json:"contact_phone,omitempty"`
	Address                    string   `json:"address,omitempty"`
	DeliveryFee                string   `json:"delivery_fee"`
	DeliveryFeeMinor           int64    `json:"delivery_fee_minor"`
	FreeDeliveryThreshold      string   `json:"free_delivery_threshold"`
	FreeDeliveryThresholdMinor int64    `json:"free_delivery_threshold_minor"`
	MinOrderAmount             string   `json:"min_order_amount"`
	MinOrderAmountMinor        int64    `json:"min_order_amount_minor"`
	AvailableTimeSlots         []string `json:"available_time_slots"`
	IsAcceptingOrders          bool     `json:"is_accepting_orders"`
	MaintenanceMode            bool     `json:"maintenance_mode"`
	UpdatedAt                  string   `json:"updated_at,omitempty"`
}

func buildSettingsPayload(s services.StoreSettings) settingsPayload {
	slots := s.AvailableTimeSlots
	if slots == nil {
		slots = []string{}
	}
	return settingsPayload{
		CafeName:                   s.CafeName,
		Tagline:                    s.Tagline,
		ContactEmail:               s.ContactEmail,
		ContactPhone:               s.ContactPhone,
		Address:                    s.Address,
		DeliveryFee:                s.DeliveryFee.Major(),
		DeliveryFeeMinor:           int64(s.DeliveryFee),
		FreeDeliveryThreshold:      s.FreeDeliveryThreshold.Major(),
		FreeDeliveryThresholdMinor: int64(s.FreeDeliveryThreshold),
		MinOrderAmount:             s.MinOrderAmount.Major(),
		MinOrderAmountMinor:        int64(s.MinOrderAmount),
		AvailableTimeSlots:         slots,
		IsAcceptingOrders:          s.IsAcceptingOrders,
		MaintenanceMode:            s.MaintenanceMode,
		UpdatedAt:                  formatTime(s.UpdatedAt),
	}
}

func (h *SettingsHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		serviceUnavailable(ctx, w, "settings")
		return
	}
	settings, err := h.settings.GetSettings(ctx)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, settingsResponse{Settings: buildSettingsPayload(settings)})
}

type timeSlotsResponse struct {
	TimeSlots []string `json:"time_slots"`
}

func (h *SettingsHandlers) timeSlots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		serviceUnavailable(ctx, w, "settings")
		return
	}
	slots, err := h.settings.TimeSlots(ctx)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	if slots == nil {
		slots = []string{}
	}
	writeJSONResponse(w, http.StatusOK, timeSlotsResponse{TimeSlots: slots})
}

type deliveryInfoResponse struct {
	DeliveryFee                string `json:"delivery_fee"`
	DeliveryFeeMinor           int64  `json:"delivery_fee_minor"`
	FreeDeliveryThreshold      string `json:"free_delivery_threshold"`
	FreeDeliveryThresholdMinor int64  `json:"free_delivery_threshold_minor"`
	MinOrderAmount             string `json:"min_order_amount"`
	MinOrderAmountMinor        int64  `json:"min_order_amount_minor"`
	IsAcceptingOrders          bool   `json:"is_accepting_orders"`
}

func (h *SettingsHandlers) deliveryInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		serviceUnavailable(ctx, w, "settings")
		return
	}
	terms, err := h.settings.DeliveryInfo(ctx)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deliveryInfoResponse{
		DeliveryFee:                terms.DeliveryFee.Major(),
		DeliveryFeeMinor:           int64(terms.DeliveryFee),
		FreeDeliveryThreshold:      terms.FreeDeliveryThreshold.Major(),
		FreeDeliveryThresholdMinor: int64(terms.FreeDeliveryThreshold),
		MinOrderAmount:             terms.MinOrderAmount.Major(),
		MinOrderAmountMinor:        int64(terms.MinOrderAmount),
		IsAcceptingOrders:          terms.IsAcceptingOrders,
	})
}
