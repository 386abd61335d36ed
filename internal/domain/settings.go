package domain

import (
	"slices"
	"time"
)

// StoreSettings is the single store-wide configuration document.
type StoreSettings struct {
	CafeName              string
	Tagline               string
	ContactEmail          string
	ContactPhone          string
	Address               string
	DeliveryFee           Money
	FreeDeliveryThreshold Money
	MinOrderAmount        Money
	AvailableTimeSlots    []string
	IsAcceptingOrders     bool
	MaintenanceMode       bool
	UpdatedAt             time.Time
}

var defaultTimeSlots = []string{
	"9:00 AM - 10:00 AM",
	"10:00 AM - 11:00 AM",
	"11:00 AM - 12:00 PM",
	"12:00 PM - 1:00 PM",
	"1:00 PM - 2:00 PM",
	"2:00 PM - 3:00 PM",
	"3:00 PM - 4:00 PM",
	"4:00 PM - 5:00 PM",
	"5:00 PM - 6:00 PM",
}

// DefaultStoreSettings returns the settings used until an admin saves a document.
func DefaultStoreSettings() StoreSettings {
	return StoreSettings{
		CafeName:              "Nana Cafe",
		Tagline:               "Coffee & Pastries",
		ContactEmail:          "admin@nanacafe.com",
		DeliveryFee:           Major(50),
		FreeDeliveryThreshold: Major(200),
		MinOrderAmount:        Major(100),
		AvailableTimeSlots:    slices.Clone(defaultTimeSlots),
		IsAcceptingOrders:     true,
	}
}

// FeeSchedule returns the delivery pricing portion of the settings.
func (s StoreSettings) FeeSchedule() FeeSchedule {
	return FeeSchedule{DeliveryFee: s.DeliveryFee, FreeDeliveryThreshold: s.FreeDeliveryThreshold}
}

// AcceptsOrders reports whether new orders may be placed.
func (s StoreSettings) AcceptsOrders() bool {
	return s.IsAcceptingOrders && !s.MaintenanceMode
}

// FeeSchedule drives the delivery fee computed for delivery orders.
type FeeSchedule struct {
	DeliveryFee           Money
	FreeDeliveryThreshold Money
}

// DefaultFeeSchedule mirrors DefaultStoreSettings.
func DefaultFeeSchedule() FeeSchedule {
	return DefaultStoreSettings().FeeSchedule()
}
