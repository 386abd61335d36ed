package firestore

import (
	"context"
	"errors"
	"slices"
	"time"

	domain "github.com/nanacafe/api/internal/domain"
	pfirestore "github.com/nanacafe/api/internal/platform/firestore"
	"github.com/nanacafe/api/internal/repositories"
)

const (
	settingsCollection = "settings"
	storeSettingsDocID = "store"
)

type settingsDocument struct {
	CafeName              string    `firestore:"cafeName"`
	Tagline               string    `firestore:"tagline,omitempty"`
	ContactEmail          string    `firestore:"contactEmail"`
	ContactPhone          string    `firestore:"contactPhone,omitempty"`
	Address               string    `firestore:"address,omitempty"`
	DeliveryFee           int64     `firestore:"deliveryFee"`
	FreeDeliveryThreshold int64     `firestore:"freeDeliveryThreshold"`
	MinOrderAmount        int64     `firestore:"minOrderAmount"`
	AvailableTimeSlots    []string  `firestore:"availableTimeSlots"`
	IsAcceptingOrders     bool      `firestore:"isAcceptingOrders"`
	MaintenanceMode       bool      `firestore:"maintenanceMode"`
	UpdatedAt             time.Time `firestore:"updatedAt"`
}

// SettingsRepository stores the store settings in settings/store.
type SettingsRepository struct {
	settings *pfirestore.Collection[settingsDocument]
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		settings: pfirestore.NewCollection[settingsDocument](provider, settingsCollection),
	}, nil
}

func (r *SettingsRepository) Get(ctx context.Context) (domain.StoreSettings, error) {
	doc, err := r.settings.Get(ctx, storeSettingsDocID)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	data := doc.Data
	return domain.StoreSettings{
		CafeName:              data.CafeName,
		Tagline:               data.Tagline,
		ContactEmail:          data.ContactEmail,
		ContactPhone:          data.ContactPhone,
		Address:               data.Address,
		DeliveryFee:           domain.Money(data.DeliveryFee),
		FreeDeliveryThreshold: domain.Money(data.FreeDeliveryThreshold),
		MinOrderAmount:        domain.Money(data.MinOrderAmount),
		AvailableTimeSlots:    slices.Clone(data.AvailableTimeSlots),
		IsAcceptingOrders:     data.IsAcceptingOrders,
		MaintenanceMode:       data.MaintenanceMode,
		UpdatedAt:             data.UpdatedAt.UTC(),
	}, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings domain.StoreSettings) error {
	return r.settings.Set(ctx, storeSettingsDocID, settingsDocument{
		CafeName:              settings.CafeName,
		Tagline:               settings.Tagline,
		ContactEmail:          settings.ContactEmail,
		ContactPhone:          settings.ContactPhone,
		Address:               settings.Address,
		DeliveryFee:           int64(settings.DeliveryFee),
		FreeDeliveryThreshold: int64(settings.FreeDeliveryThreshold),
		MinOrderAmount:        int64(settings.MinOrderAmount),
		AvailableTimeSlots:    slices.Clone(settings.AvailableTimeSlots),
		IsAcceptingOrders:     settings.IsAcceptingOrders,
		MaintenanceMode:       settings.MaintenanceMode,
		UpdatedAt:             settings.UpdatedAt,
	})
}
