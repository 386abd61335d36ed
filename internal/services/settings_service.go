package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/nanacafe/api/internal/domain"
	"github.com/nanacafe/api/internal/repositories"
)

const defaultSettingsCacheTTL = 30 * time.Second

// SettingsServiceDeps bundles collaborators required to construct the settings service.
type SettingsServiceDeps struct {
	Settings repositories.SettingsRepository
	// CacheTTL bounds how long a loaded document is reused. Negative disables caching.
	CacheTTL time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type settingsService struct {
	repo   repositories.SettingsRepository
	ttl    time.Duration
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)

	mu       sync.RWMutex
	cached   StoreSettings
	cachedAt time.Time
	hasCache bool
}

var _ SettingsService = (*settingsService)(nil)

// NewSettingsService constructs the settings service. A missing settings
// document reads as domain.DefaultStoreSettings.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Settings == nil {
		return nil, errors.New("settings service: settings repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := deps.CacheTTL
	if ttl == 0 {
		ttl = defaultSettingsCacheTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &settingsService{
		repo: deps.Settings,
		ttl:  ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *settingsService) GetSettings(ctx context.Context) (StoreSettings, error) {
	now := s.clock()
	if s.ttl > 0 {
		s.mu.RLock()
		if s.hasCache && now.Sub(s.cachedAt) < s.ttl {
			settings := cloneSettings(s.cached)
			s.mu.RUnlock()
			return settings, nil
		}
		s.mu.RUnlock()
	}

	settings, err := s.load(ctx)
	if err != nil {
		return StoreSettings{}, err
	}
	s.remember(settings, now)
	return cloneSettings(settings), nil
}

func (s *settingsService) UpdateSettings(ctx context.Context, cmd UpdateSettingsCommand) (StoreSettings, error) {
	current, err := s.load(ctx)
	if err != nil {
		return StoreSettings{}, err
	}

	next := cloneSettings(current)
	if cmd.CafeName != nil {
		name := strings.TrimSpace(*cmd.CafeName)
		if name == "" {
			return StoreSettings{}, fmt.Errorf("%w: cafe name must not be empty", ErrSettingsInvalidInput)
		}
		next.CafeName = name
	}
	if cmd.Tagline != nil {
		next.Tagline = strings.TrimSpace(*cmd.Tagline)
	}
	if cmd.ContactEmail != nil {
		addr, err := mail.ParseAddress(strings.TrimSpace(*cmd.ContactEmail))
		if err != nil {
			return StoreSettings{}, fmt.Errorf("%w: contact email is invalid", ErrSettingsInvalidInput)
		}
		next.ContactEmail = addr.Address
	}
	if cmd.ContactPhone != nil {
		next.ContactPhone = strings.TrimSpace(*cmd.ContactPhone)
	}
	if cmd.Address != nil {
		next.Address = strings.TrimSpace(*cmd.Address)
	}
	for name, field := range map[string]struct {
		value *domain.Money
		dst   *domain.Money
	}{
		"delivery fee":            {cmd.DeliveryFee, &next.DeliveryFee},
		"free delivery threshold": {cmd.FreeDeliveryThreshold, &next.FreeDeliveryThreshold},
		"minimum order amount":    {cmd.MinOrderAmount, &next.MinOrderAmount},
	} {
		if field.value == nil {
			continue
		}
		if *field.value < 0 {
			return StoreSettings{}, fmt.Errorf("%w: %s must not be negative", ErrSettingsInvalidInput, name)
		}
		*field.dst = *field.value
	}
	if cmd.AvailableTimeSlots != nil {
		slots, err := normaliseTimeSlots(cmd.AvailableTimeSlots)
		if err != nil {
			return StoreSettings{}, err
		}
		next.AvailableTimeSlots = slots
	}
	if cmd.IsAcceptingOrders != nil {
		next.IsAcceptingOrders = *cmd.IsAcceptingOrders
	}
	if cmd.MaintenanceMode != nil {
		next.MaintenanceMode = *cmd.MaintenanceMode
	}

	now := s.clock()
	next.UpdatedAt = now
	if err := s.repo.Save(ctx, next); err != nil {
		return StoreSettings{}, fmt.Errorf("%w: %w", ErrSettingsStorage, err)
	}
	s.remember(next, now)
	s.logger(ctx, "settings.updated", map[string]any{
		"acceptingOrders": next.IsAcceptingOrders,
		"maintenanceMode": next.MaintenanceMode,
		"deliveryFee":     int64(next.DeliveryFee),
	})
	return cloneSettings(next), nil
}

func (s *settingsService) TimeSlots(ctx context.Context) ([]string, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	return settings.AvailableTimeSlots, nil
}

func (s *settingsService) DeliveryInfo(ctx context.Context) (DeliveryTerms, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return DeliveryTerms{}, err
	}
	return DeliveryTerms{
		DeliveryFee:           settings.DeliveryFee,
		FreeDeliveryThreshold: settings.FreeDeliveryThreshold,
		MinOrderAmount:        settings.MinOrderAmount,
		IsAcceptingOrders:     settings.AcceptsOrders(),
	}, nil
}

func (s *settingsService) FeeSchedule(ctx context.Context) (domain.FeeSchedule, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return domain.FeeSchedule{}, err
	}
	return settings.FeeSchedule(), nil
}

func (s *settingsService) load(ctx context.Context) (StoreSettings, error) {
	settings, err := s.repo.Get(ctx)
	if err == nil {
		return settings, nil
	}
	if repositories.IsNotFound(err) {
		return domain.DefaultStoreSettings(), nil
	}
	return StoreSettings{}, fmt.Errorf("%w: %w", ErrSettingsStorage, err)
}

func (s *settingsService) remember(settings StoreSettings, at time.Time) {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.cached = cloneSettings(settings)
	s.cachedAt = at
	s.hasCache = true
	s.mu.Unlock()
}

func normaliseTimeSlots(slots []string) ([]string, error) {
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		slot = strings.TrimSpace(slot)
		if slot == "" || slices.Contains(out, slot) {
			continue
		}
		out = append(out, slot)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one time slot is required", ErrSettingsInvalidInput)
	}
	return out, nil
}

func cloneSettings(settings StoreSettings) StoreSettings {
	settings.AvailableTimeSlots = slices.Clone(settings.AvailableTimeSlots)
	return settings
}
