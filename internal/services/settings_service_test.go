package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/nanacafe/api/internal/domain"
)

type stubSettingsRepo struct {
	stored  *domain.StoreSettings
	getErr  error
	saveErr error
	gets    int
	saved   []domain.StoreSettings
}

func (s *stubSettingsRepo) Get(context.Context) (domain.StoreSettings, error) {
	s.gets++
	if s.getErr != nil {
		return domain.StoreSettings{}, s.getErr
	}
	if s.stored == nil {
		return domain.StoreSettings{}, testRepoError{notFound: true}
	}
	return *s.stored, nil
}

func (s *stubSettingsRepo) Save(_ context.Context, settings domain.StoreSettings) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, settings)
	s.stored = &settings
	return nil
}

func newTestSettingsService(t *testing.T, repo *stubSettingsRepo, now *time.Time) SettingsService {
	t.Helper()
	svc, err := NewSettingsService(SettingsServiceDeps{
		Settings: repo,
		Clock:    func() time.Time { return *now },
	})
	require.NoError(t, err)
	return svc
}

func TestSettingsServiceDefaultsWhenMissing(t *testing.T) {
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestSettingsService(t, &stubSettingsRepo{}, &now)

	settings, err := svc.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Nana Cafe", settings.CafeName)
	assert.Equal(t, domain.Major(50), settings.DeliveryFee)
	assert.Equal(t, domain.Major(200), settings.FreeDeliveryThreshold)
	assert.Equal(t, domain.Major(100), settings.MinOrderAmount)
	assert.Len(t, settings.AvailableTimeSlots, 9)
	assert.True(t, settings.IsAcceptingOrders)
}

func TestSettingsServiceCachesReads(t *testing.T) {
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	repo := &stubSettingsRepo{}
	svc := newTestSettingsService(t, repo, &now)
	ctx := context.Background()

	_, err := svc.GetSettings(ctx)
	require.NoError(t, err)
	slots, err := svc.TimeSlots(ctx)
	require.NoError(t, err)
	slots[0] = "mutated"
	assert.Equal(t, 1, repo.gets)

	again, err := svc.GetSettings(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.AvailableTimeSlots[0], "callers get copies")

	now = now.Add(time.Minute)
	_, err = svc.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.gets)
}

func TestSettingsServiceUpdateSettings(t *testing.T) {
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	repo := &stubSettingsRepo{}
	svc := newTestSettingsService(t, repo, &now)

	fee := domain.Major(60)
	closed := false
	settings, err := svc.UpdateSettings(context.Background(), UpdateSettingsCommand{
		DeliveryFee:        &fee,
		IsAcceptingOrders:  &closed,
		AvailableTimeSlots: []string{" 9:00 AM - 10:00 AM ", "9:00 AM - 10:00 AM", "", "10:00 AM - 11:00 AM"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Major(60), settings.DeliveryFee)
	assert.False(t, settings.IsAcceptingOrders)
	assert.Equal(t, []string{"9:00 AM - 10:00 AM", "10:00 AM - 11:00 AM"}, settings.AvailableTimeSlots)
	assert.Equal(t, now, settings.UpdatedAt)
	assert.Equal(t, "Nana Cafe", settings.CafeName, "untouched fields keep their values")
	require.Len(t, repo.saved, 1)

	terms, err := svc.DeliveryInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Major(60), terms.DeliveryFee)
	assert.False(t, terms.IsAcceptingOrders)

	fees, err := svc.FeeSchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.FeeSchedule{DeliveryFee: domain.Major(60), FreeDeliveryThreshold: domain.Major(200)}, fees)
}

func TestSettingsServiceUpdateValidation(t *testing.T) {
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	negative := domain.Money(-1)
	blank := "  "
	badEmail := "cafe"
	cases := map[string]UpdateSettingsCommand{
		"negative fee":      {DeliveryFee: &negative},
		"negative minimum":  {MinOrderAmount: &negative},
		"blank cafe name":   {CafeName: &blank},
		"bad contact email": {ContactEmail: &badEmail},
		"no time slots":     {AvailableTimeSlots: []string{" "}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			repo := &stubSettingsRepo{}
			svc := newTestSettingsService(t, repo, &now)
			_, err := svc.UpdateSettings(context.Background(), cmd)
			require.ErrorIs(t, err, ErrSettingsInvalidInput)
			assert.Empty(t, repo.saved)
		})
	}
}

func TestSettingsServiceStorageErrors(t *testing.T) {
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestSettingsService(t, &stubSettingsRepo{getErr: testRepoError{unavailable: true}}, &now)
	_, err := svc.GetSettings(context.Background())
	require.ErrorIs(t, err, ErrSettingsStorage)

	svc = newTestSettingsService(t, &stubSettingsRepo{saveErr: errors.New("denied")}, &now)
	_, err = svc.UpdateSettings(context.Background(), UpdateSettingsCommand{})
	require.ErrorIs(t, err, ErrSettingsStorage)
}
