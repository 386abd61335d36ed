package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/nanacafe/api/internal/platform/firestore"
	"github.com/nanacafe/api/internal/repositories"
)

// Registry exposes the Firestore-backed repositories and owns the provider lifecycle.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	counters *CounterRepository
	settings *SettingsRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on provider. Extra checks (Stripe, Pub/Sub, Redis)
// join the firestore probe in readiness reports.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	settings, err := NewSettingsRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:     "firestore",
		Critical: true,
		Check:    func(ctx context.Context) error { return probeFirestore(ctx, provider) },
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		counters: counters,
		settings: settings,
		health:   health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) Settings() repositories.SettingsRepository { return r.settings }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
func (r *Registry) Provider() *pfirestore.Provider { return r.provider }
func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

// probeFirestore reads the settings document; a missing document still proves connectivity.
func probeFirestore(ctx context.Context, provider *pfirestore.Provider) error {
	client, err := provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(settingsCollection).Doc(storeSettingsDocID).Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return err
	}
	return nil
}
