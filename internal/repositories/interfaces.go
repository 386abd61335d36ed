package repositories

import (
	"context"

	domain "github.com/nanacafe/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Counters() CounterRepository
	Settings() SettingsRepository
	Health() HealthRepository
}

// OrderRepository persists order records keyed by order id.
type OrderRepository interface {
	// Insert creates order and fails with a conflict when the id already exists.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// Update applies patch to a single order atomically and returns the stored result.
	// A stale ExpectedVersion surfaces as a conflict.
	Update(ctx context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.OffsetPage[domain.Order], error)
	Count(ctx context.Context, filter OrderListFilter) (int64, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// SettingsRepository stores the single store settings document.
type SettingsRepository interface {
	// Get returns a not-found RepositoryError when no settings were saved yet.
	Get(ctx context.Context) (domain.StoreSettings, error)
	Save(ctx context.Context, settings domain.StoreSettings) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings. Empty fields do not filter.
type OrderListFilter struct {
	CustomerID    string
	Status        []domain.OrderStatus
	PaymentStatus []domain.PaymentStatus
	OrderType     domain.OrderType
	// RequireIntent restricts results to orders with a payment intent.
	RequireIntent bool
	Skip          int
	Limit         int
}
