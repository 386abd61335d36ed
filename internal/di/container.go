package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nanacafe/api/internal/payments"
	"github.com/nanacafe/api/internal/platform/config"
	"github.com/nanacafe/api/internal/repositories"
	"github.com/nanacafe/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders   services.OrderService
	Settings services.SettingsService
	System   services.SystemService
}

// NotificationFactory builds the outbound notifier and receipt archiver once the settings
// service exists. Either result may be nil.
type NotificationFactory func(settings services.SettingsService) (services.Notifier, services.ReceiptArchiver, error)

// Dependencies carries the infrastructure adapters built by the entrypoint. Notifications
// is optional; its adapters run behind the notification worker pool.
type Dependencies struct {
	Gateway       payments.Gateway
	Notifications NotificationFactory
	Events        services.OrderEventPublisher
	Build         services.BuildInfo
	Location      *time.Location
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	dispatcher *services.NotificationDispatcher
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	c := &Container{Config: cfg, Repositories: reg}
	if err := c.buildServices(ctx, deps); err != nil {
		if c.dispatcher != nil {
			_ = c.dispatcher.Close(ctx)
		}
		return nil, err
	}
	return c, nil
}

// Close drains pending notifications and then releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildServices(_ context.Context, deps Dependencies) error {
	reg := c.Repositories
	cfg := c.Config

	settingsSvc, err := services.NewSettingsService(services.SettingsServiceDeps{
		Settings: reg.Settings(),
		Clock:    deps.Clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return fmt.Errorf("build settings service: %w", err)
	}
	c.Services.Settings = settingsSvc

	orderDeps := services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Counters: reg.Counters(),
		Settings: settingsSvc,
		Gateway:  deps.Gateway,
		Events:   deps.Events,
		Currency: strings.ToUpper(strings.TrimSpace(cfg.PSP.Currency)),
		Location: deps.Location,
		Clock:    deps.Clock,
		Logger:   deps.Logger,
	}
	var (
		notifier services.Notifier
		receipts services.ReceiptArchiver
	)
	if deps.Notifications != nil {
		notifier, receipts, err = deps.Notifications(settingsSvc)
		if err != nil {
			return fmt.Errorf("build notifications: %w", err)
		}
	}
	if notifier != nil {
		dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
			Notifier:  notifier,
			Receipts:  receipts,
			Workers:   cfg.Notifications.Workers,
			QueueSize: cfg.Notifications.QueueSize,
			Timeout:   cfg.Notifications.Timeout,
			Logger:    deps.Logger,
		})
		if err != nil {
			return fmt.Errorf("build notification dispatcher: %w", err)
		}
		c.dispatcher = dispatcher
		orderDeps.Notifier = dispatcher
		orderDeps.Receipts = dispatcher
	} else if receipts != nil {
		orderDeps.Receipts = receipts
	}

	orderSvc, err := services.NewOrderService(orderDeps)
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}
	c.Services.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := deps.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            deps.Clock,
			Build:            build,
		})
		if err != nil {
			return fmt.Errorf("build system service: %w", err)
		}
		c.Services.System = systemSvc
	}
	return nil
}
