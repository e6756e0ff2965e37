package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shoplane/api/internal/platform/config"
	"github.com/shoplane/api/internal/repositories"
	"github.com/shoplane/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders       services.OrderService
	Fulfillments services.FulfillmentService
	Payments     services.PaymentService
	System       services.SystemService
}

// Deps carries the optional collaborators wired from the composition root:
// the domain event publisher, the PSP gateway, lifecycle hooks, and build metadata.
type Deps struct {
	Events  services.OrderEventPublisher
	Gateway services.PaymentProviderGateway
	Hooks   services.OrderHooks
	Build   services.BuildInfo
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// Postgres-backed registries, while tests can supply in-memory ones.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients or connection pools.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// OrderPolicyFromConfig maps feature flags and numbering settings onto the
// policy consumed by the order services.
func OrderPolicyFromConfig(cfg config.Config) services.OrderPolicy {
	return services.OrderPolicy{
		AllowEdit:        cfg.Features.AllowOrderEdits,
		AllowCancel:      cfg.Features.AllowOrderCancellations,
		TrackEvents:      cfg.Features.TrackOrderEvents,
		ConfirmOnPayment: cfg.Features.ConfirmOnPayment,
		NumberPrefix:     cfg.Orders.NumberPrefix,
		NumberLength:     cfg.Orders.NumberLength,
		HookFailures:     services.HookFailureMode(cfg.Orders.HookFailureMode),
	}
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	var svc Services

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	policy := OrderPolicyFromConfig(cfg)

	ordersRepo := reg.Orders()
	if ordersRepo == nil {
		return Services{}, errors.New("order repository is required")
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     ordersRepo,
		UnitOfWork: reg,
		Policy:     policy,
		Hooks:      deps.Hooks,
		Clock:      clock,
		Events:     deps.Events,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:       ordersRepo,
		OrderService: orderSvc,
		UnitOfWork:   reg,
		Policy:       policy,
		Clock:        clock,
		Logger:       deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillments = fulfillmentSvc

	if paymentsRepo := reg.OrderPayments(); paymentsRepo != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Payments:     paymentsRepo,
			OrderService: orderSvc,
			Providers:    deps.Gateway,
			Clock:        clock,
			Logger:       deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
