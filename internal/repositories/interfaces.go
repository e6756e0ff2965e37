package repositories

import (
	"context"
	"time"

	domain "github.com/shoplane/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	OrderPayments() OrderPaymentRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers, line items, and the append-only event log.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// UpdateGuarded persists the order only when its stored status still equals
	// expectedStatus, and returns a conflict RepositoryError otherwise.
	UpdateGuarded(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error
	UpdateItemFulfilledQty(ctx context.Context, orderID string, itemID string, fulfilledQty int) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	AppendEvent(ctx context.Context, event domain.OrderEvent) error
	ListEvents(ctx context.Context, orderID string) ([]domain.OrderEvent, error)
}

// OrderPaymentRepository stores payment records attached to an order.
type OrderPaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	FindByIntentID(ctx context.Context, provider string, intentID string) (domain.Payment, error)
	List(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID        string
	Status        []string
	PaymentStatus []string
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}
