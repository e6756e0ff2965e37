package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	ppostgres "github.com/shoplane/api/internal/platform/postgres"
	"github.com/shoplane/api/internal/repositories"
)

// Registry wires the Postgres repositories behind the repositories.Registry contract.
type Registry struct {
	pool     *pgxpool.Pool
	orders   *OrderRepository
	payments *PaymentRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repository set over a shared connection pool.
func NewRegistry(pool *pgxpool.Pool, health repositories.HealthRepository) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("registry: pool is required")
	}
	if health == nil {
		return nil, errors.New("registry: health repository is required")
	}
	orders, err := NewOrderRepository(pool)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(pool)
	if err != nil {
		return nil, err
	}
	return &Registry{
		pool:     pool,
		orders:   orders,
		payments: payments,
		health:   health,
	}, nil
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// OrderPayments returns the payment repository.
func (r *Registry) OrderPayments() repositories.OrderPaymentRepository { return r.payments }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a database transaction shared by repository calls made with ctx.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return ppostgres.RunInTx(ctx, r.pool, fn)
}

// Close releases the underlying connection pool.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	r.pool.Close()
	return nil
}
