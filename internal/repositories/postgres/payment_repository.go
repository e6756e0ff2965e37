package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/shoplane/api/internal/domain"
	ppostgres "github.com/shoplane/api/internal/platform/postgres"
	"github.com/shoplane/api/internal/repositories"
)

const paymentColumns = `id, order_id, provider, intent_id, status, amount, currency, raw, created_at, updated_at`

// PaymentRepository stores provider payment records attached to orders.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.OrderPaymentRepository = (*PaymentRepository)(nil)

// NewPaymentRepository constructs a Postgres-backed payment repository.
func NewPaymentRepository(pool *pgxpool.Pool) (*PaymentRepository, error) {
	if pool == nil {
		return nil, errors.New("payment repository: pool is required")
	}
	return &PaymentRepository{pool: pool}, nil
}

// Insert stores a new payment record.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.pool == nil {
		return errors.New("payment repository not initialised")
	}
	if strings.TrimSpace(payment.ID) == "" {
		return errors.New("payment repository: payment id is required")
	}
	raw, err := encodeJSON(payment.Raw)
	if err != nil {
		return ppostgres.WrapError("payments.insert", err)
	}
	q := ppostgres.Querier(ctx, r.pool)
	_, err = q.Exec(ctx, `
		INSERT INTO order_payments (id, order_id, provider, intent_id, status, amount, currency, raw, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		payment.ID, payment.OrderID, payment.Provider, payment.IntentID,
		string(payment.Status), payment.Amount, payment.Currency, raw,
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return ppostgres.WrapError("payments.insert", err)
	}
	return nil
}

// Update replaces the stored payment state with the provided snapshot.
func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	if r == nil || r.pool == nil {
		return errors.New("payment repository not initialised")
	}
	raw, err := encodeJSON(payment.Raw)
	if err != nil {
		return ppostgres.WrapError("payments.update", err)
	}
	q := ppostgres.Querier(ctx, r.pool)
	tag, err := q.Exec(ctx, `
		UPDATE order_payments SET status = $2, amount = $3, currency = $4, raw = $5, updated_at = $6
		WHERE id = $1`,
		payment.ID, string(payment.Status), payment.Amount, payment.Currency, raw, payment.UpdatedAt,
	)
	if err != nil {
		return ppostgres.WrapError("payments.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFoundError("payments.update", errors.New("payment not found"))
	}
	return nil
}

// FindByIntentID locates a payment by provider intent reference.
func (r *PaymentRepository) FindByIntentID(ctx context.Context, provider string, intentID string) (domain.Payment, error) {
	if r == nil || r.pool == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	q := ppostgres.Querier(ctx, r.pool)
	row := q.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM order_payments WHERE provider = $1 AND intent_id = $2`,
		provider, intentID,
	)
	payment, err := scanPayment(row)
	if err != nil {
		return domain.Payment{}, ppostgres.WrapError("payments.get_by_intent", err)
	}
	return payment, nil
}

// List returns every payment recorded against the order, oldest first.
func (r *PaymentRepository) List(ctx context.Context, orderID string) ([]domain.Payment, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("payment repository not initialised")
	}
	return loadPayments(ctx, ppostgres.Querier(ctx, r.pool), orderID)
}

func loadPayments(ctx context.Context, q ppostgres.DBTX, orderID string) ([]domain.Payment, error) {
	rows, err := q.Query(ctx,
		`SELECT `+paymentColumns+` FROM order_payments WHERE order_id = $1 ORDER BY created_at, id`,
		orderID,
	)
	if err != nil {
		return nil, ppostgres.WrapError("payments.list", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 2)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, ppostgres.WrapError("payments.list", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("payments.list", err)
	}
	return payments, nil
}

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var (
		payment domain.Payment
		status  string
		raw     []byte
	)
	err := row.Scan(
		&payment.ID, &payment.OrderID, &payment.Provider, &payment.IntentID,
		&status, &payment.Amount, &payment.Currency, &raw,
		&payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		return domain.Payment{}, err
	}
	payment.Status = domain.PaymentStatus(status)
	if payment.Raw, err = decodeJSONMap(raw); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}
