package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/platform/pagination"
	ppostgres "github.com/shoplane/api/internal/platform/postgres"
	"github.com/shoplane/api/internal/repositories"
)

const orderColumns = `id, order_number, user_id, guest_email, status, payment_status, fulfillment_status,
	currency, subtotal, discount, shipping, tax, total, shipping_address, billing_address,
	notes, metadata, created_at, updated_at, cancelled_at, cancel_reason`

// OrderRepository persists orders, line items, and the append-only event log in Postgres.
type OrderRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Postgres-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool) (*OrderRepository, error) {
	if pool == nil {
		return nil, errors.New("order repository: pool is required")
	}
	return &OrderRepository{pool: pool}, nil
}

// Insert stores a new order together with its line items. The ID and order number must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.pool == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	shippingAddr, err := encodeJSON(order.ShippingAddress)
	if err != nil {
		return ppostgres.WrapError("orders.insert", err)
	}
	billingAddr, err := encodeJSON(order.BillingAddress)
	if err != nil {
		return ppostgres.WrapError("orders.insert", err)
	}
	metadata, err := encodeJSON(order.Metadata)
	if err != nil {
		return ppostgres.WrapError("orders.insert", err)
	}

	return ppostgres.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := ppostgres.Querier(ctx, r.pool)
		_, err := q.Exec(ctx, `
			INSERT INTO orders (
				id, order_number, user_id, guest_email, status, payment_status, fulfillment_status,
				currency, subtotal, discount, shipping, tax, total, shipping_address, billing_address,
				notes, metadata, created_at, updated_at, cancelled_at, cancel_reason
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
			order.ID, order.OrderNumber, order.UserID, order.GuestEmail,
			string(order.Status), string(order.PaymentStatus), string(order.FulfillmentStatus),
			order.Currency, order.Totals.Subtotal, order.Totals.Discount, order.Totals.Shipping,
			order.Totals.Tax, order.Totals.Total, shippingAddr, billingAddr,
			order.Notes, metadata, order.CreatedAt, order.UpdatedAt, order.CancelledAt, order.CancelReason,
		)
		if err != nil {
			return ppostgres.WrapError("orders.insert", err)
		}
		for position, item := range order.Items {
			if err := r.insertItem(ctx, q, order.ID, position, item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *OrderRepository) insertItem(ctx context.Context, q ppostgres.DBTX, orderID string, position int, item domain.OrderItem) error {
	metadata, err := encodeJSON(item.Metadata)
	if err != nil {
		return ppostgres.WrapError("orders.items.insert", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO order_items (
			id, order_id, position, product_ref, sku, name, quantity, fulfilled_qty, unit_price, total, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		item.ID, orderID, position, item.ProductRef, item.SKU, item.Name,
		item.Quantity, item.FulfilledQty, item.UnitPrice, item.Total, metadata,
	)
	if err != nil {
		return ppostgres.WrapError("orders.items.insert", err)
	}
	return nil
}

// Update replaces the persisted order header with the provided snapshot. Line items are
// only touched through UpdateItemFulfilledQty.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.update(ctx, order, nil)
}

// UpdateGuarded persists the order header only when the stored status still equals
// expectedStatus, returning a conflict error when another writer advanced it first.
func (r *OrderRepository) UpdateGuarded(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	return r.update(ctx, order, &expectedStatus)
}

func (r *OrderRepository) update(ctx context.Context, order domain.Order, expectedStatus *domain.OrderStatus) error {
	if r == nil || r.pool == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}

	shippingAddr, err := encodeJSON(order.ShippingAddress)
	if err != nil {
		return ppostgres.WrapError("orders.update", err)
	}
	billingAddr, err := encodeJSON(order.BillingAddress)
	if err != nil {
		return ppostgres.WrapError("orders.update", err)
	}
	metadata, err := encodeJSON(order.Metadata)
	if err != nil {
		return ppostgres.WrapError("orders.update", err)
	}

	query := `
		UPDATE orders SET
			status = $2, payment_status = $3, fulfillment_status = $4,
			subtotal = $5, discount = $6, shipping = $7, tax = $8, total = $9,
			shipping_address = $10, billing_address = $11, notes = $12, metadata = $13,
			updated_at = $14, cancelled_at = $15, cancel_reason = $16
		WHERE id = $1`
	args := []any{
		order.ID, string(order.Status), string(order.PaymentStatus), string(order.FulfillmentStatus),
		order.Totals.Subtotal, order.Totals.Discount, order.Totals.Shipping, order.Totals.Tax, order.Totals.Total,
		shippingAddr, billingAddr, order.Notes, metadata,
		order.UpdatedAt, order.CancelledAt, order.CancelReason,
	}
	if expectedStatus != nil {
		query += ` AND status = $17`
		args = append(args, string(*expectedStatus))
	}

	q := ppostgres.Querier(ctx, r.pool)
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return ppostgres.WrapError("orders.update", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
		return ppostgres.WrapError("orders.update", err)
	}
	if !exists {
		return ppostgres.NotFoundError("orders.update", fmt.Errorf("order %s not found", order.ID))
	}
	return ppostgres.ConflictError("orders.update", fmt.Errorf("order %s status changed concurrently", order.ID))
}

// UpdateItemFulfilledQty sets the fulfilled quantity for a single line item.
func (r *OrderRepository) UpdateItemFulfilledQty(ctx context.Context, orderID string, itemID string, fulfilledQty int) error {
	if r == nil || r.pool == nil {
		return errors.New("order repository not initialised")
	}
	q := ppostgres.Querier(ctx, r.pool)
	tag, err := q.Exec(ctx,
		`UPDATE order_items SET fulfilled_qty = $3 WHERE order_id = $1 AND id = $2`,
		orderID, itemID, fulfilledQty,
	)
	if err != nil {
		return ppostgres.WrapError("orders.items.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFoundError("orders.items.update", fmt.Errorf("order item %s not found", itemID))
	}
	return nil
}

// FindByID loads an order with its line items and payments.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.pool == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	q := ppostgres.Querier(ctx, r.pool)
	row := q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.get", err)
	}
	return r.loadAssociations(ctx, q, order)
}

// FindByOrderNumber loads an order by its human-facing number.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.pool == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	q := ppostgres.Querier(ctx, r.pool)
	row := q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.get_by_number", err)
	}
	return r.loadAssociations(ctx, q, order)
}

// List returns orders matching the filter, newest first, with keyset pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.pool == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	if pageSize > pagination.DefaultMaxPageSize {
		pageSize = pagination.DefaultMaxPageSize
	}

	conds := make([]string, 0, 5)
	args := make([]any, 0, 6)
	appendArg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		conds = append(conds, "user_id = "+appendArg(userID))
	}
	if len(filter.Status) > 0 {
		conds = append(conds, "status = ANY("+appendArg(filter.Status)+")")
	}
	if len(filter.PaymentStatus) > 0 {
		conds = append(conds, "payment_status = ANY("+appendArg(filter.PaymentStatus)+")")
	}
	if filter.DateRange.From != nil {
		conds = append(conds, "created_at >= "+appendArg(*filter.DateRange.From))
	}
	if filter.DateRange.To != nil {
		conds = append(conds, "created_at <= "+appendArg(*filter.DateRange.To))
	}
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursorAt, cursorID, err := decodeListCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		conds = append(conds, "(created_at, id) < ("+appendArg(cursorAt)+", "+appendArg(cursorID)+")")
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + appendArg(pageSize+1)

	q := ppostgres.Querier(ctx, r.pool)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > pageSize {
		orders = orders[:pageSize]
		last := orders[len(orders)-1]
		token, err := encodeListCursor(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	if err := r.attachItems(ctx, q, orders); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page.Items = orders
	return page, nil
}

// AppendEvent records a single audit event. Events are immutable once written.
func (r *OrderRepository) AppendEvent(ctx context.Context, event domain.OrderEvent) error {
	if r == nil || r.pool == nil {
		return errors.New("order repository not initialised")
	}
	data, err := encodeJSON(event.Data)
	if err != nil {
		return ppostgres.WrapError("orders.events.append", err)
	}
	q := ppostgres.Querier(ctx, r.pool)
	_, err = q.Exec(ctx, `
		INSERT INTO order_events (id, order_id, type, actor_id, note, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.OrderID, event.Type, event.ActorID, event.Note, data, event.CreatedAt,
	)
	if err != nil {
		return ppostgres.WrapError("orders.events.append", err)
	}
	return nil
}

// ListEvents returns every audit event for the order, newest first.
func (r *OrderRepository) ListEvents(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("order repository not initialised")
	}
	q := ppostgres.Querier(ctx, r.pool)
	rows, err := q.Query(ctx, `
		SELECT id, order_id, type, actor_id, note, data, created_at
		FROM order_events WHERE order_id = $1
		ORDER BY created_at DESC, id DESC`, orderID)
	if err != nil {
		return nil, ppostgres.WrapError("orders.events.list", err)
	}
	defer rows.Close()

	events := make([]domain.OrderEvent, 0, 8)
	for rows.Next() {
		var (
			event domain.OrderEvent
			data  []byte
		)
		if err := rows.Scan(&event.ID, &event.OrderID, &event.Type, &event.ActorID, &event.Note, &data, &event.CreatedAt); err != nil {
			return nil, ppostgres.WrapError("orders.events.list", err)
		}
		if event.Data, err = decodeJSONMap(data); err != nil {
			return nil, ppostgres.WrapError("orders.events.list", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, ppostgres.WrapError("orders.events.list", err)
	}
	return events, nil
}

func (r *OrderRepository) loadAssociations(ctx context.Context, q ppostgres.DBTX, order domain.Order) (domain.Order, error) {
	orders := []domain.Order{order}
	if err := r.attachItems(ctx, q, orders); err != nil {
		return domain.Order{}, err
	}
	payments, err := loadPayments(ctx, q, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	orders[0].Payments = payments
	return orders[0], nil
}

func (r *OrderRepository) attachItems(ctx context.Context, q ppostgres.DBTX, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
		index[order.ID] = i
	}

	rows, err := q.Query(ctx, `
		SELECT order_id, id, product_ref, sku, name, quantity, fulfilled_qty, unit_price, total, metadata
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, position`, ids)
	if err != nil {
		return ppostgres.WrapError("orders.items.list", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID  string
			item     domain.OrderItem
			metadata []byte
		)
		if err := rows.Scan(&orderID, &item.ID, &item.ProductRef, &item.SKU, &item.Name,
			&item.Quantity, &item.FulfilledQty, &item.UnitPrice, &item.Total, &metadata); err != nil {
			return ppostgres.WrapError("orders.items.list", err)
		}
		if item.Metadata, err = decodeJSONMap(metadata); err != nil {
			return ppostgres.WrapError("orders.items.list", err)
		}
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	if err := rows.Err(); err != nil {
		return ppostgres.WrapError("orders.items.list", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order                     domain.Order
		status, payStatus, fulSts string
		shippingAddr, billingAddr []byte
		metadata                  []byte
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.GuestEmail,
		&status, &payStatus, &fulSts,
		&order.Currency, &order.Totals.Subtotal, &order.Totals.Discount, &order.Totals.Shipping,
		&order.Totals.Tax, &order.Totals.Total, &shippingAddr, &billingAddr,
		&order.Notes, &metadata, &order.CreatedAt, &order.UpdatedAt, &order.CancelledAt, &order.CancelReason,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(payStatus)
	order.FulfillmentStatus = domain.FulfillmentStatus(fulSts)
	if order.ShippingAddress, err = decodeAddress(shippingAddr); err != nil {
		return domain.Order{}, err
	}
	if order.BillingAddress, err = decodeAddress(billingAddr); err != nil {
		return domain.Order{}, err
	}
	if order.Metadata, err = decodeJSONMap(metadata); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// JSON codec helpers shared by the order and payment repositories ------------

func encodeJSON(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *domain.Address:
		if v == nil {
			return nil, nil
		}
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode json: %w", err)
	}
	return data, nil
}

func decodeJSONMap(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("postgres: decode json: %w", err)
	}
	return out, nil
}

func decodeAddress(data []byte) (*domain.Address, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var addr domain.Address
	if err := json.Unmarshal(data, &addr); err != nil {
		return nil, fmt.Errorf("postgres: decode address: %w", err)
	}
	return &addr, nil
}

func encodeListCursor(createdAt time.Time, id string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), id},
	})
}

func decodeListCursor(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	rawAt, okAt := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okAt || !okID {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawAt)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return createdAt, id, nil
}
