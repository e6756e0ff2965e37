package services

import (
	"context"
	"time"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Order              = domain.Order
	OrderTotals        = domain.OrderTotals
	OrderItem          = domain.OrderItem
	OrderAuditEvent    = domain.OrderEvent
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	FulfillmentStatus  = domain.FulfillmentStatus
	Payment            = domain.Payment
	Address            = domain.Address
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService encapsulates order lifecycle flows: creation with computed totals,
// guarded status transitions, confirmation, cancellation, and the audit trail.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	Update(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	Confirm(ctx context.Context, cmd ConfirmOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	AddNote(ctx context.Context, cmd AddOrderNoteCommand) (OrderAuditEvent, error)
	ListAuditEvents(ctx context.Context, orderID string) ([]OrderAuditEvent, error)
}

// FulfillmentService records shipped quantities per line item and keeps the
// derived fulfillment status of the order consistent.
type FulfillmentService interface {
	RecordFulfillment(ctx context.Context, cmd RecordFulfillmentCommand) (Order, error)
}

// PaymentService ingests PSP results and applies them to the payment axis of orders.
type PaymentService interface {
	RecordPaymentResult(ctx context.Context, cmd RecordPaymentResultCommand) (Payment, error)
	RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error
	Refund(ctx context.Context, cmd RefundPaymentCommand) (Payment, error)
	ListPayments(ctx context.Context, orderID string) ([]Payment, error)
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type OrderListFilter = repositories.OrderListFilter

// CreateOrderItemInput is a caller-supplied line with the unit price snapshot
// captured at order time.
type CreateOrderItemInput struct {
	ProductRef string
	SKU        string
	Name       string
	Quantity   int
	UnitPrice  int64
	Metadata   map[string]any
}

type CreateOrderCommand struct {
	UserID          string
	GuestEmail      *string
	Currency        string
	Items           []CreateOrderItemInput
	Discount        int64
	Shipping        int64
	TaxRate         string
	ShippingAddress *Address
	BillingAddress  *Address
	Notes           *string
	Metadata        map[string]any
	ActorID         string
}

// UpdateOrderCommand mutates order fields. Nil pointers leave the field untouched.
// Status values set here bypass the adjacency rules enforced by Confirm/Cancel.
type UpdateOrderCommand struct {
	OrderID         string
	Status          *OrderStatus
	PaymentStatus   *PaymentStatus
	Notes           *string
	Metadata        map[string]any
	ShippingAddress *Address
	BillingAddress  *Address
	ActorID         string
	Reason          string
	ExpectedStatus  *OrderStatus
}

type ConfirmOrderCommand struct {
	OrderID string
	ActorID string
}

type CancelOrderCommand struct {
	OrderID        string
	ActorID        string
	Reason         string
	ExpectedStatus *OrderStatus
}

type AddOrderNoteCommand struct {
	OrderID string
	ActorID string
	Note    string
	Data    map[string]any
}

type RecordFulfillmentLine struct {
	ItemID   string
	Quantity int
}

type RecordFulfillmentCommand struct {
	OrderID     string
	Lines       []RecordFulfillmentLine
	ActorID     string
	MarkShipped bool
}

type RecordPaymentResultCommand struct {
	OrderID  string
	Provider string
	IntentID string
	Status   PaymentStatus
	Amount   int64
	Currency string
	Raw      map[string]any
	ActorID  string
}

type PaymentWebhookCommand struct {
	Provider string
	Payload  []byte
	Headers  map[string]string
}

type RefundPaymentCommand struct {
	OrderID   string
	PaymentID string
	ActorID   string
	Amount    *int64
	Reason    string
}

// TotalsInput feeds the totals calculator outside of order creation (quote previews).
type TotalsInput struct {
	Items    []CreateOrderItemInput
	Discount int64
	Shipping int64
	TaxRate  string
}

// AuditLogFilter narrows audit event listings.
type AuditLogFilter struct {
	OrderID    string
	Types      []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}
