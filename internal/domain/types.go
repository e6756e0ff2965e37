package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been created but not yet confirmed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the order has been accepted for processing.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order has reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order has been cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus tracks the payment axis of an order independently of fulfillment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates payment has not been captured yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates payment has been captured in full.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusRefunded indicates the captured payment has been returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusFailed indicates the payment attempt did not succeed.
	PaymentStatusFailed PaymentStatus = "failed"
)

// FulfillmentStatus is derived from line item fulfilled quantities and never set directly.
type FulfillmentStatus string

const (
	// FulfillmentStatusUnfulfilled indicates no item quantity has shipped.
	FulfillmentStatusUnfulfilled FulfillmentStatus = "unfulfilled"
	// FulfillmentStatusPartial indicates some but not all item quantity has shipped.
	FulfillmentStatusPartial FulfillmentStatus = "partial"
	// FulfillmentStatusFulfilled indicates every item quantity has shipped.
	FulfillmentStatusFulfilled FulfillmentStatus = "fulfilled"
)

// Order captures order headers returned to handlers/services.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	GuestEmail        *string
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	Currency          string
	Totals            OrderTotals
	Items             []OrderItem
	ShippingAddress   *Address
	BillingAddress    *Address
	Notes             *string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CancelledAt       *time.Time
	CancelReason      *string
	Payments          []Payment
	Events            []OrderEvent
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Tax      int64
	Total    int64
}

// OrderItem snapshots a purchased product line at the time of order creation.
type OrderItem struct {
	ID           string
	ProductRef   string
	SKU          string
	Name         string
	Quantity     int
	FulfilledQty int
	UnitPrice    int64
	Total        int64
	Metadata     map[string]any
}

// OrderEvent is an append-only audit record attached to an order.
type OrderEvent struct {
	ID        string
	OrderID   string
	Type      string
	ActorID   *string
	Note      string
	Data      map[string]any
	CreatedAt time.Time
}

// Payment encapsulates payment status and PSP references for an order.
type Payment struct {
	ID         string
	OrderID    string
	Provider   string
	IntentID   string
	Status     PaymentStatus
	Amount     int64
	Currency   string
	Raw        map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Address represents postal address structures shared by buyer and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// HealthStatus grades the availability of a dependency or the system overall.
type HealthStatus string

const (
	// HealthStatusOK indicates the dependency responded normally.
	HealthStatusOK HealthStatus = "ok"
	// HealthStatusDegraded indicates the dependency responded with errors.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError indicates the dependency is unreachable or timed out.
	HealthStatusError HealthStatus = "error"
)

// SystemHealthCheck captures a single dependency probe outcome.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probe outcomes for readiness checks.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// FulfillmentStatusFor derives the order fulfillment state from its line items.
func FulfillmentStatusFor(items []OrderItem) FulfillmentStatus {
	total := 0
	fulfilled := 0
	for _, item := range items {
		total += item.Quantity
		fulfilled += item.FulfilledQty
	}
	switch {
	case total == 0 || fulfilled == 0:
		return FulfillmentStatusUnfulfilled
	case fulfilled >= total:
		return FulfillmentStatusFulfilled
	default:
		return FulfillmentStatusPartial
	}
}
