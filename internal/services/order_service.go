package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/repositories"
)

const (
	orderEventCreated   = "order.created"
	orderEventUpdated   = "order.updated"
	orderEventCancelled = "order.cancelled"

	auditEventOrderCreated   = "order_created"
	auditEventStatusChanged  = "status_changed"
	auditEventOrderCancelled = "order_cancelled"
	auditEventNote           = "note"

	orderIDPrefix      = "ord_"
	orderItemIDPrefix  = "itm_"
	orderEventIDPrefix = "oev_"

	defaultOrderNumberPrefix = "ORD"
	defaultOrderNumberLength = 8

	maxOrderNumberAttempts = 5
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates a precondition-checked operation was attempted
	// from a status that does not allow it, or a disabled feature was invoked.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a concurrent writer changed the order between
	// the read and the guarded write, or a uniqueness violation.
	ErrOrderConflict = errors.New("order: conflict")
)

// Statuses from which cancellation is refused. Cancelled is terminal outright;
// shipped and delivered orders must go through a return flow instead.
var nonCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	Total          int64          `json:"total,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OrderPolicy carries the feature flags and order-number settings that shape
// order lifecycle behaviour.
type OrderPolicy struct {
	AllowEdit        bool
	AllowCancel      bool
	TrackEvents      bool
	ConfirmOnPayment bool
	NumberPrefix     string
	NumberLength     int
	HookFailures     HookFailureMode
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	UnitOfWork      repositories.UnitOfWork
	Policy          OrderPolicy
	Hooks           OrderHooks
	Clock           func() time.Time
	IDGenerator     func() string
	NumberGenerator func(length int) string
	Events          OrderEventPublisher
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	policy     OrderPolicy
	hooks      hookRunner
	clock      func() time.Time
	newID      func() string
	newNumber  func(length int) string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = defaultIDGenerator
	}

	numberGen := deps.NumberGenerator
	if numberGen == nil {
		numberGen = randomOrderToken
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	policy := deps.Policy
	if strings.TrimSpace(policy.NumberPrefix) == "" {
		policy.NumberPrefix = defaultOrderNumberPrefix
	}
	if policy.NumberLength <= 0 {
		policy.NumberLength = defaultOrderNumberLength
	}

	return &orderService{
		orders:     deps.Orders,
		unitOfWork: unit,
		policy:     policy,
		hooks:      newHookRunner(deps.Hooks, policy.HookFailures, logger),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		newNumber: numberGen,
		events:    deps.Events,
		logger:    logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	guestEmail := trimmedStringPtr(cmd.GuestEmail)
	if userID == "" && guestEmail == nil {
		return Order{}, fmt.Errorf("%w: buyer user id or guest email is required", ErrOrderInvalidInput)
	}
	if cmd.ShippingAddress == nil {
		return Order{}, fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}
	code := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if code == "" {
		return Order{}, fmt.Errorf("%w: currency is required", ErrOrderInvalidInput)
	}
	if _, err := currency.ParseISO(code); err != nil {
		return Order{}, fmt.Errorf("%w: currency %q is not a valid ISO 4217 code", ErrOrderInvalidInput, cmd.Currency)
	}

	now := s.now()

	number, err := s.generateOrderNumber(ctx)
	if err != nil {
		return Order{}, err
	}

	if err := s.hooks.beforeCreate(ctx, &cmd); err != nil {
		return Order{}, err
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}

	// Totals are derived from the hook-transformed command so the subtotal
	// always matches the item snapshot stored on the order.
	totals, err := CalculateOrderTotals(TotalsInput{
		Items:    cmd.Items,
		Discount: cmd.Discount,
		Shipping: cmd.Shipping,
		TaxRate:  cmd.TaxRate,
	})
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	order := Order{
		ID:                orderIDPrefix + s.newID(),
		OrderNumber:       number,
		UserID:            userID,
		GuestEmail:        guestEmail,
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPending,
		FulfillmentStatus: domain.FulfillmentStatusUnfulfilled,
		Currency:          code,
		Totals:            totals,
		Items:             s.buildOrderItems(cmd.Items),
		ShippingAddress:   cloneAddress(cmd.ShippingAddress),
		BillingAddress:    cloneAddress(cmd.BillingAddress),
		Notes:             trimmedStringPtr(cmd.Notes),
		Metadata:          cloneMap(cmd.Metadata),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, domain.Order(order)); err != nil {
			return s.mapRepositoryError(err)
		}
		if s.policy.TrackEvents {
			event := s.newAuditEvent(order.ID, auditEventOrderCreated, cmd.ActorID, now, map[string]any{
				"orderNumber": order.OrderNumber,
				"total":       order.Totals.Total,
			})
			if err := s.orders.AppendEvent(txCtx, event); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		Total:         order.Totals.Total,
		ActorID:       cmd.ActorID,
		OccurredAt:    now,
		Metadata:      cloneMap(order.Metadata),
	})

	if err := s.hooks.afterCreate(ctx, order); err != nil {
		return order, err
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// Update is the intentionally permissive escape hatch: status values set here
// are not validated against the transition graph. Confirm and Cancel layer
// their preconditions on top of this path.
func (s *orderService) Update(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	if hasFieldEdits(cmd) && !s.policy.AllowEdit {
		return Order{}, fmt.Errorf("%w: order editing is disabled", ErrOrderInvalidState)
	}

	if err := s.hooks.beforeUpdate(ctx, order, cmd); err != nil {
		return Order{}, err
	}

	now := s.now()
	prevStatus := order.Status
	prevPayment := order.PaymentStatus

	if cmd.Notes != nil {
		order.Notes = trimmedStringPtr(cmd.Notes)
	}
	if cmd.Metadata != nil {
		order.Metadata = cloneAndMergeMetadata(order.Metadata, cmd.Metadata)
	}
	if cmd.ShippingAddress != nil {
		order.ShippingAddress = cloneAddress(cmd.ShippingAddress)
	}
	if cmd.BillingAddress != nil {
		order.BillingAddress = cloneAddress(cmd.BillingAddress)
	}
	if cmd.Status != nil {
		order.Status = *cmd.Status
	}
	if cmd.PaymentStatus != nil {
		order.PaymentStatus = *cmd.PaymentStatus
	}
	if order.Status == domain.OrderStatusCancelled && prevStatus != domain.OrderStatusCancelled {
		order.CancelledAt = &now
		if reason := strings.TrimSpace(cmd.Reason); reason != "" {
			order.CancelReason = &reason
		}
	}
	order.UpdatedAt = now

	statusChanged := order.Status != prevStatus
	paymentChanged := order.PaymentStatus != prevPayment

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.UpdateGuarded(txCtx, order, prevStatus); err != nil {
			return s.mapRepositoryError(err)
		}
		if statusChanged && s.policy.TrackEvents {
			event := s.newAuditEvent(order.ID, auditEventStatusChanged, cmd.ActorID, now, map[string]any{
				"from": string(prevStatus),
				"to":   string(order.Status),
			})
			if err := s.orders.AppendEvent(txCtx, event); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if statusChanged {
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventUpdated,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(order.Status),
			ActorID:        cmd.ActorID,
			OccurredAt:     now,
		})
	}

	if err := s.hooks.afterUpdate(ctx, order); err != nil {
		return order, err
	}
	if statusChanged {
		if err := s.hooks.onStatusChange(ctx, order.ID, prevStatus, order.Status); err != nil {
			return order, err
		}
		if err := s.hooks.forStatus(ctx, order); err != nil {
			return order, err
		}
	}
	if paymentChanged {
		if err := s.hooks.onPaymentStatusChange(ctx, order.ID, prevPayment, order.PaymentStatus); err != nil {
			return order, err
		}
		if order.PaymentStatus == domain.PaymentStatusPaid && s.policy.ConfirmOnPayment && order.Status == domain.OrderStatusPending {
			return s.Confirm(ctx, ConfirmOrderCommand{OrderID: order.ID, ActorID: cmd.ActorID})
		}
	}

	return order, nil
}

func (s *orderService) Confirm(ctx context.Context, cmd ConfirmOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if order.Status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: only pending orders can be confirmed, status is %q", ErrOrderInvalidState, order.Status)
	}

	expected := domain.OrderStatusPending
	confirmed := domain.OrderStatusConfirmed
	return s.Update(ctx, UpdateOrderCommand{
		OrderID:        orderID,
		Status:         &confirmed,
		ActorID:        cmd.ActorID,
		ExpectedStatus: &expected,
	})
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !s.policy.AllowCancel {
		return Order{}, fmt.Errorf("%w: order cancellation is disabled", ErrOrderInvalidState)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if slices.Contains(nonCancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	expected := order.Status
	cancelled := domain.OrderStatusCancelled
	reason := strings.TrimSpace(cmd.Reason)

	updated, err := s.Update(ctx, UpdateOrderCommand{
		OrderID:        orderID,
		Status:         &cancelled,
		ActorID:        cmd.ActorID,
		Reason:         reason,
		ExpectedStatus: &expected,
	})
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	if s.policy.TrackEvents {
		event := s.newAuditEvent(updated.ID, auditEventOrderCancelled, cmd.ActorID, now, map[string]any{
			"reason": reason,
		})
		if err := s.orders.AppendEvent(ctx, event); err != nil {
			s.logger(ctx, "order.audit.append.failed", map[string]any{
				"order": updated.ID,
				"type":  auditEventOrderCancelled,
				"error": err.Error(),
			})
		}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(expected),
		CurrentStatus:  string(updated.Status),
		Reason:         reason,
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
	})

	if err := s.hooks.onOrderCancelled(ctx, updated); err != nil {
		return updated, err
	}

	return updated, nil
}

func (s *orderService) AddNote(ctx context.Context, cmd AddOrderNoteCommand) (OrderAuditEvent, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderAuditEvent{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	note := strings.TrimSpace(cmd.Note)
	if note == "" {
		return OrderAuditEvent{}, fmt.Errorf("%w: note text is required", ErrOrderInvalidInput)
	}

	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return OrderAuditEvent{}, s.mapRepositoryError(err)
	}

	event := s.newAuditEvent(orderID, auditEventNote, cmd.ActorID, s.now(), cloneMap(cmd.Data))
	event.Note = note

	if err := s.orders.AppendEvent(ctx, event); err != nil {
		return OrderAuditEvent{}, s.mapRepositoryError(err)
	}
	return event, nil
}

func (s *orderService) ListAuditEvents(ctx context.Context, orderID string) ([]OrderAuditEvent, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	events, err := s.orders.ListEvents(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return events, nil
}

func (s *orderService) buildOrderItems(items []CreateOrderItemInput) []OrderItem {
	lines := make([]OrderItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderItem{
			ID:         orderItemIDPrefix + s.newID(),
			ProductRef: strings.TrimSpace(item.ProductRef),
			SKU:        strings.TrimSpace(item.SKU),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.UnitPrice * int64(item.Quantity),
			Metadata:   cloneMap(item.Metadata),
		})
	}
	return lines
}

func (s *orderService) newAuditEvent(orderID, eventType, actorID string, now time.Time, data map[string]any) OrderAuditEvent {
	return OrderAuditEvent{
		ID:        orderEventIDPrefix + s.newID(),
		OrderID:   orderID,
		Type:      eventType,
		ActorID:   optionalString(strings.TrimSpace(actorID)),
		Data:      data,
		CreatedAt: now,
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		candidate := fmt.Sprintf("%s-%s", s.policy.NumberPrefix, s.newNumber(s.policy.NumberLength))
		_, err := s.orders.FindByOrderNumber(ctx, candidate)
		if err == nil {
			continue
		}
		if errors.Is(s.mapRepositoryError(err), ErrOrderNotFound) {
			return candidate, nil
		}
		return "", s.mapRepositoryError(err)
	}
	return "", fmt.Errorf("%w: could not allocate a unique order number", ErrOrderConflict)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func hasFieldEdits(cmd UpdateOrderCommand) bool {
	return cmd.Notes != nil || cmd.Metadata != nil || cmd.ShippingAddress != nil || cmd.BillingAddress != nil
}

func defaultIDGenerator() string {
	return ulid.Make().String()
}

// randomOrderToken returns the trailing characters of a fresh ULID, which are
// drawn from its entropy segment.
func randomOrderToken(length int) string {
	id := ulid.Make().String()
	if length >= len(id) {
		return id
	}
	return id[len(id)-length:]
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	return &cloned
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func cloneAndMergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	if base == nil && extra == nil {
		return nil
	}
	result := cloneMap(base)
	if len(extra) == 0 {
		return result
	}
	if result == nil {
		result = map[string]any{}
	}
	for k, v := range extra {
		result[k] = v
	}
	return result
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}

func trimmedStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	return optionalString(strings.TrimSpace(*v))
}
