package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/repositories"
)

const auditEventFulfillmentRecorded = "fulfillment_recorded"

var (
	// ErrFulfillmentInvalidInput signals bad fulfillment lines such as unknown items or excess quantities.
	ErrFulfillmentInvalidInput = errors.New("fulfillment: invalid input")
)

// FulfillmentServiceDeps bundles collaborators for the fulfillment service.
type FulfillmentServiceDeps struct {
	Orders       repositories.OrderRepository
	OrderService OrderService
	UnitOfWork   repositories.UnitOfWork
	Policy       OrderPolicy
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	orders     repositories.OrderRepository
	orderSvc   OrderService
	unitOfWork repositories.UnitOfWork
	policy     OrderPolicy
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewFulfillmentService wires dependencies into a concrete FulfillmentService implementation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
	}
	if deps.OrderService == nil {
		return nil, errors.New("fulfillment service: order service is required")
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

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &fulfillmentService{
		orders:     deps.Orders,
		orderSvc:   deps.OrderService,
		unitOfWork: unit,
		policy:     deps.Policy,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// RecordFulfillment increments fulfilled quantities on the named line items,
// re-derives the order fulfillment status, and optionally moves a fully
// fulfilled order to shipped through the order service.
func (s *fulfillmentService) RecordFulfillment(ctx context.Context, cmd RecordFulfillmentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: at least one fulfillment line is required", ErrFulfillmentInvalidInput)
	}

	order, err := s.orderSvc.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}

	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: cancelled orders cannot be fulfilled", ErrOrderInvalidState)
	}

	itemsByID := make(map[string]*OrderItem, len(order.Items))
	for i := range order.Items {
		itemsByID[order.Items[i].ID] = &order.Items[i]
	}

	for _, line := range cmd.Lines {
		itemID := strings.TrimSpace(line.ItemID)
		item, ok := itemsByID[itemID]
		if !ok {
			return Order{}, fmt.Errorf("%w: item %s is not part of order %s", ErrFulfillmentInvalidInput, itemID, orderID)
		}
		if line.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: item %s quantity must be positive", ErrFulfillmentInvalidInput, itemID)
		}
		if item.FulfilledQty+line.Quantity > item.Quantity {
			return Order{}, fmt.Errorf("%w: item %s would exceed ordered quantity", ErrFulfillmentInvalidInput, itemID)
		}
		item.FulfilledQty += line.Quantity
	}

	prevFulfillment := order.FulfillmentStatus
	order.FulfillmentStatus = domain.FulfillmentStatusFor(order.Items)
	now := s.clock()
	order.UpdatedAt = now

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		for _, line := range cmd.Lines {
			item := itemsByID[strings.TrimSpace(line.ItemID)]
			if err := s.orders.UpdateItemFulfilledQty(txCtx, orderID, item.ID, item.FulfilledQty); err != nil {
				return mapFulfillmentRepositoryError(err)
			}
		}
		if err := s.orders.Update(txCtx, domain.Order(order)); err != nil {
			return mapFulfillmentRepositoryError(err)
		}
		if s.policy.TrackEvents {
			event := OrderAuditEvent{
				ID:        orderEventIDPrefix + s.newID(),
				OrderID:   orderID,
				Type:      auditEventFulfillmentRecorded,
				ActorID:   optionalString(strings.TrimSpace(cmd.ActorID)),
				Data: map[string]any{
					"from": string(prevFulfillment),
					"to":   string(order.FulfillmentStatus),
				},
				CreatedAt: now,
			}
			if err := s.orders.AppendEvent(txCtx, event); err != nil {
				return mapFulfillmentRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if cmd.MarkShipped && order.FulfillmentStatus == domain.FulfillmentStatusFulfilled && order.Status != domain.OrderStatusShipped {
		shipped := domain.OrderStatusShipped
		expected := order.Status
		return s.orderSvc.Update(ctx, UpdateOrderCommand{
			OrderID:        orderID,
			Status:         &shipped,
			ActorID:        cmd.ActorID,
			ExpectedStatus: &expected,
		})
	}

	return order, nil
}

func mapFulfillmentRepositoryError(err error) error {
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
		}
	}
	return err
}
