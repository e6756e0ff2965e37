package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/payments"
	"github.com/shoplane/api/internal/repositories"
)

const paymentIDPrefix = "pay_"

var (
	// ErrPaymentInvalidInput signals the caller provided invalid payment data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment record could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentWebhookRejected indicates the webhook payload failed verification.
	ErrPaymentWebhookRejected = errors.New("payment: webhook rejected")
)

// PaymentProviderGateway is the slice of the PSP manager the payment service needs.
type PaymentProviderGateway interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
	ParseWebhookEvent(provider string, payload []byte, headers map[string]string) (payments.WebhookEvent, error)
}

// PaymentServiceDeps bundles collaborators for the payment service.
type PaymentServiceDeps struct {
	Payments     repositories.OrderPaymentRepository
	OrderService OrderService
	Providers    PaymentProviderGateway
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments  repositories.OrderPaymentRepository
	orderSvc  OrderService
	providers PaymentProviderGateway
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.OrderService == nil {
		return nil, errors.New("payment service: order service is required")
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

	return &paymentService{
		payments:  deps.Payments,
		orderSvc:  deps.OrderService,
		providers: deps.Providers,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// RecordPaymentResult upserts the payment record for a PSP intent and pushes
// the resulting payment status onto the order, which triggers the
// payment-status hooks and the auto-confirm rule.
func (s *paymentService) RecordPaymentResult(ctx context.Context, cmd RecordPaymentResultCommand) (Payment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Payment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if provider == "" {
		return Payment{}, fmt.Errorf("%w: provider is required", ErrPaymentInvalidInput)
	}
	intentID := strings.TrimSpace(cmd.IntentID)
	if intentID == "" {
		return Payment{}, fmt.Errorf("%w: intent id is required", ErrPaymentInvalidInput)
	}
	switch cmd.Status {
	case domain.PaymentStatusPending, domain.PaymentStatusPaid, domain.PaymentStatusRefunded, domain.PaymentStatusFailed:
	default:
		return Payment{}, fmt.Errorf("%w: unknown payment status %q", ErrPaymentInvalidInput, cmd.Status)
	}

	order, err := s.orderSvc.GetOrder(ctx, orderID)
	if err != nil {
		return Payment{}, err
	}

	now := s.clock()

	payment, err := s.payments.FindByIntentID(ctx, provider, intentID)
	switch {
	case err == nil:
		payment.Status = cmd.Status
		payment.UpdatedAt = now
		if cmd.Amount > 0 {
			payment.Amount = cmd.Amount
		}
		if len(cmd.Raw) > 0 {
			payment.Raw = cloneMap(cmd.Raw)
		}
		if err := s.payments.Update(ctx, payment); err != nil {
			return Payment{}, s.mapRepositoryError(err)
		}
	case s.isNotFound(err):
		payment = Payment{
			ID:        paymentIDPrefix + s.newID(),
			OrderID:   orderID,
			Provider:  provider,
			IntentID:  intentID,
			Status:    cmd.Status,
			Amount:    cmd.Amount,
			Currency:  strings.ToUpper(strings.TrimSpace(cmd.Currency)),
			Raw:       cloneMap(cmd.Raw),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if payment.Currency == "" {
			payment.Currency = order.Currency
		}
		if err := s.payments.Insert(ctx, payment); err != nil {
			return Payment{}, s.mapRepositoryError(err)
		}
	default:
		return Payment{}, s.mapRepositoryError(err)
	}

	if order.PaymentStatus != cmd.Status {
		status := cmd.Status
		if _, err := s.orderSvc.Update(ctx, UpdateOrderCommand{
			OrderID:       orderID,
			PaymentStatus: &status,
			ActorID:       cmd.ActorID,
		}); err != nil {
			return payment, err
		}
	}

	return payment, nil
}

// RecordWebhookEvent verifies a PSP webhook and applies its payment outcome.
func (s *paymentService) RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error {
	if s.providers == nil {
		return errors.New("payment service: provider gateway not configured")
	}
	if len(cmd.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrPaymentInvalidInput)
	}

	event, err := s.providers.ParseWebhookEvent(cmd.Provider, cmd.Payload, cmd.Headers)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidWebhook) {
			return fmt.Errorf("%w: %v", ErrPaymentWebhookRejected, err)
		}
		return err
	}

	orderID, err := s.resolveOrderID(ctx, event)
	if err != nil {
		return err
	}

	_, err = s.RecordPaymentResult(ctx, RecordPaymentResultCommand{
		OrderID:  orderID,
		Provider: event.Provider,
		IntentID: event.IntentID,
		Status:   paymentStatusFromProvider(event.Status),
		Amount:   event.Amount,
		Currency: event.Currency,
		Raw:      event.Raw,
	})
	return err
}

// Refund asks the PSP to return funds for a recorded payment and stores the outcome.
func (s *paymentService) Refund(ctx context.Context, cmd RefundPaymentCommand) (Payment, error) {
	if s.providers == nil {
		return Payment{}, errors.New("payment service: provider gateway not configured")
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if orderID == "" || paymentID == "" {
		return Payment{}, fmt.Errorf("%w: order id and payment id are required", ErrPaymentInvalidInput)
	}

	recorded, err := s.payments.List(ctx, orderID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}
	var payment *Payment
	for i := range recorded {
		if recorded[i].ID == paymentID {
			payment = &recorded[i]
			break
		}
	}
	if payment == nil {
		return Payment{}, fmt.Errorf("%w: payment %s on order %s", ErrPaymentNotFound, paymentID, orderID)
	}
	if payment.Status != domain.PaymentStatusPaid {
		return Payment{}, fmt.Errorf("%w: only paid payments can be refunded, status is %q", ErrPaymentInvalidInput, payment.Status)
	}

	details, err := s.providers.Refund(ctx, payments.PaymentContext{
		PreferredProvider: payment.Provider,
		Currency:          payment.Currency,
	}, payments.RefundRequest{
		IntentID: payment.IntentID,
		Amount:   cmd.Amount,
		Reason:   cmd.Reason,
	})
	if err != nil {
		return Payment{}, err
	}

	return s.RecordPaymentResult(ctx, RecordPaymentResultCommand{
		OrderID:  orderID,
		Provider: payment.Provider,
		IntentID: payment.IntentID,
		Status:   paymentStatusFromProvider(details.Status),
		Amount:   details.Amount,
		Currency: details.Currency,
		Raw:      details.Raw,
		ActorID:  cmd.ActorID,
	})
}

func (s *paymentService) ListPayments(ctx context.Context, orderID string) ([]Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	recorded, err := s.payments.List(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return recorded, nil
}

// resolveOrderID locates the order a webhook belongs to, preferring the stored
// payment record over metadata carried in the event payload.
func (s *paymentService) resolveOrderID(ctx context.Context, event payments.WebhookEvent) (string, error) {
	payment, err := s.payments.FindByIntentID(ctx, event.Provider, event.IntentID)
	if err == nil {
		return payment.OrderID, nil
	}
	if !s.isNotFound(err) {
		return "", s.mapRepositoryError(err)
	}

	if metadata, ok := event.Raw["metadata"].(map[string]any); ok {
		if orderID, ok := metadata["orderId"].(string); ok && strings.TrimSpace(orderID) != "" {
			return strings.TrimSpace(orderID), nil
		}
	}
	return "", fmt.Errorf("%w: no order associated with intent %s", ErrPaymentNotFound, event.IntentID)
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return err
}

func (s *paymentService) isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func paymentStatusFromProvider(status payments.Status) PaymentStatus {
	switch status {
	case payments.StatusSucceeded:
		return domain.PaymentStatusPaid
	case payments.StatusFailed:
		return domain.PaymentStatusFailed
	case payments.StatusRefunded:
		return domain.PaymentStatusRefunded
	default:
		return domain.PaymentStatusPending
	}
}
