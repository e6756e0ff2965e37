package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/platform/pagination"
	"github.com/shoplane/api/internal/services"
)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFn        func(context.Context, string) (services.Order, error)
	getByNumFn   func(context.Context, string) (services.Order, error)
	updateFn     func(context.Context, services.UpdateOrderCommand) (services.Order, error)
	confirmFn    func(context.Context, services.ConfirmOrderCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
	addNoteFn    func(context.Context, services.AddOrderNoteCommand) (services.OrderAuditEvent, error)
	listEventsFn func(context.Context, string) ([]services.OrderAuditEvent, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (services.Order, error) {
	if s.getByNumFn != nil {
		return s.getByNumFn(ctx, orderNumber)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Update(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Confirm(ctx context.Context, cmd services.ConfirmOrderCommand) (services.Order, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) AddNote(ctx context.Context, cmd services.AddOrderNoteCommand) (services.OrderAuditEvent, error) {
	if s.addNoteFn != nil {
		return s.addNoteFn(ctx, cmd)
	}
	return services.OrderAuditEvent{}, errors.New("not implemented")
}

func (s *stubOrderService) ListAuditEvents(ctx context.Context, orderID string) ([]services.OrderAuditEvent, error) {
	if s.listEventsFn != nil {
		return s.listEventsFn(ctx, orderID)
	}
	return nil, errors.New("not implemented")
}

type stubFulfillmentService struct {
	recordFn func(context.Context, services.RecordFulfillmentCommand) (services.Order, error)
}

func (s *stubFulfillmentService) RecordFulfillment(ctx context.Context, cmd services.RecordFulfillmentCommand) (services.Order, error) {
	if s.recordFn != nil {
		return s.recordFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

type stubPaymentService struct {
	recordFn  func(context.Context, services.RecordPaymentResultCommand) (services.Payment, error)
	webhookFn func(context.Context, services.PaymentWebhookCommand) error
	refundFn  func(context.Context, services.RefundPaymentCommand) (services.Payment, error)
	listFn    func(context.Context, string) ([]services.Payment, error)
}

func (s *stubPaymentService) RecordPaymentResult(ctx context.Context, cmd services.RecordPaymentResultCommand) (services.Payment, error) {
	if s.recordFn != nil {
		return s.recordFn(ctx, cmd)
	}
	return services.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentService) RecordWebhookEvent(ctx context.Context, cmd services.PaymentWebhookCommand) error {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubPaymentService) Refund(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentService) ListPayments(ctx context.Context, orderID string) ([]services.Payment, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, errors.New("not implemented")
}

func newOrderRouter(orders services.OrderService, fulfillments services.FulfillmentService, payments services.PaymentService) chi.Router {
	handler := NewOrderHandlers(orders, fulfillments, payments)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func sampleOrder(now time.Time) services.Order {
	return services.Order{
		ID:                "ord_123",
		OrderNumber:       "ORD-A1B2C3D4",
		UserID:            "user-1",
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPending,
		FulfillmentStatus: domain.FulfillmentStatusUnfulfilled,
		Currency:          "USD",
		Totals: services.OrderTotals{
			Subtotal: 350,
			Discount: 50,
			Shipping: 30,
			Tax:      15,
			Total:    345,
		},
		Items: []services.OrderItem{
			{ID: "itm_1", ProductRef: "products/p1", SKU: "SKU-1", Quantity: 2, UnitPrice: 100, Total: 200},
			{ID: "itm_2", ProductRef: "products/p2", SKU: "SKU-2", Quantity: 1, UnitPrice: 150, Total: 150},
		},
		ShippingAddress: &services.Address{
			Recipient:  "Jordan Doe",
			Line1:      "1 Main St",
			City:       "Springfield",
			PostalCode: "12345",
			Country:    "US",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(now), nil
		},
	}

	router := newOrderRouter(service, nil, nil)

	body := `{
		"user_id": "user-1",
		"currency": "usd",
		"items": [
			{"product_ref": "products/p1", "sku": "SKU-1", "quantity": 2, "unit_price": 100},
			{"product_ref": "products/p2", "sku": "SKU-2", "quantity": 1, "unit_price": 150}
		],
		"discount": 50,
		"shipping": 30,
		"tax_rate": "0.05",
		"shipping_address": {"recipient": "Jordan Doe", "line1": "1 Main St", "city": "Springfield", "postal_code": "12345", "country": "us"}
	}`

	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body))
	req.Header.Set("X-Actor-Id", "admin-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", captured.UserID)
	}
	if captured.ActorID != "admin-1" {
		t.Fatalf("expected actor admin-1, got %q", captured.ActorID)
	}
	if len(captured.Items) != 2 || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %+v", captured.Items)
	}
	if captured.ShippingAddress == nil || captured.ShippingAddress.Country != "US" {
		t.Fatalf("expected uppercased country, got %+v", captured.ShippingAddress)
	}

	var response struct {
		Order struct {
			OrderNumber string `json:"order_number"`
			Totals      struct {
				Total int64 `json:"total"`
			} `json:"totals"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Order.OrderNumber != "ORD-A1B2C3D4" {
		t.Fatalf("expected order number ORD-A1B2C3D4, got %s", response.Order.OrderNumber)
	}
	if response.Order.Totals.Total != 345 {
		t.Fatalf("expected total 345, got %d", response.Order.Totals.Total)
	}
}

func TestOrderHandlersCreateOrderInvalidInput(t *testing.T) {
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order must contain at least one item", services.ErrOrderInvalidInput)
		},
	}

	router := newOrderRouter(service, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{"user_id": "user-1", "currency": "USD"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder(now)},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	router := newOrderRouter(service, nil, nil)

	token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{"2024-03-10T00:00:00Z", "ord_9"}})
	if err != nil {
		t.Fatalf("failed to encode page token: %v", err)
	}

	target := "/orders/?status=pending,confirmed&payment_status=paid&user_id=user-1&page_size=10&page_token=" + url.QueryEscape(token) + "&created_after=2024-03-01T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected user filter, got %q", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != "pending" || captured.Status[1] != "confirmed" {
		t.Fatalf("unexpected status filter: %v", captured.Status)
	}
	if len(captured.PaymentStatus) != 1 || captured.PaymentStatus[0] != "paid" {
		t.Fatalf("unexpected payment status filter: %v", captured.PaymentStatus)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != token {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date range: %+v", captured.DateRange)
	}

	var response struct {
		Items []struct {
			OrderNumber string `json:"order_number"`
			Status      string `json:"status"`
		} `json:"items"`
		NextPageToken string `json:"next_page_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Items) != 1 || response.Items[0].OrderNumber != "ORD-A1B2C3D4" {
		t.Fatalf("unexpected items: %+v", response.Items)
	}
	if response.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token, got %q", response.NextPageToken)
	}
}

func TestOrderHandlersListOrdersInvalidPageSize(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/orders/?page_size=abc", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersInvalidPageToken(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/orders/?page_token=%21%21not-a-token", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order %s", services.ErrOrderNotFound, orderID)
		},
	}

	router := newOrderRouter(service, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderByNumber(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	service := &stubOrderService{
		getByNumFn: func(ctx context.Context, orderNumber string) (services.Order, error) {
			if orderNumber != "ORD-A1B2C3D4" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(now), nil
		},
	}

	router := newOrderRouter(service, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/orders/number/ORD-A1B2C3D4", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersUpdateOrder(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	var captured services.UpdateOrderCommand
	service := &stubOrderService{
		updateFn: func(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(now)
			order.Status = domain.OrderStatusProcessing
			return order, nil
		},
	}

	router := newOrderRouter(service, nil, nil)

	body := `{"status": "processing", "expected_status": "confirmed", "metadata": {"warehouse": "east"}}`
	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_123", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing status, got %+v", captured.Status)
	}
	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed guard, got %+v", captured.ExpectedStatus)
	}
	if captured.Metadata["warehouse"] != "east" {
		t.Fatalf("expected metadata propagated, got %+v", captured.Metadata)
	}
}

func TestOrderHandlersUpdateOrderRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil, nil)

	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_123", strings.NewReader(`{"status": "teleported"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersUpdateOrderConflict(t *testing.T) {
	service := &stubOrderService{
		updateFn: func(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: expected status %q but was %q", services.ErrOrderConflict, "pending", "confirmed")
		},
	}

	router := newOrderRouter(service, nil, nil)

	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_123", strings.NewReader(`{"expected_status": "pending"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersConfirmOrder(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	var captured services.ConfirmOrderCommand
	service := &stubOrderService{
		confirmFn: func(ctx context.Context, cmd services.ConfirmOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(now)
			order.Status = domain.OrderStatusConfirmed
			return order, nil
		},
	}

	router := newOrderRouter(service, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:confirm", nil)
	req.Header.Set("X-Actor-Id", "ops-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.ActorID != "ops-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var response struct {
		Order struct {
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Order.Status != "confirmed" {
		t.Fatalf("expected confirmed, got %s", response.Order.Status)
	}
}

func TestOrderHandlersConfirmOrderInvalidState(t *testing.T) {
	service := &stubOrderService{
		confirmFn: func(ctx context.Context, cmd services.ConfirmOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: only pending orders can be confirmed", services.ErrOrderInvalidState)
		},
	}

	router := newOrderRouter(service, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:confirm", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(now)
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	router := newOrderRouter(service, nil, nil)

	body := `{"reason": "customer request", "expected_status": "pending"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Reason != "customer request" {
		t.Fatalf("expected reason propagated, got %q", captured.Reason)
	}
	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != domain.OrderStatusPending {
		t.Fatalf("expected pending guard, got %+v", captured.ExpectedStatus)
	}
}

func TestOrderHandlersCancelOrderWithoutBody(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			order := sampleOrder(now)
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	router := newOrderRouter(service, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersAddNote(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	var captured services.AddOrderNoteCommand
	service := &stubOrderService{
		addNoteFn: func(ctx context.Context, cmd services.AddOrderNoteCommand) (services.OrderAuditEvent, error) {
			captured = cmd
			return services.OrderAuditEvent{
				ID:        "oev_1",
				OrderID:   cmd.OrderID,
				Type:      "note",
				Note:      cmd.Note,
				CreatedAt: now,
			}, nil
		},
	}

	router := newOrderRouter(service, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/notes", strings.NewReader(`{"note": "call before delivery"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Note != "call before delivery" {
		t.Fatalf("expected note propagated, got %q", captured.Note)
	}
}

func TestOrderHandlersListEvents(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	service := &stubOrderService{
		listEventsFn: func(ctx context.Context, orderID string) ([]services.OrderAuditEvent, error) {
			return []services.OrderAuditEvent{
				{ID: "oev_2", OrderID: orderID, Type: "status_changed", Data: map[string]any{"from": "pending", "to": "confirmed"}, CreatedAt: now},
				{ID: "oev_1", OrderID: orderID, Type: "order_created", CreatedAt: now.Add(-time.Minute)},
			}, nil
		},
	}

	router := newOrderRouter(service, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_123/events", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response struct {
		Items []struct {
			Type string `json:"type"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Items) != 2 || response.Items[0].Type != "status_changed" {
		t.Fatalf("unexpected events: %+v", response.Items)
	}
}

func TestOrderHandlersPreviewTotals(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil, nil)

	body := `{
		"items": [
			{"product_ref": "products/p1", "quantity": 2, "unit_price": 100},
			{"product_ref": "products/p2", "quantity": 1, "unit_price": 150}
		],
		"discount": 50,
		"shipping": 30,
		"tax_rate": "0.05"
	}`
	req := httptest.NewRequest(http.MethodPost, "/orders/preview", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response struct {
		Totals struct {
			Subtotal int64 `json:"subtotal"`
			Discount int64 `json:"discount"`
			Shipping int64 `json:"shipping"`
			Tax      int64 `json:"tax"`
			Total    int64 `json:"total"`
		} `json:"totals"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Totals.Subtotal != 350 || response.Totals.Tax != 15 || response.Totals.Total != 345 {
		t.Fatalf("unexpected totals: %+v", response.Totals)
	}
}

func TestOrderHandlersPreviewTotalsInvalid(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/orders/preview", strings.NewReader(`{"items": []}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersRecordFulfillment(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	var captured services.RecordFulfillmentCommand
	fulfillments := &stubFulfillmentService{
		recordFn: func(ctx context.Context, cmd services.RecordFulfillmentCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(now)
			order.FulfillmentStatus = domain.FulfillmentStatusPartial
			order.Items[0].FulfilledQty = 1
			return order, nil
		},
	}

	router := newOrderRouter(&stubOrderService{}, fulfillments, nil)

	body := `{"lines": [{"item_id": "itm_1", "quantity": 1}], "mark_shipped": true}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/fulfillments", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Lines) != 1 || captured.Lines[0].ItemID != "itm_1" || captured.Lines[0].Quantity != 1 {
		t.Fatalf("unexpected lines: %+v", captured.Lines)
	}
	if !captured.MarkShipped {
		t.Fatalf("expected mark_shipped propagated")
	}

	var response struct {
		Order struct {
			FulfillmentStatus string `json:"fulfillment_status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Order.FulfillmentStatus != "partial" {
		t.Fatalf("expected partial, got %s", response.Order.FulfillmentStatus)
	}
}

func TestOrderHandlersRecordFulfillmentExcessQuantity(t *testing.T) {
	fulfillments := &stubFulfillmentService{
		recordFn: func(ctx context.Context, cmd services.RecordFulfillmentCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: item itm_1 would exceed ordered quantity", services.ErrFulfillmentInvalidInput)
		},
	}

	router := newOrderRouter(&stubOrderService{}, fulfillments, nil)

	body := `{"lines": [{"item_id": "itm_1", "quantity": 99}]}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/fulfillments", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListPayments(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	payments := &stubPaymentService{
		listFn: func(ctx context.Context, orderID string) ([]services.Payment, error) {
			return []services.Payment{
				{ID: "pay_1", OrderID: orderID, Provider: "stripe", IntentID: "pi_1", Status: domain.PaymentStatusPaid, Amount: 345, Currency: "USD", CreatedAt: now},
			}, nil
		},
	}

	router := newOrderRouter(&stubOrderService{}, nil, payments)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_123/payments", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response struct {
		Items []struct {
			Provider string `json:"provider"`
			Status   string `json:"status"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Items) != 1 || response.Items[0].Provider != "stripe" || response.Items[0].Status != "paid" {
		t.Fatalf("unexpected payments: %+v", response.Items)
	}
}

func TestOrderHandlersRefundPayment(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	var captured services.RefundPaymentCommand
	payments := &stubPaymentService{
		refundFn: func(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
			captured = cmd
			return services.Payment{
				ID:        "pay_1",
				OrderID:   cmd.OrderID,
				Provider:  "stripe",
				IntentID:  "pi_1",
				Status:    domain.PaymentStatusRefunded,
				Amount:    345,
				Currency:  "USD",
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		},
	}

	router := newOrderRouter(&stubOrderService{}, nil, payments)

	body := bytes.NewReader([]byte(`{"amount": 100, "reason": "damaged item"}`))
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/payments/pay_1:refund", body)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PaymentID != "pay_1" || captured.Amount == nil || *captured.Amount != 100 {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.Reason != "damaged item" {
		t.Fatalf("expected reason propagated, got %q", captured.Reason)
	}
}

func TestOrderHandlersRefundPaymentNotFound(t *testing.T) {
	payments := &stubPaymentService{
		refundFn: func(ctx context.Context, cmd services.RefundPaymentCommand) (services.Payment, error) {
			return services.Payment{}, fmt.Errorf("%w: payment %s on order %s", services.ErrPaymentNotFound, cmd.PaymentID, cmd.OrderID)
		},
	}

	router := newOrderRouter(&stubOrderService{}, nil, payments)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/payments/pay_missing:refund", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

var (
	_ services.OrderService       = (*stubOrderService)(nil)
	_ services.FulfillmentService = (*stubFulfillmentService)(nil)
	_ services.PaymentService     = (*stubPaymentService)(nil)
)
