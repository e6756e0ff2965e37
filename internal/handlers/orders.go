package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/platform/httpx"
	"github.com/shoplane/api/internal/platform/pagination"
	"github.com/shoplane/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
	maxOrderNoteBodySize = 8 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusConfirmed:  {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

var validPaymentStatuses = map[domain.PaymentStatus]struct{}{
	domain.PaymentStatusPending:  {},
	domain.PaymentStatusPaid:     {},
	domain.PaymentStatusRefunded: {},
	domain.PaymentStatusFailed:   {},
}

type orderItemRequest struct {
	ProductRef string         `json:"product_ref"`
	SKU        string         `json:"sku"`
	Name       string         `json:"name"`
	Quantity   int            `json:"quantity"`
	UnitPrice  int64          `json:"unit_price"`
	Metadata   map[string]any `json:"metadata"`
}

type createOrderRequest struct {
	UserID          string             `json:"user_id"`
	GuestEmail      *string            `json:"guest_email"`
	Currency        string             `json:"currency"`
	Items           []orderItemRequest `json:"items"`
	Discount        int64              `json:"discount"`
	Shipping        int64              `json:"shipping"`
	TaxRate         string             `json:"tax_rate"`
	ShippingAddress *addressPayload    `json:"shipping_address"`
	BillingAddress  *addressPayload    `json:"billing_address"`
	Notes           *string            `json:"notes"`
	Metadata        map[string]any     `json:"metadata"`
}

type updateOrderRequest struct {
	Status          *string         `json:"status"`
	PaymentStatus   *string         `json:"payment_status"`
	Notes           *string         `json:"notes"`
	Metadata        map[string]any  `json:"metadata"`
	ShippingAddress *addressPayload `json:"shipping_address"`
	BillingAddress  *addressPayload `json:"billing_address"`
	Reason          string          `json:"reason"`
	ExpectedStatus  string          `json:"expected_status"`
}

type cancelOrderRequest struct {
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status"`
}

type orderNoteRequest struct {
	Note string         `json:"note"`
	Data map[string]any `json:"data"`
}

type previewTotalsRequest struct {
	Items    []orderItemRequest `json:"items"`
	Discount int64              `json:"discount"`
	Shipping int64              `json:"shipping"`
	TaxRate  string             `json:"tax_rate"`
}

type fulfillmentLineRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type recordFulfillmentRequest struct {
	Lines       []fulfillmentLineRequest `json:"lines"`
	MarkShipped bool                     `json:"mark_shipped"`
}

type refundPaymentRequest struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason"`
}

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders       services.OrderService
	fulfillments services.FulfillmentService
	payments     services.PaymentService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, fulfillments services.FulfillmentService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		orders:       orders,
		fulfillments: fulfillments,
		payments:     payments,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Post("/preview", h.previewTotals)
	r.Get("/number/{orderNumber}", h.getOrderByNumber)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.updateOrder)
	r.Post("/{orderID}:confirm", h.confirmOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}/notes", h.addNote)
	r.Get("/{orderID}/events", h.listEvents)
	r.Post("/{orderID}/fulfillments", h.recordFulfillment)
	r.Get("/{orderID}/payments", h.listPayments)
	r.Post("/{orderID}/payments/{paymentID}:refund", h.refundPayment)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:          strings.TrimSpace(req.UserID),
		GuestEmail:      cloneStringPointer(req.GuestEmail),
		Currency:        strings.TrimSpace(req.Currency),
		Items:           buildItemInputs(req.Items),
		Discount:        req.Discount,
		Shipping:        req.Shipping,
		TaxRate:         strings.TrimSpace(req.TaxRate),
		ShippingAddress: req.ShippingAddress.toAddress(),
		BillingAddress:  req.BillingAddress.toAddress(),
		Notes:           cloneStringPointer(req.Notes),
		Metadata:        cloneMap(req.Metadata),
		ActorID:         actorID(r),
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	statusFilters := parseFilterValues(query["status"])
	paymentFilters := parseFilterValues(query["payment_status"])

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	paging, err := pagination.Parse(query, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageSize) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_token is not a valid page token", http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID:        strings.TrimSpace(query.Get("user_id")),
		Status:        statusFilters,
		PaymentStatus: paymentFilters,
		DateRange:     dateRange,
		Pagination: services.Pagination{
			PageSize:  paging.PageSize,
			PageToken: paging.PageToken,
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	cmd := services.UpdateOrderCommand{
		OrderID:         orderID,
		Notes:           cloneStringPointer(req.Notes),
		Metadata:        cloneMap(req.Metadata),
		ShippingAddress: req.ShippingAddress.toAddress(),
		BillingAddress:  req.BillingAddress.toAddress(),
		ActorID:         actorID(r),
		Reason:          strings.TrimSpace(req.Reason),
	}

	if req.Status != nil {
		status, ok := parseOrderStatus(*req.Status)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.Status = &status
	}
	if req.PaymentStatus != nil {
		status, ok := parsePaymentStatus(*req.PaymentStatus)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_status must be a valid payment status", http.StatusBadRequest))
			return
		}
		cmd.PaymentStatus = &status
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.Update(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Confirm(ctx, services.ConfirmOrderCommand{
		OrderID: orderID,
		ActorID: actorID(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderNoteBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// cancellation without a reason is allowed
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: actorID(r),
		Reason:  strings.TrimSpace(req.Reason),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.Cancel(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) addNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req orderNoteRequest
	if !decodeJSONBody(ctx, w, r, maxOrderNoteBodySize, &req) {
		return
	}

	event, err := h.orders.AddNote(ctx, services.AddOrderNoteCommand{
		OrderID: orderID,
		ActorID: actorID(r),
		Note:    req.Note,
		Data:    cloneMap(req.Data),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderEventResponse{Event: buildOrderEventPayload(event)})
}

func (h *OrderHandlers) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	events, err := h.orders.ListAuditEvents(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderEventPayload, 0, len(events))
	for _, event := range events {
		items = append(items, buildOrderEventPayload(event))
	}

	writeJSONResponse(w, http.StatusOK, orderEventListResponse{Items: items})
}

func (h *OrderHandlers) previewTotals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req previewTotalsRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one item is required", http.StatusBadRequest))
		return
	}

	totals, err := services.CalculateOrderTotals(services.TotalsInput{
		Items:    buildItemInputs(req.Items),
		Discount: req.Discount,
		Shipping: req.Shipping,
		TaxRate:  strings.TrimSpace(req.TaxRate),
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	writeJSONResponse(w, http.StatusOK, previewTotalsResponse{Totals: buildTotalsPayload(totals)})
}

func (h *OrderHandlers) recordFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req recordFulfillmentRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	lines := make([]services.RecordFulfillmentLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.RecordFulfillmentLine{
			ItemID:   strings.TrimSpace(line.ItemID),
			Quantity: line.Quantity,
		})
	}

	order, err := h.fulfillments.RecordFulfillment(ctx, services.RecordFulfillmentCommand{
		OrderID:     orderID,
		Lines:       lines,
		ActorID:     actorID(r),
		MarkShipped: req.MarkShipped,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	recorded, err := h.payments.ListPayments(ctx, orderID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	items := buildOrderPaymentPayloads(recorded)
	if items == nil {
		items = []orderPaymentPayload{}
	}
	writeJSONResponse(w, http.StatusOK, orderPaymentListResponse{Items: items})
}

func (h *OrderHandlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if orderID == "" || paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id and payment id are required", http.StatusBadRequest))
		return
	}

	var req refundPaymentRequest
	body, err := readLimitedBody(r, maxOrderNoteBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// full refund without a reason is allowed
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	payment, err := h.payments.Refund(ctx, services.RefundPaymentCommand{
		OrderID:   orderID,
		PaymentID: paymentID,
		ActorID:   actorID(r),
		Amount:    req.Amount,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderPaymentResponse{Payment: buildOrderPaymentPayload(payment)})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID                string `json:"id"`
	OrderNumber       string `json:"order_number"`
	Status            string `json:"status"`
	PaymentStatus     string `json:"payment_status"`
	FulfillmentStatus string `json:"fulfillment_status"`
	Currency          string `json:"currency"`
	Total             int64  `json:"total"`
	CreatedAt         string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                string                `json:"id"`
	OrderNumber       string                `json:"order_number"`
	UserID            string                `json:"user_id,omitempty"`
	GuestEmail        *string               `json:"guest_email,omitempty"`
	Status            string                `json:"status"`
	PaymentStatus     string                `json:"payment_status"`
	FulfillmentStatus string                `json:"fulfillment_status"`
	Currency          string                `json:"currency"`
	Totals            orderTotalsPayload    `json:"totals"`
	Items             []orderItemPayload    `json:"items"`
	ShippingAddress   *addressPayload       `json:"shipping_address,omitempty"`
	BillingAddress    *addressPayload       `json:"billing_address,omitempty"`
	Notes             *string               `json:"notes,omitempty"`
	Metadata          map[string]any        `json:"metadata,omitempty"`
	CreatedAt         string                `json:"created_at"`
	UpdatedAt         string                `json:"updated_at,omitempty"`
	CancelledAt       string                `json:"cancelled_at,omitempty"`
	CancelReason      *string               `json:"cancel_reason,omitempty"`
	Payments          []orderPaymentPayload `json:"payments,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type orderItemPayload struct {
	ID           string         `json:"id"`
	ProductRef   string         `json:"product_ref"`
	SKU          string         `json:"sku"`
	Name         string         `json:"name,omitempty"`
	Quantity     int            `json:"quantity"`
	FulfilledQty int            `json:"fulfilled_qty"`
	UnitPrice    int64          `json:"unit_price"`
	Total        int64          `json:"total"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type orderPaymentPayload struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	IntentID  string `json:"intent_id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type orderPaymentListResponse struct {
	Items []orderPaymentPayload `json:"items"`
}

type orderPaymentResponse struct {
	Payment orderPaymentPayload `json:"payment"`
}

type orderEventPayload struct {
	ID        string         `json:"id"`
	OrderID   string         `json:"order_id"`
	Type      string         `json:"type"`
	ActorID   *string        `json:"actor_id,omitempty"`
	Note      string         `json:"note,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt string         `json:"created_at"`
}

type orderEventResponse struct {
	Event orderEventPayload `json:"event"`
}

type orderEventListResponse struct {
	Items []orderEventPayload `json:"items"`
}

type previewTotalsResponse struct {
	Totals orderTotalsPayload `json:"totals"`
}

func buildItemInputs(items []orderItemRequest) []services.CreateOrderItemInput {
	inputs := make([]services.CreateOrderItemInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, services.CreateOrderItemInput{
			ProductRef: strings.TrimSpace(item.ProductRef),
			SKU:        strings.TrimSpace(item.SKU),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Metadata:   cloneMap(item.Metadata),
		})
	}
	return inputs
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:                strings.TrimSpace(order.ID),
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		Status:            strings.TrimSpace(string(order.Status)),
		PaymentStatus:     strings.TrimSpace(string(order.PaymentStatus)),
		FulfillmentStatus: strings.TrimSpace(string(order.FulfillmentStatus)),
		Currency:          strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:             order.Totals.Total,
		CreatedAt:         formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                strings.TrimSpace(order.ID),
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		UserID:            strings.TrimSpace(order.UserID),
		GuestEmail:        cloneStringPointer(order.GuestEmail),
		Status:            strings.TrimSpace(string(order.Status)),
		PaymentStatus:     strings.TrimSpace(string(order.PaymentStatus)),
		FulfillmentStatus: strings.TrimSpace(string(order.FulfillmentStatus)),
		Currency:          strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals:            buildTotalsPayload(order.Totals),
		Items:             make([]orderItemPayload, 0, len(order.Items)),
		Notes:             cloneStringPointer(order.Notes),
		Metadata:          cloneMap(order.Metadata),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		CancelledAt:       formatTime(pointerTime(order.CancelledAt)),
		CancelReason:      cloneStringPointer(order.CancelReason),
		Payments:          buildOrderPaymentPayloads(order.Payments),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:           strings.TrimSpace(item.ID),
			ProductRef:   strings.TrimSpace(item.ProductRef),
			SKU:          strings.TrimSpace(item.SKU),
			Name:         strings.TrimSpace(item.Name),
			Quantity:     item.Quantity,
			FulfilledQty: item.FulfilledQty,
			UnitPrice:    item.UnitPrice,
			Total:        item.Total,
			Metadata:     cloneMap(item.Metadata),
		})
	}

	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if order.BillingAddress != nil {
		addr := buildAddressPayload(*order.BillingAddress)
		payload.BillingAddress = &addr
	}

	return payload
}

func buildTotalsPayload(totals services.OrderTotals) orderTotalsPayload {
	return orderTotalsPayload{
		Subtotal: totals.Subtotal,
		Discount: totals.Discount,
		Shipping: totals.Shipping,
		Tax:      totals.Tax,
		Total:    totals.Total,
	}
}

func buildOrderPaymentPayloads(payments []services.Payment) []orderPaymentPayload {
	if len(payments) == 0 {
		return nil
	}
	result := make([]orderPaymentPayload, 0, len(payments))
	for _, payment := range payments {
		result = append(result, buildOrderPaymentPayload(payment))
	}
	return result
}

func buildOrderPaymentPayload(payment services.Payment) orderPaymentPayload {
	return orderPaymentPayload{
		ID:        strings.TrimSpace(payment.ID),
		Provider:  strings.TrimSpace(payment.Provider),
		IntentID:  strings.TrimSpace(payment.IntentID),
		Status:    strings.TrimSpace(string(payment.Status)),
		Amount:    payment.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(payment.Currency)),
		CreatedAt: formatTime(payment.CreatedAt),
		UpdatedAt: formatTime(payment.UpdatedAt),
	}
}

func buildOrderEventPayload(event services.OrderAuditEvent) orderEventPayload {
	return orderEventPayload{
		ID:        strings.TrimSpace(event.ID),
		OrderID:   strings.TrimSpace(event.OrderID),
		Type:      strings.TrimSpace(event.Type),
		ActorID:   cloneStringPointer(event.ActorID),
		Note:      strings.TrimSpace(event.Note),
		Data:      cloneMap(event.Data),
		CreatedAt: formatTime(event.CreatedAt),
	}
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dest any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrFulfillmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

func parseOrderStatus(raw string) (services.OrderStatus, bool) {
	status := domain.OrderStatus(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

func parsePaymentStatus(raw string) (services.PaymentStatus, bool) {
	status := domain.PaymentStatus(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := validPaymentStatuses[status]; !ok {
		return "", false
	}
	return status, true
}
