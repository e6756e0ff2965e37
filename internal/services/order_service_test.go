package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/shoplane/api/internal/domain"
	"github.com/shoplane/api/internal/repositories"
)

// repoFailure is a canned repositories.RepositoryError for driving the
// classification paths in tests.
type repoFailure struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoFailure) Error() string       { return e.msg }
func (e repoFailure) IsNotFound() bool    { return e.notFound }
func (e repoFailure) IsConflict() bool    { return e.conflict }
func (e repoFailure) IsUnavailable() bool { return e.unavailable }

// memOrderRepo is an in-memory order repository with optional failure
// injection through the err fields.
type memOrderRepo struct {
	orders    map[string]domain.Order
	events    []domain.OrderEvent
	insertErr error
	appendErr error
	guardErr  error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[string]domain.Order{}}
}

func (r *memOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if _, ok := r.orders[order.ID]; !ok {
		return repoFailure{msg: "order missing", notFound: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) UpdateGuarded(ctx context.Context, order domain.Order, expectedStatus domain.OrderStatus) error {
	if r.guardErr != nil {
		return r.guardErr
	}
	stored, ok := r.orders[order.ID]
	if !ok {
		return repoFailure{msg: "order missing", notFound: true}
	}
	if stored.Status != expectedStatus {
		return repoFailure{msg: "status moved", conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) UpdateItemFulfilledQty(ctx context.Context, orderID, itemID string, fulfilledQty int) error {
	order, ok := r.orders[orderID]
	if !ok {
		return repoFailure{msg: "order missing", notFound: true}
	}
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			order.Items[i].FulfilledQty = fulfilledQty
			r.orders[orderID] = order
			return nil
		}
	}
	return repoFailure{msg: "item missing", notFound: true}
}

func (r *memOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repoFailure{msg: "order missing", notFound: true}
	}
	return order, nil
}

func (r *memOrderRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	for _, order := range r.orders {
		if order.OrderNumber == orderNumber {
			return order, nil
		}
	}
	return domain.Order{}, repoFailure{msg: "order missing", notFound: true}
}

func (r *memOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	items := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		items = append(items, order)
	}
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

func (r *memOrderRepo) AppendEvent(ctx context.Context, event domain.OrderEvent) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	r.events = append(r.events, event)
	return nil
}

func (r *memOrderRepo) ListEvents(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	var events []domain.OrderEvent
	for _, event := range r.events {
		if event.OrderID == orderID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (r *memOrderRepo) eventTypes() []string {
	types := make([]string, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}

var _ repositories.OrderRepository = (*memOrderRepo)(nil)

type captureOrderEvents struct {
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return c.err
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func sequentialIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("%08d", n)
	}
}

func fixedNumberGen(token string) func(int) string {
	return func(int) string { return token }
}

type orderServiceFixture struct {
	repo      *memOrderRepo
	published *captureOrderEvents
	service   OrderService
}

func newOrderServiceFixture(t *testing.T, policy OrderPolicy, hooks OrderHooks) *orderServiceFixture {
	t.Helper()
	repo := newMemOrderRepo()
	published := &captureOrderEvents{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:          repo,
		Policy:          policy,
		Hooks:           hooks,
		Clock:           fixedClock,
		IDGenerator:     sequentialIDs(),
		NumberGenerator: sequentialNumberGen(),
		Events:          published,
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return &orderServiceFixture{repo: repo, published: published, service: svc}
}

func sequentialNumberGen() func(int) string {
	var n int
	return func(length int) string {
		n++
		return fmt.Sprintf("%0*d", length, n)
	}
}

func defaultPolicy() OrderPolicy {
	return OrderPolicy{
		AllowEdit:   true,
		AllowCancel: true,
		TrackEvents: true,
	}
}

func sampleCreateCommand() CreateOrderCommand {
	return CreateOrderCommand{
		UserID:   "usr_1",
		Currency: "usd",
		Items: []CreateOrderItemInput{
			{ProductRef: "prod_1", SKU: "ring-gold", Name: "Gold Ring", Quantity: 2, UnitPrice: 100},
			{ProductRef: "prod_2", SKU: "chain-silver", Name: "Silver Chain", Quantity: 1, UnitPrice: 150},
		},
		Discount: 50,
		Shipping: 30,
		TaxRate:  "0.05",
		ShippingAddress: &Address{
			Recipient:  "Jane Doe",
			Line1:      "1 Main St",
			City:       "Springfield",
			PostalCode: "12345",
			Country:    "US",
		},
		ActorID: "usr_1",
	}
}

func TestOrderServiceCreate(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})

	order, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment status, got %s", order.PaymentStatus)
	}
	if order.FulfillmentStatus != domain.FulfillmentStatusUnfulfilled {
		t.Fatalf("expected unfulfilled, got %s", order.FulfillmentStatus)
	}
	if order.OrderNumber != "ORD-00000001" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.Currency != "USD" {
		t.Fatalf("expected currency normalised to USD, got %q", order.Currency)
	}
	if order.Totals.Subtotal != 350 || order.Totals.Tax != 15 || order.Totals.Total != 345 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if len(order.Items) != 2 || order.Items[0].Total != 200 {
		t.Fatalf("unexpected items %+v", order.Items)
	}

	if _, ok := fx.repo.orders[order.ID]; !ok {
		t.Fatal("order was not persisted")
	}
	if got := fx.repo.eventTypes(); len(got) != 1 || got[0] != "order_created" {
		t.Fatalf("expected order_created audit event, got %v", got)
	}
	if len(fx.published.events) != 1 || fx.published.events[0].Type != "order.created" {
		t.Fatalf("expected order.created domain event, got %+v", fx.published.events)
	}
	if fx.published.events[0].Total != 345 {
		t.Fatalf("expected total 345 on event, got %d", fx.published.events[0].Total)
	}
}

func TestOrderServiceCreateValidation(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})
	ctx := context.Background()

	cases := map[string]func(*CreateOrderCommand){
		"no items":        func(cmd *CreateOrderCommand) { cmd.Items = nil },
		"no buyer":        func(cmd *CreateOrderCommand) { cmd.UserID = " " },
		"no address":      func(cmd *CreateOrderCommand) { cmd.ShippingAddress = nil },
		"bad currency":    func(cmd *CreateOrderCommand) { cmd.Currency = "DOLLARS" },
		"empty currency":  func(cmd *CreateOrderCommand) { cmd.Currency = "" },
		"negative price":  func(cmd *CreateOrderCommand) { cmd.Items[0].UnitPrice = -1 },
		"zero quantity":   func(cmd *CreateOrderCommand) { cmd.Items[0].Quantity = 0 },
		"bad tax rate":    func(cmd *CreateOrderCommand) { cmd.TaxRate = "five percent" },
	}

	for name, mutate := range cases {
		cmd := sampleCreateCommand()
		mutate(&cmd)
		if _, err := fx.service.Create(ctx, cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Errorf("%s: expected ErrOrderInvalidInput, got %v", name, err)
		}
	}
}

func TestOrderServiceCreateGuestOrder(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})

	cmd := sampleCreateCommand()
	cmd.UserID = ""
	cmd.GuestEmail = valuePtr("  guest@example.com ")

	order, err := fx.service.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if order.GuestEmail == nil || *order.GuestEmail != "guest@example.com" {
		t.Fatalf("expected trimmed guest email, got %v", order.GuestEmail)
	}
}

func TestOrderServiceCreateRetriesOrderNumber(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})
	fx.repo.orders["ord_taken"] = domain.Order{ID: "ord_taken", OrderNumber: "ORD-00000001"}

	order, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if order.OrderNumber != "ORD-00000002" {
		t.Fatalf("expected retry to pick the next token, got %q", order.OrderNumber)
	}
}

func TestOrderServiceCreateOrderNumberExhaustion(t *testing.T) {
	repo := newMemOrderRepo()
	repo.orders["ord_taken"] = domain.Order{ID: "ord_taken", OrderNumber: "ORD-STUCK"}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:          repo,
		Policy:          defaultPolicy(),
		Clock:           fixedClock,
		IDGenerator:     sequentialIDs(),
		NumberGenerator: fixedNumberGen("STUCK"),
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	_, err = svc.Create(context.Background(), sampleCreateCommand())
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestOrderServiceConfirm(t *testing.T) {
	var confirmed []string
	hooks := OrderHooks{
		OnOrderConfirmed: func(ctx context.Context, order Order) error {
			confirmed = append(confirmed, order.ID)
			return nil
		},
	}
	fx := newOrderServiceFixture(t, defaultPolicy(), hooks)

	created, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	order, err := fx.service.Confirm(context.Background(), ConfirmOrderCommand{OrderID: created.ID, ActorID: "ops-1"})
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed status, got %s", order.Status)
	}
	if len(confirmed) != 1 || confirmed[0] != created.ID {
		t.Fatalf("expected OnOrderConfirmed to fire once, got %v", confirmed)
	}

	types := fx.repo.eventTypes()
	if len(types) != 2 || types[1] != "status_changed" {
		t.Fatalf("expected status_changed audit event, got %v", types)
	}
	if from, ok := fx.repo.events[1].Data["from"].(string); !ok || from != "pending" {
		t.Fatalf("expected from=pending in audit data, got %v", fx.repo.events[1].Data)
	}
}

func TestOrderServiceConfirmRequiresPending(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})

	created, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := fx.service.Confirm(context.Background(), ConfirmOrderCommand{OrderID: created.ID}); err != nil {
		t.Fatalf("first Confirm returned error: %v", err)
	}

	_, err = fx.service.Confirm(context.Background(), ConfirmOrderCommand{OrderID: created.ID})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestOrderServiceCancel(t *testing.T) {
	var cancelled []string
	hooks := OrderHooks{
		OnOrderCancelled: func(ctx context.Context, order Order) error {
			cancelled = append(cancelled, order.ID)
			return nil
		},
	}
	fx := newOrderServiceFixture(t, defaultPolicy(), hooks)

	created, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	order, err := fx.service.Cancel(context.Background(), CancelOrderCommand{
		OrderID: created.ID,
		ActorID: "ops-1",
		Reason:  "customer changed mind",
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", order.Status)
	}
	if order.CancelledAt == nil || !order.CancelledAt.Equal(fixedClock()) {
		t.Fatalf("expected cancelled_at stamped, got %v", order.CancelledAt)
	}
	if order.CancelReason == nil || *order.CancelReason != "customer changed mind" {
		t.Fatalf("unexpected cancel reason %v", order.CancelReason)
	}
	if len(cancelled) != 1 {
		t.Fatalf("expected OnOrderCancelled to fire once, got %v", cancelled)
	}

	types := fx.repo.eventTypes()
	if len(types) != 3 || types[2] != "order_cancelled" {
		t.Fatalf("expected order_cancelled audit event, got %v", types)
	}
	last := fx.published.events[len(fx.published.events)-1]
	if last.Type != "order.cancelled" || last.Reason != "customer changed mind" {
		t.Fatalf("unexpected cancelled domain event %+v", last)
	}
}

func TestOrderServiceCancelRefusedStatuses(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})

	for _, status := range []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled} {
		id := "ord_" + string(status)
		fx.repo.orders[id] = domain.Order{ID: id, Status: status}
		_, err := fx.service.Cancel(context.Background(), CancelOrderCommand{OrderID: id})
		if !errors.Is(err, ErrOrderInvalidState) {
			t.Errorf("status %s: expected ErrOrderInvalidState, got %v", status, err)
		}
	}
}

func TestOrderServiceCancelDisabledByPolicy(t *testing.T) {
	policy := defaultPolicy()
	policy.AllowCancel = false
	fx := newOrderServiceFixture(t, policy, OrderHooks{})
	fx.repo.orders["ord_1"] = domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}

	_, err := fx.service.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestOrderServiceUpdateExpectedStatusConflict(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})
	fx.repo.orders["ord_1"] = domain.Order{ID: "ord_1", Status: domain.OrderStatusProcessing}

	expected := domain.OrderStatusPending
	shipped := domain.OrderStatusShipped
	_, err := fx.service.Update(context.Background(), UpdateOrderCommand{
		OrderID:        "ord_1",
		Status:         &shipped,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestOrderServiceUpdateEditingDisabled(t *testing.T) {
	policy := defaultPolicy()
	policy.AllowEdit = false
	fx := newOrderServiceFixture(t, policy, OrderHooks{})
	fx.repo.orders["ord_1"] = domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}

	_, err := fx.service.Update(context.Background(), UpdateOrderCommand{
		OrderID: "ord_1",
		Notes:   valuePtr("gift wrap"),
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}

	// Status pushes are not field edits and stay allowed.
	processing := domain.OrderStatusProcessing
	if _, err := fx.service.Update(context.Background(), UpdateOrderCommand{OrderID: "ord_1", Status: &processing}); err != nil {
		t.Fatalf("status update should bypass the edit gate, got %v", err)
	}
}

func TestOrderServiceUpdateMergesMetadata(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})
	fx.repo.orders["ord_1"] = domain.Order{
		ID:       "ord_1",
		Status:   domain.OrderStatusPending,
		Metadata: map[string]any{"channel": "web", "warehouse": "west"},
	}

	order, err := fx.service.Update(context.Background(), UpdateOrderCommand{
		OrderID:  "ord_1",
		Metadata: map[string]any{"warehouse": "east"},
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if order.Metadata["channel"] != "web" || order.Metadata["warehouse"] != "east" {
		t.Fatalf("expected merged metadata, got %v", order.Metadata)
	}
}

func TestOrderServiceAutoConfirmOnPayment(t *testing.T) {
	policy := defaultPolicy()
	policy.ConfirmOnPayment = true
	fx := newOrderServiceFixture(t, policy, OrderHooks{})

	created, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	paid := domain.PaymentStatusPaid
	order, err := fx.service.Update(context.Background(), UpdateOrderCommand{
		OrderID:       created.ID,
		PaymentStatus: &paid,
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected auto-confirm to land on confirmed, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid payment status, got %s", order.PaymentStatus)
	}
}

func TestOrderServiceNoAutoConfirmWhenDisabled(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})

	created, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	paid := domain.PaymentStatusPaid
	order, err := fx.service.Update(context.Background(), UpdateOrderCommand{
		OrderID:       created.ID,
		PaymentStatus: &paid,
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected order left pending, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid payment status, got %s", order.PaymentStatus)
	}
}

func TestOrderServiceAuditTrailDisabled(t *testing.T) {
	policy := defaultPolicy()
	policy.TrackEvents = false
	fx := newOrderServiceFixture(t, policy, OrderHooks{})

	created, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := fx.service.Confirm(context.Background(), ConfirmOrderCommand{OrderID: created.ID}); err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}

	if len(fx.repo.events) != 0 {
		t.Fatalf("expected no audit events, got %v", fx.repo.eventTypes())
	}
	// Domain events still flow regardless of the audit flag.
	if len(fx.published.events) != 2 {
		t.Fatalf("expected 2 domain events, got %d", len(fx.published.events))
	}
}

func TestOrderServiceBeforeCreateHookRewritesDraft(t *testing.T) {
	hooks := OrderHooks{
		BeforeCreate: func(ctx context.Context, draft *CreateOrderCommand) error {
			draft.Items = append(draft.Items, CreateOrderItemInput{
				ProductRef: "prod_3", SKU: "gift-wrap", Name: "Gift Wrap", Quantity: 1, UnitPrice: 25,
			})
			draft.Discount = 0
			return nil
		},
	}
	fx := newOrderServiceFixture(t, defaultPolicy(), hooks)

	order, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if len(order.Items) != 3 {
		t.Fatalf("expected hook-added item snapshotted, got %d items", len(order.Items))
	}
	// Subtotal covers the rewritten line items: 350 + 25, no discount,
	// tax round(375 * 0.05) = 19, shipping 30.
	if order.Totals.Subtotal != 375 || order.Totals.Discount != 0 {
		t.Fatalf("expected totals recomputed from the rewritten draft, got %+v", order.Totals)
	}
	if order.Totals.Tax != 19 || order.Totals.Total != 424 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}

	var itemSum int64
	for _, item := range order.Items {
		itemSum += item.Total
	}
	if itemSum != order.Totals.Subtotal {
		t.Fatalf("expected item totals %d to match subtotal %d", itemSum, order.Totals.Subtotal)
	}
}

func TestOrderServiceBeforeCreateHookCannotEmptyOrder(t *testing.T) {
	hooks := OrderHooks{
		BeforeCreate: func(ctx context.Context, draft *CreateOrderCommand) error {
			draft.Items = nil
			return nil
		},
	}
	fx := newOrderServiceFixture(t, defaultPolicy(), hooks)

	if _, err := fx.service.Create(context.Background(), sampleCreateCommand()); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestOrderServiceHookFailurePropagates(t *testing.T) {
	hooks := OrderHooks{
		AfterCreate: func(ctx context.Context, order Order) error {
			return errors.New("crm sync failed")
		},
	}
	fx := newOrderServiceFixture(t, defaultPolicy(), hooks)

	order, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err == nil {
		t.Fatal("expected hook error to propagate")
	}
	// The mutation committed before the hook ran.
	if _, ok := fx.repo.orders[order.ID]; !ok {
		t.Fatal("order should persist even when the after hook fails")
	}
}

func TestOrderServiceHookFailureLogged(t *testing.T) {
	policy := defaultPolicy()
	policy.HookFailures = HookFailuresLogged

	var logged []string
	repo := newMemOrderRepo()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:          repo,
		Policy:          policy,
		Hooks:           OrderHooks{AfterCreate: func(context.Context, Order) error { return errors.New("crm sync failed") }},
		Clock:           fixedClock,
		IDGenerator:     sequentialIDs(),
		NumberGenerator: sequentialNumberGen(),
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	if _, err := svc.Create(context.Background(), sampleCreateCommand()); err != nil {
		t.Fatalf("expected hook error swallowed, got %v", err)
	}
	if len(logged) != 1 || logged[0] != "order.hook.failed" {
		t.Fatalf("expected order.hook.failed log entry, got %v", logged)
	}
}

func TestOrderServicePublishFailureIsBestEffort(t *testing.T) {
	var logged []string
	repo := newMemOrderRepo()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:          repo,
		Policy:          defaultPolicy(),
		Clock:           fixedClock,
		IDGenerator:     sequentialIDs(),
		NumberGenerator: sequentialNumberGen(),
		Events:          &captureOrderEvents{err: errors.New("broker down")},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}

	if _, err := svc.Create(context.Background(), sampleCreateCommand()); err != nil {
		t.Fatalf("Create should not fail on publish errors, got %v", err)
	}
	if len(logged) != 1 || logged[0] != "order.event.publish.failed" {
		t.Fatalf("expected publish failure logged, got %v", logged)
	}
}

func TestOrderServiceAddNote(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})
	fx.repo.orders["ord_1"] = domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}

	event, err := fx.service.AddNote(context.Background(), AddOrderNoteCommand{
		OrderID: "ord_1",
		ActorID: "ops-1",
		Note:    "  called the customer  ",
		Data:    map[string]any{"channel": "phone"},
	})
	if err != nil {
		t.Fatalf("AddNote returned error: %v", err)
	}
	if event.Type != "note" || event.Note != "called the customer" {
		t.Fatalf("unexpected note event %+v", event)
	}
	if event.ActorID == nil || *event.ActorID != "ops-1" {
		t.Fatalf("expected actor recorded, got %v", event.ActorID)
	}

	if _, err := fx.service.AddNote(context.Background(), AddOrderNoteCommand{OrderID: "ord_1", Note: "   "}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for blank note, got %v", err)
	}
	if _, err := fx.service.AddNote(context.Background(), AddOrderNoteCommand{OrderID: "missing", Note: "x"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceListAuditEvents(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})

	created, err := fx.service.Create(context.Background(), sampleCreateCommand())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	events, err := fx.service.ListAuditEvents(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("ListAuditEvents returned error: %v", err)
	}
	if len(events) != 1 || events[0].Type != "order_created" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestOrderServiceGetOrderMapsNotFound(t *testing.T) {
	fx := newOrderServiceFixture(t, defaultPolicy(), OrderHooks{})

	if _, err := fx.service.GetOrder(context.Background(), "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if _, err := fx.service.GetOrder(context.Background(), "  "); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	if _, err := fx.service.GetOrderByNumber(context.Background(), "ORD-NOPE"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
