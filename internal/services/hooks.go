package services

import (
	"context"

	domain "github.com/shoplane/api/internal/domain"
)

// HookFailureMode controls how hook errors surface from mutating operations.
type HookFailureMode string

const (
	// HookFailuresPropagate returns hook errors to the caller even though the
	// state change has already committed. Callers must not treat a hook error
	// as proof that the mutation did not happen.
	HookFailuresPropagate HookFailureMode = "propagate"
	// HookFailuresLogged swallows hook errors after logging them.
	HookFailuresLogged HookFailureMode = "logged"
)

// OrderHooks is the set of optional lifecycle callbacks supplied at
// construction time. Each slot holds at most one callback; hooks run
// sequentially and each is awaited before the next fires.
type OrderHooks struct {
	// BeforeCreate runs before totals are computed and may rewrite the draft;
	// item, discount, shipping, and tax-rate changes are reflected in the
	// stored totals.
	BeforeCreate          func(ctx context.Context, draft *CreateOrderCommand) error
	AfterCreate           func(ctx context.Context, order Order) error
	BeforeUpdate          func(ctx context.Context, order Order, cmd UpdateOrderCommand) error
	AfterUpdate           func(ctx context.Context, order Order) error
	OnStatusChange        func(ctx context.Context, orderID string, from OrderStatus, to OrderStatus) error
	OnPaymentStatusChange func(ctx context.Context, orderID string, from PaymentStatus, to PaymentStatus) error
	OnOrderConfirmed      func(ctx context.Context, order Order) error
	OnOrderShipped        func(ctx context.Context, order Order) error
	OnOrderDelivered      func(ctx context.Context, order Order) error
	OnOrderCancelled      func(ctx context.Context, order Order) error
}

// hookRunner applies the configured failure mode around every hook invocation.
type hookRunner struct {
	hooks  OrderHooks
	mode   HookFailureMode
	logger func(context.Context, string, map[string]any)
}

func newHookRunner(hooks OrderHooks, mode HookFailureMode, logger func(context.Context, string, map[string]any)) hookRunner {
	if mode == "" {
		mode = HookFailuresPropagate
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return hookRunner{hooks: hooks, mode: mode, logger: logger}
}

func (r hookRunner) run(ctx context.Context, name string, fn func() error) error {
	if fn == nil {
		return nil
	}
	err := fn()
	if err == nil {
		return nil
	}
	if r.mode == HookFailuresLogged {
		r.logger(ctx, "order.hook.failed", map[string]any{
			"hook":  name,
			"error": err.Error(),
		})
		return nil
	}
	return err
}

func (r hookRunner) beforeCreate(ctx context.Context, draft *CreateOrderCommand) error {
	if r.hooks.BeforeCreate == nil {
		return nil
	}
	return r.run(ctx, "beforeCreate", func() error { return r.hooks.BeforeCreate(ctx, draft) })
}

func (r hookRunner) afterCreate(ctx context.Context, order Order) error {
	if r.hooks.AfterCreate == nil {
		return nil
	}
	return r.run(ctx, "afterCreate", func() error { return r.hooks.AfterCreate(ctx, order) })
}

func (r hookRunner) beforeUpdate(ctx context.Context, order Order, cmd UpdateOrderCommand) error {
	if r.hooks.BeforeUpdate == nil {
		return nil
	}
	return r.run(ctx, "beforeUpdate", func() error { return r.hooks.BeforeUpdate(ctx, order, cmd) })
}

func (r hookRunner) afterUpdate(ctx context.Context, order Order) error {
	if r.hooks.AfterUpdate == nil {
		return nil
	}
	return r.run(ctx, "afterUpdate", func() error { return r.hooks.AfterUpdate(ctx, order) })
}

func (r hookRunner) onStatusChange(ctx context.Context, orderID string, from, to OrderStatus) error {
	if r.hooks.OnStatusChange == nil {
		return nil
	}
	return r.run(ctx, "onStatusChange", func() error { return r.hooks.OnStatusChange(ctx, orderID, from, to) })
}

func (r hookRunner) onPaymentStatusChange(ctx context.Context, orderID string, from, to PaymentStatus) error {
	if r.hooks.OnPaymentStatusChange == nil {
		return nil
	}
	return r.run(ctx, "onPaymentStatusChange", func() error { return r.hooks.OnPaymentStatusChange(ctx, orderID, from, to) })
}

// forStatus dispatches the status-specific hook matching the new order status.
func (r hookRunner) forStatus(ctx context.Context, order Order) error {
	switch order.Status {
	case domain.OrderStatusConfirmed:
		if r.hooks.OnOrderConfirmed != nil {
			return r.run(ctx, "onOrderConfirmed", func() error { return r.hooks.OnOrderConfirmed(ctx, order) })
		}
	case domain.OrderStatusShipped:
		if r.hooks.OnOrderShipped != nil {
			return r.run(ctx, "onOrderShipped", func() error { return r.hooks.OnOrderShipped(ctx, order) })
		}
	case domain.OrderStatusDelivered:
		if r.hooks.OnOrderDelivered != nil {
			return r.run(ctx, "onOrderDelivered", func() error { return r.hooks.OnOrderDelivered(ctx, order) })
		}
	}
	return nil
}

func (r hookRunner) onOrderCancelled(ctx context.Context, order Order) error {
	if r.hooks.OnOrderCancelled == nil {
		return nil
	}
	return r.run(ctx, "onOrderCancelled", func() error { return r.hooks.OnOrderCancelled(ctx, order) })
}
