package services

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrTotalsInvalidInput signals bad totals inputs such as negative prices or a malformed tax rate.
	ErrTotalsInvalidInput = errors.New("order totals: invalid input")
)

// CalculateOrderTotals rolls line items, discount, tax rate, and shipping into
// order totals. Amounts are minor currency units; the tax rate is a decimal
// string such as "0.1". The taxable amount (subtotal minus discount) may go
// negative and is carried through unclamped so the arithmetic stays auditable;
// only the grand total is floor-clamped at zero.
func CalculateOrderTotals(input TotalsInput) (OrderTotals, error) {
	if input.Discount < 0 {
		return OrderTotals{}, fmt.Errorf("%w: discount cannot be negative", ErrTotalsInvalidInput)
	}
	if input.Shipping < 0 {
		return OrderTotals{}, fmt.Errorf("%w: shipping cannot be negative", ErrTotalsInvalidInput)
	}

	rate := decimal.Zero
	if trimmed := strings.TrimSpace(input.TaxRate); trimmed != "" {
		parsed, err := decimal.NewFromString(trimmed)
		if err != nil {
			return OrderTotals{}, fmt.Errorf("%w: tax rate %q is not a decimal", ErrTotalsInvalidInput, input.TaxRate)
		}
		if parsed.IsNegative() {
			return OrderTotals{}, fmt.Errorf("%w: tax rate cannot be negative", ErrTotalsInvalidInput)
		}
		rate = parsed
	}

	var subtotal int64
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return OrderTotals{}, fmt.Errorf("%w: item %s quantity must be positive", ErrTotalsInvalidInput, item.SKU)
		}
		if item.UnitPrice < 0 {
			return OrderTotals{}, fmt.Errorf("%w: item %s unit price cannot be negative", ErrTotalsInvalidInput, item.SKU)
		}
		quantity := int64(item.Quantity)
		if item.UnitPrice > 0 && item.UnitPrice > math.MaxInt64/quantity {
			return OrderTotals{}, fmt.Errorf("%w: item %s subtotal overflow", ErrTotalsInvalidInput, item.SKU)
		}
		line := item.UnitPrice * quantity
		if subtotal > math.MaxInt64-line {
			return OrderTotals{}, fmt.Errorf("%w: subtotal overflow", ErrTotalsInvalidInput)
		}
		subtotal += line
	}

	taxable := subtotal - input.Discount
	tax := decimal.NewFromInt(taxable).Mul(rate).Round(0).IntPart()

	total := taxable + tax + input.Shipping
	if total < 0 {
		total = 0
	}

	return OrderTotals{
		Subtotal: subtotal,
		Discount: input.Discount,
		Shipping: input.Shipping,
		Tax:      tax,
		Total:    total,
	}, nil
}
