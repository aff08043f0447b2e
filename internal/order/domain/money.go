package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Totals are the monetary fields fixed on an order at checkout.
type Totals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingCost   decimal.Decimal
	Total          decimal.Decimal
}

// ComputeTotals applies total = subtotal - discount + shipping. The discount is
// capped at the subtotal so the total never goes negative.
func ComputeTotals(subtotal, discount, shipping decimal.Decimal) (Totals, error) {
	if subtotal.IsNegative() || discount.IsNegative() || shipping.IsNegative() {
		return Totals{}, fmt.Errorf("%w: amounts must not be negative", ErrInvalidAmount)
	}
	subtotal = subtotal.Round(2)
	shipping = shipping.Round(2)
	discount = decimal.Min(discount.Round(2), subtotal)

	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		ShippingCost:   shipping,
		Total:          subtotal.Sub(discount).Add(shipping),
	}, nil
}

// Consistent reports whether the stored totals satisfy the checkout equation.
func (o Order) Consistent() bool {
	return o.Subtotal.Sub(o.DiscountAmount).Add(o.ShippingCost).Equal(o.Total)
}
