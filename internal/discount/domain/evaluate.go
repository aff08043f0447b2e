package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Reason string

const (
	ReasonDateExpired    Reason = "date_expired"
	ReasonUsageExhausted Reason = "usage_exhausted"
)

// Evaluate lists why d should no longer be active at now. Each condition is
// checked only against its own precondition: the date rule needs an end date,
// the usage rule needs a limit.
func Evaluate(d Discount, now time.Time) []Reason {
	var reasons []Reason
	if d.EndDate != nil && !now.Before(*d.EndDate) {
		reasons = append(reasons, ReasonDateExpired)
	}
	if d.UsageLimit != nil && d.UsedCount >= *d.UsageLimit {
		reasons = append(reasons, ReasonUsageExhausted)
	}
	return reasons
}

// JoinReasons renders reasons for logs, e.g. "date_expired,usage_exhausted".
func JoinReasons(reasons []Reason) string {
	parts := make([]string, 0, len(reasons))
	for _, r := range reasons {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ",")
}

// Redeemable reports whether a customer may use d at now.
func Redeemable(d Discount, now time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.StartDate != nil && now.Before(*d.StartDate) {
		return false
	}
	return len(Evaluate(d, now)) == 0
}

var hundred = decimal.NewFromInt(100)

// Quote returns the amount d takes off subtotal, rounded to cents and never
// more than subtotal.
func Quote(d Discount, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if subtotal.IsNegative() || d.Value.IsNegative() {
		return decimal.Zero, ErrInvalidValue
	}
	var amount decimal.Decimal
	switch d.Type {
	case DiscountTypeFixed:
		amount = d.Value
	case DiscountTypePercentage:
		if d.Value.GreaterThan(hundred) {
			return decimal.Zero, ErrInvalidValue
		}
		amount = subtotal.Mul(d.Value).Div(hundred)
	default:
		return decimal.Zero, ErrInvalidType
	}
	amount = amount.Round(2)
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount, nil
}
