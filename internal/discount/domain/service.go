package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("discount_not_found")
	ErrDiscountUnavailable = errors.New("discount_unavailable")
	ErrInvalidType         = errors.New("invalid_discount_type")
	ErrInvalidValue        = errors.New("invalid_discount_value")
	ErrInvalidCode         = errors.New("invalid_discount_code")
)

type Result struct {
	Scanned     int `json:"scanned"`
	Deactivated int `json:"deactivated"`
	Failed      int `json:"failed"`
}

type Service interface {
	// DeactivateExpired flips is_active off for every discount past its end
	// date or usage limit.
	DeactivateExpired(ctx context.Context) (Result, error)
	// Redeem consumes one use of code inside tx. It is the only place usage
	// limits are enforced for customers.
	Redeem(ctx context.Context, tx *gorm.DB, code string, now time.Time) (*Discount, error)
	Quote(d Discount, subtotal decimal.Decimal) (decimal.Decimal, error)
}
