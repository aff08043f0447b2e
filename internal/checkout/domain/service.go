package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

var (
	ErrEmptyCart        = errors.New("empty_cart")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidShipping  = errors.New("invalid_shipping")
	ErrCustomerRequired = errors.New("customer_required")
)

type Item struct {
	VariantID snowflake.ID `json:"variant_id"`
	Quantity  int          `json:"quantity"`
}

type PlaceOrderRequest struct {
	UserID                   snowflake.ID    `json:"user_id"`
	Items                    []Item          `json:"items"`
	DiscountCode             string          `json:"discount_code,omitempty"`
	ShippingCost             decimal.Decimal `json:"shipping_cost"`
	EstimatedMaxShippingDays int             `json:"estimated_max_shipping_days"`
}

type PlaceOrderResult struct {
	Order      orderdomain.Order       `json:"order"`
	Items      []orderdomain.OrderItem `json:"items"`
	Payment    paymentdomain.Payment   `json:"payment"`
	InvoiceURL string                  `json:"invoice_url"`
}

type Service interface {
	// PlaceOrder creates a waiting_payment order with an unpaid payment and
	// opens its gateway invoice.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error)
}
