package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

var (
	ErrNotFound          = errors.New("order_not_found")
	ErrInvalidID         = errors.New("invalid_order_id")
	ErrInvalidStatus     = errors.New("invalid_order_status")
	ErrInvalidTransition = errors.New("invalid_order_transition")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrReasonRequired    = errors.New("cancellation_reason_required")
	ErrConflict          = errors.New("order_version_conflict")
)

// Result summarises one reconciliation pass.
type Result struct {
	Policy          PolicyName `json:"policy"`
	Scanned         int        `json:"scanned"`
	Transitioned    int        `json:"transitioned"`
	Skipped         int        `json:"skipped"`
	Failed          int        `json:"failed"`
	RefundsCreated  int        `json:"refunds_created"`
	InvoicesExpired int        `json:"invoices_expired"`
	ExpireFailures  int        `json:"expire_failures"`
}

// Affected is the number of orders whose rows changed.
func (r Result) Affected() int { return r.Transitioned }

// Transition records what happened to a single order.
type Transition struct {
	Order         Order
	From          OrderStatus
	PaymentFrom   paymentdomain.PaymentStatus
	Payment       *paymentdomain.Payment
	Refund        *paymentdomain.Refund
	ExpireInvoice bool
}

type TransitionRequest struct {
	OrderID snowflake.ID
	To      OrderStatus
	Reason  string
}

type Service interface {
	// FailStale fails every order that outlived policy, one transaction per order.
	FailStale(ctx context.Context, policy ExpiryPolicy) (Result, error)
	// SyncExpiredInvoices retries remote invoice expiry left behind by earlier passes.
	SyncExpiredInvoices(ctx context.Context) (Result, error)
	// Transition applies an operator status change.
	Transition(ctx context.Context, req TransitionRequest) (*Order, error)
	Get(ctx context.Context, id snowflake.ID) (*Order, error)
}
