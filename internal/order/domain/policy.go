package domain

import (
	"time"

	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

type PolicyName string

const (
	PolicyUnpaid  PolicyName = "unpaid"
	PolicyOverdue PolicyName = "overdue"
	PolicyAdmin   PolicyName = "admin"
)

const (
	ReasonUnpaidTimeout = "Pembayaran tidak diterima dalam 24 jam"
	ReasonOverdue       = "Pesanan melewati batas waktu pemrosesan"
)

// Skip reasons returned by Decide when an order is left untouched.
const (
	SkipStatusChanged   = "status_changed"
	SkipNotDue          = "not_due"
	SkipPaymentCaptured = "payment_captured"
	// SkipVersionConflict: lost the optimistic version check twice.
	SkipVersionConflict = "version_conflict"
)

// ExpiryPolicy names one time-based failure rule. Unpaid and overdue orders are
// handled by the same evaluator with different policies.
type ExpiryPolicy struct {
	Name      PolicyName
	Threshold time.Duration
	Statuses  []OrderStatus
	Reason    string
	// UseShippingWindow extends the threshold by the order's estimated max
	// shipping days.
	UseShippingWindow bool
	// RefundCaptured fails orders whose payment was captured and opens a refund.
	// When false such orders are skipped.
	RefundCaptured bool
	EventType      string
}

func UnpaidPolicy(threshold time.Duration) ExpiryPolicy {
	return ExpiryPolicy{
		Name:      PolicyUnpaid,
		Threshold: threshold,
		Statuses:  []OrderStatus{OrderStatusWaitingPayment},
		Reason:    ReasonUnpaidTimeout,
		EventType: "order.expired",
	}
}

func OverduePolicy(grace time.Duration) ExpiryPolicy {
	return ExpiryPolicy{
		Name:      PolicyOverdue,
		Threshold: grace,
		Statuses: []OrderStatus{
			OrderStatusWaitingPayment,
			OrderStatusPaymentReceived,
			OrderStatusProcessing,
		},
		Reason:            ReasonOverdue,
		UseShippingWindow: true,
		RefundCaptured:    true,
		EventType:         "order.overdue_failed",
	}
}

func (p ExpiryPolicy) Applies(status OrderStatus) bool {
	for _, s := range p.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Cutoff is the newest creation time a candidate can have. Orders created after
// it are never due under this policy.
func (p ExpiryPolicy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.Threshold)
}

func (p ExpiryPolicy) Deadline(o Order) time.Time {
	deadline := o.CreatedAt.Add(p.Threshold)
	if p.UseShippingWindow && o.EstimatedMaxShippingDays > 0 {
		deadline = deadline.Add(time.Duration(o.EstimatedMaxShippingDays) * 24 * time.Hour)
	}
	return deadline
}

// Due reports whether the order has outlived the policy at now.
func (p ExpiryPolicy) Due(o Order, now time.Time) bool {
	return now.After(p.Deadline(o))
}

// Outcome is the set of row changes for one order.
type Outcome struct {
	OrderTo       OrderStatus
	PaymentTo     paymentdomain.PaymentStatus
	CreateRefund  bool
	ExpireInvoice bool
	Skip          string
}

func (o Outcome) Skipped() bool { return o.Skip != "" }

// ChangesPayment reports whether the payment row must be updated.
func (o Outcome) ChangesPayment() bool { return o.PaymentTo != "" }

// Decide computes the order/payment status pair for an order under policy.
// payment may be nil for orders created without one.
func Decide(order Order, payment *paymentdomain.Payment, policy ExpiryPolicy, now time.Time) Outcome {
	if !policy.Applies(order.Status) || !CanTransition(order.Status, OrderStatusFailed) {
		return Outcome{Skip: SkipStatusChanged}
	}
	if !policy.Due(order, now) {
		return Outcome{Skip: SkipNotDue}
	}
	if payment != nil && payment.Status.Captured() && !policy.RefundCaptured {
		return Outcome{Skip: SkipPaymentCaptured}
	}
	outcome := settlePayment(payment)
	outcome.OrderTo = OrderStatusFailed
	return outcome
}

// DecideCancel computes the changes for an operator cancelling an order.
func DecideCancel(order Order, payment *paymentdomain.Payment) (Outcome, error) {
	if err := CheckTransition(order.Status, OrderStatusCanceled); err != nil {
		return Outcome{}, err
	}
	outcome := settlePayment(payment)
	outcome.OrderTo = OrderStatusCanceled
	return outcome, nil
}

// settlePayment closes the payment of an order that will not be fulfilled:
// captured money is refunded, an open invoice is expired.
func settlePayment(payment *paymentdomain.Payment) Outcome {
	if payment == nil {
		return Outcome{}
	}
	switch {
	case payment.Status.Captured():
		return Outcome{PaymentTo: paymentdomain.PaymentStatusRefunded, CreateRefund: true}
	case payment.Status == paymentdomain.PaymentStatusUnpaid:
		return Outcome{PaymentTo: paymentdomain.PaymentStatusExpired, ExpireInvoice: payment.InvoiceID != ""}
	default:
		return Outcome{}
	}
}
