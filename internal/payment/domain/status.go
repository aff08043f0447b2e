package domain

import "fmt"

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusSettled  PaymentStatus = "settled"
	PaymentStatusExpired  PaymentStatus = "expired"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// expired -> refunded covers a capture reported after the invoice was expired locally.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnpaid:  {PaymentStatusPaid, PaymentStatusSettled, PaymentStatusExpired},
	PaymentStatusPaid:    {PaymentStatusSettled, PaymentStatusRefunded},
	PaymentStatusSettled: {PaymentStatusRefunded},
	PaymentStatusExpired: {PaymentStatusRefunded},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPaid, PaymentStatusSettled, PaymentStatusExpired, PaymentStatusRefunded:
		return true
	}
	return false
}

// Captured reports whether money has moved for this payment.
func (s PaymentStatus) Captured() bool {
	return s == PaymentStatusPaid || s == PaymentStatusSettled
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckPaymentTransition returns ErrInvalidTransition for an illegal move.
func CheckPaymentTransition(from, to PaymentStatus) error {
	if !CanTransitionPayment(from, to) {
		return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusPending:  {RefundStatusApproved, RefundStatusRejected},
	RefundStatusApproved: {RefundStatusSucceeded, RefundStatusFailed},
	RefundStatusFailed:   {RefundStatusApproved},
}

func (s RefundStatus) Valid() bool {
	switch s {
	case RefundStatusPending, RefundStatusApproved, RefundStatusRejected, RefundStatusSucceeded, RefundStatusFailed:
		return true
	}
	return false
}

func CanTransitionRefund(from, to RefundStatus) bool {
	for _, next := range refundTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func CheckRefundTransition(from, to RefundStatus) error {
	if !CanTransitionRefund(from, to) {
		return fmt.Errorf("%w: refund %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
