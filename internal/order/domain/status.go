package domain

import "fmt"

type OrderStatus string

const (
	OrderStatusWaitingPayment  OrderStatus = "waiting_payment"
	OrderStatusPaymentReceived OrderStatus = "payment_received"
	OrderStatusProcessing      OrderStatus = "processing"
	OrderStatusShipping        OrderStatus = "shipping"
	OrderStatusCompleted       OrderStatus = "completed"
	OrderStatusFailed          OrderStatus = "failed"
	OrderStatusCanceled        OrderStatus = "canceled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusWaitingPayment:  {OrderStatusPaymentReceived, OrderStatusFailed, OrderStatusCanceled},
	OrderStatusPaymentReceived: {OrderStatusProcessing, OrderStatusFailed, OrderStatusCanceled},
	OrderStatusProcessing:      {OrderStatusShipping, OrderStatusFailed, OrderStatusCanceled},
	OrderStatusShipping:        {OrderStatusCompleted},
}

// adminTargets are the statuses only an operator may move an order into.
var adminTargets = map[OrderStatus]struct{}{
	OrderStatusProcessing: {},
	OrderStatusShipping:   {},
	OrderStatusCompleted:  {},
	OrderStatusCanceled:   {},
}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown order status %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusWaitingPayment, OrderStatusPaymentReceived, OrderStatusProcessing,
		OrderStatusShipping, OrderStatusCompleted, OrderStatusFailed, OrderStatusCanceled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// IsAdminTarget reports whether s is reachable only through an admin action.
func (s OrderStatus) IsAdminTarget() bool {
	_, ok := adminTargets[s]
	return ok
}

func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition for an illegal move.
func CheckTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: order %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
