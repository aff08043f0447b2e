package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/events"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxAttempts = 2

	ReasonInvoiceExpired = "Invoice pembayaran kedaluwarsa"
	ReasonLateCapture    = "Pembayaran diterima setelah pesanan gagal"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	GenID     *snowflake.Node
	Repo      paymentdomain.Repository
	OrderRepo orderdomain.Repository
	Publisher events.Publisher `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	genID     *snowflake.Node
	repo      paymentdomain.Repository
	orderRepo orderdomain.Repository
	publisher events.Publisher
	metrics   *metrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewNop()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.service"),
		clock:     p.Clock,
		genID:     p.GenID,
		repo:      p.Repo,
		orderRepo: p.OrderRepo,
		publisher: publisher,
		metrics:   p.Metrics,
	}
}

// applied collects what one event changed, for logging and events after commit.
type applied struct {
	payment     *paymentdomain.Payment
	paymentFrom paymentdomain.PaymentStatus
	orderFrom   orderdomain.OrderStatus
	order       *orderdomain.Order
	refund      *paymentdomain.Refund
	refundFrom  paymentdomain.RefundStatus

	// refundCreated marks a refund opened by this event.
	refundCreated bool
}

func (a *applied) changed() bool {
	return a.paymentFrom != "" || a.order != nil || a.refundFrom != "" || a.refundCreated
}

func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	now := s.clock.Now()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}

	var (
		result *applied
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = s.applyOnce(ctx, event, now)
		if !errors.Is(err, db.ErrStaleVersion) {
			break
		}
		s.log.Info("payment.event.conflict",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		return err
	}

	s.record(ctx, event, result, now)
	return nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	switch event.Type {
	case paymentdomain.EventTypeInvoicePaid, paymentdomain.EventTypeInvoiceSettled, paymentdomain.EventTypeInvoiceExpired:
		if strings.TrimSpace(event.InvoiceID) == "" && strings.TrimSpace(event.ExternalID) == "" {
			return paymentdomain.ErrInvalidEvent
		}
	case paymentdomain.EventTypeRefundSucceeded, paymentdomain.EventTypeRefundFailed:
		if event.RefundID == 0 {
			return paymentdomain.ErrInvalidEvent
		}
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) applyOnce(ctx context.Context, event *paymentdomain.PaymentEvent, now time.Time) (*applied, error) {
	result := &applied{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if event.IsRefundEvent() {
			return s.applyRefundEvent(ctx, tx, event, result, now)
		}
		return s.applyInvoiceEvent(ctx, tx, event, result, now)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) findPayment(ctx context.Context, tx *gorm.DB, event *paymentdomain.PaymentEvent) (*paymentdomain.Payment, error) {
	if event.InvoiceID != "" {
		payment, err := s.repo.FindByInvoiceID(ctx, tx, event.InvoiceID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	// external_id is the order id the invoice was created with.
	if orderID, err := snowflake.ParseString(event.ExternalID); err == nil && orderID != 0 {
		return s.repo.FindByOrderID(ctx, tx, orderID)
	}
	return nil, nil
}

func (s *Service) applyInvoiceEvent(ctx context.Context, tx *gorm.DB, event *paymentdomain.PaymentEvent, result *applied, now time.Time) error {
	payment, err := s.findPayment(ctx, tx, event)
	if err != nil {
		return err
	}
	if payment == nil {
		return fmt.Errorf("%w: invoice %s", paymentdomain.ErrPaymentNotFound, event.InvoiceID)
	}
	result.payment = payment

	switch event.Type {
	case paymentdomain.EventTypeInvoicePaid, paymentdomain.EventTypeInvoiceSettled:
		to := paymentdomain.PaymentStatusPaid
		if event.Type == paymentdomain.EventTypeInvoiceSettled {
			to = paymentdomain.PaymentStatusSettled
		}
		switch {
		case payment.Status == paymentdomain.PaymentStatusExpired:
			return s.refundLateCapture(ctx, tx, payment, result, now)
		case payment.Status == to || !paymentdomain.CanTransitionPayment(payment.Status, to):
			return nil
		}
		paidAt := payment.PaidAt
		if paidAt == nil {
			at := event.OccurredAt
			paidAt = &at
		}
		if err := s.movePayment(ctx, tx, payment, to, paidAt, result, now); err != nil {
			return err
		}
		if result.paymentFrom != paymentdomain.PaymentStatusUnpaid {
			return nil
		}
		return s.moveOrder(ctx, tx, payment.OrderID, orderdomain.OrderStatusWaitingPayment, orderdomain.OrderStatusPaymentReceived, nil, result, now)

	case paymentdomain.EventTypeInvoiceExpired:
		if payment.Status == paymentdomain.PaymentStatusUnpaid {
			if err := s.movePayment(ctx, tx, payment, paymentdomain.PaymentStatusExpired, nil, result, now); err != nil {
				return err
			}
		}
		if payment.Status == paymentdomain.PaymentStatusExpired && payment.InvoiceExpiredAt == nil {
			if err := s.repo.MarkInvoiceExpired(ctx, tx, payment.ID, now); err != nil {
				return err
			}
		}
		if result.paymentFrom == "" {
			return nil
		}
		reason := ReasonInvoiceExpired
		return s.moveOrder(ctx, tx, payment.OrderID, orderdomain.OrderStatusWaitingPayment, orderdomain.OrderStatusFailed, &reason, result, now)
	}
	return nil
}

// refundLateCapture handles money captured on an invoice that was already
// expired locally: the order stays failed and the capture is returned.
func (s *Service) refundLateCapture(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, result *applied, now time.Time) error {
	if err := s.movePayment(ctx, tx, payment, paymentdomain.PaymentStatusRefunded, nil, result, now); err != nil {
		return err
	}
	existing, err := s.repo.FindRefundByPaymentID(ctx, tx, payment.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	refund := &paymentdomain.Refund{
		ID:        s.genID.Generate(),
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Reason:    ReasonLateCapture,
		Status:    paymentdomain.RefundStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertRefund(ctx, tx, refund); err != nil {
		return err
	}
	result.refund = refund
	result.refundCreated = true
	return nil
}

func (s *Service) movePayment(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, to paymentdomain.PaymentStatus, paidAt *time.Time, result *applied, now time.Time) error {
	if err := paymentdomain.CheckPaymentTransition(payment.Status, to); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, tx, paymentdomain.PaymentStatusUpdate{
		ID:      payment.ID,
		Version: payment.Version,
		From:    payment.Status,
		To:      to,
		PaidAt:  paidAt,
		Now:     now,
	}); err != nil {
		return err
	}
	result.paymentFrom = payment.Status
	payment.Status = to
	payment.Version++
	if paidAt != nil {
		payment.PaidAt = paidAt
	}
	payment.UpdatedAt = now
	return nil
}

// moveOrder advances the order only while it is still in from; an order that
// already moved on is left alone.
func (s *Service) moveOrder(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, from, to orderdomain.OrderStatus, reason *string, result *applied, now time.Time) error {
	order, err := s.orderRepo.FindByID(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if order == nil || order.Status != from {
		return nil
	}
	if err := s.orderRepo.UpdateStatus(ctx, tx, orderdomain.StatusUpdate{
		ID:                 order.ID,
		Version:            order.Version,
		From:               order.Status,
		To:                 to,
		CancellationReason: reason,
		Now:                now,
	}); err != nil {
		return err
	}
	result.orderFrom = order.Status
	order.Status = to
	order.Version++
	order.UpdatedAt = now
	if reason != nil {
		order.CancellationReason = reason
	}
	result.order = order
	return nil
}

func (s *Service) applyRefundEvent(ctx context.Context, tx *gorm.DB, event *paymentdomain.PaymentEvent, result *applied, now time.Time) error {
	refund, err := s.repo.FindRefundByID(ctx, tx, event.RefundID)
	if err != nil {
		return err
	}
	if refund == nil {
		return fmt.Errorf("%w: %s", paymentdomain.ErrRefundNotFound, event.RefundID)
	}
	result.refund = refund

	to := paymentdomain.RefundStatusSucceeded
	if event.Type == paymentdomain.EventTypeRefundFailed {
		to = paymentdomain.RefundStatusFailed
	}
	if refund.Status == to || !paymentdomain.CanTransitionRefund(refund.Status, to) {
		return nil
	}

	update := paymentdomain.RefundUpdate{
		ID:   refund.ID,
		From: refund.Status,
		To:   to,
		Now:  now,
	}
	if event.GatewayRefundID != "" && refund.GatewayRefundID == nil {
		gatewayID := event.GatewayRefundID
		update.GatewayRefundID = &gatewayID
		refund.GatewayRefundID = &gatewayID
	}
	if to == paymentdomain.RefundStatusSucceeded {
		at := event.OccurredAt
		update.SucceededAt = &at
		refund.SucceededAt = &at
	} else {
		code := event.FailureCode
		if code == "" {
			code = "UNKNOWN"
		}
		update.FailureCode = &code
		refund.FailureCode = &code
	}
	if err := s.repo.UpdateRefund(ctx, tx, update); err != nil {
		return err
	}
	result.refundFrom = refund.Status
	refund.Status = to
	refund.UpdatedAt = now
	return nil
}

func (s *Service) record(ctx context.Context, event *paymentdomain.PaymentEvent, result *applied, now time.Time) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
	)
	if !result.changed() {
		log.Info("payment event had no effect")
		return
	}

	if result.paymentFrom != "" {
		payment := result.payment
		log.Info("payment.status_changed",
			zap.String("payment_id", payment.ID.String()),
			zap.String("order_id", payment.OrderID.String()),
			zap.String("from", string(result.paymentFrom)),
			zap.String("to", string(payment.Status)),
		)
		s.publish(ctx, log, events.New(events.TypePaymentStatusChanged, "payment:"+payment.ID.String(), now, map[string]any{
			"payment_id": payment.ID.String(),
			"order_id":   payment.OrderID.String(),
			"from":       string(result.paymentFrom),
			"to":         string(payment.Status),
			"invoice_id": payment.InvoiceID,
		}))
	}

	if result.order != nil {
		order := result.order
		log.Info(events.TypeOrderTransitioned,
			zap.String("order_id", order.ID.String()),
			zap.String("from", string(result.orderFrom)),
			zap.String("to", string(order.Status)),
		)
		s.metrics.RecordOrderTransition(ctx, "webhook", string(result.orderFrom), string(order.Status))
		s.publish(ctx, log, events.New(events.TypeOrderTransitioned, "order:"+order.ID.String(), now, map[string]any{
			"order_id": order.ID.String(),
			"policy":   "webhook",
			"from":     string(result.orderFrom),
			"to":       string(order.Status),
		}))
	}

	refund := result.refund
	switch {
	case refund == nil:
	case result.refundCreated:
		log.Warn("late capture refunded",
			zap.String("refund_id", refund.ID.String()),
			zap.String("payment_id", refund.PaymentID.String()),
		)
		s.metrics.RecordRefund(ctx, string(refund.Status))
		s.publish(ctx, log, events.New(events.TypeRefundCreated, "refund:"+refund.ID.String(), now, map[string]any{
			"refund_id":  refund.ID.String(),
			"payment_id": refund.PaymentID.String(),
			"order_id":   result.payment.OrderID.String(),
			"amount":     refund.Amount.StringFixed(2),
		}))
	case result.refundFrom != "":
		fields := []zap.Field{
			zap.String("refund_id", refund.ID.String()),
			zap.String("from", string(result.refundFrom)),
			zap.String("to", string(refund.Status)),
		}
		if refund.FailureCode != nil {
			fields = append(fields, zap.String("failure_code", *refund.FailureCode))
		}
		log.Info("refund.status_changed", fields...)
		s.metrics.RecordRefund(ctx, string(refund.Status))
	}
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, evt events.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		log.Warn("failed to publish event", zap.String("event_type", evt.Type), zap.Error(err))
	}
}
