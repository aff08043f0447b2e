package service_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/events"
	gatewaydomain "github.com/smallbiznis/storefront/internal/gateway/domain"
	"github.com/smallbiznis/storefront/internal/gateway/gatewaytest"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	orderrepository "github.com/smallbiznis/storefront/internal/order/repository"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/repository"
	"github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	svc     paymentdomain.Service
	refunds paymentdomain.RefundService
	gateway *gatewaytest.Mock
	hub     *events.Hub
	clock   *clock.FakeClock
	node    *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := testutil.NewDB(t,
		&orderdomain.Order{},
		&paymentdomain.Payment{},
		&paymentdomain.Refund{},
	)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	node := testutil.NewNode(t)
	hub := events.NewHub()
	gateway := &gatewaytest.Mock{}
	repo := repository.Provide()

	svc := service.NewService(service.Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Clock:     fake,
		GenID:     node,
		Repo:      repo,
		OrderRepo: orderrepository.Provide(),
		Publisher: hub,
	})
	refunds := service.NewRefundService(service.RefundParams{
		DB:        conn,
		Log:       zap.NewNop(),
		Clock:     fake,
		Repo:      repo,
		Gateway:   gateway,
		Reconcile: config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig()),
		Publisher: hub,
	})
	return &fixture{db: conn, svc: svc, refunds: refunds, gateway: gateway, hub: hub, clock: fake, node: node}
}

func (f *fixture) seed(t *testing.T, orderStatus orderdomain.OrderStatus, paymentStatus paymentdomain.PaymentStatus) (orderdomain.Order, paymentdomain.Payment) {
	t.Helper()
	created := f.clock.Now().Add(-2 * time.Hour)
	o := orderdomain.Order{
		ID:             f.node.Generate(),
		Subtotal:       decimal.NewFromInt(200000),
		DiscountAmount: decimal.Zero,
		ShippingCost:   decimal.NewFromInt(20000),
		Total:          decimal.NewFromInt(220000),
		Currency:       "IDR",
		Status:         orderStatus,
		Version:        1,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	require.NoError(t, f.db.Create(&o).Error)
	p := paymentdomain.Payment{
		ID:        f.node.Generate(),
		OrderID:   o.ID,
		Provider:  "xendit",
		InvoiceID: "inv_" + o.ID.String(),
		Amount:    o.Total,
		Currency:  o.Currency,
		Status:    paymentStatus,
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
	require.NoError(t, f.db.Create(&p).Error)
	return o, p
}

func (f *fixture) refund(t *testing.T, p paymentdomain.Payment, status paymentdomain.RefundStatus) paymentdomain.Refund {
	t.Helper()
	r := paymentdomain.Refund{
		ID:        f.node.Generate(),
		PaymentID: p.ID,
		Amount:    p.Amount,
		Reason:    orderdomain.ReasonOverdue,
		Status:    status,
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&r).Error)
	return r
}

func (f *fixture) order(t *testing.T, id snowflake.ID) orderdomain.Order {
	t.Helper()
	var o orderdomain.Order
	require.NoError(t, f.db.First(&o, "id = ?", id).Error)
	return o
}

func (f *fixture) payment(t *testing.T, id snowflake.ID) paymentdomain.Payment {
	t.Helper()
	var p paymentdomain.Payment
	require.NoError(t, f.db.First(&p, "id = ?", id).Error)
	return p
}

func (f *fixture) reloadRefund(t *testing.T, id snowflake.ID) paymentdomain.Refund {
	t.Helper()
	var r paymentdomain.Refund
	require.NoError(t, f.db.First(&r, "id = ?", id).Error)
	return r
}

func (f *fixture) eventTypes(t *testing.T) []string {
	t.Helper()
	sub, backlog, err := f.hub.Subscribe()
	require.NoError(t, err)
	sub.Close()
	types := make([]string, 0, len(backlog))
	for _, evt := range backlog {
		types = append(types, evt.Type)
	}
	return types
}

func invoiceEvent(p paymentdomain.Payment, eventType, status string, at time.Time) *paymentdomain.PaymentEvent {
	return &paymentdomain.PaymentEvent{
		Provider:        "xendit",
		ProviderEventID: p.InvoiceID + ":" + status,
		Type:            eventType,
		InvoiceID:       p.InvoiceID,
		ExternalID:      p.OrderID.String(),
		Amount:          p.Amount,
		OccurredAt:      at,
	}
}

func TestPaidCallbackMarksPaymentAndOrder(t *testing.T) {
	f := newFixture(t)
	o, p := f.seed(t, orderdomain.OrderStatusWaitingPayment, paymentdomain.PaymentStatusUnpaid)
	paidAt := f.clock.Now().Add(-time.Minute)

	err := f.svc.ProcessEvent(context.Background(), invoiceEvent(p, paymentdomain.EventTypeInvoicePaid, "PAID", paidAt))
	require.NoError(t, err)

	pay := f.payment(t, p.ID)
	assert.Equal(t, paymentdomain.PaymentStatusPaid, pay.Status)
	require.NotNil(t, pay.PaidAt)
	assert.True(t, pay.PaidAt.Equal(paidAt))
	assert.Equal(t, int64(2), pay.Version)
	assert.Equal(t, orderdomain.OrderStatusPaymentReceived, f.order(t, o.ID).Status)
	assert.Equal(t, []string{events.TypePaymentStatusChanged, events.TypeOrderTransitioned}, f.eventTypes(t))

	// a repeated callback is a no-op
	require.NoError(t, f.svc.ProcessEvent(context.Background(), invoiceEvent(p, paymentdomain.EventTypeInvoicePaid, "PAID", paidAt)))
	assert.Equal(t, int64(2), f.payment(t, p.ID).Version)
}

func TestSettledAfterPaidKeepsOrder(t *testing.T) {
	f := newFixture(t)
	o, p := f.seed(t, orderdomain.OrderStatusPaymentReceived, paymentdomain.PaymentStatusPaid)

	require.NoError(t, f.svc.ProcessEvent(context.Background(), invoiceEvent(p, paymentdomain.EventTypeInvoiceSettled, "SETTLED", f.clock.Now())))

	assert.Equal(t, paymentdomain.PaymentStatusSettled, f.payment(t, p.ID).Status)
	assert.Equal(t, orderdomain.OrderStatusPaymentReceived, f.order(t, o.ID).Status)
}

func TestSettledOnUnpaidAlsoReceivesOrder(t *testing.T) {
	f := newFixture(t)
	o, p := f.seed(t, orderdomain.OrderStatusWaitingPayment, paymentdomain.PaymentStatusUnpaid)

	require.NoError(t, f.svc.ProcessEvent(context.Background(), invoiceEvent(p, paymentdomain.EventTypeInvoiceSettled, "SETTLED", f.clock.Now())))

	pay := f.payment(t, p.ID)
	assert.Equal(t, paymentdomain.PaymentStatusSettled, pay.Status)
	assert.NotNil(t, pay.PaidAt)
	assert.Equal(t, orderdomain.OrderStatusPaymentReceived, f.order(t, o.ID).Status)
}

func TestExpiredCallbackFailsOrder(t *testing.T) {
	f := newFixture(t)
	o, p := f.seed(t, orderdomain.OrderStatusWaitingPayment, paymentdomain.PaymentStatusUnpaid)

	require.NoError(t, f.svc.ProcessEvent(context.Background(), invoiceEvent(p, paymentdomain.EventTypeInvoiceExpired, "EXPIRED", f.clock.Now())))

	pay := f.payment(t, p.ID)
	assert.Equal(t, paymentdomain.PaymentStatusExpired, pay.Status)
	assert.NotNil(t, pay.InvoiceExpiredAt)

	got := f.order(t, o.ID)
	assert.Equal(t, orderdomain.OrderStatusFailed, got.Status)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, service.ReasonInvoiceExpired, *got.CancellationReason)
}

func TestExpiredCallbackSettlesPendingRemoteExpiry(t *testing.T) {
	f := newFixture(t)
	o, p := f.seed(t, orderdomain.OrderStatusFailed, paymentdomain.PaymentStatusExpired)

	require.NoError(t, f.svc.ProcessEvent(context.Background(), invoiceEvent(p, paymentdomain.EventTypeInvoiceExpired, "EXPIRED", f.clock.Now())))

	pay := f.payment(t, p.ID)
	assert.NotNil(t, pay.InvoiceExpiredAt)
	assert.Equal(t, int64(1), pay.Version)
	assert.Equal(t, int64(1), f.order(t, o.ID).Version)
}

func TestLatePaidOnExpiredPaymentIsRefunded(t *testing.T) {
	f := newFixture(t)
	o, p := f.seed(t, orderdomain.OrderStatusFailed, paymentdomain.PaymentStatusExpired)

	require.NoError(t, f.svc.ProcessEvent(context.Background(), invoiceEvent(p, paymentdomain.EventTypeInvoicePaid, "PAID", f.clock.Now())))

	assert.Equal(t, paymentdomain.PaymentStatusRefunded, f.payment(t, p.ID).Status)
	assert.Equal(t, orderdomain.OrderStatusFailed, f.order(t, o.ID).Status)

	var refunds []paymentdomain.Refund
	require.NoError(t, f.db.Where("payment_id = ?", p.ID).Find(&refunds).Error)
	require.Len(t, refunds, 1)
	assert.Equal(t, paymentdomain.RefundStatusPending, refunds[0].Status)
	assert.Equal(t, service.ReasonLateCapture, refunds[0].Reason)
	assert.True(t, refunds[0].Amount.Equal(p.Amount))

	assert.Contains(t, f.eventTypes(t), events.TypeRefundCreated)
}

func TestUnknownInvoiceIsRejected(t *testing.T) {
	f := newFixture(t)
	event := &paymentdomain.PaymentEvent{
		Provider:        "xendit",
		ProviderEventID: "inv_missing:PAID",
		Type:            paymentdomain.EventTypeInvoicePaid,
		InvoiceID:       "inv_missing",
	}
	err := f.svc.ProcessEvent(context.Background(), event)
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)

	err = f.svc.ProcessEvent(context.Background(), &paymentdomain.PaymentEvent{ProviderEventID: "x", Type: "invoice.unknown", InvoiceID: "inv"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}

func TestRefundCallbacks(t *testing.T) {
	f := newFixture(t)
	_, p1 := f.seed(t, orderdomain.OrderStatusFailed, paymentdomain.PaymentStatusRefunded)
	_, p2 := f.seed(t, orderdomain.OrderStatusFailed, paymentdomain.PaymentStatusRefunded)
	ok := f.refund(t, p1, paymentdomain.RefundStatusApproved)
	bad := f.refund(t, p2, paymentdomain.RefundStatusApproved)

	require.NoError(t, f.svc.ProcessEvent(context.Background(), &paymentdomain.PaymentEvent{
		Provider:        "xendit",
		ProviderEventID: "rfd_ok:refund.succeeded",
		Type:            paymentdomain.EventTypeRefundSucceeded,
		RefundID:        ok.ID,
		GatewayRefundID: "rfd_ok",
		OccurredAt:      f.clock.Now(),
	}))
	require.NoError(t, f.svc.ProcessEvent(context.Background(), &paymentdomain.PaymentEvent{
		Provider:        "xendit",
		ProviderEventID: "rfd_bad:refund.failed",
		Type:            paymentdomain.EventTypeRefundFailed,
		RefundID:        bad.ID,
		GatewayRefundID: "rfd_bad",
		FailureCode:     "INSUFFICIENT_BALANCE",
	}))

	got := f.reloadRefund(t, ok.ID)
	assert.Equal(t, paymentdomain.RefundStatusSucceeded, got.Status)
	assert.NotNil(t, got.SucceededAt)
	require.NotNil(t, got.GatewayRefundID)
	assert.Equal(t, "rfd_ok", *got.GatewayRefundID)

	got = f.reloadRefund(t, bad.ID)
	assert.Equal(t, paymentdomain.RefundStatusFailed, got.Status)
	require.NotNil(t, got.FailureCode)
	assert.Equal(t, "INSUFFICIENT_BALANCE", *got.FailureCode)
}

func TestApproveIssuesGatewayRefund(t *testing.T) {
	f := newFixture(t)
	_, p := f.seed(t, orderdomain.OrderStatusFailed, paymentdomain.PaymentStatusRefunded)
	r := f.refund(t, p, paymentdomain.RefundStatusPending)

	f.gateway.On("CreateRefund", mock.MatchedBy(func(req gatewaydomain.CreateRefundRequest) bool {
		return req.IdempotencyKey == r.ID.String() && req.InvoiceID == p.InvoiceID && req.Amount.Equal(p.Amount)
	})).Return(&gatewaydomain.Refund{ID: "rfd_1", ReferenceID: r.ID.String(), Status: "PENDING", Amount: p.Amount}, nil).Once()

	got, err := f.refunds.Approve(context.Background(), r.ID, "ops@storefront")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundStatusApproved, got.Status)

	stored := f.reloadRefund(t, r.ID)
	assert.Equal(t, paymentdomain.RefundStatusApproved, stored.Status)
	require.NotNil(t, stored.ApprovedBy)
	assert.Equal(t, "ops@storefront", *stored.ApprovedBy)
	require.NotNil(t, stored.GatewayRefundID)
	assert.Equal(t, "rfd_1", *stored.GatewayRefundID)
	assert.Contains(t, f.eventTypes(t), events.TypeRefundIssued)
	f.gateway.AssertExpectations(t)

	_, err = f.refunds.Approve(context.Background(), r.ID, "ops@storefront")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidTransition)
}

func TestApproveGatewayFailureIsIssuedLater(t *testing.T) {
	f := newFixture(t)
	_, p := f.seed(t, orderdomain.OrderStatusFailed, paymentdomain.PaymentStatusRefunded)
	r := f.refund(t, p, paymentdomain.RefundStatusPending)

	f.gateway.On("CreateRefund", mock.Anything).
		Return(nil, gatewaydomain.NewError(gatewaydomain.OpCreateRefund, http.StatusServiceUnavailable, "", "down")).Once()

	_, err := f.refunds.Approve(context.Background(), r.ID, "ops")
	require.Error(t, err)
	assert.Equal(t, gatewaydomain.MessageGeneric, gatewaydomain.UserMessage(err))

	stored := f.reloadRefund(t, r.ID)
	assert.Equal(t, paymentdomain.RefundStatusApproved, stored.Status)
	assert.Nil(t, stored.GatewayRefundID)

	f.gateway.On("CreateRefund", mock.MatchedBy(func(req gatewaydomain.CreateRefundRequest) bool {
		return req.IdempotencyKey == r.ID.String()
	})).Return(&gatewaydomain.Refund{ID: "rfd_2"}, nil).Once()

	result, err := f.refunds.IssueApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundResult{Scanned: 1, Issued: 1}, result)
	require.NotNil(t, f.reloadRefund(t, r.ID).GatewayRefundID)

	result, err = f.refunds.IssueApproved(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	f.gateway.AssertNumberOfCalls(t, "CreateRefund", 2)
}

func TestReapproveFailedRefundUsesFreshKey(t *testing.T) {
	f := newFixture(t)
	_, p := f.seed(t, orderdomain.OrderStatusFailed, paymentdomain.PaymentStatusRefunded)
	r := f.refund(t, p, paymentdomain.RefundStatusPending)
	require.NoError(t, f.db.Model(&paymentdomain.Refund{}).Where("id = ?", r.ID).Updates(map[string]any{
		"status":            paymentdomain.RefundStatusFailed,
		"gateway_refund_id": "rfd_old",
		"failure_code":      "INSUFFICIENT_BALANCE",
	}).Error)

	wantKey := fmt.Sprintf("%s-%d", r.ID, f.clock.Now().Unix())
	f.gateway.On("CreateRefund", mock.MatchedBy(func(req gatewaydomain.CreateRefundRequest) bool {
		return req.IdempotencyKey == wantKey
	})).Return(&gatewaydomain.Refund{ID: "rfd_new"}, nil).Once()

	_, err := f.refunds.Approve(context.Background(), r.ID, "ops")
	require.NoError(t, err)

	stored := f.reloadRefund(t, r.ID)
	assert.Equal(t, paymentdomain.RefundStatusApproved, stored.Status)
	require.NotNil(t, stored.GatewayRefundID)
	assert.Equal(t, "rfd_new", *stored.GatewayRefundID)
	f.gateway.AssertExpectations(t)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	_, p := f.seed(t, orderdomain.OrderStatusCanceled, paymentdomain.PaymentStatusRefunded)
	r := f.refund(t, p, paymentdomain.RefundStatusPending)

	_, err := f.refunds.Reject(context.Background(), r.ID, "  ")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidRefundReason)

	got, err := f.refunds.Reject(context.Background(), r.ID, "customer kept the goods")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.RefundStatusRejected, got.Status)

	_, err = f.refunds.Approve(context.Background(), r.ID, "ops")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidTransition)

	_, err = f.refunds.Reject(context.Background(), snowflake.ID(42), "missing")
	assert.ErrorIs(t, err, paymentdomain.ErrRefundNotFound)
	f.gateway.AssertNotCalled(t, "CreateRefund", mock.Anything)
}

func TestIdempotencyKey(t *testing.T) {
	approved := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	code := "INSUFFICIENT_BALANCE"
	r := paymentdomain.Refund{ID: snowflake.ID(77), ApprovedAt: &approved}
	assert.Equal(t, "77", service.IdempotencyKey(r))

	r.FailureCode = &code
	assert.Equal(t, "77-1772355600", service.IdempotencyKey(r))
}
