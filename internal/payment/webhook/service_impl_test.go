package webhook_test

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
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	orderrepository "github.com/smallbiznis/storefront/internal/order/repository"
	"github.com/smallbiznis/storefront/internal/payment/adapters"
	"github.com/smallbiznis/storefront/internal/payment/adapters/xendit"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/repository"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	"github.com/smallbiznis/storefront/internal/payment/webhook"
	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const callbackToken = "cb_token_test"

func setup(t *testing.T) (*gorm.DB, paymentdomain.WebhookService, *seeder) {
	t.Helper()
	conn := testutil.NewDB(t,
		&orderdomain.Order{},
		&paymentdomain.Payment{},
		&paymentdomain.Refund{},
		&paymentdomain.EventRecord{},
	)
	fake := clock.NewFakeClock(time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC))
	node := testutil.NewNode(t)
	repo := repository.Provide()

	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Clock:     fake,
		GenID:     node,
		Repo:      repo,
		OrderRepo: orderrepository.Provide(),
	})
	svc := webhook.NewService(webhook.Params{
		DB:         conn,
		Log:        zap.NewNop(),
		Clock:      fake,
		GenID:      node,
		Repo:       repo,
		PaymentSvc: paymentSvc,
		Adapters:   adapters.NewRegistry(config.GatewayConfig{CallbackToken: callbackToken}, xendit.NewFactory()),
	})
	return conn, svc, &seeder{db: conn, clock: fake, node: testutil.NewNode(t), t: t}
}

type seeder struct {
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node
	t     *testing.T
}

func (s *seeder) waitingOrder(invoiceID string) (orderdomain.Order, paymentdomain.Payment) {
	now := s.clock.Now().Add(-time.Hour)
	o := orderdomain.Order{
		ID:             s.node.Generate(),
		Subtotal:       decimal.NewFromInt(50000),
		DiscountAmount: decimal.Zero,
		ShippingCost:   decimal.Zero,
		Total:          decimal.NewFromInt(50000),
		Currency:       "IDR",
		Status:         orderdomain.OrderStatusWaitingPayment,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(s.t, s.db.Create(&o).Error)
	p := paymentdomain.Payment{
		ID:        s.node.Generate(),
		OrderID:   o.ID,
		Provider:  xendit.Provider,
		InvoiceID: invoiceID,
		Amount:    o.Total,
		Currency:  "IDR",
		Status:    paymentdomain.PaymentStatusUnpaid,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(s.t, s.db.Create(&p).Error)
	return o, p
}

func headers(token string) http.Header {
	h := http.Header{}
	h.Set(xendit.CallbackTokenHeader, token)
	return h
}

func paidPayload(invoiceID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"external_id":"","status":"PAID","amount":50000,"paid_amount":50000,"paid_at":"2026-05-10T07:30:00Z"}`, invoiceID))
}

func TestIngestAppliesOnceAndRejectsReplay(t *testing.T) {
	conn, svc, seed := setup(t)
	o, p := seed.waitingOrder("inv_100")

	require.NoError(t, svc.IngestWebhook(context.Background(), "Xendit", paidPayload("inv_100"), headers(callbackToken)))

	var stored paymentdomain.Payment
	require.NoError(t, conn.First(&stored, "id = ?", p.ID).Error)
	assert.Equal(t, paymentdomain.PaymentStatusPaid, stored.Status)

	var order orderdomain.Order
	require.NoError(t, conn.First(&order, "id = ?", o.ID).Error)
	assert.Equal(t, orderdomain.OrderStatusPaymentReceived, order.Status)

	var records []paymentdomain.EventRecord
	require.NoError(t, conn.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, "inv_100:PAID", records[0].ProviderEventID)
	assert.NotNil(t, records[0].ProcessedAt)

	err := svc.IngestWebhook(context.Background(), "xendit", paidPayload("inv_100"), headers(callbackToken))
	assert.ErrorIs(t, err, paymentdomain.ErrEventAlreadyProcessed)

	require.NoError(t, conn.First(&stored, "id = ?", p.ID).Error)
	assert.Equal(t, int64(2), stored.Version)
}

func TestIngestRejectsBadToken(t *testing.T) {
	conn, svc, seed := setup(t)
	seed.waitingOrder("inv_200")

	err := svc.IngestWebhook(context.Background(), "xendit", paidPayload("inv_200"), headers("forged"))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	var count int64
	require.NoError(t, conn.Model(&paymentdomain.EventRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIngestValidatesInput(t *testing.T) {
	_, svc, _ := setup(t)

	err := svc.IngestWebhook(context.Background(), "stripe", paidPayload("inv"), headers(callbackToken))
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)

	err = svc.IngestWebhook(context.Background(), "xendit", []byte("{"), headers(callbackToken))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	err = svc.IngestWebhook(context.Background(), "xendit", []byte(`{"id":"inv_1","status":"PENDING"}`), headers(callbackToken))
	assert.NoError(t, err)
}

func TestIngestRetriesEventThatFailedToApply(t *testing.T) {
	conn, svc, seed := setup(t)

	err := svc.IngestWebhook(context.Background(), "xendit", paidPayload("inv_300"), headers(callbackToken))
	require.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)

	var record paymentdomain.EventRecord
	require.NoError(t, conn.First(&record, "provider_event_id = ?", "inv_300:PAID").Error)
	assert.Nil(t, record.ProcessedAt)

	_, p := seed.waitingOrder("inv_300")
	require.NoError(t, svc.IngestWebhook(context.Background(), "xendit", paidPayload("inv_300"), headers(callbackToken)))

	var stored paymentdomain.Payment
	require.NoError(t, conn.First(&stored, "id = ?", p.ID).Error)
	assert.Equal(t, paymentdomain.PaymentStatusPaid, stored.Status)

	var count int64
	require.NoError(t, conn.Model(&paymentdomain.EventRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
