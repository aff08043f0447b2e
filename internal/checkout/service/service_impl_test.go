package service_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/storefront/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/storefront/internal/catalog/service"
	"github.com/smallbiznis/storefront/internal/checkout/domain"
	"github.com/smallbiznis/storefront/internal/checkout/service"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	customerdomain "github.com/smallbiznis/storefront/internal/customer/domain"
	customerrepository "github.com/smallbiznis/storefront/internal/customer/repository"
	customerservice "github.com/smallbiznis/storefront/internal/customer/service"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	discountrepository "github.com/smallbiznis/storefront/internal/discount/repository"
	discountservice "github.com/smallbiznis/storefront/internal/discount/service"
	"github.com/smallbiznis/storefront/internal/events"
	gatewaydomain "github.com/smallbiznis/storefront/internal/gateway/domain"
	"github.com/smallbiznis/storefront/internal/gateway/gatewaytest"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	orderrepository "github.com/smallbiznis/storefront/internal/order/repository"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/storefront/internal/payment/repository"
	"github.com/smallbiznis/storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	svc     domain.Service
	gateway *gatewaytest.Mock
	hub     *events.Hub
	clock   *clock.FakeClock
	node    *snowflake.Node
	userID  snowflake.ID
	beans   catalogdomain.ProductVariant
	grinder catalogdomain.ProductVariant
}

// brokenInvoiceStore cannot record gateway invoices.
type brokenInvoiceStore struct {
	paymentdomain.Repository
}

func (brokenInvoiceStore) SetInvoice(context.Context, *gorm.DB, snowflake.ID, string, string, time.Time) error {
	return errors.New("database is read-only")
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithPayments(t, paymentrepository.Provide())
}

func newFixtureWithPayments(t *testing.T, payments paymentdomain.Repository) *fixture {
	t.Helper()
	conn := testutil.NewDB(t,
		&customerdomain.User{},
		&catalogdomain.Product{},
		&catalogdomain.ProductVariant{},
		&discountdomain.Discount{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&paymentdomain.Payment{},
	)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC))
	node := testutil.NewNode(t)
	cfg := config.Config{ProfileSecret: "profile-secret", StorefrontURL: "https://shop.example.com"}

	customers := customerservice.New(customerservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Clock:  fake,
		GenID:  node,
		Repo:   customerrepository.Provide(),
		Config: cfg,
	})
	profile, err := customers.Register(context.Background(), customerdomain.RegisterRequest{
		Name:       "Sari Wulandari",
		Email:      "sari@example.com",
		Phone:      "+6281234567890",
		Address:    "Jl. Merdeka No. 1, Bandung",
		PostalCode: "40111",
	})
	require.NoError(t, err)

	gw := &gatewaytest.Mock{}
	hub := events.NewHub()
	svc := service.New(service.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Clock: fake,
		GenID: node,
		Catalog: catalogservice.New(catalogservice.Params{
			DB:     conn,
			Log:    zap.NewNop(),
			Repo:   catalogrepository.Provide(),
			Config: cfg,
		}),
		Profiles: customers,
		Discounts: discountservice.New(discountservice.Params{
			DB:    conn,
			Log:   zap.NewNop(),
			Clock: fake,
			Repo:  discountrepository.Provide(),
		}),
		OrderRepo:   orderrepository.Provide(),
		PaymentRepo: payments,
		Gateway:     gw,
		GatewayCfg:  config.GatewayConfig{Provider: "xendit", Currency: "IDR"},
		Publisher:   hub,
	})

	f := &fixture{db: conn, svc: svc, gateway: gw, hub: hub, clock: fake, node: node, userID: profile.UserID}
	product := catalogdomain.Product{ID: node.Generate(), Name: "Kopi Toraja", Slug: "kopi-toraja", Category: "Kopi", Active: true, CreatedAt: fake.Now(), UpdatedAt: fake.Now()}
	require.NoError(t, conn.Create(&product).Error)
	f.beans = f.variant(t, product.ID, "250g", 85000)
	tools := catalogdomain.Product{ID: node.Generate(), Name: "Grinder Manual", Category: "Alat", Active: true, CreatedAt: fake.Now(), UpdatedAt: fake.Now()}
	require.NoError(t, conn.Create(&tools).Error)
	f.grinder = f.variant(t, tools.ID, "Grinder Manual", 300000)
	return f
}

func (f *fixture) variant(t *testing.T, productID snowflake.ID, name string, price int64) catalogdomain.ProductVariant {
	t.Helper()
	v := catalogdomain.ProductVariant{
		ID:        f.node.Generate(),
		ProductID: productID,
		Name:      name,
		SKU:       "SKU-" + f.node.Generate().String(),
		Price:     decimal.NewFromInt(price),
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&v).Error)
	return v
}

func (f *fixture) discount(t *testing.T, code string, limit *int) {
	t.Helper()
	end := f.clock.Now().Add(7 * 24 * time.Hour)
	d := discountdomain.Discount{
		ID:         f.node.Generate(),
		Code:       code,
		Type:       discountdomain.DiscountTypePercentage,
		Value:      decimal.NewFromInt(10),
		EndDate:    &end,
		UsageLimit: limit,
		IsActive:   true,
		CreatedAt:  f.clock.Now(),
		UpdatedAt:  f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&d).Error)
}

func (f *fixture) request(code string) domain.PlaceOrderRequest {
	return domain.PlaceOrderRequest{
		UserID: f.userID,
		Items: []domain.Item{
			{VariantID: f.beans.ID, Quantity: 2},
			{VariantID: f.grinder.ID, Quantity: 1},
		},
		DiscountCode: code,
		ShippingCost: decimal.NewFromInt(15000),
	}
}

func TestPlaceOrderCreatesInvoice(t *testing.T) {
	f := newFixture(t)
	f.discount(t, "HEMAT10", testutil.Ptr(5))
	sub, _, err := f.hub.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	f.gateway.On("CreateInvoice", mock.Anything).Return(&gatewaydomain.Invoice{
		ID:     "inv_abc",
		Status: gatewaydomain.InvoiceStatusPending,
		URL:    "https://checkout.xendit.co/web/inv_abc",
	}, nil).Once()

	res, err := f.svc.PlaceOrder(context.Background(), f.request("HEMAT10"))
	require.NoError(t, err)

	assert.Equal(t, orderdomain.OrderStatusWaitingPayment, res.Order.Status)
	assert.True(t, res.Order.Subtotal.Equal(decimal.NewFromInt(470000)))
	assert.True(t, res.Order.DiscountAmount.Equal(decimal.NewFromInt(47000)))
	assert.True(t, res.Order.Total.Equal(decimal.NewFromInt(438000)))
	assert.True(t, res.Order.Consistent())
	require.NotNil(t, res.Order.DiscountID)
	assert.Equal(t, "https://checkout.xendit.co/web/inv_abc", res.InvoiceURL)

	req := f.gateway.Calls[0].Arguments.Get(0).(gatewaydomain.CreateInvoiceRequest)
	assert.Equal(t, res.Order.ID.String(), req.IdempotencyKey)
	assert.Equal(t, res.Order.ID.String(), req.ExternalID)
	assert.Equal(t, "+6281234567890", req.Customer.Phone)
	assert.Equal(t, "40111", req.Customer.PostalCode)
	require.Len(t, req.Items, 2)
	assert.Equal(t, "Kopi Toraja - 250g", req.Items[0].Name)
	assert.Equal(t, "https://shop.example.com/products/kopi-toraja", req.Items[0].URL)
	assert.Equal(t, "Grinder Manual", req.Items[1].Name)
	assert.Equal(t, "https://shop.example.com/products/grinder-manual", req.Items[1].URL)
	require.Len(t, req.Fees, 2)
	assert.Equal(t, gatewaydomain.FeeTypeShipping, req.Fees[0].Type)
	assert.Equal(t, gatewaydomain.FeeTypeDiscount, req.Fees[1].Type)
	assert.True(t, req.Fees[1].Value.Equal(decimal.NewFromInt(-47000)))

	var payment paymentdomain.Payment
	require.NoError(t, f.db.First(&payment, "order_id = ?", res.Order.ID).Error)
	assert.Equal(t, paymentdomain.PaymentStatusUnpaid, payment.Status)
	assert.Equal(t, "inv_abc", payment.InvoiceID)
	assert.Equal(t, "xendit", payment.Provider)

	var items []orderdomain.OrderItem
	require.NoError(t, f.db.Find(&items, "order_id = ?", res.Order.ID).Error)
	assert.Len(t, items, 2)

	var d discountdomain.Discount
	require.NoError(t, f.db.First(&d, "code = ?", "HEMAT10").Error)
	assert.Equal(t, 1, d.UsedCount)

	select {
	case evt := <-sub.Events():
		assert.Equal(t, events.TypeOrderPlaced, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected order.placed event")
	}
}

func TestPlaceOrderGatewayFailureFailsOrder(t *testing.T) {
	f := newFixture(t)
	gwErr := gatewaydomain.NewError(gatewaydomain.OpCreateInvoice, http.StatusBadRequest, "API_VALIDATION_ERROR", "amount below minimum")
	f.gateway.On("CreateInvoice", mock.Anything).Return(nil, gwErr).Once()

	res, err := f.svc.PlaceOrder(context.Background(), f.request(""))
	require.Error(t, err)
	assert.Nil(t, res)

	var got *gatewaydomain.Error
	require.True(t, errors.As(err, &got))
	assert.Equal(t, gatewaydomain.MessageBadRequest, got.UserMessage)

	var order orderdomain.Order
	require.NoError(t, f.db.First(&order).Error)
	assert.Equal(t, orderdomain.OrderStatusFailed, order.Status)
	require.NotNil(t, order.CancellationReason)
	assert.Equal(t, service.ReasonInvoiceFailed, *order.CancellationReason)

	var payment paymentdomain.Payment
	require.NoError(t, f.db.First(&payment, "order_id = ?", order.ID).Error)
	assert.Equal(t, paymentdomain.PaymentStatusExpired, payment.Status)
	assert.False(t, payment.RemoteExpiryPending())
}

func TestPlaceOrderClosesInvoiceItCannotRecord(t *testing.T) {
	f := newFixtureWithPayments(t, brokenInvoiceStore{Repository: paymentrepository.Provide()})
	f.gateway.On("CreateInvoice", mock.Anything).Return(&gatewaydomain.Invoice{
		ID:     "inv_lost",
		Status: gatewaydomain.InvoiceStatusPending,
		URL:    "https://checkout.xendit.co/web/inv_lost",
	}, nil).Once()
	f.gateway.On("ExpireInvoice", "inv_lost").Return(&gatewaydomain.Invoice{ID: "inv_lost", Status: gatewaydomain.InvoiceStatusExpired}, nil).Once()

	res, err := f.svc.PlaceOrder(context.Background(), f.request(""))
	require.Error(t, err)
	assert.Nil(t, res)
	f.gateway.AssertExpectations(t)

	var order orderdomain.Order
	require.NoError(t, f.db.First(&order).Error)
	assert.Equal(t, orderdomain.OrderStatusFailed, order.Status)

	var payment paymentdomain.Payment
	require.NoError(t, f.db.First(&payment, "order_id = ?", order.ID).Error)
	assert.Equal(t, paymentdomain.PaymentStatusExpired, payment.Status)
	assert.Empty(t, payment.InvoiceID)
}

func TestPlaceOrderRejectsExhaustedDiscount(t *testing.T) {
	f := newFixture(t)
	f.discount(t, "SEKALI", testutil.Ptr(0))

	_, err := f.svc.PlaceOrder(context.Background(), f.request("SEKALI"))
	assert.ErrorIs(t, err, discountdomain.ErrDiscountUnavailable)

	_, err = f.svc.PlaceOrder(context.Background(), f.request("TIDAKADA"))
	assert.ErrorIs(t, err, discountdomain.ErrNotFound)

	var count int64
	require.NoError(t, f.db.Model(&orderdomain.Order{}).Count(&count).Error)
	assert.Zero(t, count)
	f.gateway.AssertNotCalled(t, "CreateInvoice", mock.Anything)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request("")
	req.UserID = 0
	_, err := f.svc.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrCustomerRequired)

	req = f.request("")
	req.Items = nil
	_, err = f.svc.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	req = f.request("")
	req.Items[0].Quantity = 0
	_, err = f.svc.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	req = f.request("")
	req.ShippingCost = decimal.NewFromInt(-1)
	_, err = f.svc.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidShipping)

	req = f.request("")
	req.Items = append(req.Items, domain.Item{VariantID: f.node.Generate(), Quantity: 1})
	_, err = f.svc.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, catalogdomain.ErrVariantNotFound)
}
