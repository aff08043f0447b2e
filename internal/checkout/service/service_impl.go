package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	"github.com/smallbiznis/storefront/internal/checkout/domain"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	customerdomain "github.com/smallbiznis/storefront/internal/customer/domain"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	"github.com/smallbiznis/storefront/internal/events"
	gatewaydomain "github.com/smallbiznis/storefront/internal/gateway/domain"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReasonInvoiceFailed is stored on orders whose gateway invoice could not be created.
const ReasonInvoiceFailed = "Gagal membuat tagihan pembayaran"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Catalog     catalogdomain.Catalog
	Profiles    customerdomain.ProfileProvider
	Discounts   discountdomain.Service
	OrderRepo   orderdomain.Repository
	PaymentRepo paymentdomain.Repository
	Gateway     gatewaydomain.Gateway
	GatewayCfg  config.GatewayConfig
	Reconcile   *config.ReconcileConfigHolder `optional:"true"`
	Publisher   events.Publisher              `optional:"true"`
	Metrics     *metrics.Metrics              `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	catalog     catalogdomain.Catalog
	profiles    customerdomain.ProfileProvider
	discounts   discountdomain.Service
	orderRepo   orderdomain.Repository
	paymentRepo paymentdomain.Repository
	gateway     gatewaydomain.Gateway
	provider    string
	currency    string
	reconcile   *config.ReconcileConfigHolder
	publisher   events.Publisher
	metrics     *metrics.Metrics
}

func New(p Params) domain.Service {
	reconcile := p.Reconcile
	if reconcile == nil {
		reconcile = config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewNop()
	}
	provider := strings.ToLower(strings.TrimSpace(p.GatewayCfg.Provider))
	if provider == "" {
		provider = "xendit"
	}
	currency := strings.ToUpper(strings.TrimSpace(p.GatewayCfg.Currency))
	if currency == "" {
		currency = "IDR"
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("checkout.service"),
		clock:       p.Clock,
		genID:       p.GenID,
		catalog:     p.Catalog,
		profiles:    p.Profiles,
		discounts:   p.Discounts,
		orderRepo:   p.OrderRepo,
		paymentRepo: p.PaymentRepo,
		gateway:     p.Gateway,
		provider:    provider,
		currency:    currency,
		reconcile:   reconcile,
		publisher:   publisher,
		metrics:     p.Metrics,
	}
}

type pricedLine struct {
	variant  catalogdomain.Variant
	quantity int
}

// PlaceOrder redeems the discount and writes the order, its items and an unpaid
// payment in one transaction. The gateway invoice is created after commit; when
// that fails the order is failed, the payment expired and the gateway error returned.
func (s *Service) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.PlaceOrderResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	ids := make([]snowflake.ID, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.VariantID)
	}
	variants, err := s.catalog.Variants(ctx, ids)
	if err != nil {
		return nil, err
	}
	lines := make([]pricedLine, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, item := range req.Items {
		v := variants[item.VariantID]
		lines = append(lines, pricedLine{variant: v, quantity: item.Quantity})
		subtotal = subtotal.Add(v.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	profile, err := s.profiles.Profile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	userID := req.UserID
	result := &domain.PlaceOrderResult{}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			discountID     *snowflake.ID
			discountAmount = decimal.Zero
		)
		if code := strings.TrimSpace(req.DiscountCode); code != "" {
			discount, err := s.discounts.Redeem(ctx, tx, code, now)
			if err != nil {
				return err
			}
			amount, err := s.discounts.Quote(*discount, subtotal)
			if err != nil {
				return err
			}
			discountID = &discount.ID
			discountAmount = amount
		}

		totals, err := orderdomain.ComputeTotals(subtotal, discountAmount, req.ShippingCost)
		if err != nil {
			return err
		}

		order := orderdomain.Order{
			ID:                       s.genID.Generate(),
			UserID:                   &userID,
			DiscountID:               discountID,
			Subtotal:                 totals.Subtotal,
			DiscountAmount:           totals.DiscountAmount,
			ShippingCost:             totals.ShippingCost,
			Total:                    totals.Total,
			Currency:                 s.currency,
			Status:                   orderdomain.OrderStatusWaitingPayment,
			EstimatedMaxShippingDays: req.EstimatedMaxShippingDays,
			Version:                  1,
			CreatedAt:                now,
			UpdatedAt:                now,
		}
		if err := s.orderRepo.Insert(ctx, tx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		items := make([]orderdomain.OrderItem, 0, len(lines))
		for _, line := range lines {
			items = append(items, orderdomain.OrderItem{
				ID:        s.genID.Generate(),
				OrderID:   order.ID,
				VariantID: line.variant.ID,
				Name:      line.variant.DisplayName(),
				Category:  line.variant.Category,
				Quantity:  line.quantity,
				UnitPrice: line.variant.Price,
			})
		}
		if err := s.orderRepo.InsertItems(ctx, tx, items); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}

		payment := paymentdomain.Payment{
			ID:        s.genID.Generate(),
			OrderID:   order.ID,
			Provider:  s.provider,
			Amount:    order.Total,
			Currency:  order.Currency,
			Status:    paymentdomain.PaymentStatusUnpaid,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.paymentRepo.Insert(ctx, tx, &payment); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		result.Order = order
		result.Items = items
		result.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("order_id", result.Order.ID.String()))
	s.metrics.RecordOrderTransition(ctx, "checkout", "", string(orderdomain.OrderStatusWaitingPayment))

	invoice, err := s.createInvoice(ctx, result, lines, profile)
	if err != nil {
		log.Warn("invoice creation failed", zap.Error(err))
		if failErr := s.abandon(ctx, result, now); failErr != nil {
			log.Error("failed to fail order after invoice error", zap.Error(failErr))
			return nil, errors.Join(err, failErr)
		}
		return nil, err
	}

	updated := s.clock.Now()
	if err := s.paymentRepo.SetInvoice(ctx, s.db, result.Payment.ID, invoice.ID, invoice.URL, updated); err != nil {
		log.Error("failed to store invoice, closing it", zap.String("invoice_id", invoice.ID), zap.Error(err))
		return nil, errors.Join(fmt.Errorf("store invoice: %w", err), s.discard(ctx, result, invoice.ID, now))
	}
	result.Payment.InvoiceID = invoice.ID
	result.Payment.InvoiceURL = invoice.URL
	result.Payment.UpdatedAt = updated
	result.InvoiceURL = invoice.URL

	log.Info(events.TypeOrderPlaced,
		zap.String("invoice_id", invoice.ID),
		zap.String("total", result.Order.Total.StringFixed(2)),
		zap.Int("items", len(result.Items)),
	)
	if err := s.publisher.Publish(ctx, events.New(events.TypeOrderPlaced, "order:"+result.Order.ID.String(), updated, map[string]any{
		"order_id":   result.Order.ID.String(),
		"payment_id": result.Payment.ID.String(),
		"invoice_id": invoice.ID,
		"total":      result.Order.Total.StringFixed(2),
	})); err != nil {
		log.Warn("failed to publish event", zap.String("event_type", events.TypeOrderPlaced), zap.Error(err))
	}
	return result, nil
}

func (s *Service) createInvoice(ctx context.Context, placed *domain.PlaceOrderResult, lines []pricedLine, profile *customerdomain.Profile) (*gatewaydomain.Invoice, error) {
	items := make([]gatewaydomain.Item, 0, len(lines))
	for _, line := range lines {
		items = append(items, gatewaydomain.Item{
			Name:     line.variant.DisplayName(),
			Quantity: line.quantity,
			Price:    line.variant.Price,
			Category: line.variant.Category,
			URL:      s.catalog.ItemURL(line.variant),
		})
	}
	var fees []gatewaydomain.Fee
	if placed.Order.ShippingCost.IsPositive() {
		fees = append(fees, gatewaydomain.Fee{Type: gatewaydomain.FeeTypeShipping, Value: placed.Order.ShippingCost})
	}
	if placed.Order.DiscountAmount.IsPositive() {
		fees = append(fees, gatewaydomain.Fee{Type: gatewaydomain.FeeTypeDiscount, Value: placed.Order.DiscountAmount.Neg()})
	}

	orderID := placed.Order.ID.String()
	callCtx, cancel := context.WithTimeout(ctx, s.reconcile.Get().GatewayTimeout)
	defer cancel()
	return s.gateway.CreateInvoice(callCtx, gatewaydomain.CreateInvoiceRequest{
		ExternalID:  orderID,
		Description: "Pesanan #" + orderID,
		Amount:      placed.Order.Total,
		Currency:    placed.Order.Currency,
		Customer: gatewaydomain.Customer{
			Name:       profile.Name,
			Email:      profile.Email,
			Phone:      profile.Phone,
			Address:    profile.Address,
			PostalCode: profile.PostalCode,
		},
		Items:          items,
		Fees:           fees,
		IdempotencyKey: orderID,
	})
}

// discard closes an invoice the payment could not record, then fails the
// order. The reconciler only expires invoices it knows about, so the remote
// call cannot be left to a later pass.
func (s *Service) discard(ctx context.Context, placed *domain.PlaceOrderResult, invoiceID string, createdAt time.Time) error {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("order_id", placed.Order.ID.String()),
		zap.String("invoice_id", invoiceID),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.reconcile.Get().GatewayTimeout)
	_, expireErr := s.gateway.ExpireInvoice(callCtx, invoiceID)
	cancel()
	if expireErr != nil && !gatewaydomain.IsNotFound(expireErr) {
		log.Error("unrecorded invoice is still open at the gateway", zap.Error(expireErr))
	} else {
		expireErr = nil
	}

	failErr := s.abandon(ctx, placed, createdAt)
	if failErr != nil {
		log.Error("failed to fail order after invoice store error", zap.Error(failErr))
	}
	return errors.Join(expireErr, failErr)
}

// abandon fails the order and expires its payment locally. The payment never
// carries an invoice id here.
func (s *Service) abandon(ctx context.Context, placed *domain.PlaceOrderResult, createdAt time.Time) error {
	now := s.clock.Now()
	reason := ReasonInvoiceFailed
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.UpdateStatus(ctx, tx, orderdomain.StatusUpdate{
			ID:                 placed.Order.ID,
			Version:            placed.Order.Version,
			From:               orderdomain.OrderStatusWaitingPayment,
			To:                 orderdomain.OrderStatusFailed,
			CancellationReason: &reason,
			Now:                now,
		}); err != nil {
			return fmt.Errorf("fail order: %w", err)
		}
		if err := s.paymentRepo.UpdateStatus(ctx, tx, paymentdomain.PaymentStatusUpdate{
			ID:      placed.Payment.ID,
			Version: placed.Payment.Version,
			From:    paymentdomain.PaymentStatusUnpaid,
			To:      paymentdomain.PaymentStatusExpired,
			Now:     now,
		}); err != nil {
			return fmt.Errorf("expire payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithContext(ctx, s.log).Info(events.TypeOrderTransitioned,
		zap.String("order_id", placed.Order.ID.String()),
		zap.String("from", string(orderdomain.OrderStatusWaitingPayment)),
		zap.String("to", string(orderdomain.OrderStatusFailed)),
		zap.String("reason", reason),
		zap.Duration("age", now.Sub(createdAt)),
	)
	s.metrics.RecordOrderTransition(ctx, "checkout", string(orderdomain.OrderStatusWaitingPayment), string(orderdomain.OrderStatusFailed))
	return nil
}

func validate(req domain.PlaceOrderRequest) error {
	if req.UserID == 0 {
		return domain.ErrCustomerRequired
	}
	if len(req.Items) == 0 {
		return domain.ErrEmptyCart
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.VariantID == 0 {
			return domain.ErrInvalidQuantity
		}
	}
	if req.ShippingCost.IsNegative() || req.EstimatedMaxShippingDays < 0 {
		return domain.ErrInvalidShipping
	}
	return nil
}
