package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/alert"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/events"
	gatewaydomain "github.com/smallbiznis/storefront/internal/gateway/domain"
	obscontext "github.com/smallbiznis/storefront/internal/observability/context"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxAttempts bounds the optimistic retry for one order: the first try plus one retry.
const maxAttempts = 2

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Repo        domain.Repository
	PaymentRepo paymentdomain.Repository
	Gateway     gatewaydomain.Gateway
	Reconcile   *config.ReconcileConfigHolder
	Alert       alert.Notifier   `optional:"true"`
	Publisher   events.Publisher `optional:"true"`
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	genID       *snowflake.Node
	repo        domain.Repository
	paymentRepo paymentdomain.Repository
	gateway     gatewaydomain.Gateway
	reconcile   *config.ReconcileConfigHolder
	alert       alert.Notifier
	publisher   events.Publisher
	metrics     *metrics.Metrics
	scheduler   *metrics.SchedulerMetrics
}

func New(p Params) domain.Service {
	notifier := p.Alert
	if notifier == nil {
		notifier = alert.NoOpNotifier{}
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewNop()
	}
	reconcile := p.Reconcile
	if reconcile == nil {
		reconcile = config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("order.service"),
		clock:       p.Clock,
		genID:       p.GenID,
		repo:        p.Repo,
		paymentRepo: p.PaymentRepo,
		gateway:     p.Gateway,
		reconcile:   reconcile,
		alert:       notifier,
		publisher:   publisher,
		metrics:     p.Metrics,
		scheduler:   metrics.Scheduler(),
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) FailStale(ctx context.Context, policy domain.ExpiryPolicy) (domain.Result, error) {
	result := domain.Result{Policy: policy.Name}
	if policy.Threshold <= 0 || len(policy.Statuses) == 0 {
		return result, fmt.Errorf("%w: policy %s is not configured", domain.ErrInvalidStatus, policy.Name)
	}

	cfg := s.reconcile.Get()
	now := s.clock.Now()
	job := jobName(ctx, policy)
	log := logger.WithContext(ctx, s.log).With(zap.String("policy", string(policy.Name)))

	var (
		errs    []error
		afterID snowflake.ID
	)

pages:
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		batch, err := s.repo.ListStale(ctx, s.db, domain.StaleFilter{
			Statuses:      policy.Statuses,
			CreatedBefore: policy.Cutoff(now),
			AfterID:       afterID,
			Limit:         cfg.BatchSize,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("list stale orders: %w", err))
			break
		}

		for _, candidate := range batch {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break pages
			}
			afterID = candidate.ID
			result.Scanned++

			tr, skip, err := s.failOrder(ctx, candidate.ID, policy, now)
			if err != nil {
				result.Failed++
				log.Warn("failed to reconcile order",
					zap.String("order_id", candidate.ID.String()),
					zap.String("error_type", metrics.ClassifySchedulerErrorType(err)),
					zap.Error(err),
				)
				errs = append(errs, fmt.Errorf("order %s: %w", candidate.ID, err))
				continue
			}
			if skip != "" {
				result.Skipped++
				s.recordSkip(log, job, candidate, skip)
				continue
			}

			result.Transitioned++
			if tr.Refund != nil {
				result.RefundsCreated++
			}
			s.recordTransition(ctx, log, policy, tr, now)

			if tr.ExpireInvoice {
				if err := s.expireRemote(ctx, *tr.Payment); err != nil {
					result.ExpireFailures++
					errs = append(errs, fmt.Errorf("order %s: %w", candidate.ID, err))
				} else {
					result.InvoicesExpired++
				}
			}
		}

		if len(batch) < cfg.BatchSize {
			break
		}
	}

	return result, errors.Join(errs...)
}

// failOrder applies policy to one order inside its own transaction. A lost
// version check is retried once, then the order is left for the next pass.
func (s *Service) failOrder(ctx context.Context, id snowflake.ID, policy domain.ExpiryPolicy, now time.Time) (*domain.Transition, string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var (
			tr   *domain.Transition
			skip string
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			order, err := s.repo.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if order == nil {
				return domain.ErrNotFound
			}
			payment, err := s.paymentRepo.FindByOrderID(ctx, tx, id)
			if err != nil {
				return err
			}

			outcome := domain.Decide(*order, payment, policy, now)
			if outcome.Skipped() {
				skip = outcome.Skip
				return nil
			}
			reason := policy.Reason
			tr, err = s.apply(ctx, tx, *order, payment, outcome, &reason, now)
			return err
		})
		if err == nil {
			return tr, skip, nil
		}
		if !errors.Is(err, db.ErrStaleVersion) {
			return nil, "", err
		}
		lastErr = err
		s.log.Info("order.transition.conflict",
			zap.String("order_id", id.String()),
			zap.String("policy", string(policy.Name)),
			zap.Int("attempt", attempt),
		)
	}
	s.log.Warn("order left for next pass after version conflicts",
		zap.String("order_id", id.String()),
		zap.Error(lastErr),
	)
	return nil, domain.SkipVersionConflict, nil
}

// apply writes the order, payment and refund changes of outcome using tx.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, order domain.Order, payment *paymentdomain.Payment, outcome domain.Outcome, reason *string, now time.Time) (*domain.Transition, error) {
	if err := domain.CheckTransition(order.Status, outcome.OrderTo); err != nil {
		return nil, err
	}

	tr := &domain.Transition{From: order.Status}
	if err := s.repo.UpdateStatus(ctx, tx, domain.StatusUpdate{
		ID:                 order.ID,
		Version:            order.Version,
		From:               order.Status,
		To:                 outcome.OrderTo,
		CancellationReason: reason,
		Now:                now,
	}); err != nil {
		return nil, err
	}
	order.Status = outcome.OrderTo
	order.Version++
	order.UpdatedAt = now
	if reason != nil {
		order.CancellationReason = reason
	}
	tr.Order = order

	if payment == nil || !outcome.ChangesPayment() {
		return tr, nil
	}

	if err := paymentdomain.CheckPaymentTransition(payment.Status, outcome.PaymentTo); err != nil {
		return nil, err
	}
	tr.PaymentFrom = payment.Status
	if err := s.paymentRepo.UpdateStatus(ctx, tx, paymentdomain.PaymentStatusUpdate{
		ID:      payment.ID,
		Version: payment.Version,
		From:    payment.Status,
		To:      outcome.PaymentTo,
		Now:     now,
	}); err != nil {
		return nil, err
	}
	updated := *payment
	updated.Status = outcome.PaymentTo
	updated.Version++
	updated.UpdatedAt = now
	tr.Payment = &updated
	tr.ExpireInvoice = outcome.ExpireInvoice

	if !outcome.CreateRefund {
		return tr, nil
	}
	existing, err := s.paymentRepo.FindRefundByPaymentID(ctx, tx, payment.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return tr, nil
	}
	refundReason := ""
	if reason != nil {
		refundReason = *reason
	}
	refund := &paymentdomain.Refund{
		ID:        s.genID.Generate(),
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Reason:    refundReason,
		Status:    paymentdomain.RefundStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.paymentRepo.InsertRefund(ctx, tx, refund); err != nil {
		return nil, err
	}
	tr.Refund = refund
	return tr, nil
}

// expireRemote asks the gateway to close the invoice of an already expired
// payment. Local state is terminal either way; failures are recorded on the
// payment for sync_expired_invoices to retry.
func (s *Service) expireRemote(ctx context.Context, payment paymentdomain.Payment) error {
	cfg := s.reconcile.Get()
	log := logger.WithContext(ctx, s.log).With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_id", payment.OrderID.String()),
		zap.String("invoice_id", payment.InvoiceID),
	)

	callCtx, cancel := context.WithTimeout(ctx, cfg.GatewayTimeout)
	_, err := s.gateway.ExpireInvoice(callCtx, payment.InvoiceID)
	cancel()

	now := s.clock.Now()
	if err == nil || gatewaydomain.IsNotFound(err) {
		if markErr := s.paymentRepo.MarkInvoiceExpired(ctx, s.db, payment.ID, now); markErr != nil {
			return fmt.Errorf("mark invoice expired: %w", markErr)
		}
		if err != nil {
			log.Info("invoice already gone at gateway", zap.Error(err))
		}
		return nil
	}

	attempts, recErr := s.paymentRepo.RecordExpireFailure(ctx, s.db, payment.ID, err.Error(), now)
	if recErr != nil {
		log.Error("failed to record invoice expiry failure", zap.Error(recErr))
	}

	retryable := metrics.IsSchedulerErrorRetryable(err)
	log.Warn("invoice expiry failed",
		zap.Int("attempts", attempts),
		zap.Bool("retryable", retryable),
		zap.Error(err),
	)

	if !retryable || attempts >= cfg.MaxExpireTries {
		s.notify(ctx, log, payment, attempts, err)
	}
	s.publish(ctx, log, events.New(events.TypeInvoiceExpireFailed, "payment:"+payment.ID.String(), now, map[string]any{
		"payment_id": payment.ID.String(),
		"order_id":   payment.OrderID.String(),
		"invoice_id": payment.InvoiceID,
		"attempts":   attempts,
	}))

	return fmt.Errorf("expire invoice %s: %w", payment.InvoiceID, err)
}

func (s *Service) notify(ctx context.Context, log *zap.Logger, payment paymentdomain.Payment, attempts int, cause error) {
	fields := map[string]string{
		"payment_id": payment.ID.String(),
		"order_id":   payment.OrderID.String(),
		"invoice_id": payment.InvoiceID,
		"attempts":   fmt.Sprint(attempts),
	}
	if gwErr, ok := gatewaydomain.AsError(cause); ok {
		fields["status_code"] = fmt.Sprint(gwErr.StatusCode)
		fields["error_code"] = gwErr.Code
	}
	err := s.alert.Notify(ctx, alert.Alert{
		Title:    "Invoice expiry needs manual follow-up",
		Message:  cause.Error(),
		Severity: alert.SeverityCritical,
		Fields:   fields,
	})
	if err != nil {
		log.Error("failed to send alert", zap.Error(err))
	}
}

func (s *Service) SyncExpiredInvoices(ctx context.Context) (domain.Result, error) {
	var (
		result  domain.Result
		errs    []error
		afterID snowflake.ID
	)
	cfg := s.reconcile.Get()

	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		batch, err := s.paymentRepo.ListPendingInvoiceExpiry(ctx, s.db, afterID, cfg.MaxExpireTries, cfg.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("list pending invoice expiry: %w", err))
			break
		}

		for _, payment := range batch {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				return result, errors.Join(errs...)
			}
			afterID = payment.ID
			result.Scanned++
			if err := s.expireRemote(ctx, payment); err != nil {
				result.ExpireFailures++
				errs = append(errs, fmt.Errorf("payment %s: %w", payment.ID, err))
				continue
			}
			result.InvoicesExpired++
		}

		if len(batch) < cfg.BatchSize {
			break
		}
	}
	return result, errors.Join(errs...)
}

func (s *Service) Transition(ctx context.Context, req domain.TransitionRequest) (*domain.Order, error) {
	if req.OrderID == 0 {
		return nil, domain.ErrInvalidID
	}
	if !req.To.Valid() || !req.To.IsAdminTarget() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidStatus, req.To)
	}
	reason := strings.TrimSpace(req.Reason)
	if req.To == domain.OrderStatusCanceled && reason == "" {
		return nil, domain.ErrReasonRequired
	}

	now := s.clock.Now()
	log := logger.WithContext(ctx, s.log)

	var tr *domain.Transition
	for attempt := 1; ; attempt++ {
		var err error
		tr, err = s.transitionOnce(ctx, req, reason, now)
		if err == nil {
			break
		}
		if errors.Is(err, db.ErrStaleVersion) {
			if attempt < maxAttempts {
				log.Info("order.transition.conflict", zap.String("order_id", req.OrderID.String()), zap.Int("attempt", attempt))
				continue
			}
			return nil, domain.ErrConflict
		}
		return nil, err
	}

	admin := domain.ExpiryPolicy{Name: domain.PolicyAdmin, EventType: events.TypeOrderTransitioned}
	s.recordTransition(ctx, log, admin, tr, now)

	if tr.ExpireInvoice {
		if err := s.expireRemote(ctx, *tr.Payment); err != nil {
			log.Warn("order canceled but invoice expiry deferred",
				zap.String("order_id", req.OrderID.String()),
				zap.Error(err),
			)
		}
	}

	order := tr.Order
	return &order, nil
}

func (s *Service) transitionOnce(ctx context.Context, req domain.TransitionRequest, reason string, now time.Time) (*domain.Transition, error) {
	var tr *domain.Transition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByID(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrNotFound
		}
		payment, err := s.paymentRepo.FindByOrderID(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}

		var (
			outcome      domain.Outcome
			cancelReason *string
		)
		if req.To == domain.OrderStatusCanceled {
			outcome, err = domain.DecideCancel(*order, payment)
			if err != nil {
				return err
			}
			cancelReason = &reason
		} else {
			if err := domain.CheckTransition(order.Status, req.To); err != nil {
				return err
			}
			outcome = domain.Outcome{OrderTo: req.To}
		}

		tr, err = s.apply(ctx, tx, *order, payment, outcome, cancelReason, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (s *Service) recordTransition(ctx context.Context, log *zap.Logger, policy domain.ExpiryPolicy, tr *domain.Transition, now time.Time) {
	order := tr.Order
	fields := []zap.Field{
		zap.String("order_id", order.ID.String()),
		zap.String("policy", string(policy.Name)),
		zap.String("from", string(tr.From)),
		zap.String("to", string(order.Status)),
		zap.String("shipping_class", order.ShippingClass()),
		zap.Int("estimated_max_shipping_days", order.EstimatedMaxShippingDays),
	}
	data := map[string]any{
		"order_id":       order.ID.String(),
		"policy":         string(policy.Name),
		"from":           string(tr.From),
		"to":             string(order.Status),
		"shipping_class": order.ShippingClass(),
	}
	if order.CancellationReason != nil {
		fields = append(fields, zap.String("reason", *order.CancellationReason))
		data["reason"] = *order.CancellationReason
	}
	if tr.Payment != nil {
		fields = append(fields,
			zap.String("payment_id", tr.Payment.ID.String()),
			zap.String("payment_from", string(tr.PaymentFrom)),
			zap.String("payment_to", string(tr.Payment.Status)),
		)
		data["payment_id"] = tr.Payment.ID.String()
		data["payment_status"] = string(tr.Payment.Status)
	}
	if tr.Refund != nil {
		fields = append(fields, zap.String("refund_id", tr.Refund.ID.String()))
		data["refund_id"] = tr.Refund.ID.String()
	}

	message := policy.EventType
	if message == "" {
		message = events.TypeOrderTransitioned
	}
	log.Info(message, fields...)

	s.metrics.RecordOrderTransition(ctx, string(policy.Name), string(tr.From), string(order.Status))
	s.scheduler.IncOrderTransition(string(policy.Name), string(tr.From), string(order.Status))

	s.publish(ctx, log, events.New(message, "order:"+order.ID.String(), now, data))
	if tr.Refund != nil {
		s.metrics.RecordRefund(ctx, string(tr.Refund.Status))
		s.publish(ctx, log, events.New(events.TypeRefundCreated, "refund:"+tr.Refund.ID.String(), now, map[string]any{
			"refund_id":  tr.Refund.ID.String(),
			"payment_id": tr.Refund.PaymentID.String(),
			"order_id":   order.ID.String(),
			"amount":     tr.Refund.Amount.StringFixed(2),
		}))
	}
}

func (s *Service) recordSkip(log *zap.Logger, job string, order domain.Order, skip string) {
	switch skip {
	case domain.SkipVersionConflict:
		s.scheduler.IncBatchDeferred(job, metrics.SchedulerBatchDeferredReasonVersionConflict)
	case domain.SkipPaymentCaptured:
		s.scheduler.IncBatchDeferred(job, metrics.SchedulerBatchDeferredReasonPaymentCaptured)
	case domain.SkipNotDue:
		s.scheduler.IncBatchDeferred(job, metrics.SchedulerBatchDeferredReasonShippingWindow)
	}
	log.Debug("order skipped",
		zap.String("order_id", order.ID.String()),
		zap.String("status", string(order.Status)),
		zap.String("skip", skip),
	)
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, evt events.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		log.Warn("failed to publish event", zap.String("event_type", evt.Type), zap.Error(err))
	}
}

func jobName(ctx context.Context, policy domain.ExpiryPolicy) string {
	if job := obscontext.JobFromContext(ctx); job != "" {
		return job
	}
	return "update_" + string(policy.Name) + "_orders"
}
