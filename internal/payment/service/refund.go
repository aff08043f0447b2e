package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/events"
	gatewaydomain "github.com/smallbiznis/storefront/internal/gateway/domain"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RefundParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      paymentdomain.Repository
	Gateway   gatewaydomain.Gateway
	Reconcile *config.ReconcileConfigHolder `optional:"true"`
	Publisher events.Publisher              `optional:"true"`
	Metrics   *metrics.Metrics              `optional:"true"`
}

type RefundService struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      paymentdomain.Repository
	gateway   gatewaydomain.Gateway
	reconcile *config.ReconcileConfigHolder
	publisher events.Publisher
	metrics   *metrics.Metrics
}

func NewRefundService(p RefundParams) paymentdomain.RefundService {
	reconcile := p.Reconcile
	if reconcile == nil {
		reconcile = config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewNop()
	}
	return &RefundService{
		db:        p.DB,
		log:       p.Log.Named("payment.refund"),
		clock:     p.Clock,
		repo:      p.Repo,
		gateway:   p.Gateway,
		reconcile: reconcile,
		publisher: publisher,
		metrics:   p.Metrics,
	}
}

// Approve moves a pending refund, or a failed one being retried, to approved and
// issues it at the gateway. A gateway failure leaves the refund approved for
// IssueApproved to pick up.
func (s *RefundService) Approve(ctx context.Context, refundID snowflake.ID, actor string) (*paymentdomain.Refund, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "system"
	}
	refund, err := s.load(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if err := paymentdomain.CheckRefundTransition(refund.Status, paymentdomain.RefundStatusApproved); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	update := paymentdomain.RefundUpdate{
		ID:         refund.ID,
		From:       refund.Status,
		To:         paymentdomain.RefundStatusApproved,
		ApprovedBy: &actor,
		ApprovedAt: &now,
		Now:        now,
	}
	if refund.Status == paymentdomain.RefundStatusFailed {
		update.ClearGatewayRefundID = true
		refund.GatewayRefundID = nil
	}
	if err := s.repo.UpdateRefund(ctx, s.db, update); err != nil {
		if errors.Is(err, db.ErrStaleVersion) {
			return nil, fmt.Errorf("%w: refund %s changed concurrently", paymentdomain.ErrInvalidTransition, refund.ID)
		}
		return nil, err
	}
	refund.Status = paymentdomain.RefundStatusApproved
	refund.ApprovedBy = &actor
	refund.ApprovedAt = &now
	refund.UpdatedAt = now

	log := logger.WithContext(ctx, s.log).With(zap.String("refund_id", refund.ID.String()))
	log.Info("refund.approved", zap.String("actor", actor))
	s.metrics.RecordRefund(ctx, string(refund.Status))

	if err := s.issue(ctx, log, refund); err != nil {
		return refund, err
	}
	return refund, nil
}

func (s *RefundService) Reject(ctx context.Context, refundID snowflake.ID, reason string) (*paymentdomain.Refund, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, paymentdomain.ErrInvalidRefundReason
	}
	refund, err := s.load(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if err := paymentdomain.CheckRefundTransition(refund.Status, paymentdomain.RefundStatusRejected); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.repo.UpdateRefund(ctx, s.db, paymentdomain.RefundUpdate{
		ID:              refund.ID,
		From:            refund.Status,
		To:              paymentdomain.RefundStatusRejected,
		RejectionReason: &reason,
		Now:             now,
	}); err != nil {
		if errors.Is(err, db.ErrStaleVersion) {
			return nil, fmt.Errorf("%w: refund %s changed concurrently", paymentdomain.ErrInvalidTransition, refund.ID)
		}
		return nil, err
	}
	refund.Status = paymentdomain.RefundStatusRejected
	refund.RejectionReason = &reason
	refund.UpdatedAt = now

	logger.WithContext(ctx, s.log).Info("refund.rejected",
		zap.String("refund_id", refund.ID.String()),
		zap.String("reason", reason),
	)
	s.metrics.RecordRefund(ctx, string(refund.Status))
	return refund, nil
}

func (s *RefundService) IssueApproved(ctx context.Context) (paymentdomain.RefundResult, error) {
	var (
		result  paymentdomain.RefundResult
		errs    []error
		afterID snowflake.ID
	)
	cfg := s.reconcile.Get()
	log := logger.WithContext(ctx, s.log)

	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		batch, err := s.repo.ListApprovedRefundsWithoutGatewayID(ctx, s.db, afterID, cfg.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("list approved refunds: %w", err))
			break
		}

		for i := range batch {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				return result, errors.Join(errs...)
			}
			refund := batch[i]
			afterID = refund.ID
			result.Scanned++
			if err := s.issue(ctx, log.With(zap.String("refund_id", refund.ID.String())), &refund); err != nil {
				result.Failed++
				errs = append(errs, fmt.Errorf("refund %s: %w", refund.ID, err))
				continue
			}
			result.Issued++
		}

		if len(batch) < cfg.BatchSize {
			break
		}
	}
	return result, errors.Join(errs...)
}

func (s *RefundService) load(ctx context.Context, id snowflake.ID) (*paymentdomain.Refund, error) {
	if id == 0 {
		return nil, paymentdomain.ErrRefundNotFound
	}
	refund, err := s.repo.FindRefundByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, paymentdomain.ErrRefundNotFound
	}
	return refund, nil
}

// issue creates the gateway refund for an approved refund. The call runs
// outside any transaction and carries an idempotency key so a retried call
// never refunds twice.
func (s *RefundService) issue(ctx context.Context, log *zap.Logger, refund *paymentdomain.Refund) error {
	payment, err := s.repo.FindByID(ctx, s.db, refund.PaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return fmt.Errorf("%w: refund %s", paymentdomain.ErrPaymentNotFound, refund.ID)
	}

	cfg := s.reconcile.Get()
	callCtx, cancel := context.WithTimeout(ctx, cfg.GatewayTimeout)
	issued, err := s.gateway.CreateRefund(callCtx, gatewaydomain.CreateRefundRequest{
		InvoiceID:      payment.InvoiceID,
		Amount:         refund.Amount,
		Currency:       payment.Currency,
		Reason:         refund.Reason,
		IdempotencyKey: IdempotencyKey(*refund),
	})
	cancel()
	if err != nil {
		log.Warn("refund issue failed", zap.Error(err))
		return err
	}

	now := s.clock.Now()
	if err := s.repo.SetGatewayRefundID(ctx, s.db, refund.ID, issued.ID, now); err != nil {
		return fmt.Errorf("store gateway refund id: %w", err)
	}
	refund.GatewayRefundID = &issued.ID
	refund.UpdatedAt = now

	log.Info(events.TypeRefundIssued,
		zap.String("payment_id", payment.ID.String()),
		zap.String("gateway_refund_id", issued.ID),
		zap.String("amount", refund.Amount.StringFixed(2)),
	)
	if err := s.publisher.Publish(ctx, events.New(events.TypeRefundIssued, "refund:"+refund.ID.String(), now, map[string]any{
		"refund_id":         refund.ID.String(),
		"payment_id":        payment.ID.String(),
		"order_id":          payment.OrderID.String(),
		"gateway_refund_id": issued.ID,
		"amount":            refund.Amount.StringFixed(2),
	})); err != nil {
		log.Warn("failed to publish event", zap.String("event_type", events.TypeRefundIssued), zap.Error(err))
	}
	return nil
}

// IdempotencyKey is the refund id for the first approval. A refund approved
// again after a gateway failure gets the approval time appended so the gateway
// treats the retry as a new refund.
func IdempotencyKey(refund paymentdomain.Refund) string {
	key := refund.ID.String()
	if refund.FailureCode != nil && refund.ApprovedAt != nil {
		key += "-" + strconv.FormatInt(refund.ApprovedAt.Unix(), 10)
	}
	return key
}
