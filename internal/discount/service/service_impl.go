package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/discount/domain"
	"github.com/smallbiznis/storefront/internal/events"
	"github.com/smallbiznis/storefront/internal/observability/logger"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      domain.Repository
	Reconcile *config.ReconcileConfigHolder
	Publisher events.Publisher `optional:"true"`
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      domain.Repository
	reconcile *config.ReconcileConfigHolder
	publisher events.Publisher
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NewNop()
	}
	reconcile := p.Reconcile
	if reconcile == nil {
		reconcile = config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("discount.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		reconcile: reconcile,
		publisher: publisher,
		metrics:   p.Metrics,
	}
}

func (s *Service) DeactivateExpired(ctx context.Context) (domain.Result, error) {
	var (
		result  domain.Result
		errs    []error
		afterID snowflake.ID
	)
	now := s.clock.Now()
	batchSize := s.reconcile.Get().BatchSize
	log := logger.WithContext(ctx, s.log)

	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		batch, err := s.repo.ListDeactivationCandidates(ctx, s.db, now, afterID, batchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("list discounts: %w", err))
			break
		}
		if len(batch) == 0 {
			break
		}

		for _, discount := range batch {
			afterID = discount.ID
			result.Scanned++

			reasons := domain.Evaluate(discount, now)
			if len(reasons) == 0 {
				continue
			}

			changed, err := s.repo.Deactivate(ctx, s.db, discount.ID, now)
			if err != nil {
				result.Failed++
				log.Warn("failed to deactivate discount",
					zap.String("discount_id", discount.ID.String()),
					zap.Error(err),
				)
				errs = append(errs, fmt.Errorf("deactivate discount %s: %w", discount.ID, err))
				continue
			}
			if !changed {
				continue
			}
			result.Deactivated++
			s.recordDeactivation(ctx, log, discount, reasons, now)
		}

		if len(batch) < batchSize {
			break
		}
	}

	return result, errors.Join(errs...)
}

func (s *Service) recordDeactivation(ctx context.Context, log *zap.Logger, discount domain.Discount, reasons []domain.Reason, now time.Time) {
	reason := domain.JoinReasons(reasons)
	log.Info("discount.deactivated",
		zap.String("discount_id", discount.ID.String()),
		zap.String("code", discount.Code),
		zap.String("reason", reason),
		zap.Int("used_count", discount.UsedCount),
	)
	for _, r := range reasons {
		s.metrics.RecordDiscountDeactivated(ctx, string(r))
	}

	evt := events.New(events.TypeDiscountDeactivated, "discount:"+discount.ID.String(), now, map[string]any{
		"discount_id": discount.ID.String(),
		"code":        discount.Code,
		"reason":      reason,
	})
	if err := s.publisher.Publish(ctx, evt); err != nil {
		log.Warn("failed to publish discount event", zap.String("discount_id", discount.ID.String()), zap.Error(err))
	}
}

func (s *Service) Redeem(ctx context.Context, tx *gorm.DB, code string, now time.Time) (*domain.Discount, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	if tx == nil {
		tx = s.db
	}

	ok, err := s.repo.Redeem(ctx, tx, code, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		existing, err := s.repo.FindByCode(ctx, tx, code)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrDiscountUnavailable
	}

	discount, err := s.repo.FindByCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if discount == nil {
		return nil, domain.ErrNotFound
	}
	return discount, nil
}

func (s *Service) Quote(d domain.Discount, subtotal decimal.Decimal) (decimal.Decimal, error) {
	return domain.Quote(d, subtotal)
}
