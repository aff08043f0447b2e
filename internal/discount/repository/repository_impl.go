package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/discount/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, discount *domain.Discount) error {
	return db.WithContext(ctx).Create(discount).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Discount, error) {
	var discount domain.Discount
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, type, value, start_date, end_date, usage_limit, used_count, is_active, created_at, updated_at
		 FROM discounts WHERE code = ?`,
		code,
	).Scan(&discount).Error
	if err != nil {
		return nil, err
	}
	if discount.ID == 0 {
		return nil, nil
	}
	return &discount, nil
}

func (r *repo) ListDeactivationCandidates(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]domain.Discount, error) {
	var discounts []domain.Discount
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, type, value, start_date, end_date, usage_limit, used_count, is_active, created_at, updated_at
		 FROM discounts
		 WHERE is_active = ?
		   AND id > ?
		   AND (
		     (end_date IS NOT NULL AND end_date <= ?)
		     OR (usage_limit IS NOT NULL AND used_count >= usage_limit)
		   )
		 ORDER BY id ASC
		 LIMIT ?`,
		true,
		afterID,
		now,
		limit,
	).Scan(&discounts).Error
	if err != nil {
		return nil, err
	}
	return discounts, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Discount{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Redeem(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Discount{}).
		Where("code = ? AND is_active = ?", code, true).
		Where("(start_date IS NULL OR start_date <= ?)", now).
		Where("(end_date IS NULL OR end_date > ?)", now).
		Where("(usage_limit IS NULL OR used_count < usage_limit)").
		Updates(map[string]any{
			"used_count": gorm.Expr("used_count + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
