package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindVariants(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Variant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []domain.Variant
	err := db.WithContext(ctx).Raw(
		`SELECT v.id, v.product_id, p.name AS product_name, v.name, v.sku, p.slug, p.category, v.price, p.active
		 FROM product_variants v
		 JOIN products p ON p.id = v.product_id
		 WHERE v.id IN ?`,
		ids,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
