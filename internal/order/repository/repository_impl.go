package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, order *domain.Order) error {
	return conn.WithContext(ctx).Create(order).Error
}

func (r *repo) InsertItems(ctx context.Context, conn *gorm.DB, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return conn.WithContext(ctx).Create(&items).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, discount_id, subtotal, discount_amount, shipping_cost, total, currency,
			status, estimated_max_shipping_days, cancellation_reason, version, created_at, updated_at
		 FROM orders WHERE id = ?`,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindItems(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) ([]domain.OrderItem, error) {
	var items []domain.OrderItem
	err := conn.WithContext(ctx).Raw(
		`SELECT id, order_id, variant_id, name, category, quantity, unit_price
		 FROM order_items WHERE order_id = ? ORDER BY id ASC`,
		orderID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListStale(ctx context.Context, conn *gorm.DB, filter domain.StaleFilter) ([]domain.Order, error) {
	if len(filter.Statuses) == 0 || filter.Limit <= 0 {
		return nil, nil
	}
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}

	var orders []domain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, discount_id, subtotal, discount_amount, shipping_cost, total, currency,
			status, estimated_max_shipping_days, cancellation_reason, version, created_at, updated_at
		 FROM orders
		 WHERE status IN ? AND created_at < ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		statuses,
		filter.CreatedBefore,
		filter.AfterID,
		filter.Limit,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, update domain.StatusUpdate) error {
	values := map[string]any{
		"status":     update.To,
		"version":    gorm.Expr("version + 1"),
		"updated_at": update.Now,
	}
	if update.CancellationReason != nil {
		values["cancellation_reason"] = *update.CancellationReason
	}

	res := conn.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND version = ? AND status = ?", update.ID, update.Version, update.From).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return db.ErrStaleVersion
	}
	return nil
}
