package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, order_id, provider, invoice_id, invoice_url, amount, currency, status, paid_at,
	invoice_expired_at, expire_attempts, last_sync_error, version, created_at, updated_at`

const refundColumns = `id, payment_id, amount, reason, status, gateway_refund_id, rejection_reason, failure_code,
	approved_by, approved_at, succeeded_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, payment *domain.Payment) error {
	return conn.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, conn, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
}

func (r *repo) FindByOrderID(ctx context.Context, conn *gorm.DB, orderID snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, conn, `SELECT `+paymentColumns+` FROM payments WHERE order_id = ?`, orderID)
}

func (r *repo) FindByInvoiceID(ctx context.Context, conn *gorm.DB, invoiceID string) (*domain.Payment, error) {
	return r.findOne(ctx, conn, `SELECT `+paymentColumns+` FROM payments WHERE invoice_id = ? LIMIT 1`, invoiceID)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.Payment, error) {
	var payment domain.Payment
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&payment).Error; err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, update domain.PaymentStatusUpdate) error {
	values := map[string]any{
		"status":     update.To,
		"version":    gorm.Expr("version + 1"),
		"updated_at": update.Now,
	}
	if update.PaidAt != nil {
		values["paid_at"] = *update.PaidAt
	}

	res := conn.WithContext(ctx).
		Model(&domain.Payment{}).
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

func (r *repo) SetInvoice(ctx context.Context, conn *gorm.DB, id snowflake.ID, invoiceID, invoiceURL string, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payments SET invoice_id = ?, invoice_url = ?, updated_at = ? WHERE id = ?`,
		invoiceID,
		invoiceURL,
		now,
		id,
	).Error
}

func (r *repo) MarkInvoiceExpired(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payments
		 SET invoice_expired_at = ?, last_sync_error = NULL, updated_at = ?
		 WHERE id = ? AND invoice_expired_at IS NULL`,
		at,
		at,
		id,
	).Error
}

func (r *repo) RecordExpireFailure(ctx context.Context, conn *gorm.DB, id snowflake.ID, message string, now time.Time) (int, error) {
	err := conn.WithContext(ctx).Exec(
		`UPDATE payments
		 SET expire_attempts = expire_attempts + 1, last_sync_error = ?, updated_at = ?
		 WHERE id = ?`,
		message,
		now,
		id,
	).Error
	if err != nil {
		return 0, err
	}

	var attempts int
	err = conn.WithContext(ctx).Raw(`SELECT expire_attempts FROM payments WHERE id = ?`, id).Scan(&attempts).Error
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func (r *repo) ListPendingInvoiceExpiry(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, maxAttempts, limit int) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := conn.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = ? AND invoice_id <> '' AND invoice_expired_at IS NULL
			AND expire_attempts < ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		domain.PaymentStatusExpired,
		maxAttempts,
		afterID,
		limit,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) InsertRefund(ctx context.Context, conn *gorm.DB, refund *domain.Refund) error {
	return conn.WithContext(ctx).Create(refund).Error
}

func (r *repo) FindRefundByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Refund, error) {
	return r.findRefund(ctx, conn, `SELECT `+refundColumns+` FROM refunds WHERE id = ?`, id)
}

func (r *repo) FindRefundByPaymentID(ctx context.Context, conn *gorm.DB, paymentID snowflake.ID) (*domain.Refund, error) {
	return r.findRefund(ctx, conn, `SELECT `+refundColumns+` FROM refunds WHERE payment_id = ?`, paymentID)
}

func (r *repo) findRefund(ctx context.Context, conn *gorm.DB, query string, args ...any) (*domain.Refund, error) {
	var refund domain.Refund
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&refund).Error; err != nil {
		return nil, err
	}
	if refund.ID == 0 {
		return nil, nil
	}
	return &refund, nil
}

func (r *repo) UpdateRefund(ctx context.Context, conn *gorm.DB, update domain.RefundUpdate) error {
	values := map[string]any{
		"status":     update.To,
		"updated_at": update.Now,
	}
	if update.GatewayRefundID != nil {
		values["gateway_refund_id"] = *update.GatewayRefundID
	} else if update.ClearGatewayRefundID {
		values["gateway_refund_id"] = nil
	}
	if update.RejectionReason != nil {
		values["rejection_reason"] = *update.RejectionReason
	}
	if update.FailureCode != nil {
		values["failure_code"] = *update.FailureCode
	}
	if update.ApprovedBy != nil {
		values["approved_by"] = *update.ApprovedBy
	}
	if update.ApprovedAt != nil {
		values["approved_at"] = *update.ApprovedAt
	}
	if update.SucceededAt != nil {
		values["succeeded_at"] = *update.SucceededAt
	}

	res := conn.WithContext(ctx).
		Model(&domain.Refund{}).
		Where("id = ? AND status = ?", update.ID, update.From).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return db.ErrStaleVersion
	}
	return nil
}

// SetGatewayRefundID stores the gateway id of an issued refund without a status change.
func (r *repo) SetGatewayRefundID(ctx context.Context, conn *gorm.DB, id snowflake.ID, gatewayRefundID string, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE refunds SET gateway_refund_id = ?, updated_at = ? WHERE id = ? AND gateway_refund_id IS NULL`,
		gatewayRefundID,
		now,
		id,
	).Error
}

func (r *repo) ListApprovedRefundsWithoutGatewayID(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]domain.Refund, error) {
	var refunds []domain.Refund
	err := conn.WithContext(ctx).Raw(
		`SELECT `+refundColumns+`
		 FROM refunds
		 WHERE status = ? AND gateway_refund_id IS NULL AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		domain.RefundStatusApproved,
		afterID,
		limit,
	).Scan(&refunds).Error
	if err != nil {
		return nil, err
	}
	return refunds, nil
}

func (r *repo) FindEvent(ctx context.Context, conn *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, conn *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
