package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// PaymentStatusUpdate moves a payment between statuses under a version check.
type PaymentStatusUpdate struct {
	ID      snowflake.ID
	Version int64
	From    PaymentStatus
	To      PaymentStatus
	PaidAt  *time.Time
	Now     time.Time
}

// RefundUpdate moves a refund between statuses; the update matches only while
// the refund is still in From.
type RefundUpdate struct {
	ID              snowflake.ID
	From            RefundStatus
	To              RefundStatus
	GatewayRefundID *string
	RejectionReason *string
	FailureCode     *string
	ApprovedBy      *string
	ApprovedAt      *time.Time
	SucceededAt     *time.Time
	Now             time.Time

	// ClearGatewayRefundID drops the id of a failed gateway refund so the
	// refund is issued again.
	ClearGatewayRefundID bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Payment, error)
	FindByInvoiceID(ctx context.Context, db *gorm.DB, invoiceID string) (*Payment, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, update PaymentStatusUpdate) error
	SetInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, invoiceID, invoiceURL string, now time.Time) error
	MarkInvoiceExpired(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	RecordExpireFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, now time.Time) (int, error)
	ListPendingInvoiceExpiry(ctx context.Context, db *gorm.DB, afterID snowflake.ID, maxAttempts, limit int) ([]Payment, error)

	InsertRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	FindRefundByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Refund, error)
	FindRefundByPaymentID(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*Refund, error)
	UpdateRefund(ctx context.Context, db *gorm.DB, update RefundUpdate) error
	SetGatewayRefundID(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayRefundID string, now time.Time) error
	ListApprovedRefundsWithoutGatewayID(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]Refund, error)

	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
