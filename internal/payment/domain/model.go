package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Payment tracks the gateway invoice of exactly one order.
type Payment struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrderID          snowflake.ID    `json:"order_id" gorm:"not null;uniqueIndex"`
	Provider         string          `json:"provider" gorm:"type:varchar(32);not null"`
	InvoiceID        string          `json:"invoice_id" gorm:"type:varchar(128);not null;default:'';index"`
	InvoiceURL       string          `json:"invoice_url" gorm:"type:text;not null;default:''"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency         string          `json:"currency" gorm:"type:varchar(3);not null"`
	Status           PaymentStatus   `json:"status" gorm:"type:varchar(16);not null;index"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	InvoiceExpiredAt *time.Time      `json:"invoice_expired_at,omitempty"`
	ExpireAttempts   int             `json:"expire_attempts" gorm:"not null;default:0"`
	LastSyncError    *string         `json:"last_sync_error,omitempty" gorm:"type:text"`
	Version          int64           `json:"version" gorm:"not null;default:1"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// RemoteExpiryPending reports whether the gateway invoice still has to be expired.
func (p Payment) RemoteExpiryPending() bool {
	return p.Status == PaymentStatusExpired && p.InvoiceID != "" && p.InvoiceExpiredAt == nil
}

// Refund returns captured money for one payment. At most one exists per payment.
type Refund struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey"`
	PaymentID       snowflake.ID    `json:"payment_id" gorm:"not null;uniqueIndex"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	Reason          string          `json:"reason" gorm:"type:text;not null;default:''"`
	Status          RefundStatus    `json:"status" gorm:"type:varchar(16);not null;index"`
	GatewayRefundID *string         `json:"gateway_refund_id,omitempty" gorm:"type:varchar(128)"`
	RejectionReason *string         `json:"rejection_reason,omitempty" gorm:"type:text"`
	FailureCode     *string         `json:"failure_code,omitempty" gorm:"type:varchar(64)"`
	ApprovedBy      *string         `json:"approved_by,omitempty" gorm:"type:varchar(128)"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	SucceededAt     *time.Time      `json:"succeeded_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null"`
}

func (Refund) TableName() string { return "refunds" }

// EventRecord is a received gateway callback, unique per provider event id.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:varchar(64);not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }
