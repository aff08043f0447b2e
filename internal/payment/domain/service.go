package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidTransition     = errors.New("invalid_transition")
	ErrPaymentNotFound       = errors.New("payment_not_found")
	ErrRefundNotFound        = errors.New("refund_not_found")
	ErrProviderNotFound      = errors.New("payment_provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_payment_config")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrInvalidRefundReason   = errors.New("invalid_refund_reason")
)

// Service applies verified gateway events to local payment state.
type Service interface {
	ProcessEvent(ctx context.Context, event *PaymentEvent) error
}

// WebhookService verifies, records and dispatches raw gateway callbacks.
type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

// RefundResult summarises one refund issuing pass.
type RefundResult struct {
	Scanned int
	Issued  int
	Failed  int
}

// RefundService drives refunds from pending to a gateway refund.
type RefundService interface {
	Approve(ctx context.Context, refundID snowflake.ID, actor string) (*Refund, error)
	Reject(ctx context.Context, refundID snowflake.ID, reason string) (*Refund, error)
	IssueApproved(ctx context.Context) (RefundResult, error)
}
