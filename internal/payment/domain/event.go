package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const (
	EventTypeInvoicePaid     = "invoice.paid"
	EventTypeInvoiceSettled  = "invoice.settled"
	EventTypeInvoiceExpired  = "invoice.expired"
	EventTypeRefundSucceeded = "refund.succeeded"
	EventTypeRefundFailed    = "refund.failed"
)

// PaymentEvent is the canonical gateway callback parsed by adapters.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	InvoiceID       string
	ExternalID      string
	RefundID        snowflake.ID
	GatewayRefundID string
	FailureCode     string
	Amount          decimal.Decimal
	OccurredAt      time.Time
	RawPayload      []byte
}

// IsRefundEvent reports whether the event concerns a refund rather than an invoice.
func (e PaymentEvent) IsRefundEvent() bool {
	return e.Type == EventTypeRefundSucceeded || e.Type == EventTypeRefundFailed
}

// AdapterConfig carries provider credentials for webhook verification.
type AdapterConfig struct {
	CallbackToken string
}

type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte, headers http.Header) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}
