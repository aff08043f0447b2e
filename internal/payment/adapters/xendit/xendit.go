package xendit

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
)

const (
	Provider = "xendit"

	// CallbackTokenHeader carries the shared verification token on every callback.
	CallbackTokenHeader = "X-Callback-Token"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return Provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	token := strings.TrimSpace(cfg.CallbackToken)
	if token == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{callbackToken: token}, nil
}

type Adapter struct {
	callbackToken string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	got := strings.TrimSpace(headers.Get(CallbackTokenHeader))
	if got == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.callbackToken)) != 1 {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// invoiceCallback is the body Xendit posts when an invoice changes status.
type invoiceCallback struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	PaidAt     *time.Time      `json:"paid_at"`
	Updated    *time.Time      `json:"updated"`
}

// refundCallback is the envelope of refund.succeeded and refund.failed callbacks.
type refundCallback struct {
	Event   string    `json:"event"`
	Created time.Time `json:"created"`
	Data    struct {
		ID          string          `json:"id"`
		InvoiceID   string          `json:"invoice_id"`
		ReferenceID string          `json:"reference_id"`
		Status      string          `json:"status"`
		Amount      decimal.Decimal `json:"amount"`
		FailureCode string          `json:"failure_code"`
		Updated     *time.Time      `json:"updated"`
	} `json:"data"`
}

func (a *Adapter) Parse(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	var envelope struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.HasPrefix(envelope.Event, "refund.") {
		return parseRefund(payload)
	}
	return parseInvoice(payload)
}

func parseInvoice(payload []byte) (*paymentdomain.PaymentEvent, error) {
	var cb invoiceCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	cb.ID = strings.TrimSpace(cb.ID)
	if cb.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	status := strings.ToUpper(strings.TrimSpace(cb.Status))
	var eventType string
	switch status {
	case "PAID":
		eventType = paymentdomain.EventTypeInvoicePaid
	case "SETTLED":
		eventType = paymentdomain.EventTypeInvoiceSettled
	case "EXPIRED":
		eventType = paymentdomain.EventTypeInvoiceExpired
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	amount := cb.PaidAmount
	if amount.IsZero() {
		amount = cb.Amount
	}
	occurredAt := time.Time{}
	switch {
	case cb.PaidAt != nil && eventType != paymentdomain.EventTypeInvoiceExpired:
		occurredAt = cb.PaidAt.UTC()
	case cb.Updated != nil:
		occurredAt = cb.Updated.UTC()
	}

	return &paymentdomain.PaymentEvent{
		Provider: Provider,
		// Xendit reuses the invoice id across status callbacks.
		ProviderEventID: cb.ID + ":" + status,
		Type:            eventType,
		InvoiceID:       cb.ID,
		ExternalID:      strings.TrimSpace(cb.ExternalID),
		Amount:          amount,
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

func parseRefund(payload []byte) (*paymentdomain.PaymentEvent, error) {
	var cb refundCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	gatewayID := strings.TrimSpace(cb.Data.ID)
	if gatewayID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch cb.Event {
	case "refund.succeeded":
		eventType = paymentdomain.EventTypeRefundSucceeded
	case "refund.failed":
		eventType = paymentdomain.EventTypeRefundFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	// reference_id is the local refund id sent as the idempotency key.
	reference := strings.TrimSpace(cb.Data.ReferenceID)
	if idx := strings.IndexByte(reference, '-'); idx > 0 {
		reference = reference[:idx]
	}
	refundID, err := snowflake.ParseString(reference)
	if err != nil || refundID == 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}

	occurredAt := cb.Created.UTC()
	if cb.Data.Updated != nil {
		occurredAt = cb.Data.Updated.UTC()
	}

	return &paymentdomain.PaymentEvent{
		Provider:        Provider,
		ProviderEventID: gatewayID + ":" + cb.Event,
		Type:            eventType,
		InvoiceID:       strings.TrimSpace(cb.Data.InvoiceID),
		RefundID:        refundID,
		GatewayRefundID: gatewayID,
		FailureCode:     strings.TrimSpace(cb.Data.FailureCode),
		Amount:          cb.Data.Amount,
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}
