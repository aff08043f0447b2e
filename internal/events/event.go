package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TypeOrderExpired         = "order.expired"
	TypeOrderOverdueFailed   = "order.overdue_failed"
	TypeOrderTransitioned    = "order.transitioned"
	TypeRefundCreated        = "refund.created"
	TypeRefundIssued         = "refund.issued"
	TypeDiscountDeactivated  = "discount.deactivated"
	TypePaymentStatusChanged = "payment.status_changed"
	TypeInvoiceExpireFailed  = "invoice.expire_failed"
	TypeOrderPlaced          = "order.placed"
)

// Event is one domain fact emitted by the reconciler and webhook flows.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Subject    string         `json:"subject"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

func New(eventType, subject string, occurredAt time.Time, data map[string]any) Event {
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return Event{
		ID:         ulid.MustNew(ulid.Timestamp(occurredAt), ulid.DefaultEntropy()).String(),
		Type:       eventType,
		Subject:    subject,
		OccurredAt: occurredAt,
		Data:       data,
	}
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("event_type_required")
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("event_id_required")
	}
	return nil
}

// Publisher delivers events. Implementations must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type nopPublisher struct{}

func NewNop() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
