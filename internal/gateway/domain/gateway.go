package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OpCreateInvoice = "create_invoice"
	OpGetInvoice    = "get_invoice"
	OpExpireInvoice = "expire_invoice"
	OpCreateRefund  = "create_refund"
)

const (
	InvoiceStatusPending = "PENDING"
	InvoiceStatusPaid    = "PAID"
	InvoiceStatusSettled = "SETTLED"
	InvoiceStatusExpired = "EXPIRED"
)

// Gateway is the remote invoicing and refund API. Amounts are in major units.
type Gateway interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	ExpireInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	CreateRefund(ctx context.Context, req CreateRefundRequest) (*Refund, error)
}

type Customer struct {
	Name       string
	Email      string
	Phone      string
	Address    string
	PostalCode string
}

type Item struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
	Category string
	URL      string
}

const (
	FeeTypeShipping = "Shipping"
	FeeTypeDiscount = "Discount"
)

// Fee is an extra invoice line. Discounts are negative fees.
type Fee struct {
	Type  string
	Value decimal.Decimal
}

type CreateInvoiceRequest struct {
	ExternalID     string
	Description    string
	Amount         decimal.Decimal
	Currency       string
	Customer       Customer
	Items          []Item
	Fees           []Fee
	IdempotencyKey string
}

type Invoice struct {
	ID         string
	ExternalID string
	Status     string
	URL        string
	Amount     decimal.Decimal
	ExpiresAt  *time.Time
}

type CreateRefundRequest struct {
	InvoiceID string
	Amount    decimal.Decimal
	Currency  string
	Reason    string
	// IdempotencyKey is the local refund id so a retried call never refunds twice.
	IdempotencyKey string
}

type Refund struct {
	ID          string
	ReferenceID string
	Status      string
	Amount      decimal.Decimal
}
