// Package gatewaytest provides a testify mock of the payment gateway.
package gatewaytest

import (
	"context"

	"github.com/smallbiznis/storefront/internal/gateway/domain"
	"github.com/stretchr/testify/mock"
)

type Mock struct {
	mock.Mock
}

var _ domain.Gateway = (*Mock)(nil)

func (m *Mock) CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest) (*domain.Invoice, error) {
	args := m.Called(req)
	inv, _ := args.Get(0).(*domain.Invoice)
	return inv, args.Error(1)
}

func (m *Mock) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	args := m.Called(invoiceID)
	inv, _ := args.Get(0).(*domain.Invoice)
	return inv, args.Error(1)
}

func (m *Mock) ExpireInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	args := m.Called(invoiceID)
	inv, _ := args.Get(0).(*domain.Invoice)
	return inv, args.Error(1)
}

func (m *Mock) CreateRefund(ctx context.Context, req domain.CreateRefundRequest) (*domain.Refund, error) {
	args := m.Called(req)
	refund, _ := args.Get(0).(*domain.Refund)
	return refund, args.Error(1)
}
