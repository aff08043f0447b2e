package gateway

import (
	"context"
	"net/http"

	"github.com/smallbiznis/storefront/internal/gateway/domain"
)

// CodeGatewayDisabled marks calls made while no gateway credentials are set.
const CodeGatewayDisabled = "GATEWAY_DISABLED"

// NoopGateway is used when no gateway credentials are configured. Every call
// fails without retry so no local record claims a remote change.
type NoopGateway struct{}

var _ domain.Gateway = NoopGateway{}

func (NoopGateway) CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest) (*domain.Invoice, error) {
	return nil, disabled(domain.OpCreateInvoice)
}

func (NoopGateway) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	return nil, disabled(domain.OpGetInvoice)
}

func (NoopGateway) ExpireInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	return nil, disabled(domain.OpExpireInvoice)
}

func (NoopGateway) CreateRefund(ctx context.Context, req domain.CreateRefundRequest) (*domain.Refund, error) {
	return nil, disabled(domain.OpCreateRefund)
}

func disabled(op string) error {
	err := domain.NewError(op, http.StatusServiceUnavailable, CodeGatewayDisabled, "gateway is not configured")
	err.Retryable = false
	return err
}
