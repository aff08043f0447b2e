package xendit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/gateway/domain"
	"github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/internal/observability/tracing"
	"go.uber.org/zap"
)

const maxErrorBody = 4 << 10

type Params struct {
	Config     config.GatewayConfig
	Log        *zap.Logger
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
}

type Client struct {
	cfg     config.GatewayConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	http    *http.Client
	baseURL string
}

func New(p Params) *Client {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	cfg := p.Config
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "IDR"
	}
	return &Client{
		cfg:     cfg,
		log:     log.Named("gateway.xendit"),
		metrics: p.Metrics,
		http:    tracing.WrapHTTPClient(httpClient),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

var _ domain.Gateway = (*Client)(nil)

type invoiceCustomer struct {
	GivenNames   string           `json:"given_names,omitempty"`
	Email        string           `json:"email,omitempty"`
	MobileNumber string           `json:"mobile_number,omitempty"`
	Addresses    []invoiceAddress `json:"addresses,omitempty"`
}

type invoiceAddress struct {
	StreetLine1 string `json:"street_line1,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	Country     string `json:"country"`
}

type invoiceItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category,omitempty"`
	URL      string          `json:"url,omitempty"`
}

type invoiceFee struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type createInvoiceBody struct {
	ExternalID         string           `json:"external_id"`
	Amount             decimal.Decimal  `json:"amount"`
	Description        string           `json:"description,omitempty"`
	InvoiceDuration    int64            `json:"invoice_duration,omitempty"`
	Currency           string           `json:"currency"`
	Customer           *invoiceCustomer `json:"customer,omitempty"`
	Items              []invoiceItem    `json:"items,omitempty"`
	Fees               []invoiceFee     `json:"fees,omitempty"`
	SuccessRedirectURL string           `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string           `json:"failure_redirect_url,omitempty"`
}

type invoiceResponse struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id"`
	Status     string          `json:"status"`
	InvoiceURL string          `json:"invoice_url"`
	Amount     decimal.Decimal `json:"amount"`
	ExpiryDate *time.Time      `json:"expiry_date"`
}

type createRefundBody struct {
	InvoiceID   string          `json:"invoice_id"`
	ReferenceID string          `json:"reference_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	Reason      string          `json:"reason"`
}

type refundResponse struct {
	ID          string          `json:"id"`
	ReferenceID string          `json:"reference_id"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (c *Client) CreateInvoice(ctx context.Context, req domain.CreateInvoiceRequest) (*domain.Invoice, error) {
	if strings.TrimSpace(req.ExternalID) == "" {
		return nil, domain.NewError(domain.OpCreateInvoice, http.StatusBadRequest, "INVALID_REQUEST", "external id is required")
	}
	currency := req.Currency
	if currency == "" {
		currency = c.cfg.Currency
	}

	body := createInvoiceBody{
		ExternalID:         req.ExternalID,
		Amount:             req.Amount,
		Description:        req.Description,
		InvoiceDuration:    int64(c.cfg.InvoiceExpiry.Seconds()),
		Currency:           currency,
		SuccessRedirectURL: c.cfg.SuccessURL,
		FailureRedirectURL: c.cfg.FailureURL,
	}
	if req.Customer != (domain.Customer{}) {
		customer := &invoiceCustomer{
			GivenNames:   req.Customer.Name,
			Email:        req.Customer.Email,
			MobileNumber: req.Customer.Phone,
		}
		if req.Customer.Address != "" || req.Customer.PostalCode != "" {
			customer.Addresses = []invoiceAddress{{
				StreetLine1: req.Customer.Address,
				PostalCode:  req.Customer.PostalCode,
				Country:     "Indonesia",
			}}
		}
		body.Customer = customer
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, invoiceItem(item))
	}
	for _, fee := range req.Fees {
		body.Fees = append(body.Fees, invoiceFee(fee))
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = req.ExternalID
	}

	var out invoiceResponse
	if err := c.call(ctx, domain.OpCreateInvoice, http.MethodPost, "/v2/invoices", idempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, domain.NewError(domain.OpGetInvoice, http.StatusBadRequest, "INVALID_REQUEST", "invoice id is required")
	}
	var out invoiceResponse
	path := "/v2/invoices/" + url.PathEscape(invoiceID)
	if err := c.call(ctx, domain.OpGetInvoice, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

func (c *Client) ExpireInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, domain.NewError(domain.OpExpireInvoice, http.StatusBadRequest, "INVALID_REQUEST", "invoice id is required")
	}
	var out invoiceResponse
	path := "/invoices/" + url.PathEscape(invoiceID) + "/expire!"
	if err := c.call(ctx, domain.OpExpireInvoice, http.MethodPost, path, "expire-"+invoiceID, nil, &out); err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

func (c *Client) CreateRefund(ctx context.Context, req domain.CreateRefundRequest) (*domain.Refund, error) {
	if strings.TrimSpace(req.InvoiceID) == "" || strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, domain.NewError(domain.OpCreateRefund, http.StatusBadRequest, "INVALID_REQUEST", "invoice id and idempotency key are required")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.NewError(domain.OpCreateRefund, http.StatusBadRequest, "INVALID_REQUEST", "refund amount must be positive")
	}
	reason := req.Reason
	if reason == "" {
		reason = "CANCELLATION"
	}
	body := createRefundBody{
		InvoiceID:   req.InvoiceID,
		ReferenceID: req.IdempotencyKey,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reason:      reason,
	}
	var out refundResponse
	if err := c.call(ctx, domain.OpCreateRefund, http.MethodPost, "/refunds", req.IdempotencyKey, body, &out); err != nil {
		return nil, err
	}
	return &domain.Refund{
		ID:          out.ID,
		ReferenceID: out.ReferenceID,
		Status:      out.Status,
		Amount:      out.Amount,
	}, nil
}

// call runs one logical request, retrying transport failures, timeouts and 5xx
// responses with bounded exponential backoff. 4xx responses are returned at once.
func (c *Client) call(ctx context.Context, op, method, path, idempotencyKey string, in, out any) error {
	var payload []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return domain.NewError(op, http.StatusBadRequest, "ENCODE", err.Error())
		}
		payload = encoded
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInitial
	policy.MaxInterval = c.cfg.RetryMax

	attempt := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		respBody, err := c.attempt(ctx, op, method, path, idempotencyKey, payload)
		if err == nil {
			return respBody, nil
		}
		var gwErr *domain.Error
		if errors.As(err, &gwErr) && !gwErr.Retryable {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.metrics.RecordGatewayRetry(ctx, op)
			c.log.Warn("gateway call retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		gwErr, ok := domain.AsError(err)
		if !ok {
			// The caller's context ended between attempts.
			gwErr = domain.NewTimeoutError(op, err)
		}
		c.log.Error("gateway call failed",
			zap.String("operation", op),
			zap.Int("attempts", attempt),
			zap.Int("status_code", gwErr.StatusCode),
			zap.String("error_code", gwErr.Code),
			zap.Bool("retryable", gwErr.Retryable),
			zap.String("message", gwErr.LogMessage),
		)
		return gwErr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewError(op, http.StatusBadGateway, "DECODE", fmt.Sprintf("decode response: %v", err))
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, op, method, path, idempotencyKey string, payload []byte) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(domain.NewError(op, http.StatusBadRequest, "REQUEST", err.Error()))
	}
	req.SetBasicAuth(c.cfg.SecretKey, "")
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			c.metrics.RecordGatewayCall(ctx, op, http.StatusGatewayTimeout, "timeout", time.Since(start))
			return nil, domain.NewTimeoutError(op, err)
		}
		c.metrics.RecordGatewayCall(ctx, op, 0, "transport_error", time.Since(start))
		if ctx.Err() != nil {
			return nil, backoff.Permanent(domain.NewTimeoutError(op, err))
		}
		return nil, domain.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordGatewayCall(ctx, op, resp.StatusCode, "transport_error", time.Since(start))
		return nil, domain.NewTransportError(op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.metrics.RecordGatewayCall(ctx, op, resp.StatusCode, "success", time.Since(start))
		return body, nil
	}

	outcome := "rejected"
	if domain.IsRetryableStatus(resp.StatusCode) {
		outcome = "server_error"
	}
	c.metrics.RecordGatewayCall(ctx, op, resp.StatusCode, outcome, time.Since(start))
	return nil, decodeError(op, resp.StatusCode, body)
}

func decodeError(op string, statusCode int, body []byte) *domain.Error {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err == nil && (payload.ErrorCode != "" || payload.Message != "") {
		return domain.NewError(op, statusCode, payload.ErrorCode, payload.Message)
	}
	raw := string(body)
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	return domain.NewError(op, statusCode, "", strings.TrimSpace(raw))
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}

func (r invoiceResponse) toDomain() *domain.Invoice {
	return &domain.Invoice{
		ID:         r.ID,
		ExternalID: r.ExternalID,
		Status:     r.Status,
		URL:        r.InvoiceURL,
		Amount:     r.Amount,
		ExpiresAt:  r.ExpiryDate,
	}
}
