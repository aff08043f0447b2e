package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// User-facing messages shown when a gateway call fails.
const (
	MessageBadRequest     = "Permintaan pembayaran tidak valid. Silakan periksa kembali data Anda."
	MessageForbidden      = "Akses ke layanan pembayaran ditolak."
	MessageNotFound       = "Data pembayaran tidak ditemukan."
	MessageConflict       = "Transaksi ini sudah diproses sebelumnya."
	MessageGatewayTimeout = "Layanan pembayaran sedang tidak merespons. Silakan coba lagi nanti."
	MessageGeneric        = "Terjadi kesalahan pada layanan pembayaran. Silakan coba lagi."
)

var userMessages = map[int]string{
	http.StatusBadRequest:     MessageBadRequest,
	http.StatusForbidden:      MessageForbidden,
	http.StatusNotFound:       MessageNotFound,
	http.StatusConflict:       MessageConflict,
	http.StatusGatewayTimeout: MessageGatewayTimeout,
}

// UserMessageFor maps a gateway status code to the message shown to customers.
func UserMessageFor(statusCode int) string {
	if msg, ok := userMessages[statusCode]; ok {
		return msg
	}
	return MessageGeneric
}

// IsRetryableStatus reports whether a call that ended with statusCode may be
// retried. Zero stands for a transport failure with no response.
func IsRetryableStatus(statusCode int) bool {
	return statusCode == 0 || statusCode >= http.StatusInternalServerError
}

// Error is the only error type returned by gateway adapters.
type Error struct {
	Op          string
	StatusCode  int
	Code        string
	LogMessage  string
	UserMessage string
	Retryable   bool
	Err         error
}

func NewError(op string, statusCode int, code, logMessage string) *Error {
	return &Error{
		Op:          op,
		StatusCode:  statusCode,
		Code:        code,
		LogMessage:  logMessage,
		UserMessage: UserMessageFor(statusCode),
		Retryable:   IsRetryableStatus(statusCode),
	}
}

// NewTimeoutError reports a call that got no answer in time.
func NewTimeoutError(op string, cause error) *Error {
	err := NewError(op, http.StatusGatewayTimeout, "TIMEOUT", cause.Error())
	err.Err = cause
	return err
}

// NewTransportError reports a call that failed before a response arrived.
func NewTransportError(op string, cause error) *Error {
	err := NewError(op, 0, "TRANSPORT", cause.Error())
	err.Err = cause
	return err
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s failed (%d %s): %s", e.Op, e.StatusCode, e.Code, e.LogMessage)
	}
	return fmt.Sprintf("gateway %s failed (%d): %s", e.Op, e.StatusCode, e.LogMessage)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a gateway error from err.
func AsError(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// UserMessage returns the customer message for err, generic when err is not a gateway error.
func UserMessage(err error) string {
	if gwErr, ok := AsError(err); ok {
		return gwErr.UserMessage
	}
	return MessageGeneric
}

func IsNotFound(err error) bool {
	gwErr, ok := AsError(err)
	return ok && gwErr.StatusCode == http.StatusNotFound
}
