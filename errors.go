package x402

import (
	"errors"
	"fmt"
	"net/http"
)

// PaymentError represents an error related to payment processing.
type PaymentError struct {
	Code    string
	Message string
	Cause   error
}

func (e *PaymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Cause
}

// Error codes.
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeValidation          = "VALIDATION_FAILED"
	ErrCodePaymentRequired     = "PAYMENT_REQUIRED"
	ErrCodePaymentPending      = "PAYMENT_PENDING"
	ErrCodePaymentMismatch     = "PAYMENT_MISMATCH"
	ErrCodeSignerCancelled     = "SIGNER_CANCELLED"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeInvalidReceipt      = "INVALID_RECEIPT"
	ErrCodeInvalidConfig       = "INVALID_CONFIG"
)

var (
	// ErrTransactionNotFound is returned by a ChainIndexer for transactions it has not indexed yet.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrIndexerUnavailable is returned by a ChainIndexer after its retry budget is spent.
	ErrIndexerUnavailable = errors.New("indexer unavailable")

	// ErrSignerCancelled is returned by a wallet signer when the user declines.
	ErrSignerCancelled = errors.New("payment cancelled")
)

// NewPaymentError creates a new PaymentError.
func NewPaymentError(code, message string, cause error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsPaymentError checks if an error is a PaymentError.
func IsPaymentError(err error) bool {
	var pe *PaymentError
	return errors.As(err, &pe)
}

// GetPaymentErrorCode extracts the error code from a PaymentError.
func GetPaymentErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HTTPStatus maps an error code onto the response status the engines use for it.
func HTTPStatus(code string) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodePaymentRequired, ErrCodeInvalidReceipt:
		return http.StatusPaymentRequired
	case ErrCodePaymentPending, ErrCodePaymentMismatch:
		return http.StatusForbidden
	case ErrCodeSignerCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
