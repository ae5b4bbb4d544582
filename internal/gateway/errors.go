package gateway

import (
	"errors"
	"fmt"

	paymentdomain "github.com/smallbiznis/ticketpay/internal/payment/domain"
)

var (
	ErrInvoiceNotFound = errors.New("gateway_invoice_not_found")
	ErrRejected        = errors.New("gateway_rejected")
	ErrInvalidResponse = errors.New("gateway_invalid_response")
	ErrNotConfigured   = errors.New("gateway_not_configured")
)

// Error carries the failed operation and HTTP status of a gateway call.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Gateway marks the error for scheduler metrics classification.
func (e *Error) Gateway() bool { return true }

// retryable reports transport failures, throttling and 5xx responses.
func (e *Error) retryable() bool {
	return errors.Is(e.Err, paymentdomain.ErrGatewayUnavailable)
}
