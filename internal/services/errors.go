package services

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrFractionalAmount     = errors.New("amount must be a whole number of XAF")
	ErrPropertyNotFound     = errors.New("property not found")
	ErrPropertyUnavailable  = errors.New("property is not available")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrCommissionNotFound   = errors.New("commission payment not found")
	ErrInvalidState         = errors.New("operation not allowed in current state")
	ErrConcurrentUpdate     = errors.New("record was modified concurrently")
	ErrPollingExhausted     = errors.New("payment polling attempts exhausted")
	ErrPollingTimedOut      = errors.New("payment polling timed out")
	ErrSessionNotFound      = errors.New("monitoring session not found")
	ErrPhoneRequired        = errors.New("payer phone is required")
	ErrUnsupportedReference = errors.New("unsupported payment reference")
)

// GatewayError normalizes transport, HTTP and payload failures from the
// payment gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err carries a *GatewayError.
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}

// PersistenceError marks a failed write after the gateway already reported a
// terminal status. The payment outcome stands; the row needs reconciliation.
type PersistenceError struct {
	Kind          string
	ReferenceID   string
	TransactionID string
	Err           error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %s (transaction %s): %v", e.Kind, e.ReferenceID, e.TransactionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
