package services

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds. Handlers and the relay queue branch on these with errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrGateway        = errors.New("payment gateway error")
	ErrTransientStore = errors.New("transient store error")

	// ErrIntegrity marks an order whose status and processed flag disagree
	// in a way no notification sequence should produce.
	ErrIntegrity = errors.New("data integrity error")
)

var (
	ErrInvalidPaymentType    = fmt.Errorf("%w: unsupported payment type", ErrValidation)
	ErrMalformedNotification = fmt.Errorf("%w: malformed notification", ErrValidation)
	ErrInvalidSignature      = fmt.Errorf("%w: invalid notification signature", ErrValidation)

	ErrPendingOrderExists = fmt.Errorf("%w: complete your existing order first", ErrConflict)
	ErrOrderNotPending    = fmt.Errorf("%w: order is no longer pending", ErrConflict)
	ErrCheckoutInProgress = fmt.Errorf("%w: another checkout is in progress", ErrConflict)
	ErrDuplicateGatewayID = fmt.Errorf("%w: gateway order id already exists", ErrConflict)
	ErrDuplicatePriceSlug = fmt.Errorf("%w: slug already taken", ErrConflict)

	ErrOrderNotFound = fmt.Errorf("%w: order not found", ErrNotFound)
	ErrPriceNotFound = fmt.Errorf("%w: price not found", ErrNotFound)
	ErrUserNotFound  = fmt.Errorf("%w: user not found", ErrNotFound)
)

// ErrConcurrentUpdate is returned by the guarded order update when the
// processed flag changed since the order was read.
var ErrConcurrentUpdate = errors.New("order was modified concurrently")

// GatewayError wraps a failed call to the payment gateway.
type GatewayError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("midtrans %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("midtrans %s: %s", e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

// Timeout reports whether the call ran out of time, either at our deadline
// or at the HTTP client's.
func (e *GatewayError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// transient marks err as retryable by the relay queue while keeping it
// inspectable.
func transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientStore) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientStore, err)
}
