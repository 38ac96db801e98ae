// Package apperr defines the error taxonomy shared by the checkout,
// payment, and retention paths. Classification drives two decisions:
// whether the retry executor may re-run an operation, and which HTTP
// status the transport layer maps the failure to.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrIdempotencyConflict = errors.New("concurrent request with same idempotency key is in flight")
)

// ValidationError covers malformed input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// InsufficientInventoryError is terminal: retrying won't help until
// inventory is restocked.
type InsufficientInventoryError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// TransientStorageError wraps serialization failures, deadlocks, and pool
// exhaustion. The retry executor's database profile retries these.
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return "transient storage error in " + e.Op + ": " + e.Err.Error()
}

func (e *TransientStorageError) Unwrap() error { return e.Err }

// DependencyTimeoutError marks a slow or unreachable external dependency.
// It counts as a circuit-breaker failure.
type DependencyTimeoutError struct {
	Dependency string
	Err        error
}

func (e *DependencyTimeoutError) Error() string {
	return "dependency " + e.Dependency + " timed out: " + e.Err.Error()
}

func (e *DependencyTimeoutError) Unwrap() error { return e.Err }

// Terminal reports whether err must never be retried, regardless of any
// caller-supplied retry predicate.
func Terminal(err error) bool {
	var ve *ValidationError
	var ie *InsufficientInventoryError
	switch {
	case errors.As(err, &ve), errors.As(err, &ie):
		return true
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrIdempotencyConflict):
		return true
	}
	return false
}

// Transient reports whether err is a retryable storage failure.
func Transient(err error) bool {
	var te *TransientStorageError
	return errors.As(err, &te)
}

func Kind(err error) string {
	var ve *ValidationError
	var ie *InsufficientInventoryError
	var te *TransientStorageError
	var de *DependencyTimeoutError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ie):
		return "insufficient_inventory"
	case errors.As(err, &te):
		return "transient_storage"
	case errors.As(err, &de):
		return "dependency_timeout"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	var ve *ValidationError
	var ie *InsufficientInventoryError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve), errors.As(err, &ie), errors.Is(err, ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
