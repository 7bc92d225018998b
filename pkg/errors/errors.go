package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	// ErrNotFound marks an entity that vanished between a change notification
	// and the corresponding primary-store lookup. Callers treat it as a skip,
	// not a failure.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput marks a malformed request. Requests are rejected, never
	// silently corrected into defaults that change result semantics.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable marks an I/O failure against the index store or the
	// primary store. Query paths propagate it; write paths retry with backoff
	// before surfacing it.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPartialData marks a corrupted or incomplete source entity found
	// during a rebuild. The entity is skipped and the batch continues.
	ErrPartialData = errors.New("partial or corrupted source data")

	// ErrOrderingViolation marks a unit notification whose declared owning
	// property is absent from the primary store. This signals an upstream
	// ordering bug and is fatal for that notification.
	ErrOrderingViolation = errors.New("notification ordering violation")

	// ErrInternal marks an unexpected internal failure.
	ErrInternal = errors.New("internal error")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// StoreUnavailable creates a 503 error wrapping the underlying I/O failure.
func StoreUnavailable(store string, err error) *AppError {
	return &AppError{
		Code:    "STORE_UNAVAILABLE",
		Message: fmt.Sprintf("%s store is unavailable", store),
		Status:  http.StatusServiceUnavailable,
		Err:     fmt.Errorf("%w: %w", ErrStoreUnavailable, err),
	}
}

// PartialData creates a 422 error for a corrupted source entity.
func PartialData(resource, id, reason string) *AppError {
	return &AppError{
		Code:    "PARTIAL_DATA",
		Message: fmt.Sprintf("%s with id %s has incomplete data: %s", resource, id, reason),
		Status:  http.StatusUnprocessableEntity,
		Err:     ErrPartialData,
	}
}

// OrderingViolation creates a 500 error for a unit notification that arrived
// before its owning property existed.
func OrderingViolation(unitID, propertyID string) *AppError {
	return &AppError{
		Code:    "ORDERING_VIOLATION",
		Message: fmt.Sprintf("unit %s references missing property %s", unitID, propertyID),
		Status:  http.StatusInternalServerError,
		Err:     ErrOrderingViolation,
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrPartialData):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
