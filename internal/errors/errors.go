// LOCATION: internal/errors/errors.go
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToStatus mapping for HTTP responses
// - Error wrapping utilities

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound      = errors.New("not found")
	ErrTraceNotFound = errors.New("trace not found")

	// Already exists errors
	ErrAlreadyExists = errors.New("already exists")

	// Validation errors
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidKey       = errors.New("invalid share key")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidExtension = errors.New("invalid file extension")
	ErrInvalidFormat    = errors.New("invalid output format")

	// Input errors
	ErrDecode   = errors.New("cannot decode trace text")
	ErrRead     = errors.New("cannot read trace input")
	ErrTooLarge = errors.New("payload too large")

	// ErrNoData means parsing produced no records. It is an informational
	// outcome, not a failure of the pipeline.
	ErrNoData = errors.New("no valid trace data")

	// Auth errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrRateLimited      = errors.New("too many failed attempts")

	// Remote errors
	ErrRemote = errors.New("remote request failed")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrStorage  = errors.New("storage error")
	ErrClosed   = errors.New("closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTraceNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidExtension) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsInputError returns true if the trace bytes could not be turned into text.
// These are hard failures: aggregation never runs.
func IsInputError(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrRead) ||
		errors.Is(err, ErrTooLarge)
}

// IsNoData returns true if err reports an empty record set.
func IsNoData(err error) bool {
	return errors.Is(err, ErrNoData)
}

// IsAuthError returns true if err is an authentication/authorization error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrRateLimited)
}

// ============================================================================
// Error to HTTP status mapping
// ============================================================================

// ErrorToStatus maps a sentinel error to an HTTP status code.
func ErrorToStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case Is(err, ErrNotAuthenticated), Is(err, ErrNotAuthorized):
		return http.StatusUnauthorized
	case Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case IsNotFound(err):
		return http.StatusNotFound
	case Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case IsValidation(err), Is(err, ErrDecode):
		return http.StatusBadRequest
	case Is(err, ErrNoData):
		return http.StatusOK
	case Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// StatusToError maps an HTTP status code to a sentinel error (for clients).
func StatusToError(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrNotAuthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusNotFound:
		return ErrTraceNotFound
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusBadRequest:
		return ErrInvalidConfig
	default:
		return ErrRemote
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewDecode creates a decode error for a trace line.
func NewDecode(line int, reason string) error {
	return fmt.Errorf("line %d: %s: %w", line, reason, ErrDecode)
}

// NewRemote creates an error for a failed remote call. The status is mapped
// so that callers can still test for not-found or auth failures.
func NewRemote(op string, status int, details string) error {
	return fmt.Errorf("%s: status %d: %s: %w", op, status, details, errors.Join(ErrRemote, StatusToError(status)))
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
