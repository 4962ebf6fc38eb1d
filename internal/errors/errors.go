// Package errors implements the structured error taxonomy shared across
// the control plane: every failure carries an ErrorType that maps to
// both an HTTP status code and a retry policy.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for HTTP status mapping and logging.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeAdmission    ErrorType = "admission_denied"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeNoReconciler ErrorType = "no_reconciler"
	ErrorTypeReconcile    ErrorType = "reconcile_failed"
	ErrorTypeWebhook      ErrorType = "webhook_transport"
	ErrorTypeStore        ErrorType = "store_transient"
	ErrorTypeTypeConflict ErrorType = "resource_type_conflict"
	ErrorTypeCanceled     ErrorType = "canceled"
	ErrorTypeInternal     ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:   http.StatusBadRequest,
	ErrorTypeAdmission:    http.StatusForbidden,
	ErrorTypeNotFound:     http.StatusNotFound,
	ErrorTypeConflict:     http.StatusConflict,
	ErrorTypeNoReconciler: http.StatusBadRequest,
	ErrorTypeReconcile:    http.StatusInternalServerError,
	ErrorTypeWebhook:      http.StatusInternalServerError,
	ErrorTypeStore:        http.StatusInternalServerError,
	ErrorTypeTypeConflict: http.StatusInternalServerError,
	ErrorTypeCanceled:     http.StatusInternalServerError,
	ErrorTypeInternal:     http.StatusInternalServerError,
}

// AppError is the structured error carrier used across the control plane.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

// New creates an AppError of the given type with its default status code.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusFor(t)}
}

// Newf creates an AppError with a formatted message.
func Newf(t ErrorType, format string, args ...any) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap wraps cause into an AppError of the given type.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf wraps cause into an AppError with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusFor(t ErrorType) int {
	if code, ok := statusByType[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause, if any, for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails sets Details in place and returns the receiver.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf sets a formatted Details in place and returns the receiver.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// --- Predefined constructors, one per taxonomy entry ---

// NewSchemaValidation builds a 400 validation error for a single schema
// path/message pair, matching the Validator's per-field error shape.
func NewSchemaValidation(path, msg string) *AppError {
	return New(ErrorTypeValidation, msg).WithDetails(path)
}

// NewAdmissionDenied builds a 403 admission-chain rejection.
func NewAdmissionDenied(message string) *AppError {
	return New(ErrorTypeAdmission, message)
}

// NewNotFound builds a 404 for the named entity.
func NewNotFound(entity string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", entity)
}

// NewConflict builds a 409 conflict error.
func NewConflict(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

// ErrFinalizersPresent is the specific Conflict raised when a hard delete
// is attempted while finalizers remain.
var ErrFinalizersPresent = New(ErrorTypeConflict, "FinalizersPresent").WithDetails("resource has finalizers; hard delete refused")

// NewNoReconciler builds the CREATE-time 400 for an unregistered type.
func NewNoReconciler(typeName, version string) *AppError {
	return Newf(ErrorTypeNoReconciler, "no reconciler registered for type %s/%s", typeName, version)
}

// NewReconcilerFailed wraps a reconciler's reported error for history.
func NewReconcilerFailed(cause error) *AppError {
	return Wrap(cause, ErrorTypeReconcile, "reconciler returned an error")
}

// NewWebhookTransport builds the transport-failure error for a named
// webhook; callers decide whether it becomes AdmissionDenied based on the
// webhook's failure policy.
func NewWebhookTransport(name string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeWebhook, "webhook %s transport failure", name)
}

// NewStoreTransient wraps a retryable store failure.
func NewStoreTransient(op string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeStore, "store operation failed: %s", op)
}

// NewResourceTypeConflict builds the startup-fatal registry conflict.
func NewResourceTypeConflict(typeName, version, first, second string) *AppError {
	return Newf(ErrorTypeTypeConflict, "resource type %s/%s claimed by both %q and %q", typeName, version, first, second)
}

// NewCanceled marks a reconciliation attempt as silently canceled.
func NewCanceled() *AppError {
	return New(ErrorTypeCanceled, "operation canceled")
}

// StatusCode extracts the HTTP status for any error, defaulting to 500 for
// errors that are not an *AppError.
func StatusCode(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return http.StatusInternalServerError
}
