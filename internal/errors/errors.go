// Package errors defines the service's error taxonomy: a single
// ServiceError type carrying a machine-readable code, an HTTP status, and
// an optional detail map, plus constructors for every error kind named in
// the provenance-service design.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error identifier surfaced in the error
// envelope's `error` field.
type Code string

const (
	CodeValidationFailed     Code = "ValidationFailed"
	CodeInputTooLarge        Code = "InputTooLarge"
	CodeRateLimited          Code = "RateLimited"
	CodeSpendCapExceeded     Code = "SpendCapExceeded"
	CodeUnauthenticated      Code = "Unauthenticated"
	CodeDetectorUnavailable  Code = "DetectorUnavailable"
	CodeNotFound             Code = "NotFound"
	CodePersistenceFailed    Code = "PersistenceFailed"
	CodeInternalError        Code = "InternalError"
)

// ServiceError is the single error type handlers and components return.
// It carries everything needed to render the §6 error envelope.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func newErr(code Code, status int, message string) *ServiceError {
	return &ServiceError{Code: code, HTTPStatus: status, Message: message}
}

// WithDetails attaches per-field validation detail to an error and returns
// the same instance for chaining.
func (e *ServiceError) WithDetails(details map[string]any) *ServiceError {
	e.Details = details
	return e
}

// WithErr attaches the wrapped cause and returns the same instance.
func (e *ServiceError) WithErr(err error) *ServiceError {
	e.Err = err
	return e
}

func ValidationFailed(message string) *ServiceError {
	return newErr(CodeValidationFailed, http.StatusUnprocessableEntity, message)
}

func InputTooLarge(message string) *ServiceError {
	return newErr(CodeInputTooLarge, http.StatusRequestEntityTooLarge, message)
}

func RateLimited(message string) *ServiceError {
	return newErr(CodeRateLimited, http.StatusTooManyRequests, message)
}

func SpendCapExceeded(message string) *ServiceError {
	return newErr(CodeSpendCapExceeded, http.StatusTooManyRequests, message)
}

func Unauthenticated(message string) *ServiceError {
	return newErr(CodeUnauthenticated, http.StatusUnauthorized, message)
}

func DetectorUnavailable(message string) *ServiceError {
	return newErr(CodeDetectorUnavailable, http.StatusServiceUnavailable, message)
}

func NotFound(message string) *ServiceError {
	return newErr(CodeNotFound, http.StatusNotFound, message)
}

func PersistenceFailed(message string) *ServiceError {
	return newErr(CodePersistenceFailed, http.StatusInternalServerError, message)
}

func InternalError(message string) *ServiceError {
	return newErr(CodeInternalError, http.StatusInternalServerError, message)
}

// As extracts a *ServiceError from err, following the error chain.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// HTTPStatus returns the HTTP status associated with err, defaulting to
// 500 when err is not a *ServiceError.
func HTTPStatus(err error) int {
	if se, ok := As(err); ok {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
