package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError is the error type returned across the control-system boundary.
// Code identifies the failure class; Message is safe to show to callers.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func QuotaExceeded(msg string) error {
	return New(CodeQuotaExceeded, msg)
}

func Invalid(msg string) error {
	return New(CodeInvalid, msg)
}

func Expired(msg string) error {
	return New(CodeExpired, msg)
}

func Exhausted(msg string) error {
	return New(CodeExhausted, msg)
}

func Revoked(msg string) error {
	return New(CodeRevoked, msg)
}

func Internal(msg string) error {
	return New(CodeInternal, msg)
}

// StoreUnavailable wraps a transient store failure. Callers may retry.
func StoreUnavailable(msg string, cause error) error {
	return Wrap(CodeStoreUnavailable, msg, cause)
}

// CodeOf extracts the code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether the error class is safe to retry.
func IsRetryable(err error) bool {
	return CodeOf(err) == CodeStoreUnavailable
}
