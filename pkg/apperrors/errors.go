// Package apperrors defines the error taxonomy shared by the messaging and
// reminder subsystems. Callers branch on Code, not on error strings:
// transient store failures may be retried by the user, authorization denials
// never are, and unavailable platform capabilities degrade silently.
package apperrors

import (
	"errors"
	"fmt"
)

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

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func Invalid(msg string) error {
	return New(CodeValidation, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func AlreadyExists(msg string) error {
	return New(CodeAlreadyExists, msg)
}

func Forbidden(msg string) error {
	return New(CodeAuthorizationDenied, msg)
}

func Transient(msg string, cause error) error {
	return Wrap(CodeTransientStore, msg, cause)
}

func Unavailable(msg string) error {
	return New(CodeUnavailable, msg)
}

// CodeOf extracts the taxonomy code from err, walking the wrap chain.
// Plain errors report CodeUnknown.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// IsTransient reports whether err should be presented with a retry
// affordance rather than as a terminal failure.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeTransientStore
}
