package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures surfaced to API clients.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindDuplicate
	KindCredential
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindMethodNotAllowed
	KindInvalidOtp
	KindTooManyRequests
)

// Status maps the kind onto its HTTP status code. Forbidden stays 401 to
// match the API contract clients already rely on.
func (k ErrorKind) Status() int {
	switch k {
	case KindValidation, KindDuplicate, KindCredential, KindInvalidOtp:
		return http.StatusBadRequest
	case KindUnauthorized, KindForbidden:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindCredential:
		return "credential"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindInvalidOtp:
		return "invalid_otp"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// AppError is an error with a client-facing message.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error.
func (e *AppError) Status() int {
	return e.Kind.Status()
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}

func ValidationError(msg string) *AppError {
	return &AppError{Kind: KindValidation, Message: msg}
}

func DuplicateError(msg string, err error) *AppError {
	return &AppError{Kind: KindDuplicate, Message: msg, Err: err}
}

func CredentialError() *AppError {
	return &AppError{Kind: KindCredential, Message: "Invalid email or password."}
}

func Unauthorized(msg string, err error) *AppError {
	return &AppError{Kind: KindUnauthorized, Message: msg, Err: err}
}

func Forbidden(msg string) *AppError {
	return &AppError{Kind: KindForbidden, Message: msg}
}

func NotFound(msg string) *AppError {
	return &AppError{Kind: KindNotFound, Message: msg}
}

func InvalidOtpError() *AppError {
	return &AppError{Kind: KindInvalidOtp, Message: "Invalid OTP code."}
}

func TooManyRequests() *AppError {
	return &AppError{Kind: KindTooManyRequests, Message: "Too many attempts, please try again later."}
}

// Internal wraps an unexpected failure. The message is never shown to
// clients in production.
func Internal(msg string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: msg, Err: err}
}
