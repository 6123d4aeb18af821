package apperr

import "fmt"

// Code buckets every failure the client surfaces.
type Code string

const (
	CodeTransient        Code = "TRANSIENT"         // network failure, not auto-retried
	CodeUnauthenticated  Code = "UNAUTHENTICATED"   // credential expired or invalid
	CodePermissionDenied Code = "PERMISSION_DENIED" // blocked locally before any network call
	CodeRejected         Code = "REJECTED"          // server rejected a command
	CodeNotFound         Code = "NOT_FOUND"
	CodeInternal         Code = "INTERNAL"
)

type AppError struct {
	Code    Code
	Message string
	Cause   error
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

func Transient(msg string, cause error) error {
	return Wrap(CodeTransient, msg, cause)
}

func Unauthenticated(msg string) error {
	return New(CodeUnauthenticated, msg)
}

func Forbidden(msg string) error {
	return New(CodePermissionDenied, msg)
}

func Rejected(msg string) error {
	return New(CodeRejected, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Internal(msg string) error {
	return New(CodeInternal, msg)
}

// CodeOf extracts the bucket from any error chain, defaulting to INTERNAL.
func CodeOf(err error) Code {
	for err != nil {
		if ae, ok := err.(*AppError); ok {
			return ae.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return CodeInternal
}
