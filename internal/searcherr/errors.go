// Package searcherr defines the error taxonomy shared by every layer of
// logsearchd, so the HTTP and JSON-RPC transports can map a single Kind
// to a status/error code without each handler hand-rolling the mapping.
package searcherr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for transport-layer mapping.
type Kind string

const (
	BadRequest     Kind = "bad_request"
	RegexInvalid   Kind = "regex_invalid"
	FileDenied     Kind = "file_denied"
	IOError        Kind = "io_error"
	RegexTimeout   Kind = "regex_timeout"
	HitCapReached  Kind = "hit_cap"
	ByteCapReached Kind = "byte_cap"
	DeadlineHit    Kind = "deadline"
	QuotaExceeded  Kind = "quota_exceeded"
	CursorExpired  Kind = "cursor_expired"
	CursorMismatch Kind = "cursor_mismatch"
	Internal       Kind = "internal"
)

// Error is the single error type produced by logsearchd's internal
// packages. Cause may be nil. RetryAfterMS is set on QuotaExceeded
// (spec.md §6: 429 responses carry retry_after_ms) and is zero for every
// other Kind.
type Error struct {
	Kind         Kind
	Message      string
	Cause        error
	RetryAfterMS int64
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given Kind with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given Kind around an existing error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithRetryAfter sets the Error's RetryAfterMS and returns it, for chaining
// off New/Wrap at the call site.
func (e *Error) WithRetryAfter(ms int64) *Error {
	e.RetryAfterMS = ms
	return e
}

// RetryAfterMSOf extracts RetryAfterMS from err if it is (or wraps) a
// *Error, otherwise 0.
func RetryAfterMSOf(err error) int64 {
	var se *Error
	if errors.As(err, &se) {
		return se.RetryAfterMS
	}
	return 0
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, otherwise
// Internal.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Internal
}
