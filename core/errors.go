package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide between retrying,
// degrading and surfacing.
type ErrorKind int

const (
	// KindUnknown is any failure outside the taxonomy.
	KindUnknown ErrorKind = iota
	// KindTransport is a timeout or network failure. Retryable.
	KindTransport
	// KindRateExhausted means every retry attempt failed.
	KindRateExhausted
	// KindService is a non-2xx answer from the generation service. Not retried.
	KindService
	// KindNotFound is a missing persona, scenario or session.
	KindNotFound
	// KindValidation is malformed persona or message data.
	KindValidation
	// KindBusy is a turn rejected because the agent is already executing.
	KindBusy
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateExhausted:
		return "rate_exhausted"
	case KindService:
		return "service"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind   ErrorKind
	Op     string // operation that failed, e.g. "gateway.call"
	Status int    // HTTP status for KindService, zero otherwise
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a typed error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a gateway should retry after err.
func IsRetryable(err error) bool {
	return IsKind(err, KindTransport)
}
