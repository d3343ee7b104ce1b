// Package apierr defines the error kinds shared across the control plane,
// independent of any particular transport's status-code mapping.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is a coarse error classification used for HTTP status mapping and
// for deciding whether the ingest/dispatch paths should retry, park, or
// surface the error to the caller.
type Kind string

const (
	BadRequest        Kind = "bad_request"
	NotFound          Kind = "not_found"
	OutOfBounds       Kind = "out_of_bounds"
	AtMinSoc          Kind = "at_min_soc"
	AtMaxSoc          Kind = "at_max_soc"
	NoOnlineAssets    Kind = "no_online_assets"
	NoCapacity        Kind = "no_capacity"
	AgentNotConnected Kind = "agent_not_connected"
	MailboxFull       Kind = "mailbox_full"
	JournalUnavailable Kind = "journal_unavailable"
	Internal          Kind = "internal"
)

// Error is the wrapped error type returned by every control-plane
// operation that can fail for a reason the caller should distinguish.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error carrying an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// HTTPStatus maps a Kind onto the status code the operator HTTP surface
// should return, per the propagation policy: 400 for input/state errors,
// 404 for NotFound, 503 for a degraded journal, 500 for internal invariants.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case NotFound:
		return 404
	case JournalUnavailable:
		return 503
	case Internal:
		return 500
	default:
		return 400
	}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
