// Package bridgeerr defines the error taxonomy shared across the bridge.
//
// Errors carry a Kind so HTTP handlers and the stream server can map
// failures to wire-level codes without string matching.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for protocol-level reporting.
type Kind string

const (
	InvalidPayload    Kind = "invalid_payload"
	MissingField      Kind = "missing_field"
	NotFound          Kind = "not_found"
	Unauthorized      Kind = "unauthorized"
	Unsupported       Kind = "unsupported"
	RuntimeError      Kind = "runtime_error"
	ChatPlatformError Kind = "chat_platform_error"
	ProtocolError     Kind = "protocol_error"
	Oversize          Kind = "oversize"
)

// Error is a classified bridge error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or RuntimeError when err is unclassified.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return RuntimeError
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a Kind to the HTTP status the hook server reports.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidPayload, MissingField, Oversize:
		return 400
	case Unauthorized:
		return 401
	case NotFound:
		return 404
	case Unsupported:
		return 501
	default:
		return 500
	}
}
