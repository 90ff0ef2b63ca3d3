// Package apperr classifies the failures surfaced by vox components.
//
// Every component boundary returns a single *Error (or wraps one) so callers
// can branch on Kind with errors.As or the KindOf helper.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes errors.
type Kind string

const (
	KindUnknown         Kind = "unknown_error"
	KindPermission      Kind = "permission_error"      // microphone/device access refused
	KindNetwork         Kind = "network_error"         // no response from the remote end
	KindServer          Kind = "server_error"          // remote end answered with a failure
	KindProtocol        Kind = "protocol_violation"    // response lacks required fields
	KindDecode          Kind = "decode_error"          // audio could not be decoded
	KindAuthExpired     Kind = "auth_expired"          // credential rejected with 401
	KindUnauthenticated Kind = "unauthenticated_error" // no credential present
	KindInvalid         Kind = "invalid_request_error" // caller supplied unusable input
)

// Error is the error type returned across component boundaries.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "upload token"
	Status  int    // HTTP status when one was received
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.Status, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Server creates a server error carrying the HTTP status.
func Server(op string, status int, message string) *Error {
	return &Error{Kind: KindServer, Op: op, Status: status, Message: message}
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
