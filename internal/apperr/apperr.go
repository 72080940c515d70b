// Package apperr defines the failure kinds surfaced to callers of the
// reconciliation core. Every user-visible failure is a (kind, message) pair;
// storage and driver errors stay wrapped underneath and are never shown.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindInputMalformed Kind = "input_malformed"
	KindNotFound       Kind = "not_found"
	KindInvalidState   Kind = "invalid_state"
	KindInternal       Kind = "internal"
)

// Error is a classified failure with a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// InputMalformed reports unparseable or invalid input.
func InputMalformed(format string, args ...any) *Error {
	return New(KindInputMalformed, format, args...)
}

// InvalidState reports an operation that conflicts with stored state.
func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// MessageOf returns the message of the first *Error in err's chain.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
