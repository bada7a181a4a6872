// Package xerrors models the error taxonomy of spec.md §7 as a small
// kind tag attached to a wrapped error, in the teacher's plain
// fmt.Errorf("...: %w", err) style rather than a heavyweight
// error-codes package.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP status mapping and retry policy.
type Kind string

const (
	Validation          Kind = "validation"
	InsufficientBalance Kind = "insufficient_balance"
	NotFound            Kind = "not_found"
	CannotCancel        Kind = "cannot_cancel"
	Duplicate           Kind = "duplicate"
	PartialSettlement   Kind = "partial_settlement"
	TransientStore      Kind = "transient_store"
	ProtocolFraming     Kind = "protocol_framing"
	StreamHealth        Kind = "stream_health"
	Internal            Kind = "internal"
)

// Error pairs a Kind with the underlying cause.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Kind() Kind    { return e.kind }

// New wraps err with a Kind, formatting like fmt.Errorf.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

// Wrap attaches a Kind to an existing error without reformatting it.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is
// an *Error; otherwise it returns Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Internal
}
