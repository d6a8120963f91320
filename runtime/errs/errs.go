// Package errs defines the job-orchestrator error taxonomy (spec §7): a small
// closed set of named kinds plus a chain-preserving error type so terminal
// job records and HTTP responses can report a stable error_kind alongside a
// human error_message.
//
// Grounded on the teacher's runtime/agent/toolerrors.ToolError: a Cause chain
// that implements errors.Is/As without losing the original message across a
// serialize/deserialize boundary (here: written into a Job record and read
// back by a different process).
package errs

import (
	"errors"
	"fmt"
)

// Kind names a point in the spec §7 taxonomy. Kinds are stable wire values:
// clients depend on error_kind to decide whether to fix input or retry.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindHandler          Kind = "handler"
	KindTimeout          Kind = "timeout"
	KindTransientBackend Kind = "transient_backend"
	KindPermanentBackend Kind = "permanent_backend"
	KindSecurity         Kind = "security"
)

// Retryable reports whether the propagation policy (spec §7) allows an
// in-loop retry for this kind, as opposed to a terminal write or a fatal abort.
func (k Kind) Retryable() bool {
	return k == KindTransientBackend
}

// Terminal reports whether this kind, once produced by a handler, should be
// written as a FAILED job terminal state rather than returned to the caller
// locally or causing a worker abort.
func (k Kind) Terminal() bool {
	switch k {
	case KindHandler, KindTimeout:
		return true
	default:
		return false
	}
}

// Error is a structured, chainable error carrying a stable Kind. Cause links
// to an underlying Error so errors.Is/As work across retries and across a
// store round-trip (Kind/Message survive JSON marshaling even when Cause
// does not implement error on the far side).
type Error struct {
	Kind    Kind
	Message string
	Cause   *Error
}

// New constructs an Error of the given kind with the provided message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// Wrap converts an arbitrary error into an Error chain tagged with kind at
// the outermost frame. If err is already an *Error, its own Kind is
// preserved and the new kind is only used when err is not already typed.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: fromError(errors.Unwrap(err))}
}

func fromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindHandler, Message: err.Error(), Cause: fromError(errors.Unwrap(err))}
}

// Errorf formats a message and wraps it as a Kind error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the Cause chain to errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, errs.New(errs.KindNotFound, "")) style checks, or more
// idiomatically use KindOf below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind of err, defaulting to KindHandler for untyped
// errors (an untyped error from a registered handler is, by definition, a
// handler failure per spec §7).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindHandler
}
