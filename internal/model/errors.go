package model

import (
	"errors"
	"fmt"
)

// Kind categorizes every failure surfaced to callers.
type Kind string

const (
	// KindValidation: malformed input rejected before any remote call.
	KindValidation Kind = "VALIDATION"

	// KindAuthorization: caller is not permitted to edit the shelf.
	KindAuthorization Kind = "AUTHORIZATION"

	// KindConflict: the authority rejected a move or edit against its
	// current state (rebalance in progress, unknown item or reference).
	KindConflict Kind = "CONFLICT"

	// KindTransientNetwork: the call did not reach or return from the
	// authority.
	KindTransientNetwork Kind = "TRANSIENT_NETWORK"

	// KindUnknown: any other remote rejection. Detail carries the remote
	// text verbatim.
	KindUnknown Kind = "UNKNOWN"
)

// Error is the typed error carried by failed outcomes.
type Error struct {
	Kind Kind

	// Op names the operation that failed, e.g. "move_item".
	Op string

	// Detail is a human-readable description or the remote tag.
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Validationf builds a validation error with a formatted detail.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or KindUnknown when err is not an *Error.
// A nil err has no kind and returns "".
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

func isKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsAuthorization reports whether err is an authorization error.
func IsAuthorization(err error) bool { return isKind(err, KindAuthorization) }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return isKind(err, KindConflict) }

// IsTransient reports whether err is a transient network error.
func IsTransient(err error) bool { return isKind(err, KindTransientNetwork) }
