package engine

import (
	"errors"
	"fmt"

	"signupsheet/internal/engine/auth"
)

type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindAlreadyAssigned      Kind = "already_assigned"
	KindDuplicatePriority    Kind = "duplicate_priority"
	KindDuplicateIdentifier  Kind = "duplicate_identifier"
	KindHasSubmittedWork     Kind = "has_submitted_work"
	KindDropDeadlinePassed   Kind = "drop_deadline_passed"
	KindSignupDeadlinePassed Kind = "signup_deadline_passed"
	KindBiddingDisabled      Kind = "bidding_disabled"
	KindInvalidPriority      Kind = "invalid_priority"
	KindInvalidArgument      Kind = "invalid_argument"
	KindInvalidState         Kind = "invalid_state"
	KindForbidden            Kind = "forbidden"
	KindStorageFailure       Kind = "storage_failure"
)

// Error is the typed failure every engine operation returns. Capacity
// exhaustion is not an error; it produces a waitlist entry.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrAlreadyAssigned      = &Error{Kind: KindAlreadyAssigned}
	ErrDuplicatePriority    = &Error{Kind: KindDuplicatePriority}
	ErrDuplicateIdentifier  = &Error{Kind: KindDuplicateIdentifier}
	ErrHasSubmittedWork     = &Error{Kind: KindHasSubmittedWork}
	ErrDropDeadlinePassed   = &Error{Kind: KindDropDeadlinePassed}
	ErrSignupDeadlinePassed = &Error{Kind: KindSignupDeadlinePassed}
	ErrBiddingDisabled      = &Error{Kind: KindBiddingDisabled}
	ErrInvalidPriority      = &Error{Kind: KindInvalidPriority}
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrStorageFailure       = &Error{Kind: KindStorageFailure}
)

// KindOf returns the kind of an engine error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func notFound(op, format string, args ...any) *Error {
	return newError(KindNotFound, op, format, args...)
}

func invalidArg(op, format string, args ...any) *Error {
	return newError(KindInvalidArgument, op, format, args...)
}

// storage wraps a repository or driver failure. Errors that are already typed
// pass through untouched.
func storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindStorageFailure, Op: op, Msg: "storage failure", Err: err}
}

func forbidden(op string, err error) error {
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return &Error{Kind: KindForbidden, Op: op, Msg: "forbidden", Err: err}
	}
	return err
}
