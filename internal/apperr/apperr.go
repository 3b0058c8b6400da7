// Package apperr defines the closed set of error kinds returned by the core packages.
//
// Every error carries a Kind and a display message. Validation errors also carry the
// field name and the violated rule so callers can classify them without parsing text.
// The display message is stable and safe to show to end users.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	KindInvalidArgument Kind = iota + 1
	KindNotFound
	KindConflict
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPersistence:
		return "persistence_failure"
	default:
		return "unknown"
	}
}

// Rule names the validation rule an InvalidArgument error violated.
type Rule string

const (
	RuleRequired Rule = "required"
	RuleType     Rule = "type"
	RuleEmpty    Rule = "empty"
	RuleFormat   Rule = "format"
	RuleRange    Rule = "range"
)

// Sentinel errors, one per kind. Use with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrPersistence     = errors.New("persistence failure")
)

// Error is the structured error returned by the core.
type Error struct {
	Kind    Kind
	Field   string // set for InvalidArgument
	Rule    Rule   // set for InvalidArgument
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidArgument:
		return e.Kind == KindInvalidArgument
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrPersistence:
		return e.Kind == KindPersistence
	}
	return false
}

// InvalidArgument builds a validation error for field.
func InvalidArgument(field string, rule Rule, format string, args ...any) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Field:   field,
		Rule:    rule,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound builds a not-found error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a conflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a storage failure. The message is what callers display; err keeps the cause.
func Persistence(err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsInvalidArgument returns true if err is a validation error.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsNotFound returns true if err indicates a missing group, user or expense.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict returns true if err is a business-rule conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
