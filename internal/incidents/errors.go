package incidents

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindPersistence       Kind = "persistence"
	KindInvalidTransition Kind = "invalid_transition"
	KindAlreadyResolved   Kind = "already_resolved"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
)

// Error carries a distinguishable kind plus a human-readable message.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Msg == "":
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind when the target is a bare sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Kind == e.Kind
}

var (
	ErrPersistence       = &Error{Kind: KindPersistence}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrAlreadyResolved   = &Error{Kind: KindAlreadyResolved}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
)

func newError(kind Kind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// PersistenceError wraps a store failure; an existing *Error passes through untouched.
func PersistenceError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(KindPersistence, op, "store unavailable", err)
}

// KindOf reports the kind of err, or "" for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
