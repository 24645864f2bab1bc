// Package apperr classifies errors flowing between the catalog core's
// components. Every failure in this core is scoped to one unit of work;
// the kind tells callers whether to count it, report it, or give up.
package apperr

import (
	"errors"
	"fmt"
)

// Kind partitions errors by origin and required handling.
type Kind string

const (
	KindDatabase   Kind = "database"
	KindNotFound   Kind = "not_found"
	KindBadRequest Kind = "bad_request"
	KindIo         Kind = "io"
	KindMetadata   Kind = "metadata"
	KindInternal   Kind = "internal"
)

// Error wraps an underlying error with a kind classification.
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

func (e *Error) Unwrap() error { return e.Err }

// New creates a kinded error with a plain message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
