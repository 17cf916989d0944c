// Package errkind classifies the errors goBanWatch can hit so callers can
// decide between "log and keep going" and "exit".
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the coarse category of a failure.
type Kind int

const (
	// Other is the zero value for unclassified errors.
	Other Kind = iota
	// IO covers file open/read/write failures (log, ban file, whitelist).
	IO
	// Parse covers malformed data in files we own, such as the ban file.
	Parse
	// ExternalAction covers failures of the reload command.
	ExternalAction
	// Validation covers caller contract violations (e.g. an invalid address).
	Validation
	// Config covers invalid configuration detected at startup.
	Config
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case Parse:
		return "parse"
	case ExternalAction:
		return "external_action"
	case Validation:
		return "validation"
	case Config:
		return "config"
	default:
		return "other"
	}
}

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a kind and an operation name.
// It returns nil when err is nil so it can wrap return values directly.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a new classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or Other if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
