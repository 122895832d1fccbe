// Package bcerr defines the error taxonomy shared across the horstbeacon
// packages: errors that cross a package boundary are wrapped in an *Error
// so callers can dispatch on Kind() instead of string-matching. The
// exceptions are CombineClose, which returns a multierror of the teardown
// errors it collected, and diag.NewFileSink, which returns the file open
// error unwrapped.
package bcerr

import "fmt"

// Kind classifies how a caller should react to an error.
type Kind int

const (
	// Fatal conditions leave the component unable to continue; the caller
	// should stop the pipeline stage that produced them.
	Fatal Kind = iota
	// Recoverable conditions are expected in normal operation (a dropped
	// datagram, an expired subscriber) and the caller should just move on.
	Recoverable
	// Malformed marks input that failed to parse or verify; the caller
	// should discard it without treating it as an internal failure.
	Malformed
)

func (k Kind) String() string {
	switch k {
	case Fatal:
		return "fatal"
	case Recoverable:
		return "recoverable"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by the packages of this module.
type Error struct {
	kind  Kind
	msg   string
	inner error
}

func (e *Error) Error() string {
	if e.inner != nil {
		return fmt.Sprintf("%s: %s: %s", e.kind, e.msg, e.inner)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Kind reports the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Unwrap exposes the wrapped error to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.inner }

// New builds an *Error of the given kind with no wrapped cause.
func New(kind Kind, format string, a ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, a...)}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, inner error, format string, a ...interface{}) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, a...), inner: inner}
}

// Is reports whether err is a *bcerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.kind == kind
}
