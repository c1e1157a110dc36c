// Package drerrors defines the error taxonomy shared across the measurement
// pipeline: decode, conversion, analysis, and aggregation all report failures
// through the same small set of kinds so callers can branch with errors.Is.
package drerrors

import (
	"errors"
	"fmt"
)

// Kind categorizes a pipeline failure. A Kind is not itself an error: test
// for one with Of(err, kind), or with errors.Is against a *Error of the
// same Kind (see Error.Is).
type Kind int

const (
	// InvalidInput means a caller-supplied argument violated a precondition,
	// e.g. a sample slice whose length isn't a multiple of the channel count.
	InvalidInput Kind = iota
	// IoError means the underlying file or pipe could not be read.
	IoError
	// FormatError means the container/codec is unsupported or its metadata
	// is inconsistent.
	FormatError
	// DecodingError means the decode backend failed to start or hit an
	// unrecoverable error mid-stream.
	DecodingError
	// CalculationError means a DR computation produced a non-finite,
	// out-of-range, or otherwise invalid result.
	CalculationError
	// OutOfMemory means an allocation failed.
	OutOfMemory
	// ResourceError means a thread pool or subprocess resource was exhausted.
	ResourceError
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid input"
	case IoError:
		return "io error"
	case FormatError:
		return "format error"
	case DecodingError:
		return "decoding error"
	case CalculationError:
		return "calculation error"
	case OutOfMemory:
		return "out of memory"
	case ResourceError:
		return "resource error"
	default:
		return "unknown error"
	}
}

// Error wraps a Kind, a human-readable message, and an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, which makes
// errors.Is(err, drerrors.New(drerrors.IoError, "")) work for callers that
// only care about the kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Of reports whether err is (or wraps) a *Error of the given kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// New builds an *Error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error carrying cause as the wrapped error.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}
