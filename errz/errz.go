// Package errz defines the error taxonomy for the codetools engine.
//
// Rewrite-time errors (UnsupportedConstruct, UnrecognizedInstruction) are
// unrecoverable for the function being rewritten. Call-time binding errors
// (TooManyArguments, MissingArgument, UnexpectedKeyword) are per-call and do
// not affect the reusable rewritten code object.
package errz

import (
	"errors"
	"fmt"
)

// ErrorKind represents the category of an error.
type ErrorKind int

const (
	// ErrUnsupportedConstruct indicates a function that cannot be rewritten,
	// such as one that captures an enclosing-scope variable cell.
	ErrUnsupportedConstruct ErrorKind = iota
	// ErrUnrecognizedInstruction indicates an opcode outside the supported
	// instruction set, which signals a version mismatch.
	ErrUnrecognizedInstruction
	// ErrTooManyArguments indicates a call with more positional arguments
	// than the function accepts.
	ErrTooManyArguments
	// ErrMissingArgument indicates a call that left a required parameter
	// unbound.
	ErrMissingArgument
	// ErrUnexpectedKeyword indicates a keyword argument that matches no
	// parameter of a function without a keyword collector.
	ErrUnexpectedKeyword
	// ErrName indicates an undefined variable or attribute.
	ErrName
	// ErrType indicates a type mismatch or invalid operation on a type.
	ErrType
	// ErrRuntime indicates a general evaluation error.
	ErrRuntime
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrUnsupportedConstruct:
		return "unsupported construct"
	case ErrUnrecognizedInstruction:
		return "unrecognized instruction"
	case ErrTooManyArguments:
		return "too many arguments"
	case ErrMissingArgument:
		return "missing argument"
	case ErrUnexpectedKeyword:
		return "unexpected keyword argument"
	case ErrName:
		return "name error"
	case ErrType:
		return "type error"
	case ErrRuntime:
		return "runtime error"
	default:
		return "error"
	}
}

// Error is a categorized error raised by the codec, the rewriter, argument
// binding, or evaluation.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target is an errz Error of the same kind. This lets
// callers match on category with errors.Is using a bare &Error{Kind: k}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New creates a new Error with a formatted message.
func New(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause wraps the error with a cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// IsKind returns true if err is, or wraps, an errz Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
