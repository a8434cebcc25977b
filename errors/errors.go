// Package errors provides typed error handling for the godbg debugger core.
//
// It mirrors the kinds named by the specification's error-handling design:
// a tracing syscall refusal, a missing tid/address/breakpoint, a debug-slot
// exhaustion, a duplicate hardware-breakpoint registration, and an
// unclassifiable instruction window. All errors support errors.Is/errors.As.
package errors

import (
	"errors"
	"fmt"
)

// Kind represents the category of an error.
type Kind int

const (
	// KernelRefused indicates a tracing syscall returned -1.
	KernelRefused Kind = iota
	// NotFound indicates no such tid, address, or breakpoint exists.
	NotFound
	// ResourceExhausted indicates no free hardware debug slot was available.
	ResourceExhausted
	// Duplicate indicates a hardware breakpoint already exists for (tid, addr).
	Duplicate
	// ClassificationUnknown indicates the call/return recognizer could not
	// classify an instruction window. Treated as neutral, not fatal.
	ClassificationUnknown
	// Internal indicates an error in the controller's own bookkeeping.
	Internal
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case KernelRefused:
		return "kernel refused"
	case NotFound:
		return "not found"
	case ResourceExhausted:
		return "resource exhausted"
	case Duplicate:
		return "duplicate"
	case ClassificationUnknown:
		return "classification unknown"
	case Internal:
		return "internal error"
	default:
		return "unknown error"
	}
}

// DebugError represents an error that occurred during a debugger-core
// operation.
type DebugError struct {
	// Op is the operation that failed (e.g. "attach", "register_hw_bp").
	Op string
	// Tid is the thread id involved, if applicable (0 = none).
	Tid int32
	// Err is the underlying error.
	Err error
	// Kind is the error classification.
	Kind Kind
	// Detail provides additional context about the error.
	Detail string
}

// Error returns the error message.
func (e *DebugError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var msg string
	if e.Tid != 0 {
		msg = fmt.Sprintf("tid %d: ", e.Tid)
	}
	if e.Op != "" {
		msg += fmt.Sprintf("%s: ", e.Op)
	}
	if e.Detail != "" {
		msg += e.Detail
	} else {
		msg += e.Kind.String()
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *DebugError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether the error matches the target.
// It matches if the target is a *DebugError with the same Kind. The wrapped
// error is not consulted here; errors.Is reaches it through Unwrap.
func (e *DebugError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if t, ok := target.(*DebugError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a new DebugError with the given kind.
func New(kind Kind, op string, detail string) *DebugError {
	return &DebugError{
		Op:     op,
		Kind:   kind,
		Detail: detail,
	}
}

// Wrap wraps an error with operation context.
func Wrap(err error, kind Kind, op string) *DebugError {
	return &DebugError{
		Op:   op,
		Err:  err,
		Kind: kind,
	}
}

// WrapWithTid wraps an error with operation context and a thread id.
func WrapWithTid(err error, kind Kind, op string, tid int32) *DebugError {
	return &DebugError{
		Op:   op,
		Tid:  tid,
		Err:  err,
		Kind: kind,
	}
}

// WrapWithDetail wraps an error with additional detail.
func WrapWithDetail(err error, kind Kind, op string, detail string) *DebugError {
	return &DebugError{
		Op:     op,
		Err:    err,
		Kind:   kind,
		Detail: detail,
	}
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind Kind) bool {
	var derr *DebugError
	if errors.As(err, &derr) {
		return derr.Kind == kind
	}
	return false
}

// GetKind returns the error kind if the error is a DebugError.
func GetKind(err error) (Kind, bool) {
	var derr *DebugError
	if errors.As(err, &derr) {
		return derr.Kind, true
	}
	return 0, false
}

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
