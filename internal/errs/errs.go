// Package errs defines the error taxonomy shared across the engine.
//
// Every category in spec.md §7 is a Category value carried by the single
// *Error type, so callers can classify a failure with errors.As and its Cat
// field instead of string matching, while the message text
// still carries through fmt.Errorf("...: %w", err) the way the rest of the
// module wraps errors.
package errs

import "fmt"

// Category names one of the seven error classes from spec.md §7.
type Category uint8

const (
	Config Category = iota
	Topology
	Setup
	Protocol
	Alloc
	Compute
	Remote
)

func (c Category) String() string {
	switch c {
	case Config:
		return "Config"
	case Topology:
		return "Topology"
	case Setup:
		return "Setup"
	case Protocol:
		return "Runtime::Protocol"
	case Alloc:
		return "Runtime::Alloc"
	case Compute:
		return "Runtime::Compute"
	case Remote:
		return "Remote"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with its taxonomy category.
type Error struct {
	Cat Category
	Op  string // operation that failed, e.g. "graph.Connect"
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Cat, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Cat, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a categorized error.
func New(cat Category, op string, err error) *Error {
	return &Error{Cat: cat, Op: op, Err: err}
}

// Newf builds a categorized error from a format string, mirroring fmt.Errorf.
func Newf(cat Category, op, format string, args ...any) *Error {
	return &Error{Cat: cat, Op: op, Err: fmt.Errorf(format, args...)}
}

// Abortive reports whether a category must abort the run before any worker
// starts, per spec.md §7's propagation policy.
func (c Category) Abortive() bool {
	switch c {
	case Config, Topology, Setup:
		return true
	default:
		return false
	}
}

// ShapeMismatch is the buffer-layer error for copy/resize shape conflicts
// (spec.md §4.1 "Failure").
func ShapeMismatch(op string, want, got int) *Error {
	return Newf(Protocol, op, "shape mismatch: want %d elements, got %d", want, got)
}

// AllocError reports a host or device allocation failure carrying the
// device error code when one is available (spec.md §4.1, §7).
func AllocError(op string, code int) *Error {
	return Newf(Alloc, op, "allocation failed, device code %d", code)
}

// LocationError reports a read from a location that has no authoritative
// copy and no queue was supplied to transfer it (spec.md §4.1).
func LocationError(op string) *Error {
	return New(Protocol, op, fmt.Errorf("location not available without a queue"))
}
