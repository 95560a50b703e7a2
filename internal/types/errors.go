// Package types holds the error model shared by every cube component.
package types

import (
	"errors"
	"fmt"
)

// Kind classifies an error returned by a public operation.
type Kind string

// Error kind constants
const (
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindInvalidInput  Kind = "invalid_input"
	KindMalformedNode Kind = "malformed_node"
	KindIO            Kind = "io_error"
	KindIndex         Kind = "index_error"
	KindCapacity      Kind = "capacity"
	KindTimeout       Kind = "timeout"
)

// Error is the tagged error value that crosses component boundaries.
// Errors are values, never panics; panics are reserved for invariant
// violations such as a corrupted index schema.
type Error struct {
	Kind Kind   // classification from the closed catalog
	Op   string // operation that failed, e.g. "graph.link"
	Msg  string // human-readable detail
	Err  error  // wrapped cause, may be nil
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a new tagged error
func E(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind and operation
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err (or anything it wraps) carries the given kind
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind carried by err, or "" when err is untagged
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
