// Package errors provides standardized error types for engine operations.
// This package defines EngineError for consistent error handling across all
// public APIs, with an error-kind taxonomy so callers can distinguish "this
// backend has no strategy" from true runtime failures.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an EngineError.
type Kind int

const (
	// KindUnsupported marks an expression/source combination with no known
	// execution strategy. Callers may try an alternative backend.
	KindUnsupported Kind = iota
	// KindNumericDomain marks a mathematically undefined result, such as the
	// mean of an empty dataset.
	KindNumericDomain
	// KindChunkFailed marks a failure while evaluating a single chunk, which
	// is fatal to the whole query.
	KindChunkFailed
	// KindInvalidInput marks malformed caller input.
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindNumericDomain:
		return "numeric-domain"
	case KindChunkFailed:
		return "chunk-failed"
	case KindInvalidInput:
		return "invalid-input"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// EngineError represents standardized errors across engine operations.
type EngineError struct {
	Op      string // Operation name (e.g., "Execute", "Split", "Merge")
	Kind    Kind   // Error classification
	Message string // Human-readable error description
	Cause   error  // Underlying error cause
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s error: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error wrapping support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches any EngineError of the same kind, so callers can branch with
// errors.Is against a kind sentinel.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// NewUnsupported creates an unsupported-operation error.
func NewUnsupported(op, message string) *EngineError {
	return &EngineError{Op: op, Kind: KindUnsupported, Message: message}
}

// NewNumericDomain creates a numeric-domain error.
func NewNumericDomain(op, message string) *EngineError {
	return &EngineError{Op: op, Kind: KindNumericDomain, Message: message}
}

// NewChunkFailed wraps an error raised while evaluating partition part.
func NewChunkFailed(op string, part int, cause error) *EngineError {
	return &EngineError{
		Op:      op,
		Kind:    KindChunkFailed,
		Message: fmt.Sprintf("chunk %d failed", part),
		Cause:   cause,
	}
}

// NewInvalidInput creates an invalid-input error.
func NewInvalidInput(op, message string) *EngineError {
	return &EngineError{Op: op, Kind: KindInvalidInput, Message: message}
}

// IsKind reports whether err or any error in its chain is an EngineError of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind == kind
	}
	return false
}
