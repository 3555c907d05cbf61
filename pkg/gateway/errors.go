// Package gateway provides standardized error types for storage operations.
package gateway

import (
	"errors"
	"fmt"
)

// Standard gateway error types that all implementations should use.
var (
	// ErrNotFound indicates no row matched the given query or reference.
	ErrNotFound = errors.New("row not found")

	// ErrConflict indicates a write violated a uniqueness constraint.
	ErrConflict = errors.New("write conflicts with an existing row")

	// ErrPermissionDenied indicates the caller's tenant scope does not cover
	// the referenced row.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTransient indicates the store was unreachable or temporarily
	// unavailable. Distinguished from ErrConflict so compensation can decide
	// whether to retry or abandon.
	ErrTransient = errors.New("transient storage failure")
)

// GatewayError wraps storage errors with operation context.
type GatewayError struct {
	Op     string // Operation being performed (e.g., "Read", "Write", "Delete")
	Entity string // Entity the operation targeted
	Err    error  // Underlying error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s operation failed for entity %s: %v", e.Op, e.Entity, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewGatewayError creates a new gateway error with context.
func NewGatewayError(op, entity string, err error) *GatewayError {
	return &GatewayError{
		Op:     op,
		Entity: entity,
		Err:    err,
	}
}

// BatchError reports which input row a batch write failed on. The batch as a
// whole is not applied when a BatchError is returned.
type BatchError struct {
	Entity string
	Index  int // index into the input row order
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch write failed for entity %s at index %d: %v", e.Entity, e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

func (e *BatchError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound checks if an error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error indicates a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsPermissionDenied checks if an error indicates a tenant scope violation.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsTransient checks if an error indicates a retryable storage failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
