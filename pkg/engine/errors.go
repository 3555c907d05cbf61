// Package engine provides standardized error types for work unit execution.
package engine

import (
	"errors"
	"fmt"

	"github.com/marzen/tandem/pkg/models"
)

// Standard engine error types. Each maps to a distinct caller-visible
// failure class; CompensationFailed is the one that must never be downgraded.
var (
	// ErrInvalidPlan indicates the plan itself was malformed. Nothing
	// reached storage.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrPreconditionFailed indicates an existence, ownership, or state
	// check failed. Nothing reached a write.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrAlreadyExists indicates the primary write hit a uniqueness
	// constraint. Non-fatal: callers report it as a conflict, not a failure.
	ErrAlreadyExists = errors.New("primary entity already exists")

	// ErrPrimaryWriteFailed indicates the primary write failed for a reason
	// other than uniqueness. Nothing was committed.
	ErrPrimaryWriteFailed = errors.New("primary write failed")

	// ErrDependentWriteFailed indicates a mandatory dependent write failed
	// and the primary write was compensated.
	ErrDependentWriteFailed = errors.New("mandatory dependent write failed")

	// ErrCompensationFailed indicates rollback itself failed, leaving an
	// orphaned primary entity. Requires operator intervention.
	ErrCompensationFailed = errors.New("compensation failed")
)

// PreconditionError carries the failing check.
type PreconditionError struct {
	Check models.PreconditionCheck
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition %q failed: %s", e.Check.Name, e.Check.Reason)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionFailed
}

// DependentWriteError carries which dependent write failed and at which
// input index.
type DependentWriteError struct {
	Name  string
	Index int // index into the dependent's input row order
	Err   error
}

func (e *DependentWriteError) Error() string {
	return fmt.Sprintf("dependent write %q failed at index %d: %v", e.Name, e.Index, e.Err)
}

func (e *DependentWriteError) Unwrap() error {
	return e.Err
}

func (e *DependentWriteError) Is(target error) bool {
	return target == ErrDependentWriteFailed || errors.Is(e.Err, target)
}

// CompensationError carries the orphaned primary entity so operators can
// intervene.
type CompensationError struct {
	Primary models.EntityRef
	Err     error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed, entity %s/%s requires manual cleanup: %v",
		e.Primary.Type, e.Primary.ID, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

func (e *CompensationError) Is(target error) bool {
	return target == ErrCompensationFailed || errors.Is(e.Err, target)
}

// IsValidation checks if an error indicates a malformed plan or write spec.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidPlan) || errors.Is(err, models.ErrInvalidWriteSpec)
}

// IsPreconditionFailed checks if an error indicates a failed precondition.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}

// IsAlreadyExists checks if an error indicates a primary write conflict.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsDependentWriteFailed checks if an error indicates a rolled-back unit.
func IsDependentWriteFailed(err error) bool {
	return errors.Is(err, ErrDependentWriteFailed)
}

// IsCompensationFailed checks if an error indicates an orphaned primary
// entity needing manual cleanup.
func IsCompensationFailed(err error) bool {
	return errors.Is(err, ErrCompensationFailed)
}
