// Package claims provides time-bounded advisory claims over shared
// resources, such as "one in-progress review per ticket". A claim is not a
// lock: holders must renew via heartbeat before expiry, and everyone treats
// an expired claim as released.
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marzen/tandem/pkg/models"
)

// Standard claim error types that all implementations should use.
var (
	// ErrClaimHeld indicates another holder has a live claim on the resource.
	ErrClaimHeld = errors.New("resource is claimed by another holder")

	// ErrClaimNotHeld indicates the caller does not hold a live claim, so it
	// cannot be renewed or released.
	ErrClaimNotHeld = errors.New("claim not held")

	// ErrClaimNotFound indicates no claim exists for the resource.
	ErrClaimNotFound = errors.New("claim not found")
)

// ClaimError wraps claim errors with resource context.
type ClaimError struct {
	Op       string
	Resource string
	Err      error
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("%s operation failed for resource %s: %v", e.Op, e.Resource, e.Err)
}

func (e *ClaimError) Unwrap() error {
	return e.Err
}

func (e *ClaimError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewClaimError creates a new claim error with context.
func NewClaimError(op, resource string, err error) *ClaimError {
	return &ClaimError{Op: op, Resource: resource, Err: err}
}

// IsHeld checks if an error indicates the resource is claimed by someone else.
func IsHeld(err error) bool {
	return errors.Is(err, ErrClaimHeld)
}

// IsNotHeld checks if an error indicates the caller holds no live claim.
func IsNotHeld(err error) bool {
	return errors.Is(err, ErrClaimNotHeld)
}

// IsNotFound checks if an error indicates no claim exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClaimNotFound)
}

// Store manages advisory claims.
type Store interface {
	// Acquire takes a claim on the resource for the holder. An expired claim
	// counts as released and can be taken over; a live claim by another
	// holder returns ErrClaimHeld. Re-acquiring one's own live claim renews
	// it.
	Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (*models.Claim, error)

	// Renew extends a live claim held by holder. Returns ErrClaimNotHeld if
	// the claim has expired or belongs to someone else.
	Renew(ctx context.Context, resource, holder string, ttl time.Duration) (*models.Claim, error)

	// Release drops a live claim held by holder. Releasing an expired or
	// foreign claim returns ErrClaimNotHeld.
	Release(ctx context.Context, resource, holder string) error

	// Get returns the live claim on a resource, or ErrClaimNotFound.
	Get(ctx context.Context, resource string) (*models.Claim, error)

	Close() error
}
