// Package services provides the business operations exposed by the API,
// each expressed as a work unit plan handed to the engine.
package services

import (
	"errors"
	"fmt"

	"github.com/marzen/tandem/pkg/claims"
	"github.com/marzen/tandem/pkg/engine"
	"github.com/marzen/tandem/pkg/gateway"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrEmptyTenantID     = errors.New("tenant ID cannot be empty")
	ErrCampaignRequired  = errors.New("campaign ID is required")
	ErrListNameRequired  = errors.New("contact list name is required")
	ErrNoRecipients      = errors.New("contact list needs at least one customer or lead")
	ErrUnknownLead       = errors.New("lead does not exist for this tenant")
	ErrLeadNotConverted  = errors.New("lead has no linked customer")
	ErrSourceRequired    = errors.New("source template ID is required")
	ErrTemplateName      = errors.New("template name is required")
	ErrAddOnNameRequired = errors.New("add-on name is required")
	ErrNegativePrice     = errors.New("add-on price cannot be negative")
	ErrTestRequired      = errors.New("test ID is required")
	ErrVariantRequired   = errors.New("variant ID is required")
	ErrTicketRequired    = errors.New("ticket ID is required")
	ErrReviewerRequired  = errors.New("reviewer ID is required")

	// Plan translation errors (400 Bad Request).
	ErrInvalidPrecondition = errors.New("invalid precondition kind")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyTenantID) ||
		errors.Is(err, ErrCampaignRequired) ||
		errors.Is(err, ErrListNameRequired) ||
		errors.Is(err, ErrNoRecipients) ||
		errors.Is(err, ErrUnknownLead) ||
		errors.Is(err, ErrLeadNotConverted) ||
		errors.Is(err, ErrSourceRequired) ||
		errors.Is(err, ErrTemplateName) ||
		errors.Is(err, ErrAddOnNameRequired) ||
		errors.Is(err, ErrNegativePrice) ||
		errors.Is(err, ErrTestRequired) ||
		errors.Is(err, ErrVariantRequired) ||
		errors.Is(err, ErrTicketRequired) ||
		errors.Is(err, ErrReviewerRequired) ||
		errors.Is(err, ErrInvalidPrecondition) ||
		engine.IsValidation(err)
}

// IsConflictError checks if an error is a uniqueness or claim conflict that
// should return HTTP 409.
func IsConflictError(err error) bool {
	return engine.IsAlreadyExists(err) || claims.IsHeld(err)
}

// IsNotFoundError checks if an error refers to a missing resource (HTTP 404).
func IsNotFoundError(err error) bool {
	return gateway.IsNotFound(err) || claims.IsNotFound(err)
}

// IsPermissionError checks if an error is a cross-tenant or tier violation
// (HTTP 403).
func IsPermissionError(err error) bool {
	return gateway.IsPermissionDenied(err)
}
