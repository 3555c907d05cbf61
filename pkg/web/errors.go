package web

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/marzen/tandem/pkg/claims"
	"github.com/marzen/tandem/pkg/engine"
	"github.com/marzen/tandem/pkg/models"
	"github.com/marzen/tandem/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(http.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(http.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(http.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps service errors that carry no work unit outcome,
// the request-level validation and claim errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsNotFoundError(err):
		return notFound(c, err.Error())

	case services.IsPermissionError(err):
		problem := problems.NewStatusProblem(http.StatusForbidden).
			WithInstance(c.Path()).
			WithType("permission_denied").
			WithDetail(err.Error())

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(http.StatusConflict).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case claims.IsNotHeld(err):
		return claimConflict(c, err)

	default:
		return internalError(c, err)
	}
}

func claimConflict(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(http.StatusConflict).
		WithInstance(c.Path()).
		WithType("claim_conflict").
		WithDetail(err.Error())

	return c.Status(fiber.StatusConflict).JSON(problem)
}

// respondOutcome writes a finished work unit. The outcome body is the
// contract; the HTTP status is derived from it so callers that only look at
// the code still get the right category.
func respondOutcome(c fiber.Ctx, outcome *engine.Outcome, err error) error {
	return c.Status(outcomeStatusCode(outcome, err)).JSON(outcome)
}

func outcomeStatusCode(outcome *engine.Outcome, err error) int {
	switch outcome.Status {
	case models.WorkUnitStatusCommitted, models.WorkUnitStatusPartiallyCommitted:
		return fiber.StatusCreated

	case models.WorkUnitStatusRolledBack, models.WorkUnitStatusFailedCompensation:
		return fiber.StatusInternalServerError

	case models.WorkUnitStatusFailed:
		switch {
		case engine.IsAlreadyExists(err):
			return fiber.StatusConflict
		case engine.IsPreconditionFailed(err):
			return preconditionStatusCode(outcome)
		case services.IsValidationError(err):
			return fiber.StatusBadRequest
		default:
			return fiber.StatusInternalServerError
		}

	default:
		return fiber.StatusInternalServerError
	}
}

func preconditionStatusCode(outcome *engine.Outcome) int {
	if outcome.Error == nil {
		return fiber.StatusUnprocessableEntity
	}

	switch outcome.Error.Reason {
	case "not_found":
		return fiber.StatusNotFound
	case "cross_tenant_reference":
		return fiber.StatusForbidden
	default:
		return fiber.StatusUnprocessableEntity
	}
}
