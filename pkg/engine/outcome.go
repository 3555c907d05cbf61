package engine

import (
	"errors"

	"github.com/marzen/tandem/pkg/models"
)

// Stage identifies which part of the work unit an error came from.
type Stage string

const (
	StageValidation     Stage = "validation"
	StagePreconditions  Stage = "preconditions"
	StagePrimaryWrite   Stage = "primary_write"
	StageDependentWrite Stage = "dependent_write"
	StageCompensation   Stage = "compensation"
)

// OutcomeError describes a failure in terms callers can branch on.
type OutcomeError struct {
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// Outcome is the response contract for a finished work unit. Callers branch
// on Status, not on transport-level codes, to distinguish full success,
// success with caveats, and failure.
type Outcome struct {
	Status                models.WorkUnitStatus         `json:"status"`
	CorrelationID         string                        `json:"correlation_id"`
	Primary               *models.EntityRef             `json:"primary,omitempty"`
	Dependents            []models.DependentWriteResult `json:"dependents,omitempty"`
	Warnings              []string                      `json:"warnings,omitempty"`
	Error                 *OutcomeError                 `json:"error,omitempty"`
	ManualCleanupRequired bool                          `json:"manual_cleanup_required,omitempty"`
}

// report maps a terminal work unit to its outcome. The primary entity is
// only exposed for states in which it durably exists, except the
// failed-compensation case where the orphaned reference is reported so
// operators can intervene.
func report(wu *models.WorkUnit, warnings []string, stage Stage, reason error) *Outcome {
	outcome := &Outcome{
		Status:        wu.Status,
		CorrelationID: wu.CorrelationID,
		Dependents:    wu.Dependents,
		Warnings:      warnings,
	}

	switch wu.Status {
	case models.WorkUnitStatusCommitted, models.WorkUnitStatusPartiallyCommitted:
		outcome.Primary = wu.Primary
	case models.WorkUnitStatusFailedCompensation:
		outcome.Primary = wu.Primary
		outcome.ManualCleanupRequired = true
	case models.WorkUnitStatusRolledBack, models.WorkUnitStatusFailed:
		// primary entity is absent from storage, do not report it
	}

	if reason != nil {
		outcome.Error = &OutcomeError{Stage: stage, Reason: reasonCode(reason)}
	}

	return outcome
}

// reasonCode reduces an error to a stable, machine-readable reason. Typed
// precondition errors surface their check reason verbatim (e.g.
// "not_significant").
func reasonCode(err error) string {
	var preconditionErr *PreconditionError
	if errors.As(err, &preconditionErr) && preconditionErr.Check.Reason != "" {
		return preconditionErr.Check.Reason
	}

	switch {
	case IsAlreadyExists(err):
		return "already_exists"
	case IsCompensationFailed(err):
		return "compensation_failed"
	default:
		return err.Error()
	}
}
