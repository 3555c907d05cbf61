// Package models defines the core domain models for multi-step write workflows.
package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkUnitStatus represents the lifecycle state of a work unit.
type WorkUnitStatus string

const (
	// WorkUnitStatusPending is the initial state before any write has run.
	WorkUnitStatusPending WorkUnitStatus = "pending"

	// WorkUnitStatusPrimaryCommitted means the primary write succeeded and
	// dependent writes are in flight.
	WorkUnitStatusPrimaryCommitted WorkUnitStatus = "primary_committed"

	// WorkUnitStatusCommitted means the primary write and every mandatory
	// dependent write succeeded.
	WorkUnitStatusCommitted WorkUnitStatus = "committed"

	// WorkUnitStatusPartiallyCommitted means the primary write succeeded but
	// at least one optional dependent write failed.
	WorkUnitStatusPartiallyCommitted WorkUnitStatus = "partially_committed"

	// WorkUnitStatusRolledBack means a mandatory dependent write failed and
	// the primary write was successfully compensated.
	WorkUnitStatusRolledBack WorkUnitStatus = "rolled_back"

	// WorkUnitStatusFailedCompensation means compensation itself failed,
	// leaving an orphaned primary entity that requires manual cleanup.
	WorkUnitStatusFailedCompensation WorkUnitStatus = "failed_compensation"

	// WorkUnitStatusFailed means the unit failed before any write committed.
	WorkUnitStatusFailed WorkUnitStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s WorkUnitStatus) Terminal() bool {
	switch s {
	case WorkUnitStatusCommitted,
		WorkUnitStatusPartiallyCommitted,
		WorkUnitStatusRolledBack,
		WorkUnitStatusFailedCompensation,
		WorkUnitStatusFailed:
		return true
	case WorkUnitStatusPending, WorkUnitStatusPrimaryCommitted:
		return false
	}

	return false
}

// allowed transitions for the compensation state machine.
var workUnitTransitions = map[WorkUnitStatus][]WorkUnitStatus{
	WorkUnitStatusPending: {
		WorkUnitStatusPrimaryCommitted,
		WorkUnitStatusFailed,
	},
	WorkUnitStatusPrimaryCommitted: {
		WorkUnitStatusCommitted,
		WorkUnitStatusPartiallyCommitted,
		WorkUnitStatusRolledBack,
		WorkUnitStatusFailedCompensation,
	},
}

// CanTransition reports whether a work unit may move between two states.
func CanTransition(from, to WorkUnitStatus) bool {
	for _, allowed := range workUnitTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// EntityRef identifies a stored entity by type and id.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// WorkUnit is the in-memory representation of one multi-step write operation.
// It lives for the duration of a single request and is never persisted.
type WorkUnit struct {
	CorrelationID string                  `json:"correlation_id"`
	TenantID      string                  `json:"tenant_id"`
	Status        WorkUnitStatus          `json:"status"`
	Primary       *EntityRef              `json:"primary,omitempty"`
	Dependents    []DependentWriteResult  `json:"dependents,omitempty"`
	Compensation  *CompensationRecord     `json:"compensation,omitempty"`
	StartedAt     time.Time               `json:"started_at"`
	FinishedAt    *time.Time              `json:"finished_at,omitempty"`
}

// NewWorkUnit creates a pending work unit with a fresh correlation id.
func NewWorkUnit(tenantID string) *WorkUnit {
	return &WorkUnit{
		CorrelationID: uuid.New().String(),
		TenantID:      tenantID,
		Status:        WorkUnitStatusPending,
		StartedAt:     time.Now().UTC(),
	}
}

// Transition moves the work unit to a new status, enforcing the state machine.
func (w *WorkUnit) Transition(to WorkUnitStatus) error {
	if !CanTransition(w.Status, to) {
		return &InvalidTransitionError{From: w.Status, To: to}
	}

	w.Status = to

	if to.Terminal() {
		now := time.Now().UTC()
		w.FinishedAt = &now
	}

	return nil
}

// InvalidTransitionError reports an attempted illegal state change.
type InvalidTransitionError struct {
	From WorkUnitStatus
	To   WorkUnitStatus
}

func (e *InvalidTransitionError) Error() string {
	return "invalid work unit transition from " + string(e.From) + " to " + string(e.To)
}

// DependentWriteResult records the outcome of a single dependent fan-out.
type DependentWriteResult struct {
	Name        string `json:"name"`
	Mandatory   bool   `json:"mandatory"`
	Attempted   int    `json:"attempted"`
	Succeeded   int    `json:"succeeded"`
	FailedIndex int    `json:"failed_index"` // index into the input row order, -1 when none failed
	Error       string `json:"error,omitempty"`
}

// CompensationRecord describes the rollback action taken after a mandatory
// dependent write failed. Compensation can itself fail, which must be
// surfaced, never swallowed.
type CompensationRecord struct {
	Action    string      `json:"action"`
	Targets   []EntityRef `json:"targets"`
	Succeeded bool        `json:"succeeded"`
	Error     string      `json:"error,omitempty"`
}

// PreconditionKind orders precondition checks from cheapest to most specific.
type PreconditionKind string

const (
	PreconditionKindShape     PreconditionKind = "shape"
	PreconditionKindExistence PreconditionKind = "existence"
	PreconditionKindOwnership PreconditionKind = "ownership"
	PreconditionKindState     PreconditionKind = "state"
)

// Rank returns the evaluation order for a precondition kind. Lower runs first.
func (k PreconditionKind) Rank() int {
	switch k {
	case PreconditionKindShape:
		return 0
	case PreconditionKindExistence:
		return 1
	case PreconditionKindOwnership:
		return 2
	case PreconditionKindState:
		return 3
	}

	return 4
}

// PreconditionCheck is the recorded outcome of a single precondition.
type PreconditionCheck struct {
	Name   string           `json:"name"`
	Kind   PreconditionKind `json:"kind"`
	Passed bool             `json:"passed"`
	Reason string           `json:"reason,omitempty"`
}

// PreconditionResult collects check outcomes. Evaluation short-circuits, so
// the last entry is the first (and only) failing check when Failed is set.
type PreconditionResult struct {
	Checks []PreconditionCheck `json:"checks"`
}

// Failed returns the failing check, or nil if every recorded check passed.
func (r *PreconditionResult) Failed() *PreconditionCheck {
	for i := range r.Checks {
		if !r.Checks[i].Passed {
			return &r.Checks[i]
		}
	}

	return nil
}
