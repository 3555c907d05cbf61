// Package events defines event types and structures for work unit lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/marzen/tandem/pkg/models"
)

type EventType string

// Kafka topics.
const WorkUnitTopic = "tandem.workunits"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Work unit terminal events.
	WorkUnitCommittedEvent          EventType = "workunit.committed"
	WorkUnitPartiallyCommittedEvent EventType = "workunit.partially_committed"
	WorkUnitRolledBackEvent         EventType = "workunit.rolled_back"
	WorkUnitCompensationFailedEvent EventType = "workunit.compensation_failed"
	WorkUnitFailedEvent             EventType = "workunit.failed"
)

type BaseEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	TenantID      string         `json:"tenant_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// WorkUnitFinished is published for every terminal work unit state. The
// compensation-failed variant is the alertable signal for orphaned primary
// entities: consumers must never drop it.
type WorkUnitFinished struct {
	BaseEvent

	Status          models.WorkUnitStatus         `json:"status"`
	Primary         *models.EntityRef             `json:"primary,omitempty"`
	Dependents      []models.DependentWriteResult `json:"dependents,omitempty"`
	Compensation    *models.CompensationRecord    `json:"compensation,omitempty"`
	Warnings        []string                      `json:"warnings,omitempty"`
	FailureStage    string                        `json:"failure_stage,omitempty"`
	FailureReason   string                        `json:"failure_reason,omitempty"`
	ManualCleanup   bool                          `json:"manual_cleanup_required"`
}

func (e WorkUnitFinished) GetType() EventType {
	return e.Type
}

// NewWorkUnitFinished builds the terminal event for a finished work unit.
// For units that ended short of a full commit, failureStage and failureReason
// tell consumers which step failed and why.
func NewWorkUnitFinished(wu *models.WorkUnit, failureStage, failureReason string, warnings []string) *WorkUnitFinished {
	event := &WorkUnitFinished{
		BaseEvent: BaseEvent{
			ID:            uuid.New().String(),
			Type:          eventTypeFor(wu.Status),
			Timestamp:     time.Now().UTC(),
			CorrelationID: wu.CorrelationID,
			TenantID:      wu.TenantID,
		},
		Status:        wu.Status,
		Primary:       wu.Primary,
		Dependents:    wu.Dependents,
		Compensation:  wu.Compensation,
		Warnings:      warnings,
		FailureStage:  failureStage,
		FailureReason: failureReason,
	}

	if wu.Status == models.WorkUnitStatusFailedCompensation {
		event.ManualCleanup = true
	}

	return event
}

func eventTypeFor(status models.WorkUnitStatus) EventType {
	switch status {
	case models.WorkUnitStatusCommitted:
		return WorkUnitCommittedEvent
	case models.WorkUnitStatusPartiallyCommitted:
		return WorkUnitPartiallyCommittedEvent
	case models.WorkUnitStatusRolledBack:
		return WorkUnitRolledBackEvent
	case models.WorkUnitStatusFailedCompensation:
		return WorkUnitCompensationFailedEvent
	default:
		return WorkUnitFailedEvent
	}
}
