package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marzen/tandem/pkg/engine"
	"github.com/marzen/tandem/pkg/eventbus"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/models"
)

// WorkUnits executes caller-described plans. The domain services cover the
// known workflows; this service is the escape hatch for callers that want to
// describe a multi-step write declaratively.
type WorkUnits struct {
	runner
}

// NewWorkUnits creates a new generic work unit service.
func NewWorkUnits(g gateway.Gateway, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...engine.Option) *WorkUnits {
	return &WorkUnits{runner: newRunner(g, publisher, logger, opts...)}
}

// HealthCheck checks the health of the storage gateway.
func (w *WorkUnits) HealthCheck(ctx context.Context) (string, bool) {
	if w.gateway == nil {
		return "Storage gateway not initialized", false
	}

	if err := w.gateway.HealthCheck(ctx); err != nil {
		return "Storage gateway is unhealthy: " + err.Error(), false
	}

	return "Storage gateway is healthy", true
}

// PreconditionSpec is the declarative form of a precondition. Kind selects
// the check: existence and ownership look up Entity/ID, state additionally
// compares Field against Allowed.
type PreconditionSpec struct {
	Name    string `json:"name"    validate:"required"`
	Kind    string `json:"kind"    validate:"required,oneof=existence ownership state"`
	Entity  string `json:"entity"  validate:"required"`
	ID      string `json:"id"      validate:"required"`
	Field   string `json:"field"`
	Allowed []any  `json:"allowed"`
}

// WritePayload is the declarative form of a single write.
type WritePayload struct {
	Entity     string             `json:"entity" validate:"required"`
	Fields     map[string]any     `json:"fields" validate:"required"`
	Schema     []models.FieldSpec `json:"schema"`
	JSONSchema map[string]any     `json:"json_schema"`
}

// DependentPayload is one dependent write: static rows plus the field that
// receives the committed primary's id in every row.
type DependentPayload struct {
	Name      string           `json:"name"      validate:"required"`
	Mandatory bool             `json:"mandatory"`
	Spec      DependentRowSpec `json:"spec"      validate:"required"`
}

// DependentRowSpec carries the rows of a dependent write.
type DependentRowSpec struct {
	Entity    string           `json:"entity"     validate:"required"`
	LinkField string           `json:"link_field" validate:"required"`
	Rows      []map[string]any `json:"rows"`
}

// WorkUnitRequest is the uniform request shape: checks, one primary write,
// and the dependent writes keyed to it.
type WorkUnitRequest struct {
	TenantID        string             `json:"tenant_id"        validate:"required"`
	Preconditions   []PreconditionSpec `json:"preconditions"    validate:"dive"`
	PrimaryWrite    WritePayload       `json:"primary_write"    validate:"required"`
	DependentWrites []DependentPayload `json:"dependent_writes" validate:"dive"`
}

// Execute translates the declarative request into a plan and runs it.
func (w *WorkUnits) Execute(ctx context.Context, req WorkUnitRequest) (*engine.Outcome, error) {
	if req.TenantID == "" {
		return nil, ErrEmptyTenantID
	}

	preconditions := make([]engine.Precondition, 0, len(req.Preconditions))

	for _, spec := range req.Preconditions {
		precondition, err := w.buildPrecondition(spec, req.TenantID)
		if err != nil {
			return nil, err
		}

		preconditions = append(preconditions, precondition)
	}

	dependents := make([]engine.DependentWrite, 0, len(req.DependentWrites))

	for _, payload := range req.DependentWrites {
		dependents = append(dependents, buildDependent(payload))
	}

	plan := engine.Plan{
		TenantID:      req.TenantID,
		Preconditions: preconditions,
		Primary: models.WriteSpec{
			Entity:     req.PrimaryWrite.Entity,
			Fields:     req.PrimaryWrite.Fields,
			Schema:     req.PrimaryWrite.Schema,
			JSONSchema: req.PrimaryWrite.JSONSchema,
		},
		Dependents: dependents,
	}

	return w.run(ctx, plan)
}

func (w *WorkUnits) buildPrecondition(spec PreconditionSpec, tenantID string) (engine.Precondition, error) {
	switch spec.Kind {
	case "existence":
		return w.requireExists(spec.Name, spec.Entity, spec.ID), nil
	case "ownership":
		return w.requireOwned(spec.Name, spec.Entity, spec.ID, tenantID), nil
	case "state":
		if spec.Field == "" || len(spec.Allowed) == 0 {
			return engine.Precondition{}, fmt.Errorf("%w: state precondition %q needs a field and allowed values",
				ErrInvalidPrecondition, spec.Name)
		}

		return w.requireState(spec.Name, spec.Entity, spec.ID, spec.Field, spec.Allowed...), nil
	default:
		return engine.Precondition{}, fmt.Errorf("%w: %q", ErrInvalidPrecondition, spec.Kind)
	}
}

func buildDependent(payload DependentPayload) engine.DependentWrite {
	spec := payload.Spec

	return engine.DependentWrite{
		Name:      payload.Name,
		Entity:    spec.Entity,
		Mandatory: payload.Mandatory,
		Rows: func(primary models.EntityRef) []map[string]any {
			rows := make([]map[string]any, 0, len(spec.Rows))
			for _, template := range spec.Rows {
				row := make(map[string]any, len(template)+1)
				for field, value := range template {
					row[field] = value
				}

				row[spec.LinkField] = primary.ID

				rows = append(rows, row)
			}

			return rows
		},
	}
}
