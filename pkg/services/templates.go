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

// Templates imports service templates together with their task checklists.
type Templates struct {
	runner
}

// NewTemplates creates a new templates service.
func NewTemplates(g gateway.Gateway, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...engine.Option) *Templates {
	return &Templates{runner: newRunner(g, publisher, logger, opts...)}
}

// ImportTemplateRequest clones a source template under a new name.
type ImportTemplateRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	SourceID string `json:"source_id" validate:"required"`
	Name     string `json:"name"      validate:"required"`
}

// Import copies a source template and every one of its task rows into a new
// template. Task rows are mandatory: a template without its checklist is
// useless, so any task write failure rolls the import back.
func (t *Templates) Import(ctx context.Context, req ImportTemplateRequest) (*engine.Outcome, error) {
	if err := t.validateImportRequest(req); err != nil {
		return nil, err
	}

	scoped := t.scoped(req.TenantID)

	source, err := gateway.ReadOne(ctx, scoped, gateway.Query{
		Entity: "templates",
		Filter: map[string]any{"id": req.SourceID},
	})
	if err != nil && !gateway.IsNotFound(err) {
		return nil, fmt.Errorf("failed to read source template: %w", err)
	}

	// A missing or foreign source falls through to the preconditions so
	// the failure is reported with the right reason.
	tasks, err := t.sourceTasks(ctx, scoped, req.SourceID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"name":      req.Name,
		"source_id": req.SourceID,
	}
	for _, copied := range []string{"category", "subject", "body"} {
		if value, ok := source[copied]; ok {
			fields[copied] = value
		}
	}

	plan := engine.Plan{
		TenantID: req.TenantID,
		Preconditions: []engine.Precondition{
			t.requireExists("source exists", "templates", req.SourceID),
			t.requireOwned("source ownership", "templates", req.SourceID, req.TenantID),
			t.requireState("source active", "templates", req.SourceID, "status", "active"),
		},
		Primary: models.WriteSpec{
			Entity: "templates",
			Fields: fields,
			Schema: []models.FieldSpec{
				{Name: "name", Type: models.FieldTypeString, Required: true},
				{Name: "source_id", Type: models.FieldTypeString, Required: true},
			},
		},
		Dependents: []engine.DependentWrite{
			{
				Name:      "tasks",
				Entity:    "template_tasks",
				Mandatory: true,
				Rows: func(primary models.EntityRef) []map[string]any {
					rows := make([]map[string]any, 0, len(tasks))
					for _, task := range tasks {
						row := map[string]any{"template_id": primary.ID}
						for _, copied := range []string{"name", "offset_days", "position"} {
							if value, ok := task[copied]; ok {
								row[copied] = value
							}
						}

						rows = append(rows, row)
					}

					return rows
				},
			},
		},
	}

	return t.run(ctx, plan)
}

func (t *Templates) validateImportRequest(req ImportTemplateRequest) error {
	if req.TenantID == "" {
		return ErrEmptyTenantID
	}

	if req.SourceID == "" {
		return ErrSourceRequired
	}

	if req.Name == "" {
		return ErrTemplateName
	}

	return nil
}

func (t *Templates) sourceTasks(ctx context.Context, scoped gateway.Gateway, sourceID string) ([]gateway.Row, error) {
	tasks, err := scoped.Read(ctx, gateway.Query{
		Entity: "template_tasks",
		Filter: map[string]any{"template_id": sourceID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read source tasks: %w", err)
	}

	return tasks, nil
}
