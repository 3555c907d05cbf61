package services

import (
	"context"
	"log/slog"

	"github.com/marzen/tandem/pkg/engine"
	"github.com/marzen/tandem/pkg/eventbus"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/models"
)

// AddOns manages the catalog of purchasable service add-ons.
type AddOns struct {
	runner
}

// NewAddOns creates a new add-ons service.
func NewAddOns(g gateway.Gateway, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...engine.Option) *AddOns {
	return &AddOns{runner: newRunner(g, publisher, logger, opts...)}
}

// CreateAddOnRequest describes a new add-on and the plans it is sold with.
type CreateAddOnRequest struct {
	TenantID    string   `json:"tenant_id" validate:"required"`
	Name        string   `json:"name"      validate:"required"`
	Description string   `json:"description"`
	Price       float64  `json:"price"     validate:"min=0"`
	PlanIDs     []string `json:"plan_ids"`
}

// Create writes the add-on and fans out one eligibility row per plan. The
// eligibility rows are optional: the add-on is still usable without them, so
// a failed row downgrades the result to partially committed instead of
// rolling the add-on back.
func (a *AddOns) Create(ctx context.Context, req CreateAddOnRequest) (*engine.Outcome, error) {
	if err := a.validateCreateRequest(req); err != nil {
		return nil, err
	}

	preconditions := make([]engine.Precondition, 0, len(req.PlanIDs))
	for _, planID := range req.PlanIDs {
		preconditions = append(preconditions,
			a.requireExists("plan "+planID+" exists", "plans", planID),
			a.requireOwned("plan "+planID+" ownership", "plans", planID, req.TenantID),
		)
	}

	planIDs := req.PlanIDs

	plan := engine.Plan{
		TenantID:      req.TenantID,
		Preconditions: preconditions,
		Primary: models.WriteSpec{
			Entity: "addons",
			Fields: map[string]any{
				"name":        req.Name,
				"description": req.Description,
				"price":       req.Price,
			},
			Schema: []models.FieldSpec{
				{Name: "name", Type: models.FieldTypeString, Required: true},
				{Name: "price", Type: models.FieldTypeNumber, Required: true},
			},
		},
		Dependents: []engine.DependentWrite{
			{
				Name:      "plan_eligibility",
				Entity:    "addon_plan_eligibility",
				Mandatory: false,
				Rows: func(primary models.EntityRef) []map[string]any {
					rows := make([]map[string]any, 0, len(planIDs))
					for _, planID := range planIDs {
						rows = append(rows, map[string]any{
							"addon_id": primary.ID,
							"plan_id":  planID,
						})
					}

					return rows
				},
			},
		},
	}

	return a.run(ctx, plan)
}

func (a *AddOns) validateCreateRequest(req CreateAddOnRequest) error {
	if req.TenantID == "" {
		return ErrEmptyTenantID
	}

	if req.Name == "" {
		return ErrAddOnNameRequired
	}

	if req.Price < 0 {
		return ErrNegativePrice
	}

	return nil
}
