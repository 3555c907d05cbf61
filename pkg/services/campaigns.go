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

// Campaigns assigns recipient lists to outreach campaigns.
type Campaigns struct {
	runner
}

// NewCampaigns creates a new campaigns service.
func NewCampaigns(g gateway.Gateway, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...engine.Option) *Campaigns {
	return &Campaigns{runner: newRunner(g, publisher, logger, opts...)}
}

// AssignContactListRequest names the campaign and the recipients to attach.
// Leads are resolved to their linked customer before any write runs.
type AssignContactListRequest struct {
	TenantID    string   `json:"tenant_id"    validate:"required"`
	CampaignID  string   `json:"campaign_id"  validate:"required"`
	ListName    string   `json:"list_name"    validate:"required"`
	Description string   `json:"description"`
	CustomerIDs []string `json:"customer_ids"`
	LeadIDs     []string `json:"lead_ids"`
}

// AssignContactList creates a named contact list on a campaign and fans out
// one member row per recipient. The member rows are mandatory: if any of
// them cannot be written the list itself is rolled back.
func (c *Campaigns) AssignContactList(ctx context.Context, req AssignContactListRequest) (*engine.Outcome, error) {
	if err := c.validateAssignRequest(req); err != nil {
		return nil, err
	}

	customerIDs, err := c.resolveRecipients(ctx, req)
	if err != nil {
		return nil, err
	}

	plan := engine.Plan{
		TenantID: req.TenantID,
		Preconditions: []engine.Precondition{
			c.requireExists("campaign exists", "campaigns", req.CampaignID),
			c.requireOwned("campaign ownership", "campaigns", req.CampaignID, req.TenantID),
			c.requireState("campaign not running", "campaigns", req.CampaignID, "status", "draft", "scheduled"),
		},
		Primary: models.WriteSpec{
			Entity: "campaign_contact_lists",
			Fields: map[string]any{
				"campaign_id": req.CampaignID,
				"name":        req.ListName,
				"description": req.Description,
				"size":        float64(len(customerIDs)),
			},
			Schema: []models.FieldSpec{
				{Name: "campaign_id", Type: models.FieldTypeString, Required: true},
				{Name: "name", Type: models.FieldTypeString, Required: true},
				{Name: "size", Type: models.FieldTypeNumber, Required: true},
			},
		},
		Dependents: []engine.DependentWrite{
			{
				Name:      "members",
				Entity:    "campaign_contact_members",
				Mandatory: true,
				Rows: func(primary models.EntityRef) []map[string]any {
					rows := make([]map[string]any, 0, len(customerIDs))
					for position, customerID := range customerIDs {
						rows = append(rows, map[string]any{
							"list_id":     primary.ID,
							"customer_id": customerID,
							"position":    float64(position),
						})
					}

					return rows
				},
			},
		},
	}

	return c.run(ctx, plan)
}

func (c *Campaigns) validateAssignRequest(req AssignContactListRequest) error {
	if req.TenantID == "" {
		return ErrEmptyTenantID
	}

	if req.CampaignID == "" {
		return ErrCampaignRequired
	}

	if req.ListName == "" {
		return ErrListNameRequired
	}

	if len(req.CustomerIDs)+len(req.LeadIDs) == 0 {
		return ErrNoRecipients
	}

	return nil
}

// resolveRecipients folds leads into their linked customers and drops
// duplicate recipients while keeping input order.
func (c *Campaigns) resolveRecipients(ctx context.Context, req AssignContactListRequest) ([]string, error) {
	scoped := c.scoped(req.TenantID)

	resolved := make([]string, 0, len(req.CustomerIDs)+len(req.LeadIDs))
	seen := make(map[string]bool, len(req.CustomerIDs)+len(req.LeadIDs))

	for _, customerID := range req.CustomerIDs {
		if !seen[customerID] {
			seen[customerID] = true

			resolved = append(resolved, customerID)
		}
	}

	for _, leadID := range req.LeadIDs {
		lead, err := gateway.ReadOne(ctx, scoped, gateway.Query{
			Entity: "leads",
			Filter: map[string]any{"id": leadID},
		})
		if err != nil {
			if gateway.IsNotFound(err) {
				return nil, fmt.Errorf("lead %s: %w", leadID, ErrUnknownLead)
			}

			return nil, fmt.Errorf("failed to resolve lead %s: %w", leadID, err)
		}

		customerID, ok := lead["customer_id"].(string)
		if !ok || customerID == "" {
			return nil, fmt.Errorf("lead %s: %w", leadID, ErrLeadNotConverted)
		}

		if !seen[customerID] {
			seen[customerID] = true

			resolved = append(resolved, customerID)
		}
	}

	return resolved, nil
}
