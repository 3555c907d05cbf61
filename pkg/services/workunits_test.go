package services_test

import (
	"testing"

	"github.com/marzen/tandem/pkg/gateway/memory"
	"github.com/marzen/tandem/pkg/models"
	"github.com/marzen/tandem/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkUnits_Execute(t *testing.T) {
	store := memory.NewGateway()
	seedRow(t, store, "routes", map[string]any{
		"id": "route-1", "tenant_id": "tenant-1", "status": "open",
	})

	svc := services.NewWorkUnits(store, &capturingPublisher{}, nil)

	outcome, err := svc.Execute(t.Context(), services.WorkUnitRequest{
		TenantID: "tenant-1",
		Preconditions: []services.PreconditionSpec{
			{Name: "route exists", Kind: "existence", Entity: "routes", ID: "route-1"},
			{Name: "route ownership", Kind: "ownership", Entity: "routes", ID: "route-1"},
			{Name: "route open", Kind: "state", Entity: "routes", ID: "route-1", Field: "status", Allowed: []any{"open"}},
		},
		PrimaryWrite: services.WritePayload{
			Entity: "route_stops",
			Fields: map[string]any{"route_id": "route-1", "address": "12 Elm St"},
			Schema: []models.FieldSpec{
				{Name: "route_id", Type: models.FieldTypeString, Required: true},
				{Name: "address", Type: models.FieldTypeString, Required: true},
			},
		},
		DependentWrites: []services.DependentPayload{
			{
				Name:      "visit_notes",
				Mandatory: true,
				Spec: services.DependentRowSpec{
					Entity:    "visit_notes",
					LinkField: "stop_id",
					Rows: []map[string]any{
						{"note": "gate code 4411"},
						{"note": "beware of dog"},
					},
				},
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Primary)
	assert.Equal(t, models.WorkUnitStatusCommitted, outcome.Status)

	notes := readAll(t, store, "visit_notes", map[string]any{"stop_id": outcome.Primary.ID})
	require.Len(t, notes, 2)
	assert.Equal(t, "tenant-1", notes[0]["tenant_id"])
}

func TestWorkUnits_StatePreconditionBlocks(t *testing.T) {
	store := memory.NewGateway()
	seedRow(t, store, "routes", map[string]any{
		"id": "route-1", "tenant_id": "tenant-1", "status": "closed",
	})

	svc := services.NewWorkUnits(store, &capturingPublisher{}, nil)

	outcome, err := svc.Execute(t.Context(), services.WorkUnitRequest{
		TenantID: "tenant-1",
		Preconditions: []services.PreconditionSpec{
			{Name: "route open", Kind: "state", Entity: "routes", ID: "route-1", Field: "status", Allowed: []any{"open"}},
		},
		PrimaryWrite: services.WritePayload{
			Entity: "route_stops",
			Fields: map[string]any{"route_id": "route-1"},
		},
	})
	require.Error(t, err)
	assert.Equal(t, "status_not_allowed", outcome.Error.Reason)
	assert.Empty(t, readAll(t, store, "route_stops", nil))
}

func TestWorkUnits_UnknownPreconditionKind(t *testing.T) {
	svc := services.NewWorkUnits(memory.NewGateway(), &capturingPublisher{}, nil)

	_, err := svc.Execute(t.Context(), services.WorkUnitRequest{
		TenantID: "tenant-1",
		Preconditions: []services.PreconditionSpec{
			{Name: "impossible", Kind: "quantum", Entity: "routes", ID: "route-1"},
		},
		PrimaryWrite: services.WritePayload{
			Entity: "route_stops",
			Fields: map[string]any{"route_id": "route-1"},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrInvalidPrecondition)
	assert.True(t, services.IsValidationError(err))
}
