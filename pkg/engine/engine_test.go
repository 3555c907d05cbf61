package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/marzen/tandem/pkg/engine"
	"github.com/marzen/tandem/pkg/eventbus"
	"github.com/marzen/tandem/pkg/events"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/gateway/memory"
	"github.com/marzen/tandem/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturingPublisher records published events for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturingPublisher) last(t *testing.T) *events.WorkUnitFinished {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	require.NotEmpty(t, p.events)

	finished, ok := p.events[len(p.events)-1].(*events.WorkUnitFinished)
	require.True(t, ok)

	return finished
}

func assignContactListPlan(memberIDs []string) engine.Plan {
	return engine.Plan{
		TenantID: "tenant-1",
		Primary: models.WriteSpec{
			Entity: "campaign_contact_lists",
			Fields: map[string]any{
				"campaign_id": "camp-1",
				"list_name":   "VIP customers",
			},
			Schema: []models.FieldSpec{
				{Name: "campaign_id", Type: models.FieldTypeString, Required: true},
				{Name: "list_name", Type: models.FieldTypeString, Required: true},
			},
		},
		Dependents: []engine.DependentWrite{
			{
				Name:      "members",
				Entity:    "campaign_contact_list_members",
				Mandatory: true,
				Rows: func(primary models.EntityRef) []map[string]any {
					rows := make([]map[string]any, 0, len(memberIDs))
					for _, id := range memberIDs {
						rows = append(rows, map[string]any{
							"contact_list_id": primary.ID,
							"customer_id":     id,
							"status":          "pending",
						})
					}

					return rows
				},
			},
		},
	}
}

func TestEngine_CommitWithFanOut(t *testing.T) {
	g := memory.NewGateway()
	publisher := &capturingPublisher{}
	e := engine.New(g, engine.WithPublisher(publisher))

	outcome, err := e.Run(t.Context(), assignContactListPlan([]string{"c-1", "c-2", "c-3"}))
	require.NoError(t, err)
	require.NotNil(t, outcome)

	assert.Equal(t, models.WorkUnitStatusCommitted, outcome.Status)
	require.NotNil(t, outcome.Primary)
	assert.Equal(t, "campaign_contact_lists", outcome.Primary.Type)
	assert.Empty(t, outcome.Warnings)

	members, err := g.Read(t.Context(), gateway.Query{
		Entity: "campaign_contact_list_members",
		Filter: map[string]any{"contact_list_id": outcome.Primary.ID},
	})
	require.NoError(t, err)
	assert.Len(t, members, 3)

	event := publisher.last(t)
	assert.Equal(t, events.WorkUnitCommittedEvent, event.Type)
	assert.False(t, event.ManualCleanup)
}

func TestEngine_FanOutHonorsBatchSize(t *testing.T) {
	g := memory.NewGateway()
	e := engine.New(g, engine.WithBatchSize(2))

	outcome, err := e.Run(t.Context(), assignContactListPlan([]string{"c-1", "c-2", "c-3", "c-4", "c-5"}))
	require.NoError(t, err)
	assert.Equal(t, models.WorkUnitStatusCommitted, outcome.Status)

	require.Len(t, outcome.Dependents, 1)
	assert.Equal(t, 5, outcome.Dependents[0].Attempted)
	assert.Equal(t, 5, outcome.Dependents[0].Succeeded)

	members, err := g.Read(t.Context(), gateway.Query{
		Entity: "campaign_contact_list_members",
		Filter: map[string]any{"contact_list_id": outcome.Primary.ID},
	})
	require.NoError(t, err)
	assert.Len(t, members, 5)
}

func TestEngine_DuplicatePrimaryIsConflict(t *testing.T) {
	g := memory.NewGateway()
	g.AddUniqueConstraint("campaign_contact_lists", "campaign_id", "list_name")
	e := engine.New(g)

	first, err := e.Run(t.Context(), assignContactListPlan([]string{"c-1"}))
	require.NoError(t, err)
	assert.Equal(t, models.WorkUnitStatusCommitted, first.Status)

	second, err := e.Run(t.Context(), assignContactListPlan([]string{"c-1"}))
	require.Error(t, err)
	assert.True(t, engine.IsAlreadyExists(err))
	assert.Equal(t, models.WorkUnitStatusFailed, second.Status)
	require.NotNil(t, second.Error)
	assert.Equal(t, engine.StagePrimaryWrite, second.Error.Stage)
	assert.Equal(t, "already_exists", second.Error.Reason)

	// storage contains exactly one primary entity
	lists, err := g.Read(t.Context(), gateway.Query{Entity: "campaign_contact_lists"})
	require.NoError(t, err)
	assert.Len(t, lists, 1)
}

func TestEngine_MandatoryDependentFailureRollsBack(t *testing.T) {
	g := memory.NewGateway()
	g.AddUniqueConstraint("template_tasks", "template_id", "position")
	publisher := &capturingPublisher{}
	e := engine.New(g, engine.WithPublisher(publisher))

	plan := engine.Plan{
		TenantID: "tenant-1",
		Primary: models.WriteSpec{
			Entity: "templates",
			Fields: map[string]any{"name": "Quarterly inspection"},
		},
		Dependents: []engine.DependentWrite{
			{
				Name:      "tasks",
				Entity:    "template_tasks",
				Mandatory: true,
				Rows: func(primary models.EntityRef) []map[string]any {
					return []map[string]any{
						{"template_id": primary.ID, "position": 1},
						{"template_id": primary.ID, "position": 1}, // violates uniqueness
					}
				},
			},
		},
	}

	outcome, err := e.Run(t.Context(), plan)
	require.Error(t, err)
	assert.True(t, engine.IsDependentWriteFailed(err))

	assert.Equal(t, models.WorkUnitStatusRolledBack, outcome.Status)
	assert.Nil(t, outcome.Primary)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, engine.StageDependentWrite, outcome.Error.Stage)

	// template row is absent from storage
	rows, err := g.Read(t.Context(), gateway.Query{Entity: "templates"})
	require.NoError(t, err)
	assert.Empty(t, rows)

	// no orphaned task rows either
	tasks, err := g.Read(t.Context(), gateway.Query{Entity: "template_tasks"})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	event := publisher.last(t)
	assert.Equal(t, events.WorkUnitRolledBackEvent, event.Type)
	assert.Equal(t, string(engine.StageDependentWrite), event.FailureStage)
	assert.NotEmpty(t, event.FailureReason)
}

func TestEngine_FailingIndexMatchesInputOrder(t *testing.T) {
	g := memory.NewGateway()
	g.AddUniqueConstraint("members", "customer_id")
	e := engine.New(g)

	plan := engine.Plan{
		TenantID: "tenant-1",
		Primary: models.WriteSpec{
			Entity: "lists",
			Fields: map[string]any{"name": "ordered"},
		},
		Dependents: []engine.DependentWrite{
			{
				Name:      "members",
				Entity:    "members",
				Mandatory: true,
				Rows: func(models.EntityRef) []map[string]any {
					return []map[string]any{
						{"customer_id": "a"},
						{"customer_id": "b"},
						{"customer_id": "c"},
						{"customer_id": "b"}, // duplicate of index 1
					}
				},
			},
		},
	}

	outcome, err := e.Run(t.Context(), plan)
	require.Error(t, err)

	var depErr *engine.DependentWriteError

	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, 3, depErr.Index)

	require.Len(t, outcome.Dependents, 1)
	assert.Equal(t, 3, outcome.Dependents[0].FailedIndex)
}

func TestEngine_OptionalDependentFailureIsPartialCommit(t *testing.T) {
	g := memory.NewGateway()
	g.AddUniqueConstraint("plan_eligibility", "addon_id", "plan_id")
	publisher := &capturingPublisher{}
	e := engine.New(g, engine.WithPublisher(publisher))

	plan := engine.Plan{
		TenantID: "tenant-1",
		Primary: models.WriteSpec{
			Entity: "addon_services",
			Fields: map[string]any{"name": "Termite shield"},
		},
		Dependents: []engine.DependentWrite{
			{
				Name:      "eligibility",
				Entity:    "plan_eligibility",
				Mandatory: false,
				Rows: func(primary models.EntityRef) []map[string]any {
					return []map[string]any{
						{"addon_id": primary.ID, "plan_id": "basic"},
						{"addon_id": primary.ID, "plan_id": "basic"}, // duplicate
					}
				},
			},
		},
	}

	outcome, err := e.Run(t.Context(), plan)
	require.NoError(t, err, "optional dependent failure must not fail the unit")

	assert.Equal(t, models.WorkUnitStatusPartiallyCommitted, outcome.Status)
	require.NotNil(t, outcome.Primary)
	assert.NotEmpty(t, outcome.Warnings)

	// the primary entity IS present in storage
	rows, err := g.Read(t.Context(), gateway.Query{Entity: "addon_services"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	event := publisher.last(t)
	assert.Equal(t, events.WorkUnitPartiallyCommittedEvent, event.Type)
	assert.Equal(t, outcome.Warnings, event.Warnings)
}

func TestEngine_CompensationFailureIsNeverSilent(t *testing.T) {
	g := memory.NewGateway()
	g.AddUniqueConstraint("members", "customer_id")
	publisher := &capturingPublisher{}
	e := engine.New(g, engine.WithPublisher(publisher))

	plan := engine.Plan{
		TenantID: "tenant-1",
		Primary: models.WriteSpec{
			Entity: "lists",
			Fields: map[string]any{"name": "doomed"},
		},
		Dependents: []engine.DependentWrite{
			{
				Name:      "members",
				Entity:    "members",
				Mandatory: true,
				Rows: func(primary models.EntityRef) []map[string]any {
					return []map[string]any{
						{"list_id": primary.ID, "customer_id": "a"},
						{"list_id": primary.ID, "customer_id": "a"},
					}
				},
			},
		},
	}

	// the rollback delete of the primary entity will fail
	g.FailNext("Delete", "lists", gateway.ErrTransient)

	outcome, err := e.Run(t.Context(), plan)
	require.Error(t, err)
	assert.True(t, engine.IsCompensationFailed(err))
	assert.False(t, engine.IsDependentWriteFailed(err) && !engine.IsCompensationFailed(err))

	assert.Equal(t, models.WorkUnitStatusFailedCompensation, outcome.Status)
	assert.True(t, outcome.ManualCleanupRequired)
	require.NotNil(t, outcome.Primary, "orphaned primary must be reported for cleanup")
	require.NotNil(t, outcome.Error)
	assert.Equal(t, engine.StageCompensation, outcome.Error.Stage)
	assert.Equal(t, "compensation_failed", outcome.Error.Reason)

	event := publisher.last(t)
	assert.Equal(t, events.WorkUnitCompensationFailedEvent, event.Type)
	assert.True(t, event.ManualCleanup)
}

func TestEngine_PreconditionFailureWritesNothing(t *testing.T) {
	g := memory.NewGateway()
	e := engine.New(g)

	_, err := g.Write(t.Context(), gateway.Mutation{
		Entity: "ab_tests",
		Fields: map[string]any{
			"id":             "test-1",
			"tenant_id":      "tenant-1",
			"status":         "running",
			"is_significant": false,
		},
	})
	require.NoError(t, err)

	plan := engine.Plan{
		TenantID: "tenant-1",
		Preconditions: []engine.Precondition{
			engine.RequireExists("test exists", "ab_tests", "test-1"),
			engine.Require("result is significant", models.PreconditionKindState,
				func(ctx context.Context, g gateway.Gateway) error {
					row, err := gateway.ReadOne(ctx, g, gateway.Query{
						Entity: "ab_tests",
						Filter: map[string]any{"id": "test-1"},
					})
					if err != nil {
						return err
					}

					if row["is_significant"] != true {
						return engine.Reason("not_significant")
					}

					return nil
				}),
		},
		Primary: models.WriteSpec{
			Entity: "ab_test_winners",
			Fields: map[string]any{"test_id": "test-1", "variant": "B"},
		},
	}

	outcome, err := e.Run(t.Context(), plan)
	require.Error(t, err)
	assert.True(t, engine.IsPreconditionFailed(err))

	assert.Equal(t, models.WorkUnitStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, engine.StagePreconditions, outcome.Error.Stage)
	assert.Equal(t, "not_significant", outcome.Error.Reason)

	// no write was attempted
	winners, err := g.Read(t.Context(), gateway.Query{Entity: "ab_test_winners"})
	require.NoError(t, err)
	assert.Empty(t, winners)
}

func TestEngine_PreconditionOrdering(t *testing.T) {
	g := memory.NewGateway()
	e := engine.New(g)

	var order []string

	record := func(name string, kind models.PreconditionKind, fail bool) engine.Precondition {
		return engine.Require(name, kind, func(context.Context, gateway.Gateway) error {
			order = append(order, name)

			if fail {
				return engine.Reason("forced_failure")
			}

			return nil
		})
	}

	plan := engine.Plan{
		TenantID: "tenant-1",
		Preconditions: []engine.Precondition{
			record("state", models.PreconditionKindState, true),
			record("ownership", models.PreconditionKindOwnership, false),
			record("existence", models.PreconditionKindExistence, false),
		},
		Primary: models.WriteSpec{
			Entity: "things",
			Fields: map[string]any{"name": "x"},
		},
	}

	_, err := e.Run(t.Context(), plan)
	require.Error(t, err)

	// cheaper kinds run first even though declared last, and the failing
	// state check runs last
	assert.Equal(t, []string{"existence", "ownership", "state"}, order)
}

func TestEngine_InvalidPlan(t *testing.T) {
	e := engine.New(memory.NewGateway())

	outcome, err := e.Run(t.Context(), engine.Plan{
		TenantID: "tenant-1",
		Primary:  models.WriteSpec{},
	})
	require.Error(t, err)
	assert.True(t, engine.IsValidation(err))
	assert.Equal(t, models.WorkUnitStatusFailed, outcome.Status)
	assert.Equal(t, engine.StageValidation, outcome.Error.Stage)
}

func TestEngine_EmptyFanOutCommits(t *testing.T) {
	g := memory.NewGateway()
	e := engine.New(g)

	plan := engine.Plan{
		TenantID: "tenant-1",
		Primary: models.WriteSpec{
			Entity: "addon_services",
			Fields: map[string]any{"name": "standalone"},
		},
		Dependents: []engine.DependentWrite{
			{
				Name:      "eligibility",
				Entity:    "plan_eligibility",
				Mandatory: false,
				Rows: func(models.EntityRef) []map[string]any {
					return nil
				},
			},
		},
	}

	outcome, err := e.Run(t.Context(), plan)
	require.NoError(t, err)
	assert.Equal(t, models.WorkUnitStatusCommitted, outcome.Status)
	require.Len(t, outcome.Dependents, 1)
	assert.Zero(t, outcome.Dependents[0].Attempted)
}
