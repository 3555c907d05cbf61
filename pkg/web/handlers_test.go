package web_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marzen/tandem/pkg/claims"
	"github.com/marzen/tandem/pkg/engine"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/gateway/memory"
	"github.com/marzen/tandem/pkg/models"
	"github.com/marzen/tandem/pkg/services"
	"github.com/marzen/tandem/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, *memory.Gateway) {
	t.Helper()

	store := memory.NewGateway()
	store.AddUniqueConstraint("campaign_contact_lists", "tenant_id", "campaign_id", "name")
	store.AddUniqueConstraint("ab_test_results", "test_id")

	claimStore := claims.NewMemoryStore()
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(
		services.NewWorkUnits(store, nil, nil),
		services.NewCampaigns(store, nil, nil),
		services.NewTemplates(store, nil, nil),
		services.NewAddOns(store, nil, nil),
		services.NewABTests(store, nil, nil),
		services.NewTickets(store, claimStore, nil, time.Minute),
		claimStore,
		validate,
		90*time.Second,
		15*time.Second,
	)

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return app, store
}

func seedRow(t *testing.T, store *memory.Gateway, entity string, fields map[string]any) {
	t.Helper()

	_, err := store.Write(t.Context(), gateway.Mutation{Entity: entity, Fields: fields})
	require.NoError(t, err)
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(web.TenantHeader, "tenant-1")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	return resp, buf.Bytes()
}

func decodeOutcome(t *testing.T, body []byte) engine.Outcome {
	t.Helper()

	var outcome engine.Outcome
	require.NoError(t, json.Unmarshal(body, &outcome))

	return outcome
}

func TestAssignContactList(t *testing.T) {
	app, store := setupTestApp(t)

	seedRow(t, store, "campaigns", map[string]any{
		"id": "camp-1", "tenant_id": "tenant-1", "status": "draft",
	})

	resp, body := doJSON(t, app, http.MethodPost, "/campaigns/camp-1/contact-lists", web.AssignContactListBody{
		ListName:    "VIP customers",
		CustomerIDs: []string{"cust-1", "cust-2"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	outcome := decodeOutcome(t, body)
	assert.Equal(t, models.WorkUnitStatusCommitted, outcome.Status)
	require.NotNil(t, outcome.Primary)
	assert.NotEmpty(t, outcome.CorrelationID)
}

func TestAssignContactList_DuplicateIsConflict(t *testing.T) {
	app, store := setupTestApp(t)

	seedRow(t, store, "campaigns", map[string]any{
		"id": "camp-1", "tenant_id": "tenant-1", "status": "draft",
	})

	payload := web.AssignContactListBody{ListName: "VIP customers", CustomerIDs: []string{"cust-1"}}

	resp, _ := doJSON(t, app, http.MethodPost, "/campaigns/camp-1/contact-lists", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/campaigns/camp-1/contact-lists", payload)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	outcome := decodeOutcome(t, body)
	assert.Equal(t, models.WorkUnitStatusFailed, outcome.Status)
	assert.Equal(t, "already_exists", outcome.Error.Reason)
}

func TestAssignContactList_CrossTenantIsForbidden(t *testing.T) {
	app, store := setupTestApp(t)

	seedRow(t, store, "campaigns", map[string]any{
		"id": "camp-9", "tenant_id": "tenant-2", "status": "draft",
	})

	resp, body := doJSON(t, app, http.MethodPost, "/campaigns/camp-9/contact-lists", web.AssignContactListBody{
		ListName:    "VIP customers",
		CustomerIDs: []string{"cust-1"},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	outcome := decodeOutcome(t, body)
	assert.Equal(t, "cross_tenant_reference", outcome.Error.Reason)
}

func TestAssignContactList_MissingBodyFieldsRejected(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/campaigns/camp-1/contact-lists", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPromoteWinner_NotSignificant(t *testing.T) {
	app, store := setupTestApp(t)

	seedRow(t, store, "ab_tests", map[string]any{
		"id": "test-1", "tenant_id": "tenant-1", "status": "running",
	})
	seedRow(t, store, "ab_variants", map[string]any{
		"id": "var-a", "tenant_id": "tenant-1", "test_id": "test-1",
		"sends": float64(100), "conversions": float64(11),
	})
	seedRow(t, store, "ab_variants", map[string]any{
		"id": "var-b", "tenant_id": "tenant-1", "test_id": "test-1",
		"sends": float64(100), "conversions": float64(10),
	})

	resp, body := doJSON(t, app, http.MethodPost, "/ab-tests/test-1/promote", web.PromoteWinnerBody{
		VariantID: "var-a",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	outcome := decodeOutcome(t, body)
	assert.Equal(t, "not_significant", outcome.Error.Reason)

	// forcing skips the significance gate
	resp, body = doJSON(t, app, http.MethodPost, "/ab-tests/test-1/promote", web.PromoteWinnerBody{
		VariantID: "var-a",
		Force:     true,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, models.WorkUnitStatusCommitted, decodeOutcome(t, body).Status)
}

func TestExecuteWorkUnit(t *testing.T) {
	app, store := setupTestApp(t)

	seedRow(t, store, "routes", map[string]any{
		"id": "route-1", "tenant_id": "tenant-1", "status": "open",
	})

	resp, body := doJSON(t, app, http.MethodPost, "/workunits", services.WorkUnitRequest{
		Preconditions: []services.PreconditionSpec{
			{Name: "route open", Kind: "state", Entity: "routes", ID: "route-1", Field: "status", Allowed: []any{"open"}},
		},
		PrimaryWrite: services.WritePayload{
			Entity: "route_stops",
			Fields: map[string]any{"route_id": "route-1", "address": "12 Elm St"},
		},
		DependentWrites: []services.DependentPayload{
			{
				Name:      "visit_notes",
				Mandatory: true,
				Spec: services.DependentRowSpec{
					Entity:    "visit_notes",
					LinkField: "stop_id",
					Rows:      []map[string]any{{"note": "gate code 4411"}},
				},
			},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, models.WorkUnitStatusCommitted, decodeOutcome(t, body).Status)
}

func TestExecuteWorkUnit_MalformedSpecsRejected(t *testing.T) {
	app, _ := setupTestApp(t)

	// dependent write is missing its link field
	resp, _ := doJSON(t, app, http.MethodPost, "/workunits", services.WorkUnitRequest{
		PrimaryWrite: services.WritePayload{
			Entity: "route_stops",
			Fields: map[string]any{"route_id": "route-1"},
		},
		DependentWrites: []services.DependentPayload{
			{
				Name: "visit_notes",
				Spec: services.DependentRowSpec{Entity: "visit_notes"},
			},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// precondition kind outside the declared set
	resp, _ = doJSON(t, app, http.MethodPost, "/workunits", services.WorkUnitRequest{
		Preconditions: []services.PreconditionSpec{
			{Name: "bad", Kind: "guesswork", Entity: "routes", ID: "route-1"},
		},
		PrimaryWrite: services.WritePayload{
			Entity: "route_stops",
			Fields: map[string]any{"route_id": "route-1"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecuteWorkUnit_MissingTenantHeader(t *testing.T) {
	app, _ := setupTestApp(t)

	raw, err := json.Marshal(services.WorkUnitRequest{
		PrimaryWrite: services.WritePayload{Entity: "route_stops", Fields: map[string]any{"a": "b"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/workunits", bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTicketReviewLifecycle(t *testing.T) {
	app, store := setupTestApp(t)

	seedRow(t, store, "tickets", map[string]any{
		"id": "ticket-1", "tenant_id": "tenant-1", "subject": "Ants in kitchen",
	})

	resp, body := doJSON(t, app, http.MethodPost, "/tickets/ticket-1/review", web.ReviewBody{ReviewerID: "agent-7"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var claim web.ClaimResponse
	require.NoError(t, json.Unmarshal(body, &claim))
	assert.Equal(t, "agent-7", claim.Holder)

	// another reviewer is turned away with the current holder
	resp, body = doJSON(t, app, http.MethodPost, "/tickets/ticket-1/review", web.ReviewBody{ReviewerID: "agent-8"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "agent-7")

	resp, _ = doJSON(t, app, http.MethodPut, "/tickets/ticket-1/review", web.ReviewBody{ReviewerID: "agent-7"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/tickets/ticket-1/review", web.ReviewBody{ReviewerID: "agent-7"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// the claim is gone
	resp, _ = doJSON(t, app, http.MethodGet, "/claims/tickets/ticket-1/review", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAcquireClaim_DefaultTTLComesFromConfig(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/claims", web.AcquireClaimBody{
		Resource: "routes/route-9", Holder: "dispatcher-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var claim web.ClaimResponse
	require.NoError(t, json.Unmarshal(body, &claim))
	assert.Equal(t, 90*time.Second, claim.ExpiresAt.Sub(claim.AcquiredAt))
}

func TestClaimEndpoints(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/claims", web.AcquireClaimBody{
		Resource: "routes/route-1", Holder: "dispatcher-1", TTLSeconds: 60,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var claim web.ClaimResponse
	require.NoError(t, json.Unmarshal(body, &claim))
	assert.Equal(t, "dispatcher-1", claim.Holder)
	assert.Equal(t, 15, claim.RenewAfterSeconds)

	// a second holder conflicts
	resp, _ = doJSON(t, app, http.MethodPost, "/claims", web.AcquireClaimBody{
		Resource: "routes/route-1", Holder: "dispatcher-2", TTLSeconds: 60,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/claims/routes/route-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPut, "/claims", web.AcquireClaimBody{
		Resource: "routes/route-1", Holder: "dispatcher-1", TTLSeconds: 120,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/claims", web.ReleaseClaimBody{
		Resource: "routes/route-1", Holder: "dispatcher-1",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
