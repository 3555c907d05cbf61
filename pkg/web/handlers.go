// Package web provides the HTTP surface for work unit execution and
// advisory claims.
package web

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/marzen/tandem/pkg/claims"
	"github.com/marzen/tandem/pkg/services"
)

type APIHandlers struct {
	workUnits *services.WorkUnits
	campaigns *services.Campaigns
	templates *services.Templates
	addOns    *services.AddOns
	abTests   *services.ABTests
	tickets   *services.Tickets
	claims    claims.Store
	validator *validator.Validate

	// claimTTL bounds claims acquired without an explicit TTL; heartbeat is
	// the renew cadence advertised to claim holders
	claimTTL  time.Duration
	heartbeat time.Duration
}

func NewAPIHandlers(
	workUnits *services.WorkUnits,
	campaigns *services.Campaigns,
	templates *services.Templates,
	addOns *services.AddOns,
	abTests *services.ABTests,
	tickets *services.Tickets,
	claimStore claims.Store,
	validator *validator.Validate,
	claimTTL time.Duration,
	heartbeat time.Duration,
) *APIHandlers {
	if claimTTL <= 0 {
		claimTTL = services.DefaultReviewTTL
	}
	return &APIHandlers{
		workUnits: workUnits,
		campaigns: campaigns,
		templates: templates,
		addOns:    addOns,
		abTests:   abTests,
		tickets:   tickets,
		claims:    claimStore,
		validator: validator,
		claimTTL:  claimTTL,
		heartbeat: heartbeat,
	}
}

// RegisterRoutes mounts every endpoint on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Post("/workunits", h.ExecuteWorkUnit)

	app.Post("/campaigns/:id/contact-lists", h.AssignContactList)
	app.Post("/templates/import", h.ImportTemplate)
	app.Post("/addons", h.CreateAddOn)
	app.Post("/ab-tests/:id/promote", h.PromoteWinner)

	app.Post("/tickets/:id/review", h.StartReview)
	app.Put("/tickets/:id/review", h.ReviewHeartbeat)
	app.Delete("/tickets/:id/review", h.FinishReview)

	app.Post("/claims", h.AcquireClaim)
	app.Put("/claims", h.RenewClaim)
	app.Delete("/claims", h.ReleaseClaim)
	app.Get("/claims/*", h.GetClaim)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	gatewayCheck, ok := h.workUnits.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := fiber.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = fiber.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"gateway": gatewayCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// tenant pulls the caller's tenant from the request header. An empty tenant
// is rejected before any service runs.
func tenant(c fiber.Ctx) string {
	return c.Get(TenantHeader)
}

// ExecuteWorkUnit runs a caller-described plan.
func (h *APIHandlers) ExecuteWorkUnit(c fiber.Ctx) error {
	var req services.WorkUnitRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	req.TenantID = tenant(c)
	if req.TenantID == "" {
		return badRequest(c, "Missing "+TenantHeader+" header")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	outcome, err := h.workUnits.Execute(c.Context(), req)
	if outcome == nil && err != nil {
		return handleServiceError(c, err)
	}

	return respondOutcome(c, outcome, err)
}

// AssignContactList attaches a contact list with member fan-out to a campaign.
func (h *APIHandlers) AssignContactList(c fiber.Ctx) error {
	var body AssignContactListBody
	if err := h.bind(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := h.campaigns.AssignContactList(c.Context(), services.AssignContactListRequest{
		TenantID:    tenant(c),
		CampaignID:  c.Params("id"),
		ListName:    body.ListName,
		Description: body.Description,
		CustomerIDs: body.CustomerIDs,
		LeadIDs:     body.LeadIDs,
	})
	if outcome == nil && err != nil {
		return handleServiceError(c, err)
	}

	return respondOutcome(c, outcome, err)
}

// ImportTemplate clones a template together with its task rows.
func (h *APIHandlers) ImportTemplate(c fiber.Ctx) error {
	var body ImportTemplateBody
	if err := h.bind(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := h.templates.Import(c.Context(), services.ImportTemplateRequest{
		TenantID: tenant(c),
		SourceID: body.SourceID,
		Name:     body.Name,
	})
	if outcome == nil && err != nil {
		return handleServiceError(c, err)
	}

	return respondOutcome(c, outcome, err)
}

// CreateAddOn creates an add-on with optional plan eligibility fan-out.
func (h *APIHandlers) CreateAddOn(c fiber.Ctx) error {
	var body CreateAddOnBody
	if err := h.bind(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := h.addOns.Create(c.Context(), services.CreateAddOnRequest{
		TenantID:    tenant(c),
		Name:        body.Name,
		Description: body.Description,
		Price:       body.Price,
		PlanIDs:     body.PlanIDs,
	})
	if outcome == nil && err != nil {
		return handleServiceError(c, err)
	}

	return respondOutcome(c, outcome, err)
}

// PromoteWinner marks a variant as the winner of an A/B test.
func (h *APIHandlers) PromoteWinner(c fiber.Ctx) error {
	var body PromoteWinnerBody
	if err := h.bind(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	outcome, err := h.abTests.PromoteWinner(c.Context(), services.PromoteWinnerRequest{
		TenantID:      tenant(c),
		TestID:        c.Params("id"),
		VariantID:     body.VariantID,
		Force:         body.Force,
		ArchiveLosers: body.ArchiveLosers,
	})
	if outcome == nil && err != nil {
		return handleServiceError(c, err)
	}

	return respondOutcome(c, outcome, err)
}

// StartReview claims a ticket for a reviewer.
func (h *APIHandlers) StartReview(c fiber.Ctx) error {
	var body ReviewBody
	if err := h.bind(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	claim, err := h.tickets.StartReview(c.Context(), services.ReviewRequest{
		TenantID:   tenant(c),
		TicketID:   c.Params("id"),
		ReviewerID: body.ReviewerID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(newClaimResponse(claim, h.heartbeat))
}

// ReviewHeartbeat extends a reviewer's claim.
func (h *APIHandlers) ReviewHeartbeat(c fiber.Ctx) error {
	var body ReviewBody
	if err := h.bind(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	claim, err := h.tickets.Heartbeat(c.Context(), services.ReviewRequest{
		TenantID:   tenant(c),
		TicketID:   c.Params("id"),
		ReviewerID: body.ReviewerID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(newClaimResponse(claim, h.heartbeat))
}

// FinishReview releases a reviewer's claim.
func (h *APIHandlers) FinishReview(c fiber.Ctx) error {
	var body ReviewBody
	if err := h.bind(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.tickets.FinishReview(c.Context(), services.ReviewRequest{
		TenantID:   tenant(c),
		TicketID:   c.Params("id"),
		ReviewerID: body.ReviewerID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// AcquireClaim takes an advisory claim on an arbitrary resource.
func (h *APIHandlers) AcquireClaim(c fiber.Ctx) error {
	var body AcquireClaimBody
	if err := h.bind(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	claim, err := h.claims.Acquire(c.Context(), body.Resource, body.Holder, h.ttlOrDefault(body.TTLSeconds))
	if err != nil {
		return handleClaimError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(newClaimResponse(claim, h.heartbeat))
}

// RenewClaim extends an advisory claim the holder still owns.
func (h *APIHandlers) RenewClaim(c fiber.Ctx) error {
	var body AcquireClaimBody
	if err := h.bind(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	claim, err := h.claims.Renew(c.Context(), body.Resource, body.Holder, h.ttlOrDefault(body.TTLSeconds))
	if err != nil {
		return handleClaimError(c, err)
	}

	return c.JSON(newClaimResponse(claim, h.heartbeat))
}

// ReleaseClaim drops an advisory claim.
func (h *APIHandlers) ReleaseClaim(c fiber.Ctx) error {
	var body ReleaseClaimBody
	if err := h.bind(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.claims.Release(c.Context(), body.Resource, body.Holder); err != nil {
		return handleClaimError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// GetClaim reports who currently holds a resource, if anyone.
func (h *APIHandlers) GetClaim(c fiber.Ctx) error {
	resource := c.Params("*")
	if resource == "" {
		return badRequest(c, "Missing claim resource")
	}

	claim, err := h.claims.Get(c.Context(), resource)
	if err != nil {
		return handleClaimError(c, err)
	}

	return c.JSON(newClaimResponse(claim, h.heartbeat))
}

func handleClaimError(c fiber.Ctx, err error) error {
	switch {
	case claims.IsHeld(err), claims.IsNotHeld(err):
		return claimConflict(c, err)
	case claims.IsNotFound(err):
		return notFound(c, err.Error())
	default:
		return internalError(c, err)
	}
}

func (h *APIHandlers) bind(c fiber.Ctx, body any) error {
	if err := c.Bind().JSON(body); err != nil {
		return err
	}

	return h.validator.Struct(body)
}

func (h *APIHandlers) ttlOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return h.claimTTL
	}

	return time.Duration(seconds) * time.Second
}
