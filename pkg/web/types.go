package web

import (
	"time"

	"github.com/marzen/tandem/pkg/models"
)

// TenantHeader carries the caller's tenant, resolved by the auth layer in
// front of this API.
const TenantHeader = "X-Tenant-ID"

// AssignContactListBody is the payload for assigning a contact list to the
// campaign named in the URL.
type AssignContactListBody struct {
	ListName    string   `json:"list_name" validate:"required"`
	Description string   `json:"description"`
	CustomerIDs []string `json:"customer_ids"`
	LeadIDs     []string `json:"lead_ids"`
}

// ImportTemplateBody is the payload for importing a template.
type ImportTemplateBody struct {
	SourceID string `json:"source_id" validate:"required"`
	Name     string `json:"name"      validate:"required"`
}

// CreateAddOnBody is the payload for creating an add-on.
type CreateAddOnBody struct {
	Name        string   `json:"name"  validate:"required"`
	Description string   `json:"description"`
	Price       float64  `json:"price" validate:"min=0"`
	PlanIDs     []string `json:"plan_ids"`
}

// PromoteWinnerBody is the payload for promoting a variant of the test named
// in the URL.
type PromoteWinnerBody struct {
	VariantID     string `json:"variant_id" validate:"required"`
	Force         bool   `json:"force"`
	ArchiveLosers bool   `json:"archive_losers"`
}

// ReviewBody identifies the reviewer for ticket review claim operations.
type ReviewBody struct {
	ReviewerID string `json:"reviewer_id" validate:"required"`
}

// AcquireClaimBody is the payload for taking or renewing an advisory claim.
type AcquireClaimBody struct {
	Resource   string `json:"resource"    validate:"required"`
	Holder     string `json:"holder"      validate:"required"`
	TTLSeconds int    `json:"ttl_seconds" validate:"min=0"`
}

// ReleaseClaimBody is the payload for releasing an advisory claim.
type ReleaseClaimBody struct {
	Resource string `json:"resource" validate:"required"`
	Holder   string `json:"holder"   validate:"required"`
}

// ClaimResponse is the wire shape of an advisory claim.
type ClaimResponse struct {
	Resource   string    `json:"resource"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`

	// RenewAfterSeconds tells the holder how often to heartbeat.
	RenewAfterSeconds int `json:"renew_after_seconds,omitempty"`
}

func newClaimResponse(claim *models.Claim, heartbeat time.Duration) ClaimResponse {
	return ClaimResponse{
		Resource:          claim.Resource,
		Holder:            claim.Holder,
		AcquiredAt:        claim.AcquiredAt,
		ExpiresAt:         claim.ExpiresAt,
		RenewAfterSeconds: int(heartbeat.Seconds()),
	}
}
