package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marzen/tandem/pkg/claims"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/models"
	"github.com/marzen/tandem/pkg/otelhelper"
)

// DefaultReviewTTL bounds how long a review claim lives without a heartbeat.
const DefaultReviewTTL = 5 * time.Minute

// Tickets coordinates exclusive ticket reviews with advisory claims. A claim
// is time-bounded advice, not a lock: writes remain safe without it, holding
// one only keeps two reviewers from working the same ticket at once.
type Tickets struct {
	gateway gateway.Gateway
	claims  claims.Store
	logger  *slog.Logger
	tracer  trace.Tracer
	ttl     time.Duration
}

// NewTickets creates a new ticket review service.
func NewTickets(g gateway.Gateway, store claims.Store, logger *slog.Logger, ttl time.Duration) *Tickets {
	if logger == nil {
		logger = slog.Default()
	}

	if ttl <= 0 {
		ttl = DefaultReviewTTL
	}

	return &Tickets{
		gateway: g,
		claims:  store,
		logger:  logger,
		tracer:  otel.Tracer("tandem"),
		ttl:     ttl,
	}
}

// ReviewRequest identifies one reviewer working one ticket.
type ReviewRequest struct {
	TenantID   string `json:"tenant_id"   validate:"required"`
	TicketID   string `json:"ticket_id"   validate:"required"`
	ReviewerID string `json:"reviewer_id" validate:"required"`
}

// StartReview claims a ticket for the reviewer. If another reviewer already
// holds the claim, the returned error carries the current holder so the
// caller can show who is working the ticket.
func (t *Tickets) StartReview(ctx context.Context, req ReviewRequest) (*models.Claim, error) {
	if err := t.validateReviewRequest(req); err != nil {
		return nil, err
	}

	if err := t.checkTicket(ctx, req); err != nil {
		return nil, err
	}

	ctx, span := t.claimSpan(ctx, "claim.acquire", req)
	defer span.End()

	claim, err := t.claims.Acquire(ctx, reviewResource(req.TicketID), req.ReviewerID, t.ttl)
	if err != nil {
		otelhelper.SetError(span, err)

		if claims.IsHeld(err) {
			if held, getErr := t.claims.Get(ctx, reviewResource(req.TicketID)); getErr == nil {
				return nil, &ServiceError{
					Op:      "StartReview",
					Code:    "review_claim_held",
					Message: fmt.Sprintf("ticket %s is being reviewed by %s", req.TicketID, held.Holder),
					Err:     err,
				}
			}
		}

		return nil, fmt.Errorf("failed to claim ticket review: %w", err)
	}

	t.logger.InfoContext(ctx, "Review claim acquired",
		"ticket_id", req.TicketID,
		"reviewer_id", req.ReviewerID,
		"expires_at", claim.ExpiresAt,
	)

	return claim, nil
}

// Heartbeat extends the reviewer's claim. A reviewer whose claim lapsed must
// start over; the renewal does not resurrect an expired claim.
func (t *Tickets) Heartbeat(ctx context.Context, req ReviewRequest) (*models.Claim, error) {
	if err := t.validateReviewRequest(req); err != nil {
		return nil, err
	}

	ctx, span := t.claimSpan(ctx, "claim.renew", req)
	defer span.End()

	claim, err := t.claims.Renew(ctx, reviewResource(req.TicketID), req.ReviewerID, t.ttl)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to renew review claim: %w", err)
	}

	return claim, nil
}

// FinishReview releases the reviewer's claim.
func (t *Tickets) FinishReview(ctx context.Context, req ReviewRequest) error {
	if err := t.validateReviewRequest(req); err != nil {
		return err
	}

	ctx, span := t.claimSpan(ctx, "claim.release", req)
	defer span.End()

	if err := t.claims.Release(ctx, reviewResource(req.TicketID), req.ReviewerID); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to release review claim: %w", err)
	}

	t.logger.InfoContext(ctx, "Review claim released",
		"ticket_id", req.TicketID,
		"reviewer_id", req.ReviewerID,
	)

	return nil
}

func (t *Tickets) validateReviewRequest(req ReviewRequest) error {
	if req.TenantID == "" {
		return ErrEmptyTenantID
	}

	if req.TicketID == "" {
		return ErrTicketRequired
	}

	if req.ReviewerID == "" {
		return ErrReviewerRequired
	}

	return nil
}

func (t *Tickets) checkTicket(ctx context.Context, req ReviewRequest) error {
	row, err := gateway.ReadOne(ctx, t.gateway, gateway.Query{
		Entity: "tickets",
		Filter: map[string]any{"id": req.TicketID},
	})
	if err != nil {
		return fmt.Errorf("failed to read ticket: %w", err)
	}

	if row[gateway.TenantField] != req.TenantID {
		return gateway.NewGatewayError("StartReview", "tickets", gateway.ErrPermissionDenied)
	}

	return nil
}

func (t *Tickets) claimSpan(ctx context.Context, name string, req ReviewRequest) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, t.tracer, name,
		attribute.String(otelhelper.ClaimResourceKey, reviewResource(req.TicketID)),
		attribute.String(otelhelper.ClaimHolderKey, req.ReviewerID),
	)
}

func reviewResource(ticketID string) string {
	return "tickets/" + ticketID + "/review"
}
