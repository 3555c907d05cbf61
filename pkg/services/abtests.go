package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/marzen/tandem/pkg/engine"
	"github.com/marzen/tandem/pkg/eventbus"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/models"
)

// significanceThreshold is the two-sided z critical value at 95% confidence.
const significanceThreshold = 1.96

// ABTests promotes winning variants of messaging experiments.
type ABTests struct {
	runner
}

// NewABTests creates a new A/B test service.
func NewABTests(g gateway.Gateway, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...engine.Option) *ABTests {
	return &ABTests{runner: newRunner(g, publisher, logger, opts...)}
}

// PromoteWinnerRequest marks one variant as the winner of a test. Force
// skips the statistical significance gate; ArchiveLosers additionally writes
// archive markers for every other variant.
type PromoteWinnerRequest struct {
	TenantID      string `json:"tenant_id"  validate:"required"`
	TestID        string `json:"test_id"    validate:"required"`
	VariantID     string `json:"variant_id" validate:"required"`
	Force         bool   `json:"force"`
	ArchiveLosers bool   `json:"archive_losers"`
}

// PromoteWinner records the winning variant of a running or paused test.
// Unless forced, the promotion is gated on the winner beating the best other
// variant with statistical significance; an inconclusive test fails the
// state precondition with reason "not_significant". The winner marker row is
// unique per test, so promoting twice surfaces as a conflict. Archiving the
// losing variants is optional and never undoes the promotion.
func (a *ABTests) PromoteWinner(ctx context.Context, req PromoteWinnerRequest) (*engine.Outcome, error) {
	if err := a.validatePromoteRequest(req); err != nil {
		return nil, err
	}

	variants, err := a.testVariants(ctx, req.TenantID, req.TestID)
	if err != nil {
		return nil, err
	}

	losers := make([]string, 0, len(variants))

	for _, variant := range variants {
		if id, _ := variant["id"].(string); id != "" && id != req.VariantID {
			losers = append(losers, id)
		}
	}

	preconditions := []engine.Precondition{
		a.requireExists("test exists", "ab_tests", req.TestID),
		a.requireOwned("test ownership", "ab_tests", req.TestID, req.TenantID),
		a.requireState("test promotable", "ab_tests", req.TestID, "status", "running", "paused"),
		a.requireVariantInTest(req.TestID, req.VariantID, variants),
	}

	if !req.Force {
		preconditions = append(preconditions, a.requireSignificance(req.VariantID, variants))
	}

	dependents := []engine.DependentWrite{}

	if req.ArchiveLosers {
		dependents = append(dependents, engine.DependentWrite{
			Name:      "archive_losers",
			Entity:    "ab_variant_archives",
			Mandatory: false,
			Rows: func(primary models.EntityRef) []map[string]any {
				rows := make([]map[string]any, 0, len(losers))
				for _, variantID := range losers {
					rows = append(rows, map[string]any{
						"test_id":    req.TestID,
						"variant_id": variantID,
						"result_id":  primary.ID,
					})
				}

				return rows
			},
		})
	}

	plan := engine.Plan{
		TenantID:      req.TenantID,
		Preconditions: preconditions,
		Primary: models.WriteSpec{
			Entity: "ab_test_results",
			Fields: map[string]any{
				"test_id":     req.TestID,
				"variant_id":  req.VariantID,
				"forced":      req.Force,
				"promoted_at": time.Now().UTC().Format(time.RFC3339),
			},
			Schema: []models.FieldSpec{
				{Name: "test_id", Type: models.FieldTypeString, Required: true},
				{Name: "variant_id", Type: models.FieldTypeString, Required: true},
				{Name: "forced", Type: models.FieldTypeBool, Required: true},
			},
		},
		Dependents: dependents,
	}

	return a.run(ctx, plan)
}

func (a *ABTests) validatePromoteRequest(req PromoteWinnerRequest) error {
	if req.TenantID == "" {
		return ErrEmptyTenantID
	}

	if req.TestID == "" {
		return ErrTestRequired
	}

	if req.VariantID == "" {
		return ErrVariantRequired
	}

	return nil
}

func (a *ABTests) testVariants(ctx context.Context, tenantID, testID string) ([]gateway.Row, error) {
	variants, err := a.scoped(tenantID).Read(ctx, gateway.Query{
		Entity: "ab_variants",
		Filter: map[string]any{"test_id": testID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read test variants: %w", err)
	}

	return variants, nil
}

// requireVariantInTest ranks as a state check so the ownership check runs
// first: a cross-tenant test must report cross_tenant_reference, not the
// empty variant set a foreign tenant sees.
func (a *ABTests) requireVariantInTest(testID, variantID string, variants []gateway.Row) engine.Precondition {
	return engine.Require("variant belongs to test", models.PreconditionKindState,
		func(_ context.Context, _ gateway.Gateway) error {
			for _, variant := range variants {
				if variant["id"] == variantID {
					return nil
				}
			}

			return engine.Reason("variant_not_in_test")
		})
}

// requireSignificance gates promotion on a two-proportion z-test between the
// chosen winner and the strongest other variant at 95% confidence.
func (a *ABTests) requireSignificance(variantID string, variants []gateway.Row) engine.Precondition {
	return engine.Require("winner is significant", models.PreconditionKindState,
		func(_ context.Context, _ gateway.Gateway) error {
			var winner gateway.Row

			var challenger gateway.Row

			for _, variant := range variants {
				if variant["id"] == variantID {
					winner = variant

					continue
				}

				if challenger == nil || conversionRate(variant) > conversionRate(challenger) {
					challenger = variant
				}
			}

			if winner == nil || challenger == nil {
				return engine.Reason("not_significant")
			}

			z := zScore(
				rowNumber(winner, "conversions"), rowNumber(winner, "sends"),
				rowNumber(challenger, "conversions"), rowNumber(challenger, "sends"),
			)
			if z < significanceThreshold {
				return engine.Reason("not_significant")
			}

			return nil
		})
}

func conversionRate(variant gateway.Row) float64 {
	sends := rowNumber(variant, "sends")
	if sends == 0 {
		return 0
	}

	return rowNumber(variant, "conversions") / sends
}

// zScore computes the pooled two-proportion z statistic for the winner
// beating the challenger. A non-positive score means the winner is not
// actually ahead.
func zScore(winnerHits, winnerTrials, challengerHits, challengerTrials float64) float64 {
	if winnerTrials == 0 || challengerTrials == 0 {
		return 0
	}

	winnerRate := winnerHits / winnerTrials
	challengerRate := challengerHits / challengerTrials
	pooled := (winnerHits + challengerHits) / (winnerTrials + challengerTrials)

	standardError := math.Sqrt(pooled * (1 - pooled) * (1/winnerTrials + 1/challengerTrials))
	if standardError == 0 {
		return 0
	}

	return (winnerRate - challengerRate) / standardError
}

func rowNumber(row gateway.Row, field string) float64 {
	switch value := row[field].(type) {
	case float64:
		return value
	case int:
		return float64(value)
	default:
		return 0
	}
}
