package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/models"
)

// Precondition is a single named check that must pass before any write runs.
// Checks are evaluated in kind order (shape, existence, ownership, state) so
// cheaper checks run first; the first failure short-circuits the rest.
type Precondition struct {
	Name  string
	Kind  models.PreconditionKind
	Check func(ctx context.Context, g gateway.Gateway) error
}

// evaluate runs the plan's preconditions in kind order against the gateway.
// The returned result records every executed check; on failure the last
// entry is the failing one.
func evaluate(ctx context.Context, g gateway.Gateway, preconditions []Precondition) (*models.PreconditionResult, *PreconditionError) {
	ordered := slices.Clone(preconditions)
	slices.SortStableFunc(ordered, func(a, b Precondition) int {
		return a.Kind.Rank() - b.Kind.Rank()
	})

	result := &models.PreconditionResult{}

	for _, precondition := range ordered {
		check := models.PreconditionCheck{
			Name:   precondition.Name,
			Kind:   precondition.Kind,
			Passed: true,
		}

		if err := precondition.Check(ctx, g); err != nil {
			check.Passed = false
			check.Reason = err.Error()
			result.Checks = append(result.Checks, check)

			return result, &PreconditionError{Check: check}
		}

		result.Checks = append(result.Checks, check)
	}

	return result, nil
}

// reason is a bare string error used for stable precondition reasons.
type reason string

func (r reason) Error() string { return string(r) }

// Reason builds a machine-readable precondition failure reason.
func Reason(code string) error { return reason(code) }

// RequireExists checks that a row of the given entity exists.
func RequireExists(name, entity, id string) Precondition {
	return Precondition{
		Name: name,
		Kind: models.PreconditionKindExistence,
		Check: func(ctx context.Context, g gateway.Gateway) error {
			_, err := gateway.ReadOne(ctx, g, gateway.Query{
				Entity: entity,
				Filter: map[string]any{"id": id},
			})
			if err != nil {
				if gateway.IsNotFound(err) {
					return Reason("not_found")
				}

				return err
			}

			return nil
		},
	}
}

// RequireOwned checks that the referenced row belongs to the given tenant.
// A cross-tenant reference is a hard failure, not a warning.
func RequireOwned(name, entity, id, tenantID string) Precondition {
	return Precondition{
		Name: name,
		Kind: models.PreconditionKindOwnership,
		Check: func(ctx context.Context, g gateway.Gateway) error {
			row, err := gateway.ReadOne(ctx, g, gateway.Query{
				Entity: entity,
				Filter: map[string]any{"id": id},
			})
			if err != nil {
				if gateway.IsNotFound(err) {
					return Reason("not_found")
				}

				return err
			}

			if row[gateway.TenantField] != tenantID {
				return Reason("cross_tenant_reference")
			}

			return nil
		},
	}
}

// RequireState checks that a field of the referenced row holds one of the
// allowed values.
func RequireState(name, entity, id, field string, allowed ...any) Precondition {
	return Precondition{
		Name: name,
		Kind: models.PreconditionKindState,
		Check: func(ctx context.Context, g gateway.Gateway) error {
			row, err := gateway.ReadOne(ctx, g, gateway.Query{
				Entity: entity,
				Filter: map[string]any{"id": id},
			})
			if err != nil {
				if gateway.IsNotFound(err) {
					return Reason("not_found")
				}

				return err
			}

			if slices.Contains(allowed, row[field]) {
				return nil
			}

			return Reason(fmt.Sprintf("%s_not_allowed", field))
		},
	}
}

// Require builds a custom precondition from a check function.
func Require(name string, kind models.PreconditionKind, check func(ctx context.Context, g gateway.Gateway) error) Precondition {
	return Precondition{Name: name, Kind: kind, Check: check}
}

var errNilCheck = errors.New("precondition has no check function")
