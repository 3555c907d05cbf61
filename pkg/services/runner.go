package services

import (
	"context"
	"log/slog"
	"slices"

	"github.com/marzen/tandem/pkg/engine"
	"github.com/marzen/tandem/pkg/eventbus"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/models"
)

// runner is shared plumbing embedded by every service. It holds the elevated
// gateway and builds a tenant-scoped engine per call, so every plan's writes
// are stamped and checked for the calling tenant.
type runner struct {
	gateway   gateway.Gateway
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	opts      []engine.Option
}

func newRunner(g gateway.Gateway, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...engine.Option) runner {
	if logger == nil {
		logger = slog.Default()
	}

	return runner{gateway: g, publisher: publisher, logger: logger, opts: opts}
}

func (r runner) run(ctx context.Context, plan engine.Plan) (*engine.Outcome, error) {
	scoped := gateway.ForTenant(r.gateway, plan.TenantID)

	opts := append([]engine.Option{
		engine.WithPublisher(r.publisher),
		engine.WithLogger(r.logger),
	}, r.opts...)

	return engine.New(scoped, opts...).Run(ctx, plan)
}

func (r runner) scoped(tenantID string) gateway.Gateway {
	return gateway.ForTenant(r.gateway, tenantID)
}

// Ownership and existence checks read through the elevated tier on purpose.
// A tenant-scoped read cannot see foreign rows, so it reports a cross-tenant
// reference as missing; reading elevated lets the check distinguish a row
// that does not exist from a row that belongs to someone else.

func (r runner) requireExists(name, entity, id string) engine.Precondition {
	return engine.Require(name, models.PreconditionKindExistence,
		func(ctx context.Context, _ gateway.Gateway) error {
			_, err := gateway.ReadOne(ctx, r.gateway, gateway.Query{
				Entity: entity,
				Filter: map[string]any{"id": id},
			})
			if err != nil {
				if gateway.IsNotFound(err) {
					return engine.Reason("not_found")
				}

				return err
			}

			return nil
		})
}

func (r runner) requireOwned(name, entity, id, tenantID string) engine.Precondition {
	return engine.Require(name, models.PreconditionKindOwnership,
		func(ctx context.Context, _ gateway.Gateway) error {
			row, err := gateway.ReadOne(ctx, r.gateway, gateway.Query{
				Entity: entity,
				Filter: map[string]any{"id": id},
			})
			if err != nil {
				if gateway.IsNotFound(err) {
					return engine.Reason("not_found")
				}

				return err
			}

			if row[gateway.TenantField] != tenantID {
				return engine.Reason("cross_tenant_reference")
			}

			return nil
		})
}

func (r runner) requireState(name, entity, id, field string, allowed ...any) engine.Precondition {
	return engine.Require(name, models.PreconditionKindState,
		func(ctx context.Context, _ gateway.Gateway) error {
			row, err := gateway.ReadOne(ctx, r.gateway, gateway.Query{
				Entity: entity,
				Filter: map[string]any{"id": id},
			})
			if err != nil {
				if gateway.IsNotFound(err) {
					return engine.Reason("not_found")
				}

				return err
			}

			if slices.Contains(allowed, row[field]) {
				return nil
			}

			return engine.Reason(field + "_not_allowed")
		})
}
