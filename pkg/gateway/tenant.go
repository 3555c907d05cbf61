package gateway

import (
	"context"

	"github.com/marzen/tandem/pkg/models"
)

// TenantField is the row field every tenant-scoped operation is constrained
// by. Implementations store it like any other field.
const TenantField = "tenant_id"

// tenantScoped wraps an elevated gateway and constrains every operation to a
// single tenant. Reads are filtered, writes are stamped, and deletes verify
// ownership first. Cross-tenant access is a hard ErrPermissionDenied.
type tenantScoped struct {
	inner    Gateway
	tenantID string
}

// ForTenant returns a gateway whose every operation is scoped to tenantID.
// The elevated inner gateway should only be used directly after the caller's
// authorization has been independently verified. Batch support is preserved:
// the scoped gateway implements BatchWriter exactly when inner does.
func ForTenant(inner Gateway, tenantID string) Gateway {
	scoped := &tenantScoped{inner: inner, tenantID: tenantID}

	if _, ok := inner.(BatchWriter); ok {
		return &tenantScopedBatch{tenantScoped: scoped}
	}

	return scoped
}

// tenantScopedBatch adds batch support for inner gateways that have it.
type tenantScopedBatch struct {
	*tenantScoped
}

func (t *tenantScoped) Read(ctx context.Context, query Query) ([]Row, error) {
	scoped := Query{
		Entity: query.Entity,
		Filter: make(map[string]any, len(query.Filter)+1),
		Limit:  query.Limit,
	}

	for key, value := range query.Filter {
		scoped.Filter[key] = value
	}

	if existing, ok := query.Filter[TenantField]; ok && existing != t.tenantID {
		return nil, NewGatewayError("Read", query.Entity, ErrPermissionDenied)
	}

	scoped.Filter[TenantField] = t.tenantID

	return t.inner.Read(ctx, scoped)
}

func (t *tenantScoped) Write(ctx context.Context, mutation Mutation) (models.EntityRef, error) {
	if existing, ok := mutation.Fields[TenantField]; ok && existing != t.tenantID {
		return models.EntityRef{}, NewGatewayError("Write", mutation.Entity, ErrPermissionDenied)
	}

	stamped := Mutation{
		Entity: mutation.Entity,
		Fields: make(map[string]any, len(mutation.Fields)+1),
	}

	for key, value := range mutation.Fields {
		stamped.Fields[key] = value
	}

	stamped.Fields[TenantField] = t.tenantID

	return t.inner.Write(ctx, stamped)
}

func (t *tenantScoped) Delete(ctx context.Context, ref models.EntityRef) error {
	row, err := ReadOne(ctx, t.inner, Query{
		Entity: ref.Type,
		Filter: map[string]any{"id": ref.ID},
	})
	if err != nil {
		return err
	}

	if row[TenantField] != t.tenantID {
		return NewGatewayError("Delete", ref.Type, ErrPermissionDenied)
	}

	return t.inner.Delete(ctx, ref)
}

func (t *tenantScoped) HealthCheck(ctx context.Context) error {
	return t.inner.HealthCheck(ctx)
}

func (t *tenantScoped) Close(ctx context.Context) error {
	return t.inner.Close(ctx)
}

// BatchWrite stamps every row with the tenant before delegating.
func (t *tenantScopedBatch) BatchWrite(ctx context.Context, entity string, rows []map[string]any) ([]models.EntityRef, error) {
	batcher := t.inner.(BatchWriter)

	stamped := make([]map[string]any, len(rows))

	for i, row := range rows {
		if existing, ok := row[TenantField]; ok && existing != t.tenantID {
			return nil, &BatchError{Entity: entity, Index: i, Err: ErrPermissionDenied}
		}

		copied := make(map[string]any, len(row)+1)
		for key, value := range row {
			copied[key] = value
		}

		copied[TenantField] = t.tenantID
		stamped[i] = copied
	}

	return batcher.BatchWrite(ctx, entity, stamped)
}
