// Package gateway provides the capability-scoped storage abstraction that
// every workflow step writes through.
package gateway

import (
	"context"

	"github.com/marzen/tandem/pkg/models"
)

// Row is a single stored record. The "id" and "tenant_id" fields are managed
// by the gateway implementations.
type Row map[string]any

// Query describes a single read: equality filters over one entity.
type Query struct {
	Entity string
	Filter map[string]any
	Limit  int
}

// Mutation describes a single insert into one entity.
type Mutation struct {
	Entity string
	Fields map[string]any
}

// Gateway executes single reads and writes against a relational store. Every
// write is immediately visible to subsequent reads; there is no client-side
// caching. Implementations distinguish Conflict from Transient failures so
// callers can decide whether to surface AlreadyExists or abandon.
type Gateway interface {
	Read(ctx context.Context, query Query) ([]Row, error)
	Write(ctx context.Context, mutation Mutation) (models.EntityRef, error)
	Delete(ctx context.Context, ref models.EntityRef) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// BatchWriter is implemented by gateways that can write several rows of one
// entity in a single operation. A batch either fully succeeds or fully fails;
// on failure the error reports the input index of the offending row.
type BatchWriter interface {
	BatchWrite(ctx context.Context, entity string, rows []map[string]any) ([]models.EntityRef, error)
}

// ReadOne returns exactly one row matching the query, or ErrNotFound.
func ReadOne(ctx context.Context, g Gateway, query Query) (Row, error) {
	query.Limit = 1

	rows, err := g.Read(ctx, query)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, NewGatewayError("ReadOne", query.Entity, ErrNotFound)
	}

	return rows[0], nil
}
