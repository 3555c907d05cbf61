// Package memory provides an in-memory gateway implementation for testing
// and local development.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/models"
)

// Gateway implements gateway.Gateway backed by process memory. Rows keep
// insertion order, so reads are deterministic. Unique constraints are
// registered per entity and enforced on every write, matching the conflict
// semantics of the SQL backend.
type Gateway struct {
	mu      sync.Mutex
	rows    map[string][]gateway.Row
	uniques map[string][][]string

	// injected errors for exercising failure paths, consumed on first match
	failures map[string]error
}

// NewGateway creates an empty in-memory gateway.
func NewGateway() *Gateway {
	return &Gateway{
		rows:     make(map[string][]gateway.Row),
		uniques:  make(map[string][][]string),
		failures: make(map[string]error),
	}
}

// AddUniqueConstraint registers a uniqueness constraint over the given fields
// of an entity. Writes violating it return gateway.ErrConflict.
func (g *Gateway) AddUniqueConstraint(entity string, fields ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.uniques[entity] = append(g.uniques[entity], fields)
}

// FailNext injects an error for the next operation matching op ("Read",
// "Write", "Delete", "BatchWrite") on the given entity. The injection is
// consumed once.
func (g *Gateway) FailNext(op, entity string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures[failureKey(op, entity)] = err
}

func failureKey(op, entity string) string {
	return op + ":" + entity
}

func (g *Gateway) takeFailure(op, entity string) error {
	key := failureKey(op, entity)

	err, ok := g.failures[key]
	if !ok {
		return nil
	}

	delete(g.failures, key)

	return err
}

func (g *Gateway) Read(_ context.Context, query gateway.Query) ([]gateway.Row, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("Read", query.Entity); err != nil {
		return nil, gateway.NewGatewayError("Read", query.Entity, err)
	}

	var matched []gateway.Row

	for _, row := range g.rows[query.Entity] {
		if rowMatches(row, query.Filter) {
			matched = append(matched, copyRow(row))

			if query.Limit > 0 && len(matched) >= query.Limit {
				break
			}
		}
	}

	return matched, nil
}

func (g *Gateway) Write(_ context.Context, mutation gateway.Mutation) (models.EntityRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("Write", mutation.Entity); err != nil {
		return models.EntityRef{}, gateway.NewGatewayError("Write", mutation.Entity, err)
	}

	row, err := g.insert(mutation.Entity, mutation.Fields)
	if err != nil {
		return models.EntityRef{}, err
	}

	return models.EntityRef{Type: mutation.Entity, ID: row["id"].(string)}, nil
}

// BatchWrite inserts all rows or none. On a constraint violation the error
// reports the input index of the offending row and earlier inserts are
// undone before returning.
func (g *Gateway) BatchWrite(_ context.Context, entity string, rows []map[string]any) ([]models.EntityRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("BatchWrite", entity); err != nil {
		return nil, &gateway.BatchError{Entity: entity, Index: 0, Err: err}
	}

	refs := make([]models.EntityRef, 0, len(rows))

	for i, fields := range rows {
		row, err := g.insert(entity, fields)
		if err != nil {
			// undo rows inserted so far to keep the batch atomic
			g.rows[entity] = g.rows[entity][:len(g.rows[entity])-len(refs)]

			return nil, &gateway.BatchError{Entity: entity, Index: i, Err: err}
		}

		refs = append(refs, models.EntityRef{Type: entity, ID: row["id"].(string)})
	}

	return refs, nil
}

func (g *Gateway) Delete(_ context.Context, ref models.EntityRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure("Delete", ref.Type); err != nil {
		return gateway.NewGatewayError("Delete", ref.Type, err)
	}

	rows := g.rows[ref.Type]
	for i, row := range rows {
		if row["id"] == ref.ID {
			g.rows[ref.Type] = append(rows[:i:i], rows[i+1:]...)

			return nil
		}
	}

	return gateway.NewGatewayError("Delete", ref.Type, gateway.ErrNotFound)
}

func (g *Gateway) HealthCheck(_ context.Context) error {
	return nil
}

func (g *Gateway) Close(_ context.Context) error {
	return nil
}

func (g *Gateway) insert(entity string, fields map[string]any) (gateway.Row, error) {
	row := make(gateway.Row, len(fields)+1)
	for key, value := range fields {
		row[key] = value
	}

	if _, ok := row["id"]; !ok {
		row["id"] = uuid.New().String()
	}

	for _, constraint := range g.uniques[entity] {
		key := constraintKey(row, constraint)

		for _, existing := range g.rows[entity] {
			if constraintKey(existing, constraint) == key {
				return nil, gateway.NewGatewayError("Write", entity,
					fmt.Errorf("%w: duplicate (%s)", gateway.ErrConflict, strings.Join(constraint, ", ")))
			}
		}
	}

	g.rows[entity] = append(g.rows[entity], row)

	return row, nil
}

func constraintKey(row gateway.Row, fields []string) string {
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = fmt.Sprintf("%v", row[field])
	}

	return strings.Join(parts, "\x00")
}

func rowMatches(row gateway.Row, filter map[string]any) bool {
	for key, want := range filter {
		if row[key] != want {
			return false
		}
	}

	return true
}

func copyRow(row gateway.Row) gateway.Row {
	copied := make(gateway.Row, len(row))
	for key, value := range row {
		copied[key] = value
	}

	return copied
}
