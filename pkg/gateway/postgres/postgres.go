// Package postgres provides a PostgreSQL gateway backend. Rows are stored as
// JSONB documents keyed by entity, with uniqueness enforced through a
// companion key table so conflicts surface as constraint violations.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/gateway/sqlbase"
	"github.com/marzen/tandem/pkg/models"
)

// Gateway implements gateway.Gateway on PostgreSQL.
type Gateway struct {
	db      *sql.DB
	logger  *slog.Logger
	uniques map[string][][]string
}

// NewGateway connects to PostgreSQL, runs migrations, and returns a gateway.
func NewGateway(ctx context.Context, logger *slog.Logger, databaseURL string) (*Gateway, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Gateway{
		db:      database,
		logger:  logger,
		uniques: make(map[string][][]string),
	}, nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS entity_rows (
				id TEXT PRIMARY KEY,
				entity TEXT NOT NULL,
				fields JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_entity_rows_entity ON entity_rows (entity, created_at);

			CREATE TABLE IF NOT EXISTS entity_unique_keys (
				entity TEXT NOT NULL,
				unique_key TEXT NOT NULL,
				row_id TEXT NOT NULL REFERENCES entity_rows (id) ON DELETE CASCADE,
				PRIMARY KEY (entity, unique_key)
			);
		`,
	}
}

// AddUniqueConstraint registers a uniqueness constraint over the given fields
// of an entity. Writes violating it return gateway.ErrConflict.
func (g *Gateway) AddUniqueConstraint(entity string, fields ...string) {
	g.uniques[entity] = append(g.uniques[entity], fields)
}

func (g *Gateway) Read(ctx context.Context, query gateway.Query) ([]gateway.Row, error) {
	sqlQuery := `
		SELECT id, fields
		FROM entity_rows
		WHERE entity = $1 AND fields @> $2
		ORDER BY created_at, id
	`

	args := []any{query.Entity}

	filter, err := json.Marshal(query.Filter)
	if err != nil {
		return nil, gateway.NewGatewayError("Read", query.Entity, err)
	}

	args = append(args, filter)

	if query.Limit > 0 {
		sqlQuery += " LIMIT $3"
		args = append(args, query.Limit)
	}

	rows, err := g.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, gateway.NewGatewayError("Read", query.Entity, classify(err))
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			g.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var result []gateway.Row

	for rows.Next() {
		var (
			id     string
			fields []byte
		)

		if err := rows.Scan(&id, &fields); err != nil {
			return nil, gateway.NewGatewayError("Read", query.Entity, err)
		}

		row := gateway.Row{}
		if err := json.Unmarshal(fields, &row); err != nil {
			return nil, gateway.NewGatewayError("Read", query.Entity, err)
		}

		row["id"] = id
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, gateway.NewGatewayError("Read", query.Entity, classify(err))
	}

	return result, nil
}

func (g *Gateway) Write(ctx context.Context, mutation gateway.Mutation) (models.EntityRef, error) {
	transaction, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return models.EntityRef{}, gateway.NewGatewayError("Write", mutation.Entity, classify(err))
	}

	ref, err := g.insert(ctx, transaction, mutation.Entity, mutation.Fields)
	if err != nil {
		_ = transaction.Rollback()

		return models.EntityRef{}, gateway.NewGatewayError("Write", mutation.Entity, err)
	}

	if err := transaction.Commit(); err != nil {
		return models.EntityRef{}, gateway.NewGatewayError("Write", mutation.Entity, classify(err))
	}

	return ref, nil
}

// BatchWrite inserts all rows in one transaction. On failure the transaction
// is rolled back and the error reports the failing input index.
func (g *Gateway) BatchWrite(ctx context.Context, entity string, rows []map[string]any) ([]models.EntityRef, error) {
	transaction, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gateway.NewGatewayError("BatchWrite", entity, classify(err))
	}

	refs := make([]models.EntityRef, 0, len(rows))

	for i, fields := range rows {
		ref, err := g.insert(ctx, transaction, entity, fields)
		if err != nil {
			_ = transaction.Rollback()

			return nil, &gateway.BatchError{Entity: entity, Index: i, Err: err}
		}

		refs = append(refs, ref)
	}

	if err := transaction.Commit(); err != nil {
		return nil, gateway.NewGatewayError("BatchWrite", entity, classify(err))
	}

	return refs, nil
}

func (g *Gateway) insert(ctx context.Context, transaction *sql.Tx, entity string, fields map[string]any) (models.EntityRef, error) {
	id, ok := fields["id"].(string)
	if !ok || id == "" {
		id = uuid.New().String()
	}

	stored := make(map[string]any, len(fields))
	for key, value := range fields {
		stored[key] = value
	}

	delete(stored, "id")

	payload, err := json.Marshal(stored)
	if err != nil {
		return models.EntityRef{}, err
	}

	_, err = transaction.ExecContext(ctx,
		"INSERT INTO entity_rows (id, entity, fields) VALUES ($1, $2, $3)",
		id, entity, payload)
	if err != nil {
		return models.EntityRef{}, classify(err)
	}

	stored["id"] = id

	for _, constraint := range g.uniques[entity] {
		_, err = transaction.ExecContext(ctx,
			"INSERT INTO entity_unique_keys (entity, unique_key, row_id) VALUES ($1, $2, $3)",
			entity, constraintKey(stored, constraint), id)
		if err != nil {
			return models.EntityRef{}, classify(err)
		}
	}

	return models.EntityRef{Type: entity, ID: id}, nil
}

func (g *Gateway) Delete(ctx context.Context, ref models.EntityRef) error {
	result, err := g.db.ExecContext(ctx,
		"DELETE FROM entity_rows WHERE id = $1 AND entity = $2", ref.ID, ref.Type)
	if err != nil {
		return gateway.NewGatewayError("Delete", ref.Type, classify(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return gateway.NewGatewayError("Delete", ref.Type, err)
	}

	if affected == 0 {
		return gateway.NewGatewayError("Delete", ref.Type, gateway.ErrNotFound)
	}

	return nil
}

func (g *Gateway) HealthCheck(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

func (g *Gateway) Close(_ context.Context) error {
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func constraintKey(fields map[string]any, constraint []string) string {
	parts := make([]string, len(constraint))
	for i, field := range constraint {
		parts[i] = fmt.Sprintf("%v", fields[field])
	}

	return strings.Join(parts, "\x00")
}

// classify maps driver errors onto the gateway taxonomy: unique violations
// become ErrConflict, connection-class failures become ErrTransient.
func classify(err error) error {
	var pqErr *pq.Error

	if errors.As(err, &pqErr) {
		if pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", gateway.ErrConflict, pqErr.Detail)
		}

		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%w: %v", gateway.ErrTransient, err)
		}

		return err
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", gateway.ErrTransient, err)
	}

	return err
}
