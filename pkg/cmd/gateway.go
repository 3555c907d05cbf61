// Package cmd wires the storage, claim, and event bus providers the
// binaries select at startup.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marzen/tandem/pkg/config"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/gateway/memory"
	"github.com/marzen/tandem/pkg/gateway/postgres"
)

// uniqueConstrainer is implemented by gateways that enforce unique keys.
type uniqueConstrainer interface {
	AddUniqueConstraint(entity string, fields ...string)
}

// NewGateway creates a storage gateway based on the database URL scheme. An
// empty URL selects the in-memory gateway.
func NewGateway(ctx context.Context, logger *slog.Logger, databaseURL string, uniqueKeys []config.UniqueKey) gateway.Gateway {
	var g gateway.Gateway

	switch parseGatewayProvider(databaseURL) {
	case "postgres":
		pg, err := postgres.NewGateway(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create postgres gateway: %w", err))
		}

		g = pg
	default:
		g = memory.NewGateway()
	}

	if constrainer, ok := g.(uniqueConstrainer); ok {
		for _, key := range uniqueKeys {
			constrainer.AddUniqueConstraint(key.Entity, key.Fields...)
		}
	}

	return g
}

func parseGatewayProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	if scheme == "postgres" || scheme == "postgresql" {
		return "postgres"
	}

	return "memory"
}
