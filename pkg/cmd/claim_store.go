package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/marzen/tandem/pkg/claims"
)

// NewClaimStore creates a claim store based on the Redis URL. An empty URL
// selects the in-memory store with a janitor sweeping expired claims; Redis
// expires claims server-side and needs no janitor.
func NewClaimStore(ctx context.Context, logger *slog.Logger, redisURL, janitorSchedule string) (claims.Store, func()) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		store, err := claims.NewRedisStore(ctx, redisURL)
		if err != nil {
			panic(fmt.Errorf("failed to create redis claim store: %w", err))
		}

		return store, func() { _ = store.Close() }
	}

	store := claims.NewMemoryStore()

	janitor := claims.NewJanitor(store, logger, janitorSchedule)
	if err := janitor.Start(); err != nil {
		panic(fmt.Errorf("failed to start claim janitor: %w", err))
	}

	return store, func() {
		janitor.Stop()
		_ = store.Close()
	}
}
