package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/marzen/tandem/pkg/eventbus"
	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/gateway/memory"
	"github.com/marzen/tandem/pkg/models"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func seedRow(t *testing.T, g *memory.Gateway, entity string, fields map[string]any) models.EntityRef {
	t.Helper()

	ref, err := g.Write(t.Context(), gateway.Mutation{Entity: entity, Fields: fields})
	require.NoError(t, err)

	return ref
}

func readAll(t *testing.T, g *memory.Gateway, entity string, filter map[string]any) []gateway.Row {
	t.Helper()

	rows, err := g.Read(t.Context(), gateway.Query{Entity: entity, Filter: filter})
	require.NoError(t, err)

	return rows
}
