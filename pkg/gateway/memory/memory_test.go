package memory_test

import (
	"errors"
	"testing"

	"github.com/marzen/tandem/pkg/gateway"
	"github.com/marzen/tandem/pkg/gateway/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_WriteAndRead(t *testing.T) {
	g := memory.NewGateway()

	ref, err := g.Write(t.Context(), gateway.Mutation{
		Entity: "campaigns",
		Fields: map[string]any{"name": "Spring promo", "status": "draft"},
	})
	require.NoError(t, err)
	assert.Equal(t, "campaigns", ref.Type)
	assert.NotEmpty(t, ref.ID)

	rows, err := g.Read(t.Context(), gateway.Query{
		Entity: "campaigns",
		Filter: map[string]any{"status": "draft"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Spring promo", rows[0]["name"])
	assert.Equal(t, ref.ID, rows[0]["id"])
}

func TestGateway_UniqueConstraint(t *testing.T) {
	g := memory.NewGateway()
	g.AddUniqueConstraint("campaign_contact_lists", "campaign_id", "list_name")

	mutation := gateway.Mutation{
		Entity: "campaign_contact_lists",
		Fields: map[string]any{"campaign_id": "c-1", "list_name": "VIPs"},
	}

	_, err := g.Write(t.Context(), mutation)
	require.NoError(t, err)

	_, err = g.Write(t.Context(), mutation)
	require.Error(t, err)
	assert.True(t, gateway.IsConflict(err))

	// same list name under a different campaign is fine
	_, err = g.Write(t.Context(), gateway.Mutation{
		Entity: "campaign_contact_lists",
		Fields: map[string]any{"campaign_id": "c-2", "list_name": "VIPs"},
	})
	assert.NoError(t, err)
}

func TestGateway_BatchWriteAtomic(t *testing.T) {
	g := memory.NewGateway()
	g.AddUniqueConstraint("members", "customer_id")

	_, err := g.BatchWrite(t.Context(), "members", []map[string]any{
		{"customer_id": "c-1"},
		{"customer_id": "c-2"},
		{"customer_id": "c-1"}, // duplicate of index 0
	})
	require.Error(t, err)

	var batchErr *gateway.BatchError

	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 2, batchErr.Index)
	assert.True(t, gateway.IsConflict(err))

	// nothing from the failed batch is visible
	rows, err := g.Read(t.Context(), gateway.Query{Entity: "members"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGateway_BatchWritePreservesInputOrder(t *testing.T) {
	g := memory.NewGateway()

	refs, err := g.BatchWrite(t.Context(), "members", []map[string]any{
		{"customer_id": "c-1"},
		{"customer_id": "c-2"},
		{"customer_id": "c-3"},
	})
	require.NoError(t, err)
	require.Len(t, refs, 3)

	rows, err := g.Read(t.Context(), gateway.Query{Entity: "members"})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for i, row := range rows {
		assert.Equal(t, refs[i].ID, row["id"])
	}
}

func TestGateway_Delete(t *testing.T) {
	g := memory.NewGateway()

	ref, err := g.Write(t.Context(), gateway.Mutation{
		Entity: "campaigns",
		Fields: map[string]any{"name": "x"},
	})
	require.NoError(t, err)

	require.NoError(t, g.Delete(t.Context(), ref))

	err = g.Delete(t.Context(), ref)
	require.Error(t, err)
	assert.True(t, gateway.IsNotFound(err))
}

func TestGateway_FailNext(t *testing.T) {
	g := memory.NewGateway()

	ref, err := g.Write(t.Context(), gateway.Mutation{
		Entity: "campaigns",
		Fields: map[string]any{"name": "x"},
	})
	require.NoError(t, err)

	g.FailNext("Delete", "campaigns", gateway.ErrTransient)

	err = g.Delete(t.Context(), ref)
	require.Error(t, err)
	assert.True(t, gateway.IsTransient(err))

	// injection is consumed, next delete succeeds
	assert.NoError(t, g.Delete(t.Context(), ref))
}

func TestGateway_ReadLimit(t *testing.T) {
	g := memory.NewGateway()

	for range 5 {
		_, err := g.Write(t.Context(), gateway.Mutation{
			Entity: "leads",
			Fields: map[string]any{"status": "new"},
		})
		require.NoError(t, err)
	}

	rows, err := g.Read(t.Context(), gateway.Query{Entity: "leads", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
