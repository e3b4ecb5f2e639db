package databases

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGraph_UpsertEdgeReplacesPriorDestination(t *testing.T) {
	t.Parallel()
	g := NewMemoryGraph()
	ctx := context.Background()

	require.NoError(t, g.UpsertEdge(ctx, "用户", "名字", "张三", map[string]any{"fact_id": "f1"}))
	require.NoError(t, g.UpsertEdge(ctx, "用户", "名字", "李四", map[string]any{"fact_id": "f2"}))

	dsts, err := g.Neighbors(ctx, "用户", "名字")
	require.NoError(t, err)
	assert.Equal(t, []string{"李四"}, dsts, "a second upsert for the same (src, rel) must overwrite, not accumulate")

	edges, err := g.EdgesFrom(ctx, "用户")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "李四", edges[0].Destination)
}

func TestMemoryGraph_DeleteEdgesByFactIDRemovesOnlyThatEdge(t *testing.T) {
	t.Parallel()
	g := NewMemoryGraph()
	ctx := context.Background()

	require.NoError(t, g.UpsertEdge(ctx, "用户", "名字", "张三", map[string]any{"fact_id": "f1"}))
	require.NoError(t, g.UpsertEdge(ctx, "用户", "爱好", "吉他", map[string]any{"fact_id": "f2"}))

	require.NoError(t, g.DeleteEdgesByFactID(ctx, "f1"))

	edges, err := g.EdgesFrom(ctx, "用户")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "爱好", edges[0].Relationship)
	assert.Equal(t, "吉他", edges[0].Destination)
}

func TestMemoryGraph_DeleteNodeRemovesIncidentEdges(t *testing.T) {
	t.Parallel()
	g := NewMemoryGraph()
	ctx := context.Background()

	require.NoError(t, g.UpsertEdge(ctx, "用户", "名字", "张三", nil))
	require.NoError(t, g.DeleteNode(ctx, "张三"))

	edges, err := g.EdgesFrom(ctx, "用户")
	require.NoError(t, err)
	assert.Empty(t, edges)
}
