package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memagent/internal/persistence/databases"
)

// fakeEmbed maps each input string to a one-hot-ish vector keyed by its
// trimmed, lower-cased content, so identical facts embed identically and
// distinct facts embed as near-orthogonal.
func fakeEmbed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = hashVector(in)
	}
	return out, nil
}

func hashVector(s string) []float32 {
	v := make([]float32, 16)
	for i, r := range s {
		v[i%len(v)] += float32(r%97) + 1
	}
	return v
}

func newTestAdapter() *Adapter {
	return NewAdapter(databases.NewMemoryVector(), databases.NewMemoryGraph(), fakeEmbed, 0.97)
}

func TestAdapter_AddThenSearch(t *testing.T) {
	a := newTestAdapter()
	ctx := context.Background()

	res, err := a.Add(ctx, []string{"我的名字是张三"}, "user-1", "", nil)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, EventAdd, res.Results[0].Event)
	assert.NotEmpty(t, res.Results[0].ID)
	require.Len(t, res.Relations, 1)
	assert.Equal(t, "用户", res.Relations[0].Source)
	assert.Equal(t, "名字", res.Relations[0].Relationship)
	assert.Equal(t, "张三", res.Relations[0].Destination)

	search, err := a.Search(ctx, "我的名字是张三", "user-1", "", 5)
	require.NoError(t, err)
	require.Len(t, search.Results, 1)
	assert.Equal(t, "我的名字是张三", search.Results[0].Memory)
	require.Len(t, search.Relations, 1)
	assert.Equal(t, "张三", search.Relations[0].Destination)
}

func TestAdapter_AddDuplicateBecomesUpdate(t *testing.T) {
	a := newTestAdapter()
	ctx := context.Background()

	first, err := a.Add(ctx, []string{"喜欢打网球"}, "user-1", "", nil)
	require.NoError(t, err)
	require.Len(t, first.Results, 1)
	assert.Equal(t, EventAdd, first.Results[0].Event)
	firstID := first.Results[0].ID

	second, err := a.Add(ctx, []string{"喜欢打网球"}, "user-1", "", nil)
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, EventUpdate, second.Results[0].Event)
	assert.Equal(t, firstID, second.Results[0].ID)

	all, err := a.GetAll(ctx, "user-1", "", 0)
	require.NoError(t, err)
	assert.Len(t, all.Results, 1)
}

func TestAdapter_UpdateAndDelete(t *testing.T) {
	a := newTestAdapter()
	ctx := context.Background()

	added, err := a.Add(ctx, []string{"喜欢吃辣"}, "user-2", "", nil)
	require.NoError(t, err)
	id := added.Results[0].ID

	require.NoError(t, a.Update(ctx, id, "喜欢吃甜"))
	all, err := a.GetAll(ctx, "user-2", "", 0)
	require.NoError(t, err)
	require.Len(t, all.Results, 1)
	assert.Equal(t, "喜欢吃甜", all.Results[0].Memory)

	require.NoError(t, a.Delete(ctx, id))
	all, err = a.GetAll(ctx, "user-2", "", 0)
	require.NoError(t, err)
	assert.Empty(t, all.Results)
}

func TestAdapter_DeleteAllClearsVectorsAndGraph(t *testing.T) {
	a := newTestAdapter()
	ctx := context.Background()

	_, err := a.Add(ctx, []string{"我的名字是李四", "喜欢弹吉他"}, "user-3", "", nil)
	require.NoError(t, err)

	require.NoError(t, a.DeleteAll(ctx, "user-3", ""))

	all, err := a.GetAll(ctx, "user-3", "", 0)
	require.NoError(t, err)
	assert.Empty(t, all.Results)
	assert.Empty(t, all.Relations)
}

func TestExtractRelations(t *testing.T) {
	cases := []struct {
		text string
		want *Relation
	}{
		{"我的名字是张三", &Relation{Source: "用户", Relationship: "名字", Destination: "张三"}},
		{"Alice likes coffee", &Relation{Source: "Alice", Relationship: "likes", Destination: "coffee"}},
		{"just a sentence with no pattern", nil},
	}
	for _, c := range cases {
		got := extractRelations(c.text)
		if c.want == nil {
			assert.Empty(t, got, c.text)
			continue
		}
		require.Len(t, got, 1, c.text)
		assert.Equal(t, *c.want, got[0])
	}
}
