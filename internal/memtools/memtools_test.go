package memtools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memagent/internal/config"
	"memagent/internal/events"
	"memagent/internal/llm"
	"memagent/internal/memmanager"
	"memagent/internal/memstore"
	"memagent/internal/persistence/databases"
)

// sequencedProvider returns canned responses in order, one per Chat call,
// repeating the last once exhausted.
type sequencedProvider struct {
	resps []string
	i     int
}

func (p *sequencedProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	r := p.resps[p.i]
	if p.i < len(p.resps)-1 {
		p.i++
	}
	return llm.Message{Role: "assistant", Content: r}, nil
}

func (p *sequencedProvider) ChatStream(context.Context, []llm.Message, []llm.ToolSchema, string, llm.StreamHandler) error {
	return nil
}

// fakeEmbed maps each input string to a deterministic vector so memstore's
// near-duplicate scoring and similarity search never need network access.
func fakeEmbed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v := make([]float32, 16)
		for j, r := range in {
			v[j%len(v)] += float32(r%97) + 1
		}
		out[i] = v
	}
	return out, nil
}

// newTestManager builds a Manager whose adapters embed deterministically
// in-process, so tests never require a reachable embedding endpoint.
func newTestManager(t *testing.T) *memmanager.Manager {
	t.Helper()
	pub, err := events.NewKafkaPublisher(config.KafkaConfig{Enabled: false})
	require.NoError(t, err)
	return memmanager.NewWithEmbedder(databases.NewMemoryVector(), databases.NewMemoryGraph(), fakeEmbed, config.MemoryConfig{DuplicateThreshold: 0.97}, pub)
}

func testDeps(mgr *memmanager.Manager, llmProvider llm.Provider) Deps {
	return Deps{
		Manager:   mgr,
		LLM:       llmProvider,
		UserID:    "user-1",
		ConvID:    "conv-1",
		Settings:  memmanager.LLMSettings{},
		MemoryCfg: config.MemoryConfig{DefaultSearchLimit: 5, DeleteCandidateLimit: 10},
	}
}

func TestAddMemoryTool_LocalAndGlobal(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	local := &addMemoryTool{deps: testDeps(mgr, nil), name: "add_local_memory", scope: memmanager.ScopeLocal}
	out, err := local.Call(ctx, json.RawMessage(`{"content":"喜欢打网球"}`))
	require.NoError(t, err)
	result := out.(map[string]any)
	assert.Equal(t, memstore.EventAdd, result["event"])
	assert.NotEmpty(t, result["id"])

	global := &addMemoryTool{deps: testDeps(mgr, nil), name: "add_global_memory", scope: memmanager.ScopeGlobal}
	_, err = global.Call(ctx, json.RawMessage(`{"content":"我的名字是张三"}`))
	require.NoError(t, err)

	_, err = local.Call(ctx, json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestSearchMemoryTool_ShapesResult(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	add := &addMemoryTool{deps: testDeps(mgr, nil), name: "add_local_memory", scope: memmanager.ScopeLocal}
	_, err := add.Call(ctx, json.RawMessage(`{"content":"我的名字是张三"}`))
	require.NoError(t, err)

	search := &searchMemoryTool{deps: testDeps(mgr, nil), name: "search_local_memories", scope: memmanager.ScopeLocal, header: "局部搜索结果"}
	out, err := search.Call(ctx, json.RawMessage(`{"query":"名字"}`))
	require.NoError(t, err)
	shaped := out.(shapedSearchResult)
	assert.Equal(t, "局部搜索结果", shaped.Header)
	require.Len(t, shaped.RelevantMemories, 1)
	assert.Equal(t, "我的名字是张三", shaped.RelevantMemories[0])
	require.Len(t, shaped.KnowledgeGraphConnections, 1)
	assert.Equal(t, "用户 --[名字]--> 张三", shaped.KnowledgeGraphConnections[0])
}

func TestDeleteProtocol_NoMatches(t *testing.T) {
	mgr := newTestManager(t)
	provider := &sequencedProvider{resps: []string{"[]"}}
	tool := &deleteMemoryTool{deps: testDeps(mgr, provider)}

	out, err := tool.Call(context.Background(), json.RawMessage(`{"content":"不存在的事情"}`))
	require.NoError(t, err)
	assert.Equal(t, "no matches", out)
}

func TestDeleteProtocol_DeletesAndResetsGraph(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	settings := memmanager.LLMSettings{}

	added, err := mgr.Add(ctx, "user-1", "conv-1", memmanager.ScopeLocal, settings, []string{"我的名字是张三"}, nil)
	require.NoError(t, err)
	require.Len(t, added.Results, 1)
	id := added.Results[0].ID

	provider := &sequencedProvider{resps: []string{fmt.Sprintf(`["%s"]`, id), "用户的名字未知"}}
	tool := &deleteMemoryTool{deps: testDeps(mgr, provider)}

	out, err := tool.Call(ctx, json.RawMessage(`{"content":"忘记我的名字"}`))
	require.NoError(t, err)
	assert.Equal(t, "已删除 1 条记忆,知识图谱已同步。", out)

	remaining, err := mgr.GetMemories(ctx, "user-1", "conv-1", settings, 0)
	require.NoError(t, err)
	var texts []string
	for _, hit := range remaining.Results {
		texts = append(texts, hit.Memory)
	}
	assert.NotContains(t, texts, "我的名字是张三")
	assert.Contains(t, texts, "用户的名字未知")

	for _, rel := range remaining.Relations {
		assert.NotEqual(t, "张三", rel.Destination, "stale edge from the deleted fact must not survive (I5)")
	}
}
