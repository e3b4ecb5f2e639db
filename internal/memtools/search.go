package memtools

import (
	"context"
	"encoding/json"

	"memagent/internal/memmanager"
)

type searchMemoryTool struct {
	deps   Deps
	name   string
	scope  memmanager.Scope
	header string
}

func (t *searchMemoryTool) Name() string { return t.name }

func (t *searchMemoryTool) JSONSchema() map[string]any {
	desc := "Search this conversation's local memory for relevant facts and graph connections."
	if t.scope == memmanager.ScopeGlobal {
		desc = "Search the user's durable global memory for relevant facts and graph connections."
	}
	return map[string]any{
		"description": desc,
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for, in natural language.",
				},
			},
			"required": []string{"query"},
		},
	}
}

// shapedSearchResult is the JSON blob handed back to the LLM: two ordered
// lists so it can reason over vector hits and graph edges separately, with
// a Chinese header identifying which scope was searched.
type shapedSearchResult struct {
	Header                    string   `json:"header"`
	RelevantMemories          []string `json:"relevant_memories"`
	KnowledgeGraphConnections []string `json:"knowledge_graph_connections"`
}

func (t *searchMemoryTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	query, err := parseQueryArg(raw)
	if err != nil {
		return nil, err
	}
	runID := ""
	if t.scope == memmanager.ScopeLocal {
		runID = t.deps.ConvID
	}
	res, err := t.deps.Manager.Search(ctx, t.deps.UserID, runID, t.scope, t.deps.Settings, query, searchLimit(t.deps.MemoryCfg))
	if err != nil {
		return nil, err
	}
	out := shapedSearchResult{
		Header:                    t.header,
		RelevantMemories:          make([]string, 0, len(res.Results)),
		KnowledgeGraphConnections: make([]string, 0, len(res.Relations)),
	}
	for _, hit := range res.Results {
		out.RelevantMemories = append(out.RelevantMemories, hit.Memory)
	}
	for _, rel := range res.Relations {
		out.KnowledgeGraphConnections = append(out.KnowledgeGraphConnections, renderEdge(rel))
	}
	return out, nil
}
