// Package memtools implements the five memory tools exposed to the
// tool-calling agent loop (add/search for local and global scope, plus the
// delete protocol that keeps the knowledge graph consistent after a
// deletion). Each tool is bound to one user/conversation/model-settings
// triple at construction time, so a fresh Registry must be built per chat
// turn — mirroring how the teacher's agent engine is itself built per
// request rather than held as a long-lived singleton.
package memtools

import (
	"context"
	"encoding/json"
	"fmt"

	"memagent/internal/config"
	"memagent/internal/llm"
	"memagent/internal/memmanager"
	"memagent/internal/memstore"
	"memagent/internal/tools"
)

// Deps bundles everything a tool needs to act on behalf of one request.
type Deps struct {
	Manager   *memmanager.Manager
	LLM       llm.Provider
	UserID    string
	ConvID    string
	Settings  memmanager.LLMSettings
	MemoryCfg config.MemoryConfig
}

// NewRegistry builds a fresh tools.Registry carrying the five memory tools
// bound to deps.
func NewRegistry(deps Deps) tools.Registry {
	r := tools.NewRegistry()
	r.Register(&addMemoryTool{deps: deps, name: "add_local_memory", scope: memmanager.ScopeLocal})
	r.Register(&addMemoryTool{deps: deps, name: "add_global_memory", scope: memmanager.ScopeGlobal})
	r.Register(&searchMemoryTool{deps: deps, name: "search_local_memories", scope: memmanager.ScopeLocal, header: "局部搜索结果"})
	r.Register(&searchMemoryTool{deps: deps, name: "search_global_memories", scope: memmanager.ScopeGlobal, header: "全局搜索结果"})
	r.Register(&deleteMemoryTool{deps: deps})
	return r
}

func searchLimit(cfg config.MemoryConfig) int {
	if cfg.DefaultSearchLimit > 0 {
		return cfg.DefaultSearchLimit
	}
	return 5
}

func candidateLimit(cfg config.MemoryConfig) int {
	if cfg.DeleteCandidateLimit > 0 {
		return cfg.DeleteCandidateLimit
	}
	return 10
}

func renderEdge(r memstore.Relation) string {
	return fmt.Sprintf("%s --[%s]--> %s", r.Source, r.Relationship, r.Destination)
}

func parseContentArg(raw json.RawMessage) (string, error) {
	var args struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Content == "" {
		return "", fmt.Errorf("content is required")
	}
	return args.Content, nil
}

func parseQueryArg(raw json.RawMessage) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	return args.Query, nil
}

// chatOneShot issues a single non-streaming, tool-free LLM call and returns
// the trimmed response text.
func chatOneShot(ctx context.Context, provider llm.Provider, model, prompt string) (string, error) {
	resp, err := provider.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, model)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
