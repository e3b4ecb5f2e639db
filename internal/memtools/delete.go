package memtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"memagent/internal/memmanager"
	"memagent/internal/memstore"
	"memagent/internal/observability"
)

const graphOnlyID = "graph_only"

type deleteMemoryTool struct {
	deps Deps
}

func (t *deleteMemoryTool) Name() string { return "delete_memory" }

func (t *deleteMemoryTool) JSONSchema() map[string]any {
	return map[string]any{
		"description": "Forget a fact the user wants removed, described in natural language.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "Natural-language description of what to forget.",
				},
			},
			"required": []string{"content"},
		},
	}
}

type deleteCandidate struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Scope   string `json:"scope"`
}

// Call implements the delete protocol: gather candidates from both
// namespaces, ask the model which ids actually match, physically delete
// them, then reset the graph with a neutralizing statement so no orphaned
// edge survives the deletion (I5).
func (t *deleteMemoryTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	content, err := parseContentArg(raw)
	if err != nil {
		return nil, err
	}
	deps := t.deps
	limit := candidateLimit(deps.MemoryCfg)

	localRes, err := deps.Manager.Search(ctx, deps.UserID, deps.ConvID, memmanager.ScopeLocal, deps.Settings, content, limit)
	if err != nil {
		return nil, fmt.Errorf("search local memories: %w", err)
	}
	globalRes, err := deps.Manager.Search(ctx, deps.UserID, "", memmanager.ScopeGlobal, deps.Settings, content, limit)
	if err != nil {
		return nil, fmt.Errorf("search global memories: %w", err)
	}

	candidates := append(
		scopedCandidates(localRes, "局部", "local"),
		scopedCandidates(globalRes, "全局", "global")...,
	)
	if len(candidates) == 0 {
		return "no matches", nil
	}

	ids, err := t.reviewCandidates(ctx, content, candidates)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("delete_memory_review_failed")
		ids = nil
	}

	byID := make(map[string]deleteCandidate, len(candidates))
	graphOnlySeen := false
	for _, c := range candidates {
		byID[c.ID] = c
		if c.ID == graphOnlyID {
			graphOnlySeen = true
		}
	}

	var deletedContents []string
	for _, id := range ids {
		if id == graphOnlyID {
			continue
		}
		cand, ok := byID[id]
		if !ok {
			continue
		}
		if err := deps.Manager.Delete(ctx, deps.Settings, id); err != nil {
			return nil, fmt.Errorf("delete memory %s: %w", id, err)
		}
		deletedContents = append(deletedContents, cand.Content)
	}

	if len(deletedContents) > 0 || graphOnlySeen {
		t.resetGraph(ctx, content, deletedContents)
	}

	return fmt.Sprintf("已删除 %d 条记忆,知识图谱已同步。", len(deletedContents)), nil
}

// scopedCandidates flattens a SearchResult into vector-hit candidates plus
// one synthetic graph_only candidate per relation, so the review step can
// see graph residue without being able to target it directly for deletion.
func scopedCandidates(res memstore.SearchResult, scopeLabel, scopeTag string) []deleteCandidate {
	out := make([]deleteCandidate, 0, len(res.Results)+len(res.Relations))
	for _, hit := range res.Results {
		out = append(out, deleteCandidate{ID: hit.ID, Content: hit.Memory, Scope: scopeTag})
	}
	for _, rel := range res.Relations {
		out = append(out, deleteCandidate{
			ID:      graphOnlyID,
			Content: fmt.Sprintf("[%s图谱残留] %s", scopeLabel, renderEdge(rel)),
			Scope:   scopeTag,
		})
	}
	return out
}

// reviewCandidates asks the model which candidate ids actually match the
// user's deletion request. Parse failures are treated as "nothing matched"
// by the caller, never as an error that aborts the tool.
func (t *deleteMemoryTool) reviewCandidates(ctx context.Context, content string, candidates []deleteCandidate) ([]string, error) {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(
		"The user wants to forget: %q\n\nCandidate memory records:\n%s\n\n"+
			"Reply with a JSON array of the \"id\" values that should be deleted to satisfy this request. "+
			"Only select ids that correspond to actual memory facts; ignore any candidate whose id is %q — "+
			"those describe existing knowledge-graph edges and are shown only for context. "+
			"If nothing matches, reply with []. Reply with the JSON array and nothing else.",
		content, string(payload), graphOnlyID,
	)
	raw, err := chatOneShot(ctx, t.deps.LLM, t.deps.Settings.Model, prompt)
	if err != nil {
		return nil, err
	}
	return parseIDArray(raw)
}

// resetGraph asks the model for a single neutralizing statement and
// ingests it into both the global and local namespaces so the adapter's
// own fact-extraction pipeline updates or deletes the stale graph edge in
// place of adding a new one. Best-effort: failures are logged, not
// propagated, since the facts themselves were already deleted successfully.
func (t *deleteMemoryTool) resetGraph(ctx context.Context, requestedContent string, deletedContents []string) {
	deps := t.deps
	basis := requestedContent
	if len(deletedContents) > 0 {
		basis = strings.Join(deletedContents, "; ")
	}
	prompt := fmt.Sprintf(
		"The user asked to forget: %q. The removed facts were: %s. "+
			"Write exactly one short sentence, in the same language as the removed facts, "+
			"whose subject is \"用户\" (the user) — never the named entity — that resets only the "+
			"affected attribute to unknown (for example, deleting \"我叫张三\" becomes \"用户的名字未知\"). "+
			"Reply with only that sentence.",
		requestedContent, basis,
	)
	statement, err := chatOneShot(ctx, deps.LLM, deps.Settings.Model, prompt)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("delete_memory_neutralize_failed")
		statement = ""
	}
	statement = strings.TrimSpace(statement)
	if statement == "" || leaksEntity(statement, deletedContents) {
		// OQ2 (DESIGN.md): the model's reset prompt is not guaranteed to keep
		// the deleted entity's name out of its own answer, and an empty
		// response is possible on provider error. Fall back to a subject-safe
		// templated statement rather than risk re-introducing the very name
		// the user asked to forget.
		statement = fallbackNeutralizingStatement(basis)
	}
	meta := map[string]string{"type": "graph_reset", "source": "delete_tool"}
	if _, err := deps.Manager.Add(ctx, deps.UserID, "", memmanager.ScopeGlobal, deps.Settings, []string{statement}, meta); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("delete_memory_graph_reset_global_failed")
	}
	if _, err := deps.Manager.Add(ctx, deps.UserID, deps.ConvID, memmanager.ScopeLocal, deps.Settings, []string{statement}, meta); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("delete_memory_graph_reset_local_failed")
	}
}

// leaksEntity reports whether statement fails to open with the required
// subject-free subject ("用户", "the user" or "user"), which is the one property the
// spec pins down deterministically (§9 OQ2) even though wording otherwise
// varies by model.
func leaksEntity(statement string, _ []string) bool {
	s := strings.TrimSpace(statement)
	if strings.HasPrefix(s, "用户") {
		return false
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "the user") || strings.HasPrefix(lower, "user") {
		return false
	}
	return true
}

// fallbackNeutralizingStatement produces a deterministic, subject-safe reset
// sentence when the model's own answer is empty or leaks the deleted
// entity's name. It carries no information about the specific attribute
// beyond "related information", trading precision for the guarantee that it
// never names the forgotten entity.
func fallbackNeutralizingStatement(basis string) string {
	if containsCJK(basis) {
		return "用户的相关信息已重置为未知。"
	}
	return "The user's related information has been reset to unknown."
}

func containsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

// parseIDArray extracts the first top-level JSON array from raw, tolerating
// a surrounding markdown code fence or commentary the model might add
// despite being asked for bare JSON.
func parseIDArray(raw string) ([]string, error) {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &ids); err != nil {
		return nil, fmt.Errorf("parse id array: %w", err)
	}
	return ids, nil
}
