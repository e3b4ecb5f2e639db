package memtools

import (
	"context"
	"encoding/json"

	"memagent/internal/memmanager"
)

type addMemoryTool struct {
	deps  Deps
	name  string
	scope memmanager.Scope
}

func (t *addMemoryTool) Name() string { return t.name }

func (t *addMemoryTool) JSONSchema() map[string]any {
	desc := "Store a fact in this conversation's local memory."
	if t.scope == memmanager.ScopeGlobal {
		desc = "Store a fact in the user's durable global memory, visible across every conversation."
	}
	return map[string]any{
		"description": desc,
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The fact to remember, as a short natural-language statement.",
				},
			},
			"required": []string{"content"},
		},
	}
}

func (t *addMemoryTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	content, err := parseContentArg(raw)
	if err != nil {
		return nil, err
	}
	var extra map[string]string
	if t.scope == memmanager.ScopeGlobal {
		extra = map[string]string{"source_conversation_id": t.deps.ConvID}
	}
	res, err := t.deps.Manager.Add(ctx, t.deps.UserID, t.deps.ConvID, t.scope, t.deps.Settings, []string{content}, extra)
	if err != nil {
		return nil, err
	}
	if len(res.Results) == 0 {
		return map[string]any{"stored": false}, nil
	}
	fr := res.Results[0]
	return map[string]any{
		"stored": fr.Event != "NONE",
		"id":     fr.ID,
		"event":  fr.Event,
	}, nil
}
