package memstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"memagent/internal/persistence/databases"
)

// EmbedFunc embeds a batch of strings, one vector per input, preserving order.
type EmbedFunc func(ctx context.Context, inputs []string) ([][]float32, error)

// Adapter wraps a vector store and a graph database behind the add/search/
// get_all/update/delete/delete_all capability set. It never retries; every
// error is surfaced to the caller (the memory manager).
type Adapter struct {
	Vector             databases.VectorStore
	Graph              databases.GraphDB
	Embed              EmbedFunc
	DuplicateThreshold float64
}

// NewAdapter builds an Adapter. duplicateThreshold is the cosine-similarity
// floor above which a candidate fact is treated as an UPDATE of an existing
// record instead of a fresh ADD.
func NewAdapter(vector databases.VectorStore, graph databases.GraphDB, embed EmbedFunc, duplicateThreshold float64) *Adapter {
	if duplicateThreshold <= 0 {
		duplicateThreshold = 0.97
	}
	return &Adapter{Vector: vector, Graph: graph, Embed: embed, DuplicateThreshold: duplicateThreshold}
}

const nsLabelPrefix = "ns:"

func nsLabel(namespace string) string { return nsLabelPrefix + namespace }

// Add extracts one candidate fact per message, embeds it, classifies it as
// ADD/UPDATE/NONE against existing vectors in the same namespace, and
// persists any relation triples the fact's text yields into the graph.
func (a *Adapter) Add(ctx context.Context, messages []string, namespace, run string, metadata map[string]string) (AddResult, error) {
	trimmed := make([]string, 0, len(messages))
	slots := make([]int, 0, len(messages)) // index into trimmed, or -1 for skipped
	for _, m := range messages {
		t := strings.TrimSpace(m)
		if t == "" {
			slots = append(slots, -1)
			continue
		}
		slots = append(slots, len(trimmed))
		trimmed = append(trimmed, t)
	}

	out := AddResult{Results: make([]FactResult, 0, len(messages))}
	if len(trimmed) == 0 {
		for range messages {
			out.Results = append(out.Results, FactResult{Event: EventNone})
		}
		return out, nil
	}

	vectors, err := a.Embed(ctx, trimmed)
	if err != nil {
		return AddResult{}, fmt.Errorf("embed facts: %w", err)
	}

	filter := map[string]string{"namespace": namespace}
	if run != "" {
		filter["run"] = run
	}

	for _, slot := range slots {
		if slot == -1 {
			out.Results = append(out.Results, FactResult{Event: EventNone})
			continue
		}
		text := trimmed[slot]
		vec := vectors[slot]

		nearest, err := a.Vector.SimilaritySearch(ctx, vec, 1, filter)
		if err != nil {
			return AddResult{}, fmt.Errorf("search near-duplicates: %w", err)
		}

		id := ""
		event := EventAdd
		if len(nearest) > 0 && nearest[0].Score >= a.DuplicateThreshold {
			id = nearest[0].ID
			event = EventUpdate
		} else {
			id = uuid.NewString()
		}

		md := make(map[string]string, len(metadata)+2)
		for k, v := range metadata {
			md[k] = v
		}
		md["namespace"] = namespace
		md["text"] = text
		if run != "" {
			md["run"] = run
		}

		if err := a.Vector.Upsert(ctx, id, vec, md); err != nil {
			return AddResult{}, fmt.Errorf("upsert fact: %w", err)
		}

		rels := extractRelations(text)
		for _, r := range rels {
			if err := a.persistRelation(ctx, namespace, id, r); err != nil {
				return AddResult{}, fmt.Errorf("persist relation: %w", err)
			}
		}
		out.Relations = append(out.Relations, rels...)
		out.Results = append(out.Results, FactResult{ID: id, Text: text, Event: event})
	}
	return out, nil
}

func (a *Adapter) persistRelation(ctx context.Context, namespace, factID string, r Relation) error {
	label := nsLabel(namespace)
	if err := a.Graph.UpsertNode(ctx, r.Source, []string{label}, map[string]any{"namespace": namespace}); err != nil {
		return err
	}
	if err := a.Graph.UpsertNode(ctx, r.Destination, []string{label}, map[string]any{"namespace": namespace}); err != nil {
		return err
	}
	return a.Graph.UpsertEdge(ctx, r.Source, r.Relationship, r.Destination, map[string]any{
		"namespace": namespace,
		"fact_id":   factID,
	})
}

// Search returns the k nearest facts in namespace plus every relation
// recorded for that namespace's graph nodes.
func (a *Adapter) Search(ctx context.Context, query, namespace, run string, limit int) (SearchResult, error) {
	vecs, err := a.Embed(ctx, []string{query})
	if err != nil {
		return SearchResult{}, fmt.Errorf("embed query: %w", err)
	}
	filter := map[string]string{"namespace": namespace}
	if run != "" {
		filter["run"] = run
	}
	hits, err := a.Vector.SimilaritySearch(ctx, vecs[0], limit, filter)
	if err != nil {
		return SearchResult{}, fmt.Errorf("similarity search: %w", err)
	}
	rels, err := a.namespaceRelations(ctx, namespace)
	if err != nil {
		return SearchResult{}, fmt.Errorf("list relations: %w", err)
	}
	return SearchResult{Results: toHits(hits), Relations: rels}, nil
}

// GetAll returns every fact in namespace (unscored) plus its relations.
func (a *Adapter) GetAll(ctx context.Context, namespace, run string, limit int) (SearchResult, error) {
	filter := map[string]string{"namespace": namespace}
	if run != "" {
		filter["run"] = run
	}
	recs, err := a.Vector.List(ctx, filter, limit)
	if err != nil {
		return SearchResult{}, fmt.Errorf("list facts: %w", err)
	}
	rels, err := a.namespaceRelations(ctx, namespace)
	if err != nil {
		return SearchResult{}, fmt.Errorf("list relations: %w", err)
	}
	return SearchResult{Results: toHits(recs), Relations: rels}, nil
}

// Update replaces the text of an existing memory by id, preserving its
// namespace/scope metadata, and re-extracts relations from the new text.
func (a *Adapter) Update(ctx context.Context, id, text string) error {
	existing, ok, err := a.Vector.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get existing fact: %w", err)
	}
	if !ok {
		return fmt.Errorf("memory %s not found", id)
	}
	vecs, err := a.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed fact: %w", err)
	}
	md := existing.Metadata
	if md == nil {
		md = map[string]string{}
	}
	md["text"] = strings.TrimSpace(text)
	if err := a.Vector.Upsert(ctx, id, vecs[0], md); err != nil {
		return fmt.Errorf("upsert fact: %w", err)
	}
	if namespace := md["namespace"]; namespace != "" {
		for _, r := range extractRelations(md["text"]) {
			if err := a.persistRelation(ctx, namespace, id, r); err != nil {
				return fmt.Errorf("persist relation: %w", err)
			}
		}
	}
	return nil
}

// Delete removes a single memory by id, along with any graph edge that
// memory introduced (identified by fact_id). This is what keeps I5 honest:
// the edge a deleted fact created is torn down at delete time rather than
// left for the reset statement's own fact-extraction to overwrite, since a
// neutralizing statement's wording is not guaranteed to match the
// subject/attribute pattern the original fact did.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	if err := a.Vector.Delete(ctx, id); err != nil {
		return err
	}
	return a.Graph.DeleteEdgesByFactID(ctx, id)
}

// DeleteAll removes every memory in namespace and every graph node tagged
// with that namespace.
func (a *Adapter) DeleteAll(ctx context.Context, namespace, run string) error {
	filter := map[string]string{"namespace": namespace}
	if run != "" {
		filter["run"] = run
	}
	recs, err := a.Vector.List(ctx, filter, 0)
	if err != nil {
		return fmt.Errorf("list facts: %w", err)
	}
	for _, r := range recs {
		if err := a.Vector.Delete(ctx, r.ID); err != nil {
			return fmt.Errorf("delete fact %s: %w", r.ID, err)
		}
	}
	nodes, err := a.Graph.NodesByLabel(ctx, nsLabel(namespace))
	if err != nil {
		return fmt.Errorf("list graph nodes: %w", err)
	}
	for _, n := range nodes {
		if err := a.Graph.DeleteNode(ctx, n.ID); err != nil {
			return fmt.Errorf("delete graph node %s: %w", n.ID, err)
		}
	}
	return nil
}

func (a *Adapter) namespaceRelations(ctx context.Context, namespace string) ([]Relation, error) {
	nodes, err := a.Graph.NodesByLabel(ctx, nsLabel(namespace))
	if err != nil {
		return nil, err
	}
	seen := make(map[Relation]struct{})
	out := []Relation{}
	for _, n := range nodes {
		edges, err := a.Graph.EdgesFrom(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			r := Relation{Source: n.ID, Relationship: e.Relationship, Destination: e.Destination}
			if _, dup := seen[r]; dup {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Relationship != out[j].Relationship {
			return out[i].Relationship < out[j].Relationship
		}
		return out[i].Destination < out[j].Destination
	})
	return out, nil
}

func toHits(recs []databases.VectorResult) []Hit {
	out := make([]Hit, 0, len(recs))
	for _, r := range recs {
		out = append(out, Hit{ID: r.ID, Memory: r.Metadata["text"], Metadata: r.Metadata, Score: r.Score})
	}
	return out
}

var (
	zhAttrPattern = regexp.MustCompile(`^(.+?)的(.+?)是(.+)$`)
	enCopPattern  = regexp.MustCompile(`(?i)^\s*(\S+)\s+(is|likes|like)\s+(.+?)\s*\.?\s*$`)
)

// extractRelations applies the lightweight "subject 的 attribute 是 value"
// / "X is Y" / "X likes Y" heuristics to derive zero or more relation
// triples from a fact's text. The first-person subject is normalized to
// "用户" so that per-conversation facts about the user collapse onto a
// single graph entity.
func extractRelations(text string) []Relation {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if m := zhAttrPattern.FindStringSubmatch(text); m != nil {
		subject, attr, value := normalizeSubject(m[1]), strings.TrimSpace(m[2]), strings.TrimSpace(m[3])
		if subject != "" && attr != "" && value != "" {
			return []Relation{{Source: subject, Relationship: attr, Destination: value}}
		}
	}
	if m := enCopPattern.FindStringSubmatch(text); m != nil {
		subject, rel, value := normalizeSubject(m[1]), strings.ToLower(m[2]), strings.TrimSpace(m[3])
		if subject != "" && value != "" {
			return []Relation{{Source: subject, Relationship: rel, Destination: value}}
		}
	}
	return nil
}

func normalizeSubject(s string) string {
	s = strings.TrimSpace(s)
	switch s {
	case "我", "我们", "I", "i", "We", "we":
		return "用户"
	default:
		return s
	}
}
