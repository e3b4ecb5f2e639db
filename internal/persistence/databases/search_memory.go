package databases

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// NewMemorySearch returns an in-memory FullTextSearch backend: naive
// substring scoring, adequate for tests and small local deployments.
func NewMemorySearch() FullTextSearch {
	return &memSearch{docs: map[string]memSearchDoc{}}
}

type memSearchDoc struct {
	text     string
	metadata map[string]string
}

type memSearch struct {
	mu   sync.RWMutex
	docs map[string]memSearchDoc
}

func (m *memSearch) Index(ctx context.Context, id string, text string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = memSearchDoc{text: text, metadata: metadata}
	return nil
}

func (m *memSearch) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	var out []SearchResult
	for id, doc := range m.docs {
		lower := strings.ToLower(doc.text)
		count := strings.Count(lower, q)
		if count == 0 {
			continue
		}
		out = append(out, SearchResult{
			ID:       id,
			Score:    float64(count),
			Snippet:  snippet(doc.text, 160),
			Metadata: doc.metadata,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
