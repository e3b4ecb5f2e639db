package databases

import (
	"context"
	"sort"
	"sync"
)

type edgeKey struct{ src, rel string }

// edgeValue holds the single current destination recorded for a (src, rel)
// pair. The graph keeps at most one destination per pair so that re-adding
// or resetting a fact overwrites its prior value instead of accumulating
// alongside it.
type edgeValue struct {
	dst   string
	props map[string]any
}

type memoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges map[edgeKey]edgeValue
}

func NewMemoryGraph() GraphDB {
	return &memoryGraph{
		nodes: make(map[string]Node),
		edges: make(map[edgeKey]edgeValue),
	}
}

func (m *memoryGraph) UpsertNode(_ context.Context, id string, labels []string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	m.nodes[id] = Node{ID: id, Labels: append([]string{}, labels...), Props: cp}
	return nil
}

// UpsertEdge replaces whatever destination was previously recorded for
// (srcID, rel): the graph tracks one current value per (subject, attribute)
// pair, so correcting or resetting a fact overwrites the stale edge rather
// than leaving it alongside the new one.
func (m *memoryGraph) UpsertEdge(_ context.Context, srcID, rel, dstID string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	m.edges[edgeKey{src: srcID, rel: rel}] = edgeValue{dst: dstID, props: cp}
	return nil
}

func (m *memoryGraph) Neighbors(_ context.Context, id string, rel string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ev, ok := m.edges[edgeKey{src: id, rel: rel}]; ok {
		return []string{ev.dst}, nil
	}
	return nil, nil
}

func (m *memoryGraph) GetNode(_ context.Context, id string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

func (m *memoryGraph) NodesByLabel(_ context.Context, label string) ([]Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Node
	for _, n := range m.nodes {
		for _, l := range n.Labels {
			if l == label {
				out = append(out, n)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryGraph) EdgesFrom(_ context.Context, srcID string) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Edge{}
	for key, ev := range m.edges {
		if key.src != srcID {
			continue
		}
		out = append(out, Edge{Relationship: key.rel, Destination: ev.dst, Props: ev.props})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relationship != out[j].Relationship {
			return out[i].Relationship < out[j].Relationship
		}
		return out[i].Destination < out[j].Destination
	})
	return out, nil
}

func (m *memoryGraph) DeleteNode(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	for key, ev := range m.edges {
		if key.src == id || ev.dst == id {
			delete(m.edges, key)
		}
	}
	return nil
}

// DeleteEdgesByFactID removes every edge whose props carry the given
// fact_id, used to tear down exactly the edge a deleted memory introduced
// without disturbing edges other live facts still hold for the same
// (subject, attribute) pair.
func (m *memoryGraph) DeleteEdgesByFactID(_ context.Context, factID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, ev := range m.edges {
		if fid, _ := ev.props["fact_id"].(string); fid == factID {
			delete(m.edges, key)
		}
	}
	return nil
}
