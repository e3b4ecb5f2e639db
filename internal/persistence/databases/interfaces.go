package databases

import (
	"context"

	"memagent/internal/persistence"
)

// SearchResult represents a single hit from the full-text search backend.
type SearchResult struct {
	ID       string
	Score    float64
	Snippet  string
	Metadata map[string]string
}

// FullTextSearch defines the minimum interface for a pluggable FTS backend.
type FullTextSearch interface {
	Index(ctx context.Context, id string, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// VectorResult represents a single nearest neighbor lookup result.
type VectorResult struct {
	ID       string
	Score    float64 // Higher is closer by default
	Metadata map[string]string
}

// VectorStore defines the minimum interface for a pluggable vector store.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
	// List enumerates every record matching filter without ranking by a query
	// vector, used by the memory store's get_all/delete_all namespace scans.
	List(ctx context.Context, filter map[string]string, limit int) ([]VectorResult, error)
	// Get fetches a single record by id regardless of namespace, used by the
	// memory store's update(id, text)/delete(id) operations which are not
	// themselves namespace-scoped.
	Get(ctx context.Context, id string) (VectorResult, bool, error)
}

// Node is a minimal in-memory representation of a graph node.
type Node struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// Edge is a single (source, relationship, destination) triple, with source
// always bound to the node the caller queried from.
type Edge struct {
	Relationship string
	Destination  string
	Props        map[string]any
}

// GraphDB defines a portable interface for minimal graph operations.
type GraphDB interface {
	UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error
	UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error
	Neighbors(ctx context.Context, id string, rel string) ([]string, error)
	GetNode(ctx context.Context, id string) (Node, bool)
	// NodesByLabel enumerates every node carrying the given label, used by the
	// memory store to list/delete an entire namespace's worth of relations.
	NodesByLabel(ctx context.Context, label string) ([]Node, error)
	// EdgesFrom enumerates every outgoing edge of a node regardless of
	// relationship name, used by the memory store to render graph connections
	// for a namespace without knowing relation names ahead of time.
	EdgesFrom(ctx context.Context, srcID string) ([]Edge, error)
	// DeleteNode removes a node and every edge where it is the source or
	// target, used by the memory store's namespace delete.
	DeleteNode(ctx context.Context, id string) error
	// DeleteEdgesByFactID removes every edge tagged with the given fact_id,
	// used by the memory store's single-record delete to tear down exactly
	// the edge that record introduced, without touching any edge another
	// live fact still holds for the same (subject, attribute) pair.
	DeleteEdgesByFactID(ctx context.Context, factID string) error
}

// Manager holds concrete database backends resolved from configuration.
type Manager struct {
	Search       FullTextSearch
	Vector       VectorStore
	Graph        GraphDB
	Users        persistence.UserStore
	Conversation persistence.ConversationStore
	ModelConfigs persistence.ModelConfigStore
	MemoryRecord persistence.MemoryRecordStore
}

// Close attempts to close any underlying pools. It's a no-op for memory backends.
func (m Manager) Close() {
	if c, ok := any(m.Search).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Vector).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Graph).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Users).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.Conversation).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.ModelConfigs).(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := any(m.MemoryRecord).(interface{ Close() }); ok {
		c.Close()
	}
}
