// Package memmanager routes memory operations into the correct namespace,
// caches one memory store adapter per LLM-settings fingerprint, recovers
// from transient "collection missing" failures, and publishes best-effort
// audit events for every mutation it commits.
package memmanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"memagent/internal/config"
	"memagent/internal/embedding"
	"memagent/internal/events"
	"memagent/internal/memstore"
	"memagent/internal/observability"
	"memagent/internal/persistence/databases"
)

// Scope selects which namespace a memory operation targets.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeLocal  Scope = "local"
)

// LLMSettings identifies the model configuration whose embedding endpoint
// a memory adapter should use. The zero value selects the process-wide
// default embedding configuration.
type LLMSettings struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

func (s LLMSettings) isZero() bool {
	return s.Provider == "" && s.Model == "" && s.BaseURL == "" && s.APIKey == ""
}

// fingerprint returns a deterministic cache key for s, or "default" for the
// zero value.
func fingerprint(s LLMSettings) string {
	if s.isZero() {
		return "default"
	}
	h := sha256.New()
	h.Write([]byte(s.Provider))
	h.Write([]byte{0})
	h.Write([]byte(s.Model))
	h.Write([]byte{0})
	h.Write([]byte(s.BaseURL))
	h.Write([]byte{0})
	h.Write([]byte(s.APIKey))
	return hex.EncodeToString(h.Sum(nil))
}

// Manager is the memory manager (C2). Construct with New and share across
// request handlers; it is safe for concurrent use.
type Manager struct {
	vector    databases.VectorStore
	graph     databases.GraphDB
	embedCfg  config.EmbeddingConfig
	embedFn   memstore.EmbedFunc // set when constructed via NewWithEmbedder
	dupThresh float64
	publisher events.Publisher

	mu       sync.RWMutex
	adapters map[string]*memstore.Adapter
}

// New constructs a Manager sharing a single vector/graph backend across every
// per-fingerprint adapter it builds. Each adapter embeds text by calling
// embedding.EmbedText against a config derived from embedCfg and the
// adapter's LLMSettings.
func New(vector databases.VectorStore, graph databases.GraphDB, embedCfg config.EmbeddingConfig, mem config.MemoryConfig, publisher events.Publisher) *Manager {
	return &Manager{
		vector:    vector,
		graph:     graph,
		embedCfg:  embedCfg,
		dupThresh: mem.DuplicateThreshold,
		publisher: publisher,
		adapters:  make(map[string]*memstore.Adapter),
	}
}

// NewWithEmbedder constructs a Manager whose adapters all share a single
// injected embedding function instead of one derived per-fingerprint from
// config.EmbeddingConfig. Used by tests that need a deterministic,
// network-free embedder.
func NewWithEmbedder(vector databases.VectorStore, graph databases.GraphDB, embedFn memstore.EmbedFunc, mem config.MemoryConfig, publisher events.Publisher) *Manager {
	return &Manager{
		vector:    vector,
		graph:     graph,
		embedFn:   embedFn,
		dupThresh: mem.DuplicateThreshold,
		publisher: publisher,
		adapters:  make(map[string]*memstore.Adapter),
	}
}

// WarmUp forces construction of the adapter for settings so the first real
// request against it pays no cold-start cost.
func (m *Manager) WarmUp(settings LLMSettings) {
	m.getOrBuildAdapter(fingerprint(settings), settings)
}

func (m *Manager) getOrBuildAdapter(fp string, settings LLMSettings) *memstore.Adapter {
	m.mu.RLock()
	a, ok := m.adapters[fp]
	m.mu.RUnlock()
	if ok {
		return a
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.adapters[fp]; ok {
		return a
	}
	a = m.buildAdapter(settings)
	m.adapters[fp] = a
	return a
}

func (m *Manager) evictAdapter(fp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adapters, fp)
}

func (m *Manager) buildAdapter(settings LLMSettings) *memstore.Adapter {
	if m.embedFn != nil {
		return memstore.NewAdapter(m.vector, m.graph, m.embedFn, m.dupThresh)
	}
	cfg := m.embedCfg
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	}
	if settings.Model != "" {
		cfg.Model = settings.Model
	}
	if settings.APIKey != "" {
		cfg.APIKey = settings.APIKey
	}
	embedFn := func(ctx context.Context, inputs []string) ([][]float32, error) {
		return embedding.EmbedText(ctx, cfg, inputs)
	}
	return memstore.NewAdapter(m.vector, m.graph, embedFn, m.dupThresh)
}

// resolveNamespace implements I1: global scope collapses onto the user's
// own namespace; local scope is scoped to one conversation so its facts
// never leak into the user's global graph. No run value is produced —
// conversation identity lives entirely in the namespace string, not in an
// underlying run parameter (see DESIGN.md, Open Question on run_id handling).
func resolveNamespace(userID, runID string, scope Scope) (namespace string, metadata map[string]string) {
	metadata = map[string]string{"scope": string(scope), "real_user_id": userID}
	if scope == ScopeLocal {
		return userID + "_conv_" + runID, metadata
	}
	return userID, metadata
}

func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}

// Add routes content into the namespace selected by (userID, runID, scope),
// retrying once through a freshly built adapter if the underlying store
// reports the backing collection as missing.
func (m *Manager) Add(ctx context.Context, userID, runID string, scope Scope, settings LLMSettings, messages []string, extraMetadata map[string]string) (memstore.AddResult, error) {
	namespace, metadata := resolveNamespace(userID, runID, scope)
	for k, v := range extraMetadata {
		metadata[k] = v
	}
	fp := fingerprint(settings)
	adapter := m.getOrBuildAdapter(fp, settings)

	res, err := adapter.Add(ctx, messages, namespace, "", metadata)
	if err != nil && isNotFoundErr(err) {
		m.evictAdapter(fp)
		adapter = m.getOrBuildAdapter(fp, settings)
		res, err = adapter.Add(ctx, messages, namespace, "", metadata)
	}
	if err != nil {
		return memstore.AddResult{}, fmt.Errorf("memory add: %w", err)
	}
	m.publishMutation(ctx, namespace, events.OpAdd, res.Results)
	return res, nil
}

// Search returns facts and graph relations from the namespace selected by
// (userID, runID, scope).
func (m *Manager) Search(ctx context.Context, userID, runID string, scope Scope, settings LLMSettings, query string, limit int) (memstore.SearchResult, error) {
	namespace, _ := resolveNamespace(userID, runID, scope)
	adapter := m.getOrBuildAdapter(fingerprint(settings), settings)
	res, err := adapter.Search(ctx, query, namespace, "", limit)
	if err != nil {
		return memstore.SearchResult{}, fmt.Errorf("memory search: %w", err)
	}
	return res, nil
}

// GetMemories dispatches to the local namespace when runID is non-empty,
// otherwise the caller's global namespace. Relations are never filtered by
// conversation: edges in the knowledge graph are inherently cross-session.
func (m *Manager) GetMemories(ctx context.Context, userID, runID string, settings LLMSettings, limit int) (memstore.SearchResult, error) {
	scope := ScopeGlobal
	if runID != "" {
		scope = ScopeLocal
	}
	namespace, _ := resolveNamespace(userID, runID, scope)
	adapter := m.getOrBuildAdapter(fingerprint(settings), settings)
	res, err := adapter.GetAll(ctx, namespace, "", limit)
	if err != nil {
		return memstore.SearchResult{}, fmt.Errorf("memory get_all: %w", err)
	}
	return res, nil
}

// Update replaces a single memory's text in place.
func (m *Manager) Update(ctx context.Context, settings LLMSettings, id, text string) error {
	adapter := m.getOrBuildAdapter(fingerprint(settings), settings)
	namespace := m.lookupNamespace(ctx, adapter, id)
	if err := adapter.Update(ctx, id, text); err != nil {
		return fmt.Errorf("memory update: %w", err)
	}
	m.publishMutation(ctx, namespace, events.OpUpdate, []memstore.FactResult{{ID: id, Event: memstore.EventUpdate}})
	return nil
}

// Delete removes a single memory by id.
func (m *Manager) Delete(ctx context.Context, settings LLMSettings, id string) error {
	adapter := m.getOrBuildAdapter(fingerprint(settings), settings)
	namespace := m.lookupNamespace(ctx, adapter, id)
	if err := adapter.Delete(ctx, id); err != nil {
		return fmt.Errorf("memory delete: %w", err)
	}
	m.publishMutation(ctx, namespace, events.OpDelete, []memstore.FactResult{{ID: id, Event: memstore.EventDelete}})
	return nil
}

// lookupNamespace best-effort resolves the namespace a record belongs to,
// purely for audit-event labeling; failures are silently ignored.
func (m *Manager) lookupNamespace(ctx context.Context, adapter *memstore.Adapter, id string) string {
	rec, ok, err := adapter.Vector.Get(ctx, id)
	if err != nil || !ok {
		return ""
	}
	return rec.Metadata["namespace"]
}

// DeleteAll removes every memory in the namespace selected by
// (userID, runID, scope), used for I5's conversation-delete cascade.
func (m *Manager) DeleteAll(ctx context.Context, userID, runID string, scope Scope, settings LLMSettings) error {
	namespace, _ := resolveNamespace(userID, runID, scope)
	adapter := m.getOrBuildAdapter(fingerprint(settings), settings)
	if err := adapter.DeleteAll(ctx, namespace, ""); err != nil {
		return fmt.Errorf("memory delete_all: %w", err)
	}
	m.publisher.Publish(ctx, events.MemoryMutated{Namespace: namespace, Op: events.OpDeleteAll})
	return nil
}

func (m *Manager) publishMutation(ctx context.Context, namespace string, op events.MutationOp, results []memstore.FactResult) {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.Event == memstore.EventNone {
			continue
		}
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 && op != events.OpDeleteAll {
		return
	}
	if namespace == "" {
		observability.LoggerWithTrace(ctx).Debug().Str("op", string(op)).Msg("memmanager_mutation_missing_namespace")
	}
	m.publisher.Publish(ctx, events.MemoryMutated{Namespace: namespace, Op: op, RecordIDs: ids, Count: len(ids)})
}
