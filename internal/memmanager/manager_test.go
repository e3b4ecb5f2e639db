package memmanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memagent/internal/config"
	"memagent/internal/events"
	"memagent/internal/persistence/databases"
)

type recordingPublisher struct {
	events []events.MemoryMutated
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.MemoryMutated) {
	p.events = append(p.events, ev)
}

func fakeEmbedCfg() config.EmbeddingConfig {
	return config.EmbeddingConfig{BaseURL: "http://unused", Path: "/embeddings", Model: "test-embed"}
}

func TestFingerprint_ZeroValueIsDefault(t *testing.T) {
	assert.Equal(t, "default", fingerprint(LLMSettings{}))
}

func TestFingerprint_DeterministicAndDistinct(t *testing.T) {
	a := LLMSettings{Provider: "openai", Model: "gpt-4o", BaseURL: "https://api.openai.com", APIKey: "k1"}
	b := LLMSettings{Provider: "openai", Model: "gpt-4o", BaseURL: "https://api.openai.com", APIKey: "k1"}
	c := LLMSettings{Provider: "openai", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com", APIKey: "k1"}
	assert.Equal(t, fingerprint(a), fingerprint(b))
	assert.NotEqual(t, fingerprint(a), fingerprint(c))
}

func TestResolveNamespace_ScopeRouting(t *testing.T) {
	ns, md := resolveNamespace("user-1", "conv-9", ScopeGlobal)
	assert.Equal(t, "user-1", ns)
	assert.Equal(t, "global", md["scope"])

	ns, md = resolveNamespace("user-1", "conv-9", ScopeLocal)
	assert.Equal(t, "user-1_conv_conv-9", ns)
	assert.Equal(t, "local", md["scope"])
}

func TestManager_GetOrBuildAdapter_CachesByFingerprint(t *testing.T) {
	pub := &recordingPublisher{}
	m := New(databases.NewMemoryVector(), databases.NewMemoryGraph(), fakeEmbedCfg(), config.MemoryConfig{DuplicateThreshold: 0.97}, pub)

	settings := LLMSettings{Provider: "openai", Model: "gpt-4o"}
	a1 := m.getOrBuildAdapter(fingerprint(settings), settings)
	a2 := m.getOrBuildAdapter(fingerprint(settings), settings)
	assert.Same(t, a1, a2)

	other := LLMSettings{Provider: "anthropic", Model: "claude"}
	a3 := m.getOrBuildAdapter(fingerprint(other), other)
	assert.NotSame(t, a1, a3)
}

func TestManager_WarmUpThenEvict(t *testing.T) {
	pub := &recordingPublisher{}
	m := New(databases.NewMemoryVector(), databases.NewMemoryGraph(), fakeEmbedCfg(), config.MemoryConfig{DuplicateThreshold: 0.97}, pub)
	settings := LLMSettings{}
	m.WarmUp(settings)
	m.mu.RLock()
	_, ok := m.adapters["default"]
	m.mu.RUnlock()
	require.True(t, ok)

	m.evictAdapter("default")
	m.mu.RLock()
	_, ok = m.adapters["default"]
	m.mu.RUnlock()
	assert.False(t, ok)
}

func TestIsNotFoundErr(t *testing.T) {
	assert.True(t, isNotFoundErr(errNotFound("collection not found")))
	assert.True(t, isNotFoundErr(errNotFound("404 page")))
	assert.False(t, isNotFoundErr(nil))
	assert.False(t, isNotFoundErr(errNotFound("timeout")))
}

type errNotFound string

func (e errNotFound) Error() string { return string(e) }
