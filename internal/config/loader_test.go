package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "HTTP_ADDR", "LLM_PROVIDER", "OPENAI_MODEL", "VECTOR_BACKEND",
		"REDIS_ADDR", "KAFKA_ENABLED", "MEMORY_DUPLICATE_THRESHOLD")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "openai", cfg.LLMClient.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMClient.OpenAI.Model)
	assert.Equal(t, "memory", cfg.Database.Vector.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Kafka.Enabled)
	assert.InDelta(t, 0.97, cfg.Memory.DuplicateThreshold, 0.0001)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t, "LLM_PROVIDER", "ANTHROPIC_MODEL", "VECTOR_BACKEND", "KAFKA_ENABLED", "MEMORY_SEARCH_LIMIT")
	os.Setenv("LLM_PROVIDER", "anthropic")
	os.Setenv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest")
	os.Setenv("VECTOR_BACKEND", "postgres")
	os.Setenv("KAFKA_ENABLED", "true")
	os.Setenv("MEMORY_SEARCH_LIMIT", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLMClient.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLMClient.Anthropic.Model)
	assert.Equal(t, "postgres", cfg.Database.Vector.Backend)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, 7, cfg.Memory.DefaultSearchLimit)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", "  "))
}

func TestIntFromEnvFallsBackOnBadValue(t *testing.T) {
	clearEnv(t, "SOME_INT")
	os.Setenv("SOME_INT", "not-a-number")
	assert.Equal(t, 5, intFromEnv("SOME_INT", 5))
}

func TestLoadStaticDefaultsFileFillsGapsButEnvWins(t *testing.T) {
	clearEnv(t, "CONFIG_FILE", "HTTP_ADDR", "LLM_PROVIDER", "LOG_LEVEL")

	dir := t.TempDir()
	path := dir + "/defaults.yaml"
	require.NoError(t, os.WriteFile(path, []byte("http_addr: \":9090\"\nllm_provider: anthropic\nlog_level: debug\n"), 0o644))
	os.Setenv("CONFIG_FILE", path)
	os.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "anthropic", cfg.LLMClient.Provider)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadStaticDefaultsMissingFileIsIgnored(t *testing.T) {
	clearEnv(t, "CONFIG_FILE")
	os.Setenv("CONFIG_FILE", "/nonexistent/path/defaults.yaml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}
