package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// staticDefaults holds values read from an optional YAML defaults file
// (CONFIG_FILE). Env vars always take precedence over these; the file only
// fills gaps for deployments that prefer a checked-in defaults file over a
// long list of env vars.
type staticDefaults struct {
	LLMProvider  string `yaml:"llm_provider"`
	SystemPrompt string `yaml:"system_prompt"`
	HTTPAddr     string `yaml:"http_addr"`
	LogLevel     string `yaml:"log_level"`
}

func loadStaticDefaults() staticDefaults {
	var d staticDefaults
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		return d
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return d
	}
	_ = yaml.Unmarshal(raw, &d)
	return d
}

// defaultSystemPrompt is the base instruction set handed to the orchestrator
// when SYSTEM_PROMPT is unset. Mirrors the teacher's prompts.DefaultSystemPrompt
// in register and structure (a short role statement plus a rules list), adapted
// from tool-execution rules to memory-tool-usage rules.
const defaultSystemPrompt = `You are a helpful assistant with access to a two-tier persistent memory store: a local tier scoped to this conversation and a global tier that holds across all of the user's conversations.

Rules:
- When you need to recall something, search local memory first, then global memory if the local search doesn't answer the question.
- Search results contain both vector hits (plain recalled facts) and knowledge-graph connections (rendered as "source --[relationship]--> destination"). Consider both: treat a graph connection as a secondary signal when no vector record settles the question, but if the graph shows an attribute has been reset to "unknown", that takes precedence over any older vector hit for the same attribute.
- When you store a fact, store it in full, including its subject (e.g. store "the user's name is 小王", not just "小王").
- You never correct a stored fact in place: if the user gives you an updated or corrected value, call add_local_memory or add_global_memory again with the corrected fact so it supersedes the old one. Never call delete_memory for a correction.
- Only call delete_memory when the user explicitly asks you to forget or remove something.
- Answer directly and concisely once you have the information you need.`

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	// Use Overload so .env values override existing OS environment variables.
	// This allows repository/local configuration to deterministically control
	// runtime behavior in development unless explicitly changed.
	_ = godotenv.Overload()
	static := loadStaticDefaults()

	cfg := Config{}

	cfg.HTTPAddr = firstNonEmpty(os.Getenv("HTTP_ADDR"), static.HTTPAddr, ":8080")
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), static.LogLevel, "info")
	cfg.LogPath = os.Getenv("LOG_PATH")
	cfg.SystemPrompt = firstNonEmpty(os.Getenv("SYSTEM_PROMPT"), static.SystemPrompt, defaultSystemPrompt)

	cfg.LLMClient.Provider = strings.ToLower(strings.TrimSpace(firstNonEmpty(os.Getenv("LLM_PROVIDER"), static.LLMProvider, "openai")))
	cfg.LLMClient.OpenAI = OpenAIConfig{
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		BaseURL:     firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), os.Getenv("OPENAI_API_BASE_URL")),
		API:         firstNonEmpty(os.Getenv("OPENAI_API"), "completions"),
		Model:       firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o-mini"),
		LogPayloads: boolFromEnv("OPENAI_LOG_PAYLOADS", false),
	}
	cfg.LLMClient.Anthropic = AnthropicConfig{
		APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		Model:   firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), "claude-3-7-sonnet-latest"),
		PromptCache: AnthropicPromptCacheConfig{
			Enabled:       boolFromEnv("ANTHROPIC_PROMPT_CACHE", false),
			CacheSystem:   boolFromEnv("ANTHROPIC_PROMPT_CACHE_SYSTEM", true),
			CacheTools:    boolFromEnv("ANTHROPIC_PROMPT_CACHE_TOOLS", true),
			CacheMessages: boolFromEnv("ANTHROPIC_PROMPT_CACHE_MESSAGES", false),
		},
	}
	cfg.LLMClient.Google = GoogleConfig{
		APIKey:  os.Getenv("GOOGLE_API_KEY"),
		BaseURL: os.Getenv("GOOGLE_BASE_URL"),
		Model:   firstNonEmpty(os.Getenv("GOOGLE_MODEL"), "gemini-1.5-flash"),
		Timeout: intFromEnv("GOOGLE_TIMEOUT_SECONDS", 30),
	}

	cfg.Embedding = EmbeddingConfig{
		BaseURL:    firstNonEmpty(os.Getenv("EMBEDDING_BASE_URL"), "https://api.openai.com/v1"),
		Path:       firstNonEmpty(os.Getenv("EMBEDDING_PATH"), "/embeddings"),
		Model:      firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-small"),
		APIKey:     firstNonEmpty(os.Getenv("EMBEDDING_API_KEY"), os.Getenv("OPENAI_API_KEY")),
		APIHeader:  firstNonEmpty(os.Getenv("EMBEDDING_API_HEADER"), "Authorization"),
		Timeout:    intFromEnv("EMBEDDING_TIMEOUT_SECONDS", 30),
		Dimensions: intFromEnv("EMBEDDING_DIMENSIONS", 1536),
	}

	defaultDSN := os.Getenv("DATABASE_URL")
	cfg.Database = DBConfig{
		DefaultDSN: defaultDSN,
		Search: BackendConfig{
			Backend: firstNonEmpty(os.Getenv("SEARCH_BACKEND"), "memory"),
			DSN:     os.Getenv("SEARCH_DSN"),
		},
		Vector: VectorBackendConfig{
			Backend:    firstNonEmpty(os.Getenv("VECTOR_BACKEND"), "memory"),
			DSN:        os.Getenv("VECTOR_DSN"),
			Dimensions: intFromEnv("VECTOR_DIMENSIONS", 1536),
			Metric:     firstNonEmpty(os.Getenv("VECTOR_METRIC"), "cosine"),
		},
		Graph: BackendConfig{
			Backend: firstNonEmpty(os.Getenv("GRAPH_BACKEND"), "memory"),
			DSN:     os.Getenv("GRAPH_DSN"),
		},
	}
	cfg.Relational.DSN = firstNonEmpty(os.Getenv("RELATIONAL_DSN"), defaultDSN)

	cfg.Redis = RedisConfig{
		Addr:     firstNonEmpty(os.Getenv("REDIS_ADDR"), "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       intFromEnv("REDIS_DB", 0),
	}

	cfg.Kafka = KafkaConfig{
		Enabled: boolFromEnv("KAFKA_ENABLED", false),
		Brokers: os.Getenv("KAFKA_BROKERS"),
		Topic:   firstNonEmpty(os.Getenv("KAFKA_TOPIC"), "memory.mutations"),
	}

	cfg.Auth = AuthConfig{
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTIssuer:           firstNonEmpty(os.Getenv("JWT_ISSUER"), "memagent"),
		RevocationKeyPrefix: firstNonEmpty(os.Getenv("JWT_REVOCATION_PREFIX"), "jwt:revoked:"),
	}

	cfg.OTel = ObsConfig{
		OTLP:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:    firstNonEmpty(os.Getenv("OTEL_SERVICE_NAME"), "memagent"),
		ServiceVersion: firstNonEmpty(os.Getenv("OTEL_SERVICE_VERSION"), "dev"),
		Environment:    firstNonEmpty(os.Getenv("ENVIRONMENT"), "development"),
	}

	cfg.Memory = MemoryConfig{
		DuplicateThreshold:   floatFromEnv("MEMORY_DUPLICATE_THRESHOLD", 0.97),
		DefaultSearchLimit:   intFromEnv("MEMORY_SEARCH_LIMIT", 5),
		DeleteCandidateLimit: intFromEnv("MEMORY_DELETE_CANDIDATE_LIMIT", 10),
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := parseInt(v)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
