// Package config assembles the service's typed configuration from the
// environment: env vars with sane defaults, .env overlay for local
// development, no config-file-first indirection.
package config

// OpenAIConfig configures the OpenAI-compatible chat client.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	API         string // "completions" (default) or "responses"
	Model       string
	ExtraParams map[string]any
	LogPayloads bool
}

// AnthropicPromptCacheConfig controls which parts of a request are tagged
// for Anthropic's prompt-caching feature.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic Messages API client.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	ExtraParams map[string]any
	PromptCache AnthropicPromptCacheConfig
}

// GoogleConfig configures the Gemini (genai) client.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

// LLMClientConfig selects and configures the active llm.Provider backend.
type LLMClientConfig struct {
	Provider  string // "openai" | "local" | "anthropic" | "google"
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig
}

// EmbeddingConfig configures the embedding endpoint used by the memory
// store's fact-extraction pipeline.
type EmbeddingConfig struct {
	BaseURL    string
	Path       string
	Model      string
	APIKey     string
	APIHeader  string
	Timeout    int // seconds
	Dimensions int
}

// BackendConfig selects a pluggable backend ("memory", "postgres", "none",
// "auto") and its DSN.
type BackendConfig struct {
	Backend string
	DSN     string
}

// VectorBackendConfig is BackendConfig plus the vector-specific knobs.
type VectorBackendConfig struct {
	Backend    string
	DSN        string
	Dimensions int
	Metric     string // cosine|l2|ip
}

// DBConfig resolves the search/vector/graph backends that make up C1's
// underlying stores.
type DBConfig struct {
	DefaultDSN string
	Search     BackendConfig
	Vector     VectorBackendConfig
	Graph      BackendConfig
}

// RelationalConfig is the DSN for the users/conversations/messages/
// user_model_configs/memories relational store.
type RelationalConfig struct {
	DSN string
}

// RedisConfig configures the JWT revocation store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig configures the best-effort MemoryMutated audit publisher.
type KafkaConfig struct {
	Enabled bool
	Brokers string
	Topic   string
}

// AuthConfig configures Bearer-JWT verification (issuance is out of scope).
type AuthConfig struct {
	JWTSecret           string
	JWTIssuer           string
	RevocationKeyPrefix string
}

// ObsConfig configures the OpenTelemetry exporters.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// MemoryConfig tunes the memory core's fact-extraction/search defaults.
type MemoryConfig struct {
	DuplicateThreshold   float64
	DefaultSearchLimit   int
	DeleteCandidateLimit int
}

// Config is the fully-resolved, process-wide configuration.
type Config struct {
	HTTPAddr     string
	LogLevel     string
	LogPath      string
	SystemPrompt string

	LLMClient  LLMClientConfig
	Embedding  EmbeddingConfig
	Database   DBConfig
	Relational RelationalConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Auth       AuthConfig
	OTel       ObsConfig
	Memory     MemoryConfig
}
