// Package agentd wires the HTTP surface: conversation CRUD, the
// non-streaming and SSE message-send pipelines, and the memory read/search
// endpoints. Grounded on the teacher's internal/agentd (app struct, router.go,
// handlers_chat.go's writeJSON/writeSSE idiom).
package agentd

import (
	"context"
	"net/http"

	"memagent/internal/agent"
	"memagent/internal/auth"
	"memagent/internal/config"
	"memagent/internal/llm"
	"memagent/internal/memmanager"
	"memagent/internal/memtools"
	"memagent/internal/persistence"
)

// Server holds every dependency a request handler needs. Construct with
// NewServer and mount Router() on an *http.Server.
type Server struct {
	Conversations persistence.ConversationStore
	ModelConfigs  persistence.ModelConfigStore
	MemMgr        *memmanager.Manager
	Verifier      *auth.BearerVerifier
	LLM           llm.Provider
	DefaultModel  string
	SystemPrompt  string
	MemoryCfg     config.MemoryConfig
	Tracer        *agent.OTELTracer
	HistoryLimit  int // messages fed to the engine as prior context; spec default 20
}

// NewServer builds a Server from already-constructed dependencies. cfg
// supplies the default model name and memory tuning knobs.
func NewServer(conversations persistence.ConversationStore, modelConfigs persistence.ModelConfigStore, memMgr *memmanager.Manager, verifier *auth.BearerVerifier, provider llm.Provider, cfg config.Config, tracer *agent.OTELTracer) *Server {
	return &Server{
		Conversations: conversations,
		ModelConfigs:  modelConfigs,
		MemMgr:        memMgr,
		Verifier:      verifier,
		LLM:           provider,
		DefaultModel:  defaultModelName(cfg),
		SystemPrompt:  cfg.SystemPrompt,
		MemoryCfg:     cfg.Memory,
		Tracer:        tracer,
		HistoryLimit:  20,
	}
}

func defaultModelName(cfg config.Config) string {
	switch cfg.LLMClient.Provider {
	case "anthropic":
		return cfg.LLMClient.Anthropic.Model
	case "google":
		return cfg.LLMClient.Google.Model
	default:
		return cfg.LLMClient.OpenAI.Model
	}
}

// Router builds the full HTTP mux, mounting authenticated routes behind
// auth.RequireBearer and liveness probes unauthenticated.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ready")) })

	protected := http.NewServeMux()
	protected.HandleFunc("/api/conversations", s.conversationsHandler())
	protected.HandleFunc("/api/conversations/", s.conversationDetailHandler())
	protected.HandleFunc("/api/memories", s.listMemoriesHandler())
	protected.HandleFunc("/api/memories/search", s.searchMemoriesHandler())

	mux.Handle("/api/conversations", auth.RequireBearer(s.Verifier)(protected))
	mux.Handle("/api/conversations/", auth.RequireBearer(s.Verifier)(protected))
	mux.Handle("/api/memories", auth.RequireBearer(s.Verifier)(protected))
	mux.Handle("/api/memories/search", auth.RequireBearer(s.Verifier)(protected))

	return mux
}

// resolveModel looks up the caller's default model configuration and returns
// the model name to pass to LLM.Chat plus the LLMSettings fingerprint the
// memory manager uses to pick (or build) a per-settings adapter. A missing
// default config falls back to the process-wide default with the zero
// LLMSettings value (I2: at most one default per user, enforced by
// ModelConfigStore; absence just means "use the ambient default").
func (s *Server) resolveModel(ctx context.Context, userID string) (model string, settings memmanager.LLMSettings) {
	mc, err := s.ModelConfigs.GetDefaultModelConfig(ctx, userID)
	if err != nil {
		return s.DefaultModel, memmanager.LLMSettings{}
	}
	model = mc.Model
	if model == "" {
		model = s.DefaultModel
	}
	return model, memmanager.LLMSettings{Provider: mc.Provider, Model: mc.Model, BaseURL: mc.BaseURL, APIKey: mc.APIKey}
}

// buildEngine constructs a fresh agent.Engine bound to one request's
// (user, conversation, model settings) triple — the memory tools it exposes
// must never be shared across requests for different users (see
// internal/memtools package doc).
func (s *Server) buildEngine(userID, convID, model string, settings memmanager.LLMSettings) *agent.Engine {
	registry := memtools.NewRegistry(memtools.Deps{
		Manager:   s.MemMgr,
		LLM:       s.LLM,
		UserID:    userID,
		ConvID:    convID,
		Settings:  settings,
		MemoryCfg: s.MemoryCfg,
	})
	return &agent.Engine{
		LLM:      s.LLM,
		Tools:    registry,
		System:   s.SystemPrompt,
		Model:    model,
		Tracer:   s.Tracer,
	}
}

func (s *Server) historyAsLLMMessages(ctx context.Context, userID, convID string) ([]llm.Message, error) {
	limit := s.HistoryLimit
	if limit <= 0 {
		limit = 20
	}
	msgs, err := s.Conversations.ListMessages(ctx, userID, convID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content, ToolID: m.ToolCallID})
	}
	return out, nil
}

