package agentd

import (
	"encoding/json"
	"net/http"
	"strconv"

	"memagent/internal/auth"
	"memagent/internal/memmanager"
)

// listMemoriesHandler serves GET /api/memories?limit=&conversation_id=,
// dispatching to the caller's local namespace when conversation_id is
// present, otherwise their global namespace (mirrors memmanager.GetMemories).
func (s *Server) listMemoriesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		user, ok := auth.Principal(r.Context())
		if !ok {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "missing principal")
			return
		}
		limit := parseIntParam(r.URL.Query().Get("limit"), s.MemoryCfg.DefaultSearchLimit)
		convID := r.URL.Query().Get("conversation_id")

		res, err := s.MemMgr.GetMemories(r.Context(), user.ID, convID, memmanager.LLMSettings{}, limit)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeOK(w, map[string]any{
			"memories":   res.Results,
			"relations":  res.Relations,
			"pagination": map[string]any{"total": len(res.Results)},
		})
	}
}

type searchMemoriesRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit"`
}

// searchMemoriesHandler serves POST /api/memories/search.
func (s *Server) searchMemoriesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		user, ok := auth.Principal(r.Context())
		if !ok {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "missing principal")
			return
		}
		var req searchMemoriesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
			writeErr(w, http.StatusBadRequest, "validation_failed", "query is required")
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = s.MemoryCfg.DefaultSearchLimit
		}

		scope := memmanager.ScopeGlobal
		if req.ConversationID != "" {
			scope = memmanager.ScopeLocal
		}
		res, err := s.MemMgr.Search(r.Context(), user.ID, req.ConversationID, scope, memmanager.LLMSettings{}, req.Query, limit)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		writeOK(w, map[string]any{"memories": res.Results})
	}
}

func parseIntParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
