package agentd

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"memagent/internal/auth"
	"memagent/internal/memmanager"
	"memagent/internal/observability"
	"memagent/internal/persistence"
)

type createConversationRequest struct {
	Title string `json:"title"`
}

// conversationsHandler serves GET /api/conversations (list) and
// POST /api/conversations (create).
func (s *Server) conversationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.Principal(r.Context())
		if !ok {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "missing principal")
			return
		}
		switch r.Method {
		case http.MethodGet:
			convs, err := s.Conversations.ListConversations(r.Context(), user.ID)
			if err != nil {
				writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
				return
			}
			writeOK(w, map[string]any{"conversations": convs, "pagination": map[string]any{"total": len(convs)}})
		case http.MethodPost:
			var req createConversationRequest
			if r.Body != nil {
				_ = json.NewDecoder(r.Body).Decode(&req)
			}
			conv, err := s.Conversations.CreateConversation(r.Context(), user.ID, req.Title)
			if err != nil {
				writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
				return
			}
			writeCreated(w, conv)
		default:
			writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		}
	}
}

// conversationDetailHandler serves everything under /api/conversations/{id}:
// GET returns the conversation, DELETE removes it and cascades into the
// local memory namespace (I5), and the message sub-resources below.
func (s *Server) conversationDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.Principal(r.Context())
		if !ok {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "missing principal")
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
		rest = strings.Trim(rest, "/")
		if rest == "" {
			http.NotFound(w, r)
			return
		}
		parts := strings.SplitN(rest, "/", 3)
		id := parts[0]
		sub := ""
		if len(parts) > 1 {
			sub = parts[1]
		}

		switch sub {
		case "":
			s.handleConversationRoot(w, r, user, id)
		case "messages":
			if len(parts) == 3 && parts[2] == "stream" {
				s.handleStreamMessage(w, r, user, id)
				return
			}
			s.handleSendMessage(w, r, user, id)
		default:
			http.NotFound(w, r)
		}
	}
}

func (s *Server) handleConversationRoot(w http.ResponseWriter, r *http.Request, user persistence.User, id string) {
	switch r.Method {
	case http.MethodGet:
		conv, err := s.Conversations.GetConversation(r.Context(), user.ID, id)
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		writeOK(w, conv)
	case http.MethodDelete:
		if err := s.MemMgr.DeleteAll(r.Context(), user.ID, id, memmanager.ScopeLocal, memmanager.LLMSettings{}); err != nil {
			observability.LoggerWithTrace(r.Context()).Warn().Err(err).Msg("conversation_delete_memory_cascade_failed")
		}
		if err := s.Conversations.DeleteConversation(r.Context(), user.ID, id); err != nil {
			writeStoreErr(w, err)
			return
		}
		writeOK(w, nil)
	default:
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, persistence.ErrForbidden):
		writeErr(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, persistence.ErrValidation):
		writeErr(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
