package agentd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"memagent/internal/observability"
	"memagent/internal/persistence"
)

type sendMessageRequest struct {
	Content string `json:"content"`
}

// handleSendMessage implements POST /api/conversations/{id}/messages: runs
// the full pipeline synchronously and returns both persisted messages.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, user persistence.User, convID string) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "content is required")
		return
	}
	if _, err := s.Conversations.GetConversation(r.Context(), user.ID, convID); err != nil {
		writeStoreErr(w, err)
		return
	}

	// Detached so a client disconnect (which cancels r.Context()) can't abort
	// the in-flight agent loop or its persistence (SPEC_FULL.md §5): the turn
	// runs to completion and is persisted regardless of the HTTP connection.
	pipelineCtx := context.WithoutCancel(r.Context())
	userMsg, assistantMsg, err := s.runPipeline(pipelineCtx, user, convID, req.Content, nil)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "pipeline_failed", err.Error())
		return
	}
	writeOK(w, map[string]any{"user_message": userMsg, "assistant_message": assistantMsg})
}

// handleStreamMessage implements POST /api/conversations/{id}/messages/stream:
// the same pipeline, reported over Server-Sent Events. Framing follows the
// teacher's writeSSE/keepalive idiom (handlers_chat.go), corrected to emit a
// literal named event line for every payload rather than only "final".
func (s *Server) handleStreamMessage(w http.ResponseWriter, r *http.Request, user persistence.User, convID string) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "content is required")
		return
	}
	if _, err := s.Conversations.GetConversation(r.Context(), user.ID, convID); err != nil {
		writeStoreErr(w, err)
		return
	}

	fl, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	var mu sync.Mutex
	writeSSE := func(event string, payload any) {
		if m, ok := payload.(map[string]any); ok {
			if _, has := m["type"]; !has {
				m["type"] = event
			}
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
		fl.Flush()
	}

	ctx := r.Context()
	stopKeepalive := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopKeepalive:
				return
			case <-ticker.C:
				mu.Lock()
				fmt.Fprint(w, ": keepalive\n\n")
				fl.Flush()
				mu.Unlock()
			}
		}
	}()
	defer close(stopKeepalive)

	// The keepalive loop above still watches the request context so it stops
	// writing once the client is gone, but the pipeline itself runs on a
	// detached context: a disconnect must not cancel the in-flight agent loop
	// or its persistence (SPEC_FULL.md §5) — only the (now-futile) SSE writes
	// are affected, and those already fail silently.
	pipelineCtx := context.WithoutCancel(ctx)
	_, _, err := s.runPipeline(pipelineCtx, user, convID, req.Content, writeSSE)
	if err != nil {
		observability.LoggerWithTrace(ctx).Error().Err(err).Msg("stream_message_pipeline_failed")
	}
}
