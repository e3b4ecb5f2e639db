package agentd

import (
	"context"
	"time"

	"github.com/google/uuid"

	"memagent/internal/persistence"
)

// tokenChunkSize is the fixed partition size for token events (step 4 of the
// streaming pipeline): the final answer is sliced into 10-rune pieces rather
// than streamed token-by-token, since the underlying engine itself runs to
// completion before any output is available.
const tokenChunkSize = 10

// runPipeline implements the message-send pipeline shared by the streaming
// and non-streaming handlers: persist the user message, run the agent to
// completion, persist the assistant reply, and report progress through
// emit (nil is fine for callers that only want the final messages).
func (s *Server) runPipeline(ctx context.Context, user persistence.User, convID, content string, emit func(event string, payload any)) (userMsg, assistantMsg persistence.Message, err error) {
	if emit == nil {
		emit = func(string, any) {}
	}

	history, err := s.historyAsLLMMessages(ctx, user.ID, convID)
	if err != nil {
		emit("error", map[string]any{"message": err.Error(), "error_code": "history_load_failed"})
		return persistence.Message{}, persistence.Message{}, err
	}

	now := time.Now().UTC()
	userMsg = persistence.Message{ID: uuid.NewString(), ConversationID: convID, Role: "user", Content: content, CreatedAt: now}
	if err = s.Conversations.AppendMessages(ctx, user.ID, convID, []persistence.Message{userMsg}); err != nil {
		emit("error", map[string]any{"message": err.Error(), "error_code": "persist_user_message_failed"})
		return persistence.Message{}, persistence.Message{}, err
	}
	emit("user_message", map[string]any{"message_id": userMsg.ID, "content": userMsg.Content})

	model, settings := s.resolveModel(ctx, user.ID)
	engine := s.buildEngine(user.ID, convID, model, settings)
	finalText, err := engine.Run(ctx, content, history)
	if err != nil {
		emit("error", map[string]any{"message": err.Error(), "error_code": "agent_run_failed"})
		return userMsg, persistence.Message{}, err
	}

	for _, chunk := range chunkString(finalText, tokenChunkSize) {
		emit("token", map[string]any{"content": chunk})
	}

	assistantMsg = persistence.Message{ID: uuid.NewString(), ConversationID: convID, Role: "assistant", Content: finalText, CreatedAt: time.Now().UTC()}
	if err = s.Conversations.AppendMessages(ctx, user.ID, convID, []persistence.Message{assistantMsg}); err != nil {
		emit("error", map[string]any{"message": err.Error(), "error_code": "persist_assistant_message_failed"})
		return userMsg, persistence.Message{}, err
	}
	emit("done", map[string]any{"message_id": assistantMsg.ID})

	return userMsg, assistantMsg, nil
}

func chunkString(s string, size int) []string {
	if s == "" {
		return nil
	}
	r := []rune(s)
	out := make([]string, 0, (len(r)+size-1)/size)
	for i := 0; i < len(r); i += size {
		end := i + size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[i:end]))
	}
	return out
}
