package databases

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"memagent/internal/persistence"
)

// NewMemoryConversationStore returns an in-memory persistence.ConversationStore,
// used for tests and for local/"memory" backend configuration.
func NewMemoryConversationStore() persistence.ConversationStore {
	return &memConversationStore{
		conversations: map[string]persistence.Conversation{},
		messages:      map[string][]persistence.Message{},
	}
}

type memConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]persistence.Conversation
	messages      map[string][]persistence.Message
}

func (s *memConversationStore) Init(ctx context.Context) error { return nil }

func (s *memConversationStore) CreateConversation(ctx context.Context, userID, title string) (persistence.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = "New Conversation"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c := persistence.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[c.ID] = c
	return c, nil
}

func (s *memConversationStore) GetConversation(ctx context.Context, userID, id string) (persistence.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return persistence.Conversation{}, persistence.ErrNotFound
	}
	if c.UserID != userID {
		return persistence.Conversation{}, persistence.ErrForbidden
	}
	return c, nil
}

func (s *memConversationStore) ListConversations(ctx context.Context, userID string) ([]persistence.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persistence.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if c.UserID != userID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *memConversationStore) RenameConversation(ctx context.Context, userID, id, title string) (persistence.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		return persistence.Conversation{}, persistence.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return persistence.Conversation{}, persistence.ErrNotFound
	}
	if c.UserID != userID {
		return persistence.Conversation{}, persistence.ErrForbidden
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	s.conversations[id] = c
	return c, nil
}

func (s *memConversationStore) DeleteConversation(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if c.UserID != userID {
		return persistence.ErrForbidden
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *memConversationStore) AppendMessages(ctx context.Context, userID, conversationID string, msgs []persistence.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return persistence.ErrNotFound
	}
	if c.UserID != userID {
		return persistence.ErrForbidden
	}
	now := time.Now().UTC()
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.NewString()
		}
		msgs[i].ConversationID = conversationID
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now
		}
	}
	s.messages[conversationID] = append(s.messages[conversationID], msgs...)
	c.MessageCount += len(msgs)
	c.LastMessageAt = now
	c.UpdatedAt = now
	if c.Title == "New Conversation" || c.Title == "" {
		if first := firstUserMessage(s.messages[conversationID]); first != "" {
			c.Title = truncateTitle(first)
		}
	}
	s.conversations[conversationID] = c
	return nil
}

func (s *memConversationStore) ListMessages(ctx context.Context, userID, conversationID string, limit int) ([]persistence.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	if c.UserID != userID {
		return nil, persistence.ErrForbidden
	}
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]persistence.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func firstUserMessage(msgs []persistence.Message) string {
	for _, m := range msgs {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

func truncateTitle(s string) string {
	s = strings.TrimSpace(s)
	const max = 30
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
