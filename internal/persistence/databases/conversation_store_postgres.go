package databases

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memagent/internal/persistence"
)

// NewPostgresConversationStore returns a Postgres-backed conversation/message store.
func NewPostgresConversationStore(pool *pgxpool.Pool) persistence.ConversationStore {
	return &pgConversationStore{pool: pool}
}

type pgConversationStore struct {
	pool *pgxpool.Pool
}

func (s *pgConversationStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres conversation store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT 'New Conversation',
    message_count INTEGER NOT NULL DEFAULT 0,
    last_message_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS conversations_user_updated_idx ON conversations(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    tool_call_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS conversation_messages_conv_created_idx ON conversation_messages(conversation_id, created_at);
`)
	return err
}

func (s *pgConversationStore) scanConversation(row pgx.Row) (persistence.Conversation, error) {
	var c persistence.Conversation
	var lastMessageAt *time.Time
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.MessageCount, &lastMessageAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return persistence.Conversation{}, err
	}
	if lastMessageAt != nil {
		c.LastMessageAt = *lastMessageAt
	}
	return c, nil
}

const conversationColumns = `id, user_id, title, message_count, last_message_at, created_at, updated_at`

func (s *pgConversationStore) CreateConversation(ctx context.Context, userID, title string) (persistence.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = "New Conversation"
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO conversations (id, user_id, title)
VALUES ($1, $2, $3)
RETURNING `+conversationColumns, uuid.NewString(), userID, title)
	return s.scanConversation(row)
}

func (s *pgConversationStore) GetConversation(ctx context.Context, userID, id string) (persistence.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)
	c, err := s.scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.Conversation{}, s.notFoundOrForbidden(ctx, id, userID)
		}
		return persistence.Conversation{}, err
	}
	return c, nil
}

func (s *pgConversationStore) notFoundOrForbidden(ctx context.Context, id, userID string) error {
	var owner string
	err := s.pool.QueryRow(ctx, `SELECT user_id FROM conversations WHERE id = $1`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return persistence.ErrForbidden
	}
	return persistence.ErrNotFound
}

func (s *pgConversationStore) ListConversations(ctx context.Context, userID string) ([]persistence.Conversation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]persistence.Conversation, 0)
	for rows.Next() {
		c, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgConversationStore) RenameConversation(ctx context.Context, userID, id, title string) (persistence.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		return persistence.Conversation{}, persistence.ErrValidation
	}
	row := s.pool.QueryRow(ctx, `
UPDATE conversations SET title = $3, updated_at = NOW()
WHERE id = $1 AND user_id = $2
RETURNING `+conversationColumns, id, userID, title)
	c, err := s.scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.Conversation{}, s.notFoundOrForbidden(ctx, id, userID)
		}
		return persistence.Conversation{}, err
	}
	return c, nil
}

func (s *pgConversationStore) DeleteConversation(ctx context.Context, userID, id string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}
	return s.notFoundOrForbidden(ctx, id, userID)
}

func (s *pgConversationStore) AppendMessages(ctx context.Context, userID, conversationID string, msgs []persistence.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lastMessageAt time.Time
	for _, m := range msgs {
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if createdAt.After(lastMessageAt) {
			lastMessageAt = createdAt
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO conversation_messages (id, conversation_id, role, content, tool_call_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, id, conversationID, m.Role, m.Content, m.ToolCallID, createdAt); err != nil {
			return err
		}
	}

	var firstUser string
	_ = tx.QueryRow(ctx, `SELECT content FROM conversation_messages WHERE conversation_id = $1 AND role = 'user' ORDER BY created_at ASC LIMIT 1`, conversationID).Scan(&firstUser)

	if _, err := tx.Exec(ctx, `
UPDATE conversations
SET message_count = message_count + $2,
    last_message_at = $3,
    updated_at = NOW(),
    title = CASE WHEN title = 'New Conversation' AND $4 <> '' THEN left($4, 30) ELSE title END
WHERE id = $1`, conversationID, len(msgs), lastMessageAt, firstUser); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *pgConversationStore) ListMessages(ctx context.Context, userID, conversationID string, limit int) ([]persistence.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	query := `
SELECT id, conversation_id, role, content, tool_call_id, created_at
FROM conversation_messages
WHERE conversation_id = $1
ORDER BY created_at ASC, id ASC`
	args := []any{conversationID}
	if limit > 0 {
		query = `
SELECT id, conversation_id, role, content, tool_call_id, created_at FROM (
    SELECT id, conversation_id, role, content, tool_call_id, created_at
    FROM conversation_messages
    WHERE conversation_id = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2
) sub
ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]persistence.Message, 0)
	for rows.Next() {
		var m persistence.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ToolCallID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *pgConversationStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
