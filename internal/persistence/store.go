// Package persistence defines the domain entities and store interfaces for
// the relational side of the service: users, conversations, messages,
// per-user model configurations, and the out-of-scope manual memory-record
// CRUD table. Concrete backends (Postgres, in-memory) live under
// internal/persistence/databases.
package persistence

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by every store implementation so handlers can
// translate them into the JSON error_code taxonomy without type-asserting
// backend-specific error types.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)

// User is an authenticated principal. Issuance of credentials is out of
// scope; rows are created lazily from verified JWT claims.
type User struct {
	ID        string
	Subject   string // JWT "sub" claim this row was provisioned from
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation is a chat session scoped to a single owning user.
type Conversation struct {
	ID            string
	UserID        string
	Title         string
	MessageCount  int
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Message is a single turn within a Conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" | "assistant" | "tool"
	Content        string
	ToolCallID     string
	CreatedAt      time.Time
}

// ModelConfig is a named LLM configuration a user can select per-conversation.
// Exactly one ModelConfig per user may have IsDefault set.
type ModelConfig struct {
	ID        string
	UserID    string
	Name      string
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MemoryRecord is a row in the manual memory CRUD table — distinct from the
// vector/graph-backed memory core, offered as a direct escape hatch for
// clients that want to manage memory text themselves.
type MemoryRecord struct {
	ID        string
	UserID    string
	Namespace string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserStore provisions and looks up authenticated principals.
type UserStore interface {
	Init(ctx context.Context) error
	EnsureUser(ctx context.Context, subject, email string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
}

// ConversationStore is ownership-checked CRUD over conversations and their
// messages, cascading message/memory deletes on conversation delete.
type ConversationStore interface {
	Init(ctx context.Context) error
	CreateConversation(ctx context.Context, userID, title string) (Conversation, error)
	GetConversation(ctx context.Context, userID, id string) (Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)
	RenameConversation(ctx context.Context, userID, id, title string) (Conversation, error)
	DeleteConversation(ctx context.Context, userID, id string) error

	AppendMessages(ctx context.Context, userID, conversationID string, msgs []Message) error
	ListMessages(ctx context.Context, userID, conversationID string, limit int) ([]Message, error)
}

// ModelConfigStore is ownership-checked CRUD over per-user model configs.
type ModelConfigStore interface {
	Init(ctx context.Context) error
	CreateModelConfig(ctx context.Context, cfg ModelConfig) (ModelConfig, error)
	ListModelConfigs(ctx context.Context, userID string) ([]ModelConfig, error)
	GetDefaultModelConfig(ctx context.Context, userID string) (ModelConfig, error)
	SetDefaultModelConfig(ctx context.Context, userID, id string) error
	DeleteModelConfig(ctx context.Context, userID, id string) error
}

// MemoryRecordStore is ownership-checked CRUD over the manual memory table.
type MemoryRecordStore interface {
	Init(ctx context.Context) error
	CreateMemoryRecord(ctx context.Context, rec MemoryRecord) (MemoryRecord, error)
	ListMemoryRecords(ctx context.Context, userID, namespace string) ([]MemoryRecord, error)
	DeleteMemoryRecord(ctx context.Context, userID, id string) error
}
