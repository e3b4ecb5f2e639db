package databases

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"memagent/internal/persistence"
)

// NewMemoryMemoryRecordStore returns an in-memory persistence.MemoryRecordStore
// backing the manual memory CRUD table (distinct from the vector/graph memory
// core in internal/memstore).
func NewMemoryMemoryRecordStore() persistence.MemoryRecordStore {
	return &memMemoryRecordStore{byID: map[string]persistence.MemoryRecord{}}
}

type memMemoryRecordStore struct {
	mu   sync.RWMutex
	byID map[string]persistence.MemoryRecord
}

func (s *memMemoryRecordStore) Init(ctx context.Context) error { return nil }

func (s *memMemoryRecordStore) CreateMemoryRecord(ctx context.Context, rec persistence.MemoryRecord) (persistence.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.byID[rec.ID] = rec
	return rec, nil
}

func (s *memMemoryRecordStore) ListMemoryRecords(ctx context.Context, userID, namespace string) ([]persistence.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persistence.MemoryRecord, 0)
	for _, r := range s.byID {
		if r.UserID != userID {
			continue
		}
		if namespace != "" && r.Namespace != namespace {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *memMemoryRecordStore) DeleteMemoryRecord(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if r.UserID != userID {
		return persistence.ErrForbidden
	}
	delete(s.byID, id)
	return nil
}

// NewPostgresMemoryRecordStore returns a Postgres-backed persistence.MemoryRecordStore.
func NewPostgresMemoryRecordStore(pool *pgxpool.Pool) persistence.MemoryRecordStore {
	return &pgMemoryRecordStore{pool: pool}
}

type pgMemoryRecordStore struct {
	pool *pgxpool.Pool
}

func (s *pgMemoryRecordStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres memory record store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memories (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    namespace TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS memories_user_namespace_idx ON memories(user_id, namespace);
`)
	return err
}

func (s *pgMemoryRecordStore) CreateMemoryRecord(ctx context.Context, rec persistence.MemoryRecord) (persistence.MemoryRecord, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO memories (id, user_id, namespace, content)
VALUES ($1, $2, $3, $4)
RETURNING id, user_id, namespace, content, created_at, updated_at`, uuid.NewString(), rec.UserID, rec.Namespace, rec.Content)
	var out persistence.MemoryRecord
	if err := row.Scan(&out.ID, &out.UserID, &out.Namespace, &out.Content, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return persistence.MemoryRecord{}, err
	}
	return out, nil
}

func (s *pgMemoryRecordStore) ListMemoryRecords(ctx context.Context, userID, namespace string) ([]persistence.MemoryRecord, error) {
	query := `SELECT id, user_id, namespace, content, created_at, updated_at FROM memories WHERE user_id = $1`
	args := []any{userID}
	if namespace != "" {
		query += ` AND namespace = $2`
		args = append(args, namespace)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]persistence.MemoryRecord, 0)
	for rows.Next() {
		var r persistence.MemoryRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Namespace, &r.Content, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgMemoryRecordStore) DeleteMemoryRecord(ctx context.Context, userID, id string) error {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var owner string
		lookupErr := s.pool.QueryRow(ctx, `SELECT user_id FROM memories WHERE id = $1`, id).Scan(&owner)
		if lookupErr != nil {
			return persistence.ErrNotFound
		}
		if owner != userID {
			return persistence.ErrForbidden
		}
		return persistence.ErrNotFound
	}
	return nil
}

func (s *pgMemoryRecordStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
