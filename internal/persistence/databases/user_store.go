package databases

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memagent/internal/persistence"
)

// NewMemoryUserStore returns an in-memory persistence.UserStore.
func NewMemoryUserStore() persistence.UserStore {
	return &memUserStore{bySubject: map[string]persistence.User{}, byID: map[string]persistence.User{}}
}

type memUserStore struct {
	mu        sync.RWMutex
	bySubject map[string]persistence.User
	byID      map[string]persistence.User
}

func (s *memUserStore) Init(ctx context.Context) error { return nil }

func (s *memUserStore) EnsureUser(ctx context.Context, subject, email string) (persistence.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.bySubject[subject]; ok {
		return u, nil
	}
	now := time.Now().UTC()
	u := persistence.User{ID: uuid.NewString(), Subject: subject, Email: email, CreatedAt: now, UpdatedAt: now}
	s.bySubject[subject] = u
	s.byID[u.ID] = u
	return u, nil
}

func (s *memUserStore) GetUser(ctx context.Context, id string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return u, nil
}

// NewPostgresUserStore returns a Postgres-backed persistence.UserStore.
func NewPostgresUserStore(pool *pgxpool.Pool) persistence.UserStore {
	return &pgUserStore{pool: pool}
}

type pgUserStore struct {
	pool *pgxpool.Pool
}

func (s *pgUserStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres user store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    subject TEXT NOT NULL UNIQUE,
    email TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
	return err
}

func (s *pgUserStore) EnsureUser(ctx context.Context, subject, email string) (persistence.User, error) {
	row := s.pool.QueryRow(ctx, `
WITH ins AS (
  INSERT INTO users (id, subject, email)
  VALUES ($1, $2, $3)
  ON CONFLICT (subject) DO NOTHING
  RETURNING id, subject, email, created_at, updated_at
)
SELECT id, subject, email, created_at, updated_at FROM ins
UNION ALL
SELECT id, subject, email, created_at, updated_at FROM users WHERE subject = $2
LIMIT 1`, uuid.NewString(), subject, email)
	var u persistence.User
	if err := row.Scan(&u.ID, &u.Subject, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return persistence.User{}, err
	}
	return u, nil
}

func (s *pgUserStore) GetUser(ctx context.Context, id string) (persistence.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, subject, email, created_at, updated_at FROM users WHERE id = $1`, id)
	var u persistence.User
	if err := row.Scan(&u.ID, &u.Subject, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.User{}, persistence.ErrNotFound
		}
		return persistence.User{}, err
	}
	return u, nil
}

func (s *pgUserStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
