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

// NewMemoryModelConfigStore returns an in-memory persistence.ModelConfigStore.
// Exactly one ModelConfig per user may have IsDefault set: setting a new
// default clears the flag on every other config owned by that user.
func NewMemoryModelConfigStore() persistence.ModelConfigStore {
	return &memModelConfigStore{byID: map[string]persistence.ModelConfig{}}
}

type memModelConfigStore struct {
	mu   sync.RWMutex
	byID map[string]persistence.ModelConfig
}

func (s *memModelConfigStore) Init(ctx context.Context) error { return nil }

func (s *memModelConfigStore) CreateModelConfig(ctx context.Context, cfg persistence.ModelConfig) (persistence.ModelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	cfg.ID = uuid.NewString()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if s.firstForUserLocked(cfg.UserID) {
		cfg.IsDefault = true
	}
	if cfg.IsDefault {
		s.clearDefaultLocked(cfg.UserID)
	}
	s.byID[cfg.ID] = cfg
	return cfg, nil
}

func (s *memModelConfigStore) firstForUserLocked(userID string) bool {
	for _, c := range s.byID {
		if c.UserID == userID {
			return false
		}
	}
	return true
}

func (s *memModelConfigStore) clearDefaultLocked(userID string) {
	for id, c := range s.byID {
		if c.UserID == userID && c.IsDefault {
			c.IsDefault = false
			s.byID[id] = c
		}
	}
}

func (s *memModelConfigStore) ListModelConfigs(ctx context.Context, userID string) ([]persistence.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persistence.ModelConfig, 0)
	for _, c := range s.byID {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memModelConfigStore) GetDefaultModelConfig(ctx context.Context, userID string) (persistence.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byID {
		if c.UserID == userID && c.IsDefault {
			return c, nil
		}
	}
	return persistence.ModelConfig{}, persistence.ErrNotFound
}

func (s *memModelConfigStore) SetDefaultModelConfig(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if c.UserID != userID {
		return persistence.ErrForbidden
	}
	s.clearDefaultLocked(userID)
	c.IsDefault = true
	c.UpdatedAt = time.Now().UTC()
	s.byID[id] = c
	return nil
}

func (s *memModelConfigStore) DeleteModelConfig(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if c.UserID != userID {
		return persistence.ErrForbidden
	}
	wasDefault := c.IsDefault
	delete(s.byID, id)
	if wasDefault {
		for otherID, other := range s.byID {
			if other.UserID == userID {
				other.IsDefault = true
				s.byID[otherID] = other
				break
			}
		}
	}
	return nil
}

// NewPostgresModelConfigStore returns a Postgres-backed persistence.ModelConfigStore.
func NewPostgresModelConfigStore(pool *pgxpool.Pool) persistence.ModelConfigStore {
	return &pgModelConfigStore{pool: pool}
}

type pgModelConfigStore struct {
	pool *pgxpool.Pool
}

func (s *pgModelConfigStore) Init(ctx context.Context) error {
	if s.pool == nil {
		return errors.New("postgres model config store requires pool")
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS user_model_configs (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    base_url TEXT NOT NULL DEFAULT '',
    api_key TEXT NOT NULL DEFAULT '',
    is_default BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS user_model_configs_one_default_idx
    ON user_model_configs(user_id) WHERE is_default;
`)
	return err
}

func (s *pgModelConfigStore) CreateModelConfig(ctx context.Context, cfg persistence.ModelConfig) (persistence.ModelConfig, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return persistence.ModelConfig{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM user_model_configs WHERE user_id = $1`, cfg.UserID).Scan(&count); err != nil {
		return persistence.ModelConfig{}, err
	}
	isDefault := cfg.IsDefault || count == 0
	if isDefault {
		if _, err := tx.Exec(ctx, `UPDATE user_model_configs SET is_default = FALSE WHERE user_id = $1`, cfg.UserID); err != nil {
			return persistence.ModelConfig{}, err
		}
	}

	row := tx.QueryRow(ctx, `
INSERT INTO user_model_configs (id, user_id, name, provider, model, base_url, api_key, is_default)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, user_id, name, provider, model, base_url, api_key, is_default, created_at, updated_at`,
		uuid.NewString(), cfg.UserID, cfg.Name, cfg.Provider, cfg.Model, cfg.BaseURL, cfg.APIKey, isDefault)
	out, err := scanModelConfig(row)
	if err != nil {
		return persistence.ModelConfig{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return persistence.ModelConfig{}, err
	}
	return out, nil
}

func scanModelConfig(row pgx.Row) (persistence.ModelConfig, error) {
	var c persistence.ModelConfig
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Provider, &c.Model, &c.BaseURL, &c.APIKey, &c.IsDefault, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *pgModelConfigStore) ListModelConfigs(ctx context.Context, userID string) ([]persistence.ModelConfig, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, name, provider, model, base_url, api_key, is_default, created_at, updated_at
FROM user_model_configs WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]persistence.ModelConfig, 0)
	for rows.Next() {
		c, err := scanModelConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgModelConfigStore) GetDefaultModelConfig(ctx context.Context, userID string) (persistence.ModelConfig, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, user_id, name, provider, model, base_url, api_key, is_default, created_at, updated_at
FROM user_model_configs WHERE user_id = $1 AND is_default LIMIT 1`, userID)
	c, err := scanModelConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.ModelConfig{}, persistence.ErrNotFound
		}
		return persistence.ModelConfig{}, err
	}
	return c, nil
}

func (s *pgModelConfigStore) SetDefaultModelConfig(ctx context.Context, userID, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner string
	if err := tx.QueryRow(ctx, `SELECT user_id FROM user_model_configs WHERE id = $1`, id).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.ErrNotFound
		}
		return err
	}
	if owner != userID {
		return persistence.ErrForbidden
	}
	if _, err := tx.Exec(ctx, `UPDATE user_model_configs SET is_default = FALSE WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE user_model_configs SET is_default = TRUE, updated_at = NOW() WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *pgModelConfigStore) DeleteModelConfig(ctx context.Context, userID, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner string
	var wasDefault bool
	if err := tx.QueryRow(ctx, `SELECT user_id, is_default FROM user_model_configs WHERE id = $1`, id).Scan(&owner, &wasDefault); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.ErrNotFound
		}
		return err
	}
	if owner != userID {
		return persistence.ErrForbidden
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_model_configs WHERE id = $1`, id); err != nil {
		return err
	}
	if wasDefault {
		if _, err := tx.Exec(ctx, `
UPDATE user_model_configs SET is_default = TRUE
WHERE id = (SELECT id FROM user_model_configs WHERE user_id = $1 ORDER BY created_at ASC LIMIT 1)`, userID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *pgModelConfigStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
