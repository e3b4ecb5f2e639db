package databases

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresSearch returns a Postgres-backed FullTextSearch using
// tsvector/tsquery full-text search over a dedicated documents table.
func NewPostgresSearch(pool *pgxpool.Pool) FullTextSearch {
	return &pgSearch{pool: pool}
}

type pgSearch struct {
	pool *pgxpool.Pool
}

func (s *pgSearch) ensureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS search_documents (
    id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', text)) STORED
);

CREATE INDEX IF NOT EXISTS search_documents_tsv_idx ON search_documents USING GIN(tsv);
`)
	return err
}

func (s *pgSearch) Index(ctx context.Context, id string, text string, metadata map[string]string) error {
	if err := s.ensureTable(ctx); err != nil {
		return err
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO search_documents (id, text, metadata)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET text = EXCLUDED.text, metadata = EXCLUDED.metadata`, id, text, metadata)
	return err
}

func (s *pgSearch) Remove(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM search_documents WHERE id = $1`, id)
	return err
}

func (s *pgSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, ts_rank(tsv, plainto_tsquery('simple', $1)) AS score, left(text, 160), metadata
FROM search_documents
WHERE tsv @@ plainto_tsquery('simple', $1)
ORDER BY score DESC
LIMIT $2`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SearchResult, 0)
	for rows.Next() {
		var r SearchResult
		var md map[string]string
		if err := rows.Scan(&r.ID, &r.Score, &r.Snippet, &md); err != nil {
			return nil, err
		}
		r.Metadata = md
		out = append(out, r)
	}
	return out, rows.Err()
}
