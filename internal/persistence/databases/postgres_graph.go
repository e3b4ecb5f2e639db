package databases

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgGraph struct{ pool *pgxpool.Pool }

func NewPostgresGraph(pool *pgxpool.Pool) GraphDB {
	ctx := context.Background()
	// Extensions best-effort; may require superuser
	_, _ = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS postgis`)
	_, _ = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pgrouting`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS nodes (
  id TEXT PRIMARY KEY,
  labels TEXT[] NOT NULL DEFAULT '{}',
  props JSONB NOT NULL DEFAULT '{}'::jsonb
);
`)
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS edges (
  id BIGSERIAL PRIMARY KEY,
  source TEXT NOT NULL,
  rel TEXT NOT NULL,
  target TEXT NOT NULL,
  props JSONB NOT NULL DEFAULT '{}'::jsonb
);
`)
	// Unique on (source, rel): the graph tracks one current destination per
	// (subject, attribute) pair, so a later UpsertEdge for the same pair
	// overwrites this row instead of adding a second one alongside it.
	_, _ = pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS edges_src_rel_uniq ON edges(source, rel)`)
	_, _ = pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS edges_dst_rel ON edges(target, rel)`)
	return &pgGraph{pool: pool}
}

func (g *pgGraph) UpsertNode(ctx context.Context, id string, labels []string, props map[string]any) error {
	// Ensure we never pass SQL NULL for the JSONB `props` column. If callers
	// provide nil, use an empty JSON object so the DB's NOT NULL constraint is
	// satisfied and default behavior is consistent.
	if props == nil {
		props = map[string]any{}
	}
	_, err := g.pool.Exec(ctx, `
INSERT INTO nodes(id, labels, props) VALUES($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET labels=EXCLUDED.labels, props=EXCLUDED.props
`, id, labels, props)
	return err
}

// UpsertEdge replaces whatever destination was previously recorded for
// (srcID, rel), relying on the edges_src_rel_uniq index: the graph tracks one
// current value per (subject, attribute) pair, so correcting or resetting a
// fact overwrites the stale edge rather than leaving it alongside the new
// one.
func (g *pgGraph) UpsertEdge(ctx context.Context, srcID, rel, dstID string, props map[string]any) error {
	// Same protection for edges.props
	if props == nil {
		props = map[string]any{}
	}
	_, err := g.pool.Exec(ctx, `
INSERT INTO edges(source, rel, target, props) VALUES($1,$2,$3,$4)
ON CONFLICT (source, rel) DO UPDATE SET target=EXCLUDED.target, props=EXCLUDED.props
`, srcID, rel, dstID, props)
	return err
}

func (g *pgGraph) Neighbors(ctx context.Context, id string, rel string) ([]string, error) {
	rows, err := g.pool.Query(ctx, `SELECT target FROM edges WHERE source=$1 AND rel=$2 ORDER BY target`, id, rel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{} // return empty slice rather than nil so JSON encodes as []
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (g *pgGraph) GetNode(ctx context.Context, id string) (Node, bool) {
	row := g.pool.QueryRow(ctx, `SELECT labels, props FROM nodes WHERE id=$1`, id)
	var labels []string
	var props map[string]any
	if err := row.Scan(&labels, &props); err != nil {
		return Node{}, false
	}
	return Node{ID: id, Labels: labels, Props: props}, true
}

func (g *pgGraph) NodesByLabel(ctx context.Context, label string) ([]Node, error) {
	rows, err := g.pool.Query(ctx, `SELECT id, labels, props FROM nodes WHERE $1 = ANY(labels) ORDER BY id`, label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Node{}
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Labels, &n.Props); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (g *pgGraph) EdgesFrom(ctx context.Context, srcID string) ([]Edge, error) {
	rows, err := g.pool.Query(ctx, `SELECT rel, target, props FROM edges WHERE source=$1 ORDER BY rel, target`, srcID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Edge{}
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Relationship, &e.Destination, &e.Props); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (g *pgGraph) DeleteNode(ctx context.Context, id string) error {
	if _, err := g.pool.Exec(ctx, `DELETE FROM edges WHERE source=$1 OR target=$1`, id); err != nil {
		return err
	}
	_, err := g.pool.Exec(ctx, `DELETE FROM nodes WHERE id=$1`, id)
	return err
}

// DeleteEdgesByFactID removes every edge whose props carry the given
// fact_id, used to tear down exactly the edge a deleted memory introduced
// without disturbing edges other live facts still hold for the same
// (subject, attribute) pair.
func (g *pgGraph) DeleteEdgesByFactID(ctx context.Context, factID string) error {
	_, err := g.pool.Exec(ctx, `DELETE FROM edges WHERE props->>'fact_id' = $1`, factID)
	return err
}
