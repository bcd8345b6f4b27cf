package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nodelife.io/nodelife/internal/domain"
	apperrors "nodelife.io/nodelife/internal/pkg/errors"
)

const searchSchema = `
CREATE TABLE IF NOT EXISTS node_search (
	ref      text  PRIMARY KEY,
	qname    text  NOT NULL,
	slug     text  NOT NULL DEFAULT '',
	status   text  NOT NULL,
	document jsonb NOT NULL,
	tsv      tsvector NOT NULL
);
CREATE INDEX IF NOT EXISTS node_search_qname ON node_search (qname);
CREATE INDEX IF NOT EXISTS node_search_tsv ON node_search USING gin (tsv);
`

// PostgresIndex is the default search index: a denormalized node table with
// a tsvector document over slug, labels and string content fields.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex creates a Postgres-backed search index on the shared pool.
func NewPostgresIndex(pool *pgxpool.Pool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

// Migrate creates the search table.
func (p *PostgresIndex) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, searchSchema); err != nil {
		return fmt.Errorf("migrate node_search: %w", err)
	}
	return nil
}

// IndexBatch implements Index with a single pgx batch round trip.
func (p *PostgresIndex) IndexBatch(ctx context.Context, nodes []domain.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, node := range nodes {
		doc, err := json.Marshal(node)
		if err != nil {
			return apperrors.WrapInternal(err, apperrors.CodeSearchFailure,
				"encode search document (table=node_search)")
		}
		batch.Queue(
			`INSERT INTO node_search (ref, qname, slug, status, document, tsv)
			 VALUES ($1, $2, $3, $4, $5, to_tsvector('simple', $6))
			 ON CONFLICT (ref) DO UPDATE SET
				qname = EXCLUDED.qname,
				slug = EXCLUDED.slug,
				status = EXCLUDED.status,
				document = EXCLUDED.document,
				tsv = EXCLUDED.tsv`,
			node.Ref.String(), node.Ref.QName(), node.Slug, string(node.Status),
			doc, searchText(node),
		)
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range nodes {
		if _, err := results.Exec(); err != nil {
			return apperrors.WrapInternal(err, apperrors.CodeSearchFailure,
				"index batch (table=node_search)")
		}
	}
	return nil
}

// DeleteBatch implements Index.
func (p *PostgresIndex) DeleteBatch(ctx context.Context, refs []domain.NodeRef) error {
	if len(refs) == 0 {
		return nil
	}
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = ref.String()
	}
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM node_search WHERE ref = ANY($1)`, keys); err != nil {
		return apperrors.WrapInternal(err, apperrors.CodeSearchFailure,
			"delete batch (table=node_search)")
	}
	return nil
}

// Search implements Index with Postgres full-text matching.
func (p *PostgresIndex) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	limit := req.Limit
	if limit <= 0 {
		limit = 25
	}

	rows, err := p.pool.Query(ctx,
		`SELECT document, COUNT(*) OVER () AS total
		 FROM node_search
		 WHERE (cardinality($1::text[]) = 0 OR qname = ANY($1))
		   AND ($2 = '' OR tsv @@ plainto_tsquery('simple', $2))
		 ORDER BY ref
		 LIMIT $3 OFFSET $4`,
		req.QNames, req.Query, limit+1, req.Offset,
	)
	if err != nil {
		return Response{}, apperrors.WrapInternal(err, apperrors.CodeSearchFailure,
			"search query (table=node_search)")
	}
	defer rows.Close()

	var (
		nodes []domain.Node
		total int64
	)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc, &total); err != nil {
			return Response{}, apperrors.WrapInternal(err, apperrors.CodeSearchFailure,
				"scan search row (table=node_search)")
		}
		var node domain.Node
		if err := json.Unmarshal(doc, &node); err != nil {
			return Response{}, apperrors.WrapInternal(err, apperrors.CodeSearchFailure,
				"decode search document (table=node_search)")
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return Response{}, apperrors.WrapInternal(err, apperrors.CodeSearchFailure,
			"read search rows (table=node_search)")
	}

	hasMore := len(nodes) > limit
	if hasMore {
		nodes = nodes[:limit]
	}

	return Response{
		Nodes:     nodes,
		Total:     total,
		HasMore:   hasMore,
		TimeTaken: time.Since(start),
	}, nil
}

// searchText flattens the node's searchable content into one document.
func searchText(node domain.Node) string {
	parts := []string{node.Slug}
	parts = append(parts, node.Labels...)
	for _, v := range node.Fields {
		if s, ok := v.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
