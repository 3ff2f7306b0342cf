// ABOUTME: Postgres pgvector adapter for similarity search over protocol chunks
// ABOUTME: Cosine distance search through a pgx connection pool with pgvector types registered

package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/2389/docforge-gateway/internal/retrieval"
)

// PGVector searches a table shaped like:
//
//	CREATE TABLE protocol_chunks (
//	    id          BIGSERIAL PRIMARY KEY,
//	    collection  TEXT NOT NULL,
//	    chunk_index INTEGER NOT NULL,
//	    content     TEXT NOT NULL,
//	    embedding   vector(1536) NOT NULL
//	);
type PGVector struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// NewPGVector connects to dsn and verifies the connection.
func NewPGVector(ctx context.Context, dsn, table string, logger *slog.Logger) (*PGVector, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("pgvector: table is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: parsing dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector: ping: %w", err)
	}

	return &PGVector{
		pool:   pool,
		table:  pgx.Identifier(strings.Split(table, ".")).Sanitize(),
		logger: logger.With("component", "pgvector"),
	}, nil
}

// Search returns the topK nearest chunks of collection by cosine similarity.
func (p *PGVector) Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64) ([]retrieval.Excerpt, error) {
	query := fmt.Sprintf(`
		SELECT id, chunk_index, content, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE collection = $2 AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4
	`, p.table)

	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), collection, minScore, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector: querying %s: %w", collection, err)
	}
	defer rows.Close()

	var excerpts []retrieval.Excerpt
	for rows.Next() {
		var (
			id    int64
			e     retrieval.Excerpt
			score float64
		)
		if err := rows.Scan(&id, &e.Source.ChunkIndex, &e.Text, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scanning row: %w", err)
		}
		e.Score = score
		e.Source.Collection = collection
		e.Source.PointID = fmt.Sprint(id)
		excerpts = append(excerpts, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: iterating rows: %w", err)
	}
	return excerpts, nil
}

// Insert adds one chunk with its embedding.
func (p *PGVector) Insert(ctx context.Context, collection string, chunkIndex int, text string, vector []float32) error {
	query := fmt.Sprintf(`INSERT INTO %s (collection, chunk_index, content, embedding) VALUES ($1, $2, $3, $4)`, p.table)
	if _, err := p.pool.Exec(ctx, query, collection, chunkIndex, text, pgvector.NewVector(vector)); err != nil {
		return fmt.Errorf("pgvector: inserting chunk: %w", err)
	}
	return nil
}

// DeleteCollection removes every chunk of collection.
func (p *PGVector) DeleteCollection(ctx context.Context, collection string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE collection = $1`, p.table)
	tag, err := p.pool.Exec(ctx, query, collection)
	if err != nil {
		return fmt.Errorf("pgvector: deleting %s: %w", collection, err)
	}
	p.logger.Info("collection deleted", "collection", collection, "chunks", tag.RowsAffected())
	return nil
}

// Collections lists the distinct collections holding chunks.
func (p *PGVector) Collections(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT collection FROM %s ORDER BY collection`, p.table))
	if err != nil {
		return nil, fmt.Errorf("pgvector: listing collections: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("pgvector: listing collections: %w", err)
	}
	return names, nil
}

// Close closes the pool.
func (p *PGVector) Close() error {
	p.pool.Close()
	return nil
}
