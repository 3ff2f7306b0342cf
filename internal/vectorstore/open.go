// ABOUTME: Backend selection for the vector similarity store
// ABOUTME: Builds a Qdrant, pgvector or in-memory store from retrieval configuration

package vectorstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/docforge-gateway/internal/config"
	"github.com/2389/docforge-gateway/internal/retrieval"
)

// Store is a similarity store that also accepts chunks.
type Store interface {
	retrieval.VectorStore
	Insert(ctx context.Context, collection string, chunkIndex int, text string, vector []float32) error
	// DeleteCollection drops every chunk of collection. Deleting a missing
	// collection is not an error.
	DeleteCollection(ctx context.Context, collection string) error
	// Collections lists collection names; it doubles as a connectivity check.
	Collections(ctx context.Context) ([]string, error)
	Close() error
}

// Open returns the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.RetrievalConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "qdrant":
		q, err := NewQdrant(cfg.Qdrant.URL, cfg.Qdrant.APIKey, nil, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	case "pgvector":
		pg, err := NewPGVector(ctx, cfg.PGVector.DSN, cfg.PGVector.Table, logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}
