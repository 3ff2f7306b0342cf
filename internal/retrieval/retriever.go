// ABOUTME: Context Retriever: ranked, scored protocol excerpts for a section query
// ABOUTME: Embeds the query (cached), searches the vector store within a time budget, filters and ranks

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrInsufficientContext is returned when no excerpt clears the relevance threshold.
var ErrInsufficientContext = errors.New("insufficient context")

// ErrRetrievalTimeout is returned when retrieval exceeds its time budget.
var ErrRetrievalTimeout = errors.New("retrieval timeout")

const (
	defaultTopK    = 10
	defaultTimeout = 5 * time.Second
)

var tracer = otel.Tracer("github.com/2389/docforge-gateway/internal/retrieval")

// Source locates an excerpt inside the vector store.
type Source struct {
	Collection string `json:"collection"`
	ChunkIndex int    `json:"chunk_index"`
	PointID    string `json:"point_id,omitempty"`
}

// Excerpt is one scored passage of the protocol.
type Excerpt struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source Source  `json:"source"`
}

// Result is the ranked output of one query, highest relevance first.
type Result struct {
	Query    string
	Excerpts []Excerpt
}

// Query describes one section-specific search.
type Query struct {
	Collection string
	Text       string
	TopK       int
	MinScore   float64
}

// VectorStore is the similarity search capability the retriever needs.
// Implementations may apply minScore themselves; the retriever filters again.
type VectorStore interface {
	Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64) ([]Excerpt, error)
}

// Embedder turns query text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures a Retriever.
type Options struct {
	Timeout  time.Duration // per-call budget covering embedding and search
	CacheTTL time.Duration // how long query embeddings are reused; zero disables caching
	Logger   *slog.Logger
}

// Retriever fetches ranked excerpts for section queries.
type Retriever struct {
	store      VectorStore
	embedder   Embedder
	timeout    time.Duration
	embeddings *cache.Cache
	logger     *slog.Logger
}

// New creates a Retriever over the given store and embedder.
func New(vs VectorStore, embedder Embedder, opts Options) *Retriever {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	r := &Retriever{
		store:    vs,
		embedder: embedder,
		timeout:  timeout,
		logger:   logger.With("component", "retriever"),
	}
	if opts.CacheTTL > 0 {
		r.embeddings = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return r
}

// Retrieve runs q against the vector store. It returns ErrInsufficientContext
// when nothing clears q.MinScore and ErrRetrievalTimeout when the time budget
// runs out. Cancellation of ctx itself is returned as ctx.Err().
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Result, error) {
	if q.Collection == "" {
		return nil, errors.New("retrieval: collection is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	ctx, span := tracer.Start(ctx, "retrieval.Retrieve", trace.WithAttributes(
		attribute.String("retrieval.collection", q.Collection),
		attribute.Int("retrieval.top_k", topK),
		attribute.Float64("retrieval.min_score", q.MinScore),
	))
	defer span.End()

	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	excerpts, err := r.search(rctx, q.Collection, q.Text, topK, q.MinScore)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case errors.Is(rctx.Err(), context.DeadlineExceeded):
			err = fmt.Errorf("%w: no response within %s", ErrRetrievalTimeout, r.timeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	ranked := rank(excerpts, q.MinScore, topK)
	span.SetAttributes(attribute.Int("retrieval.excerpts", len(ranked)))

	if len(ranked) == 0 {
		r.logger.Debug("no excerpts above threshold",
			"collection", q.Collection,
			"candidates", len(excerpts),
			"min_score", q.MinScore,
		)
		return nil, ErrInsufficientContext
	}

	return &Result{Query: q.Text, Excerpts: ranked}, nil
}

func (r *Retriever) search(ctx context.Context, collection, text string, topK int, minScore float64) ([]Excerpt, error) {
	vector, err := r.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	excerpts, err := r.store.Search(ctx, collection, vector, topK, minScore)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}
	return excerpts, nil
}

func (r *Retriever) embed(ctx context.Context, text string) ([]float32, error) {
	if r.embeddings != nil {
		if v, ok := r.embeddings.Get(text); ok {
			return v.([]float32), nil
		}
	}

	vectors, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 input", len(vectors))
	}

	if r.embeddings != nil {
		r.embeddings.Set(text, vectors[0], cache.DefaultExpiration)
	}
	return vectors[0], nil
}

// rank drops excerpts below minScore and orders the rest by descending score,
// breaking ties by chunk position so equal scores read in document order.
func rank(excerpts []Excerpt, minScore float64, topK int) []Excerpt {
	kept := make([]Excerpt, 0, len(excerpts))
	for _, e := range excerpts {
		if e.Score >= minScore && e.Text != "" {
			kept = append(kept, e)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Source.ChunkIndex < kept[j].Source.ChunkIndex
	})
	if len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}
