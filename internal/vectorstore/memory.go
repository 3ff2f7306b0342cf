// ABOUTME: In-memory vector store using cosine similarity
// ABOUTME: Backs local development and tests; collections are lost on restart

package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/2389/docforge-gateway/internal/retrieval"
)

type memoryPoint struct {
	chunkIndex int
	text       string
	vector     []float32
}

// Memory is a brute-force cosine similarity store.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]memoryPoint
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]memoryPoint)}
}

// Insert adds one chunk to collection.
func (m *Memory) Insert(ctx context.Context, collection string, chunkIndex int, text string, vector []float32) error {
	v := make([]float32, len(vector))
	copy(v, vector)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[collection] = append(m.collections[collection], memoryPoint{
		chunkIndex: chunkIndex,
		text:       text,
		vector:     v,
	})
	return nil
}

// Search scores every point in collection and returns the best topK at or above minScore.
func (m *Memory) Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64) ([]retrieval.Excerpt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	points := m.collections[collection]
	excerpts := make([]retrieval.Excerpt, 0, len(points))
	for _, p := range points {
		score := cosine(vector, p.vector)
		if score < minScore {
			continue
		}
		excerpts = append(excerpts, retrieval.Excerpt{
			Text:   p.text,
			Score:  score,
			Source: retrieval.Source{Collection: collection, ChunkIndex: p.chunkIndex},
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(excerpts, func(i, j int) bool { return excerpts[i].Score > excerpts[j].Score })
	if topK > 0 && len(excerpts) > topK {
		excerpts = excerpts[:topK]
	}
	return excerpts, nil
}

// DeleteCollection drops collection.
func (m *Memory) DeleteCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

// Collections returns collection names in sorted order.
func (m *Memory) Collections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
