// ABOUTME: Tests for the context retriever
// ABOUTME: Covers ranking, threshold filtering across values, timeouts, cancellation and embedding cache

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeStore struct {
	excerpts []Excerpt
	block    bool
	err      error
	gotTopK  int
}

func (f *fakeStore) Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64) ([]Excerpt, error) {
	f.gotTopK = topK
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.excerpts, nil
}

func excerpt(text string, score float64, chunk int) Excerpt {
	return Excerpt{Text: text, Score: score, Source: Source{Collection: "STUDY-001-abcd1234", ChunkIndex: chunk}}
}

func TestRetrieve_RanksByDescendingScore(t *testing.T) {
	vs := &fakeStore{excerpts: []Excerpt{
		excerpt("low", 0.41, 4),
		excerpt("high", 0.93, 7),
		excerpt("tie-later", 0.70, 9),
		excerpt("tie-earlier", 0.70, 2),
	}}
	r := New(vs, &fakeEmbedder{}, Options{})

	res, err := r.Retrieve(context.Background(), Query{Collection: "STUDY-001-abcd1234", Text: "risks", TopK: 10, MinScore: 0.3})
	require.NoError(t, err)

	texts := make([]string, len(res.Excerpts))
	for i, e := range res.Excerpts {
		texts[i] = e.Text
	}
	assert.Equal(t, []string{"high", "tie-earlier", "tie-later", "low"}, texts)
	assert.Equal(t, "risks", res.Query)
	assert.Equal(t, 10, vs.gotTopK)
}

func TestRetrieve_ThresholdRange(t *testing.T) {
	vs := &fakeStore{excerpts: []Excerpt{
		excerpt("a", 0.95, 0),
		excerpt("b", 0.75, 1),
		excerpt("c", 0.55, 2),
		excerpt("d", 0.35, 3),
	}}
	r := New(vs, &fakeEmbedder{}, Options{})

	tests := []struct {
		minScore float64
		want     int
	}{
		{0.0, 4},
		{0.3, 4},
		{0.5, 3},
		{0.75, 2},
		{0.9, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("min_score=%.2f", tt.minScore), func(t *testing.T) {
			res, err := r.Retrieve(context.Background(), Query{Collection: "c", Text: "q", MinScore: tt.minScore})
			require.NoError(t, err)
			assert.Len(t, res.Excerpts, tt.want)
			for _, e := range res.Excerpts {
				assert.GreaterOrEqual(t, e.Score, tt.minScore)
			}
		})
	}

	_, err := r.Retrieve(context.Background(), Query{Collection: "c", Text: "q", MinScore: 0.99})
	assert.ErrorIs(t, err, ErrInsufficientContext)
}

func TestRetrieve_TopKTruncates(t *testing.T) {
	vs := &fakeStore{excerpts: []Excerpt{
		excerpt("a", 0.9, 0), excerpt("b", 0.8, 1), excerpt("c", 0.7, 2),
	}}
	r := New(vs, &fakeEmbedder{}, Options{})

	res, err := r.Retrieve(context.Background(), Query{Collection: "c", Text: "q", TopK: 2})
	require.NoError(t, err)
	assert.Len(t, res.Excerpts, 2)
}

func TestRetrieve_NoExcerpts(t *testing.T) {
	r := New(&fakeStore{}, &fakeEmbedder{}, Options{})
	_, err := r.Retrieve(context.Background(), Query{Collection: "c", Text: "benefits", MinScore: 0.3})
	assert.ErrorIs(t, err, ErrInsufficientContext)
}

func TestRetrieve_Timeout(t *testing.T) {
	r := New(&fakeStore{block: true}, &fakeEmbedder{}, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := r.Retrieve(context.Background(), Query{Collection: "c", Text: "q"})
	assert.ErrorIs(t, err, ErrRetrievalTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetrieve_ParentCancellation(t *testing.T) {
	r := New(&fakeStore{block: true}, &fakeEmbedder{}, Options{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Retrieve(ctx, Query{Collection: "c", Text: "q"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRetrievalTimeout)
}

func TestRetrieve_StoreError(t *testing.T) {
	boom := errors.New("connection refused")
	r := New(&fakeStore{err: boom}, &fakeEmbedder{}, Options{})

	_, err := r.Retrieve(context.Background(), Query{Collection: "c", Text: "q"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInsufficientContext)
}

func TestRetrieve_CachesQueryEmbeddings(t *testing.T) {
	emb := &fakeEmbedder{}
	r := New(&fakeStore{excerpts: []Excerpt{excerpt("a", 0.9, 0)}}, emb, Options{CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := r.Retrieve(context.Background(), Query{Collection: "c", Text: "same query"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), emb.calls.Load())

	_, err := r.Retrieve(context.Background(), Query{Collection: "c", Text: "other query"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), emb.calls.Load())
}

func TestRetrieve_NoCacheWhenDisabled(t *testing.T) {
	emb := &fakeEmbedder{}
	r := New(&fakeStore{excerpts: []Excerpt{excerpt("a", 0.9, 0)}}, emb, Options{})

	for i := 0; i < 2; i++ {
		_, err := r.Retrieve(context.Background(), Query{Collection: "c", Text: "q"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), emb.calls.Load())
}

func TestRetrieve_RequiresCollection(t *testing.T) {
	r := New(&fakeStore{}, &fakeEmbedder{}, Options{})
	_, err := r.Retrieve(context.Background(), Query{Text: "q"})
	assert.Error(t, err)
}
