// ABOUTME: Protocol text ingestion: paragraph-aware chunking, batch embedding, and insertion
// ABOUTME: Populates a protocol collection so the retriever has excerpts to rank

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultChunkChars is the target chunk size used when none is given.
const DefaultChunkChars = 1200

const embedBatchSize = 32

// Inserter stores one embedded chunk in a collection.
type Inserter interface {
	Insert(ctx context.Context, collection string, chunkIndex int, text string, vector []float32) error
}

// Chunk splits text into chunks of at most maxChars runes. Paragraphs
// (blank-line separated) are packed together; a paragraph longer than
// maxChars is split on word boundaries, and a single word longer than
// maxChars is split mid-word.
func Chunk(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultChunkChars
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	add := func(piece string, sep string) {
		n := len([]rune(piece))
		sepLen := len(sep)
		if curLen > 0 && curLen+sepLen+n > maxChars {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += sepLen
		}
		cur.WriteString(piece)
		curLen += n
	}

	for _, para := range splitParagraphs(text) {
		if len([]rune(para)) <= maxChars {
			add(para, "\n\n")
			continue
		}
		flush()
		for _, word := range strings.Fields(para) {
			runes := []rune(word)
			for len(runes) > maxChars {
				flush()
				chunks = append(chunks, string(runes[:maxChars]))
				runes = runes[maxChars:]
			}
			if len(runes) > 0 {
				add(string(runes), " ")
			}
		}
		flush()
	}
	flush()
	return chunks
}

func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var paras []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// Ingest chunks text, embeds the chunks in batches, and inserts them into
// collection. It returns the number of chunks stored.
func Ingest(ctx context.Context, dst Inserter, embedder Embedder, collection, text string, maxChars int) (int, error) {
	if collection == "" {
		return 0, errors.New("ingest: collection is required")
	}
	chunks := Chunk(text, maxChars)
	if len(chunks) == 0 {
		return 0, errors.New("ingest: no text to ingest")
	}

	stored := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]

		vectors, err := embedder.Embed(ctx, batch)
		if err != nil {
			return stored, fmt.Errorf("ingest: embedding chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return stored, fmt.Errorf("ingest: embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		for i, chunk := range batch {
			if err := dst.Insert(ctx, collection, start+i, chunk, vectors[i]); err != nil {
				return stored, fmt.Errorf("ingest: inserting chunk %d: %w", start+i, err)
			}
			stored++
		}
	}
	return stored, nil
}
