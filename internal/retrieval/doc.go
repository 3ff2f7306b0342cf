// Package retrieval implements the context retriever used by section generation.
//
// A Retriever embeds a section's query text, searches the protocol's vector
// store collection and returns excerpts ordered by descending relevance.
// Query embeddings are cached because section queries repeat across every
// session for the same document type.
//
// Two failures are expected and section-local: ErrInsufficientContext (no
// excerpt clears the relevance threshold) and ErrRetrievalTimeout (the time
// budget ran out). Callers continue generation with a no-context marker in
// both cases.
package retrieval
