// ABOUTME: Package documentation for vector similarity store adapters
// ABOUTME: Describes the Qdrant, pgvector and in-memory backends

// Package vectorstore provides the similarity search backends used by the
// context retriever. Every protocol owns one collection, named by
// Protocol.CollectionName.
//
// Three backends are available:
//
//   - Qdrant over its REST API (retrieval.backend: qdrant)
//   - Postgres with the pgvector extension (retrieval.backend: pgvector)
//   - an in-memory cosine store for development and tests (retrieval.backend: memory)
package vectorstore
