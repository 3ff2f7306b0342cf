// ABOUTME: Package documentation for the gateway
// ABOUTME: Describes the HTTP routes and the server lifecycle

// Package gateway exposes document generation over HTTP.
//
// BuildServices opens every backend named in the configuration and wires
// the retriever, provider gateway, section generator and orchestrator. New
// wraps those services in an HTTP API:
//
//	POST /api/protocols                          register (and optionally ingest) a protocol
//	GET  /api/protocols/{id}                     protocol with its sessions
//	DELETE /api/protocols/{id}                   drop protocol, sessions and vectors
//	POST /api/protocols/{id}/documents           ingest more protocol text
//	GET  /api/collections/{name}                 protocol owning a vector collection
//	GET  /api/document-types                     available document templates
//	GET  /api/diagnostics                        backend reachability and counts
//	POST /api/generate                           start or resume generation (SSE)
//	POST /api/sessions/{id}/regenerate           regenerate sections (SSE)
//	GET  /api/sessions/{id}                      session snapshot
//	GET  /api/sessions/{id}/watch                section status changes (SSE)
//	POST /api/sessions/{id}/sections/{key}/approve
//	GET  /api/sessions/{id}/export?format=html
//	GET  /api/sessions/{id}/attempts             provider attempt ledger
//
// Generation streams carry one SSE frame per event, named after the event
// type. Validation failures are reported as JSON before the stream starts.
//
// When server.grpc_addr is set, a gRPC health service reports whether any
// provider is configured. Run blocks until its context ends and then shuts
// everything down, closing open streams.
package gateway
