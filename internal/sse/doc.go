// ABOUTME: Package documentation for the server-sent events helpers
// ABOUTME: Shared by provider clients, the HTTP API and the CLI

// Package sse reads and writes text/event-stream bodies.
package sse
