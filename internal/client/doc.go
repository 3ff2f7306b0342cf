// ABOUTME: Package documentation for the gateway API client
// ABOUTME: Used by the command-line tool

// Package client calls a running docforge gateway over HTTP.
//
// Non-2xx responses are returned as *APIError carrying the gateway's JSON
// error message. Generate and Regenerate decode the SSE stream into
// generation.Event values.
package client
