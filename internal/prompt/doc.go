// ABOUTME: Package documentation for the prompt assembler
// ABOUTME: No I/O happens here

// Package prompt turns a section template, retrieved excerpts and protocol
// metadata into a provider request.
package prompt
