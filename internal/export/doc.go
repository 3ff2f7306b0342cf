// ABOUTME: Package documentation for document export
// ABOUTME: Renders the reviewable part of a session as Markdown or HTML

// Package export renders the export view of a session. Only sections that
// are ready_for_review or approved appear, in canonical order.
package export
