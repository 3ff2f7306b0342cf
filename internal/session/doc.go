// ABOUTME: Package documentation for the session state store
// ABOUTME: Describes the single-writer-per-section discipline

// Package session holds generation sessions: one per protocol and document
// type, each with its sections in canonical order.
//
// The Store is the only place section state changes. A generator first
// calls Acquire for a (session, section) pair and mutates the section only
// through the returned SectionWriter. A second Acquire for the same pair
// fails with *ConcurrentGenerationError until the first writer is
// released. Leases go through a Locker so several gateway instances can
// share the rule; RedisLocker backs that case.
//
// Snapshots returned by Get are copies. Content appears in them only once a
// section completes. Streaming tokens are never stored here.
package session
