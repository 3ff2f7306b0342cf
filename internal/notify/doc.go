// ABOUTME: Package documentation for generation event publication
// ABOUTME: Names the NATS subject layout consumers subscribe to

// Package notify publishes terminal generation events outside the request
// stream. Subjects follow <prefix>.sessions.<session id>.<event type>, so a
// consumer can follow one session with "docforge.sessions.<id>.>" or every
// failure with "docforge.sessions.*.section_error".
package notify
