// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// Two narrow interfaces are combined into Store:
//
//   - ProtocolStore: the registry of source protocols. Records are created by
//     the upload side (the protocols CLI command or POST /api/protocols) and
//     only read by the generation engine.
//   - AttemptStore: an append-only ledger of provider attempts, kept for
//     diagnostics of retry and failover behavior.
//
// Generated section content is deliberately absent: session state lives in
// memory in the session package and is never written here.
//
// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no cgo).
// MockStore is an in-memory implementation for tests.
//
// # Protocol Records
//
// NewProtocol normalizes metadata before a record is stored: the study
// acronym is trimmed and upper-cased (at most 50 characters), the title is
// limited to 500 characters, and the vector store collection name is derived
// as ACRONYM-xxxxxxxx from the record's UUID.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/docforge/gateway.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	p, err := store.NewProtocol("study-001", "A Phase II Study", time.Now())
//	if err != nil {
//	    return err
//	}
//	err = s.CreateProtocol(ctx, p)
package store
