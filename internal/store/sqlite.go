// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists the protocol registry and provider attempt ledger with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS protocols (
			id TEXT PRIMARY KEY,
			study_acronym TEXT NOT NULL,
			title TEXT NOT NULL,
			collection_name TEXT NOT NULL UNIQUE,
			uploaded_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_protocols_acronym ON protocols(study_acronym);

		CREATE TABLE IF NOT EXISTS provider_attempts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			section TEXT NOT NULL,
			provider TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			latency_ms INTEGER NOT NULL,
			error TEXT,
			created_at TEXT NOT NULL,

			CHECK (outcome IN ('success', 'timeout', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_provider_attempts_session
			ON provider_attempts(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateProtocol stores a new protocol record.
func (s *SQLiteStore) CreateProtocol(ctx context.Context, p *Protocol) error {
	query := `
		INSERT INTO protocols (id, study_acronym, title, collection_name, uploaded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID,
		p.StudyAcronym,
		p.Title,
		p.CollectionName,
		p.UploadedAt.UTC().Format(time.RFC3339Nano),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting protocol: %w", err)
	}

	s.logger.Debug("created protocol", "id", p.ID, "acronym", p.StudyAcronym)
	return nil
}

// GetProtocol retrieves a protocol by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetProtocol(ctx context.Context, id string) (*Protocol, error) {
	query := `
		SELECT id, study_acronym, title, collection_name, uploaded_at, created_at
		FROM protocols
		WHERE id = ?
	`
	p, err := scanProtocol(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying protocol: %w", err)
	}
	return p, nil
}

// GetProtocolByCollection retrieves the protocol owning a vector collection
func (s *SQLiteStore) GetProtocolByCollection(ctx context.Context, collection string) (*Protocol, error) {
	query := `
		SELECT id, study_acronym, title, collection_name, uploaded_at, created_at
		FROM protocols
		WHERE collection_name = ?
	`
	p, err := scanProtocol(s.db.QueryRowContext(ctx, query, collection))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying protocol by collection: %w", err)
	}
	return p, nil
}

// DeleteProtocol removes a protocol record
func (s *SQLiteStore) DeleteProtocol(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM protocols WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting protocol: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting protocol: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProtocols returns every protocol, newest upload first.
func (s *SQLiteStore) ListProtocols(ctx context.Context) ([]*Protocol, error) {
	query := `
		SELECT id, study_acronym, title, collection_name, uploaded_at, created_at
		FROM protocols
		ORDER BY uploaded_at DESC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying protocols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var protocols []*Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning protocol: %w", err)
		}
		protocols = append(protocols, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating protocol rows: %w", err)
	}
	return protocols, nil
}

// SaveAttempt appends a provider attempt to the ledger.
func (s *SQLiteStore) SaveAttempt(ctx context.Context, a *ProviderAttempt) error {
	query := `
		INSERT INTO provider_attempts (
			id, session_id, section, provider, attempt, outcome, latency_ms, error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.SessionID,
		a.Section,
		a.Provider,
		a.Attempt,
		a.Outcome,
		a.Latency.Milliseconds(),
		nullString(a.Error),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting provider attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the ledger entries for a session in recording order.
func (s *SQLiteStore) ListAttempts(ctx context.Context, sessionID string) ([]*ProviderAttempt, error) {
	query := `
		SELECT id, session_id, section, provider, attempt, outcome, latency_ms, error, created_at
		FROM provider_attempts
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying provider attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []*ProviderAttempt
	for rows.Next() {
		var (
			a         ProviderAttempt
			latencyMS int64
			errText   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Section, &a.Provider, &a.Attempt,
			&a.Outcome, &latencyMS, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning provider attempt: %w", err)
		}
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		a.Error = errText.String
		a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing attempt created_at: %w", err)
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempt rows: %w", err)
	}
	return attempts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProtocol(row rowScanner) (*Protocol, error) {
	var (
		p                     Protocol
		uploadedAt, createdAt string
	)
	if err := row.Scan(&p.ID, &p.StudyAcronym, &p.Title, &p.CollectionName, &uploadedAt, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if p.UploadedAt, err = time.Parse(time.RFC3339Nano, uploadedAt); err != nil {
		return nil, fmt.Errorf("parsing uploaded_at: %w", err)
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
